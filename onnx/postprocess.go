package onnx

import (
	"image"
	"sort"

	"github.com/nvr-ai/go-crowdrisk/controller"
)

// ParseDarknetRows decodes darknet style output rows.
//
// Each row is cx, cy, w, h, objectness, followed by one score per class, with
// coordinates normalised to the frame. A row is kept when its best class score
// is strictly above threshold.
//
// Arguments:
//   - data: Row-major output, len(data) a multiple of cols.
//   - cols: Values per row (5 + number of classes).
//   - frame: Frame size the normalised coordinates are scaled to.
//   - threshold: Minimum class score.
//
// Returns:
//   - []controller.Detection: Candidates before suppression, clamped to the frame.
func ParseDarknetRows(data []float32, cols int, frame image.Point, threshold float32) []controller.Detection {
	if cols <= 5 {
		return nil
	}

	var detections []controller.Detection
	for off := 0; off+cols <= len(data); off += cols {
		row := data[off : off+cols]

		classID, score := argmax(row[5:])
		if score <= threshold {
			continue
		}

		cx, cy := row[0]*float32(frame.X), row[1]*float32(frame.Y)
		w, h := row[2]*float32(frame.X), row[3]*float32(frame.Y)
		detections = append(detections, controller.Detection{
			Label:      ClassName(classID),
			Confidence: float64(score),
			BBox:       clampRect(cx-w/2, cy-h/2, cx+w/2, cy+h/2, frame),
		})
	}
	return detections
}

// ParseYOLOv8 decodes a channel-major [4+classes][anchors] output whose box
// coordinates are in network input pixels.
//
// Arguments:
//   - data: The flattened output tensor.
//   - classes: Number of class channels (80 for COCO).
//   - input: The network input size the coordinates refer to.
//   - frame: The frame size to scale boxes to.
//   - threshold: Minimum class score.
//
// Returns:
//   - []controller.Detection: Candidates before suppression, clamped to the frame.
func ParseYOLOv8(data []float32, classes int, input, frame image.Point, threshold float32) []controller.Detection {
	channels := 4 + classes
	if classes <= 0 || len(data) < channels || len(data)%channels != 0 {
		return nil
	}
	anchors := len(data) / channels

	sx := float32(frame.X) / float32(input.X)
	sy := float32(frame.Y) / float32(input.Y)

	var detections []controller.Detection
	for idx := 0; idx < anchors; idx++ {
		classID, probability := -1, float32(-1e9)
		for col := 0; col < classes; col++ {
			if p := data[anchors*(col+4)+idx]; p > probability {
				probability = p
				classID = col
			}
		}
		if probability <= threshold {
			continue
		}

		xc, yc := data[idx], data[anchors+idx]
		w, h := data[2*anchors+idx], data[3*anchors+idx]
		detections = append(detections, controller.Detection{
			Label:      ClassName(classID),
			Confidence: float64(probability),
			BBox:       clampRect((xc-w/2)*sx, (yc-h/2)*sy, (xc+w/2)*sx, (yc+h/2)*sy, frame),
		})
	}
	return detections
}

// NonMaxSuppression applies greedy non-maximum suppression within each label.
//
// Detections are visited in descending confidence; a detection is dropped when
// its IoU with an already kept detection of the same label exceeds threshold.
//
// Arguments:
//   - detections: Candidates in any order. The slice is not modified.
//   - threshold: IoU above which the lower scoring box is suppressed.
//
// Returns:
//   - []controller.Detection: The kept detections, highest confidence first.
func NonMaxSuppression(detections []controller.Detection, threshold float32) []controller.Detection {
	if len(detections) == 0 {
		return nil
	}

	sorted := make([]controller.Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	var result []controller.Detection
	used := make([]bool, len(sorted))
	for i := range sorted {
		if used[i] {
			continue
		}
		result = append(result, sorted[i])
		used[i] = true

		bi := sorted[i].Box()
		for j := i + 1; j < len(sorted); j++ {
			if used[j] || sorted[j].Label != sorted[i].Label {
				continue
			}
			bj := sorted[j].Box()
			if bi.IoU(&bj) > threshold {
				used[j] = true
			}
		}
	}
	return result
}

// filterClasses keeps detections whose label is in relevant. An empty set keeps everything.
func filterClasses(detections []controller.Detection, relevant map[string]bool) []controller.Detection {
	if len(relevant) == 0 {
		return detections
	}
	kept := detections[:0]
	for _, d := range detections {
		if relevant[d.Label] {
			kept = append(kept, d)
		}
	}
	return kept
}

func argmax(values []float32) (int, float32) {
	best, score := 0, values[0]
	for i, v := range values[1:] {
		if v > score {
			best, score = i+1, v
		}
	}
	return best, score
}

func clampRect(x1, y1, x2, y2 float32, frame image.Point) image.Rectangle {
	return image.Rect(
		clamp(int(x1), 0, frame.X),
		clamp(int(y1), 0, frame.Y),
		clamp(int(x2), 0, frame.X),
		clamp(int(y2), 0, frame.Y),
	)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
