package motion

import (
	"image"
	"sync"

	"github.com/nvr-ai/go-crowdrisk/images"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FallbackConfig contains the parameters of the differencing people counter.
type FallbackConfig struct {
	// Threshold is the intensity difference above which a pixel counts as changed.
	Threshold float32 `yaml:"threshold"`
	// KernelSize is the side of the square opening kernel.
	KernelSize int `yaml:"kernel_size"`
	// MinContourArea is the area floor, in pixels, a blob must exceed.
	MinContourArea float64 `yaml:"min_contour_area"`
	// MinAspectRatio and MaxAspectRatio bound height/width, both exclusive.
	MinAspectRatio float64 `yaml:"min_aspect_ratio"`
	MaxAspectRatio float64 `yaml:"max_aspect_ratio"`
	// PlaceholderWidth and PlaceholderHeight size the synthetic detections.
	PlaceholderWidth  int `yaml:"placeholder_width"`
	PlaceholderHeight int `yaml:"placeholder_height"`
	// PlaceholderConfidence is attached to every synthetic detection.
	PlaceholderConfidence float64 `yaml:"placeholder_confidence"`
}

// DefaultFallbackConfig returns the defaults for FallbackCounter.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Threshold:             25,
		KernelSize:            3,
		MinContourArea:        500,
		MinAspectRatio:        1.0,
		MaxAspectRatio:        4.0,
		PlaceholderWidth:      50,
		PlaceholderHeight:     100,
		PlaceholderConfidence: 0.7,
	}
}

// FallbackCounter estimates how many people moved between two frames from
// pixel differences alone. It is a degraded mode for frames where the
// detector reports nobody; it does no identification.
type FallbackCounter struct {
	config    FallbackConfig
	segmenter *images.MotionSegmenter
	mu        sync.Mutex
}

// NewFallbackCounter creates a counter. Call Close to release native memory.
//
// @example
// counter := NewFallbackCounter(DefaultFallbackConfig())
// defer counter.Close()
// n, err := counter.Count(previous, current)
func NewFallbackCounter(config FallbackConfig) *FallbackCounter {
	return &FallbackCounter{
		config:    config,
		segmenter: images.NewMotionSegmenter(config.KernelSize),
	}
}

// Count returns the number of changed blobs between previous and current
// whose area exceeds MinContourArea and whose height/width lies strictly
// between MinAspectRatio and MaxAspectRatio.
//
// Arguments:
//   - previous: The older frame. It is resized to current's size if they differ.
//   - current: The newer frame.
//
// Returns:
//   - int: The estimated person count.
//   - error: An error if differencing fails.
func (f *FallbackCounter) Count(previous, current gocv.Mat) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contours, err := f.segmenter.Segment(previous, current, f.config.Threshold)
	if err != nil {
		return 0, errors.Wrap(err, "segment frame difference")
	}
	defer contours.Close()

	count := 0
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) <= f.config.MinContourArea {
			continue
		}
		rect := gocv.BoundingRect(contour)
		if rect.Dx() == 0 {
			continue
		}
		aspect := float64(rect.Dy()) / float64(rect.Dx())
		if aspect > f.config.MinAspectRatio && aspect < f.config.MaxAspectRatio {
			count++
		}
	}
	return count, nil
}

// CountRecent runs Count over the two newest frames in recent.
// ok is false, and nothing is computed, when fewer than two frames are held.
func (f *FallbackCounter) CountRecent(recent *RecentFrames) (count int, ok bool, err error) {
	previous, current, ok := recent.Latest()
	if !ok {
		return 0, false, nil
	}
	count, err = f.Count(previous, current)
	return count, true, err
}

// Placeholders fabricates count evenly spaced boxes of the configured size
// inside a frame of the given dimensions, so fallback counts have the same
// shape as detector output. Boxes are clipped to the frame.
//
// Arguments:
//   - count: Number of boxes to create.
//   - width: Frame width in pixels.
//   - height: Frame height in pixels.
//
// Returns:
//   - []image.Rectangle: count rectangles laid out left to right, vertically centred.
func (f *FallbackCounter) Placeholders(count, width, height int) []image.Rectangle {
	if count <= 0 {
		return nil
	}
	w, h := f.config.PlaceholderWidth, f.config.PlaceholderHeight
	bounds := image.Rect(0, 0, width, height)
	step := width / (count + 1)
	y := max(0, (height-h)/2)
	boxes := make([]image.Rectangle, count)
	for i := range boxes {
		cx := step * (i + 1)
		x := max(0, cx-w/2)
		boxes[i] = image.Rect(x, y, x+w, y+h).Intersect(bounds)
	}
	return boxes
}

// Confidence returns the confidence attached to placeholder detections.
func (f *FallbackCounter) Confidence() float64 {
	return f.config.PlaceholderConfidence
}

// Config returns the counter's configuration.
func (f *FallbackCounter) Config() FallbackConfig {
	return f.config
}

// Close releases the native resources used by the counter.
func (f *FallbackCounter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segmenter.Close()
}
