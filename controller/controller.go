// Package controller - This file contains the frame and detection types shared by the
// crowd risk pipeline, its sessions and the detector adapters.
package controller

import (
	"image"
	"time"

	"github.com/nvr-ai/go-crowdrisk/common"
	"gocv.io/x/gocv"
)

// PersonLabel is the only detection label the pipeline consumes.
const PersonLabel = "person"

// Frame is a single frame of video.
//
// The Frame owns Image. Whoever produced the frame closes it once processing
// has finished; the pipeline keeps its own copies of anything it retains.
type Frame struct {
	ID        int
	Image     gocv.Mat
	Timestamp time.Time
}

// Size returns the frame dimensions as (width, height).
func (f Frame) Size() image.Point {
	if f.Image.Empty() {
		return image.Point{}
	}
	return image.Pt(f.Image.Cols(), f.Image.Rows())
}

// Area returns the frame area in square pixels, or 0 for an empty frame.
func (f Frame) Area() float64 {
	s := f.Size()
	return float64(s.X) * float64(s.Y)
}

// Close releases the frame's image.
func (f Frame) Close() {
	f.Image.Close()
}

// Detection is a single detection from a detector.
type Detection struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	BBox       image.Rectangle `json:"bbox"`
	// Synthetic marks placeholder boxes fabricated by the fallback counter.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Box converts the detection to a float bounding box.
func (d Detection) Box() common.BoundingBox {
	return common.FromRect(d.BBox, d.Label, float32(d.Confidence))
}

// Detector is an interface for a detector.
//
// Detect returns the people found in frame, already deduplicated by whatever
// suppression the detector uses. Entries with any other label are ignored by
// the pipeline.
type Detector interface {
	Detect(frame Frame) ([]Detection, error)
	Name() string
}

// FilterPeople returns the detections labelled PersonLabel, preserving order.
func FilterPeople(detections []Detection) []Detection {
	people := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.Label == PersonLabel {
			people = append(people, d)
		}
	}
	return people
}
