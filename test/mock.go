// Package test - Deterministic frame and detection fixtures shared by package tests.
package test

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// MockFrameGenerator creates deterministic test frames for idempotent testing.
//
// Arguments:
// - None.
//
// Returns:
// - A generator for creating test frames with controlled motion patterns.
//
// @example
// gen := NewMockFrameGenerator(640, 480)
// frame := gen.GenerateStaticFrame()
// defer frame.Close()
type MockFrameGenerator struct {
	width  int
	height int
}

// NewMockFrameGenerator creates a new frame generator with specified dimensions.
//
// Arguments:
// - width: Frame width in pixels.
// - height: Frame height in pixels.
//
// Returns:
// - A configured MockFrameGenerator instance.
//
// @example
// gen := NewMockFrameGenerator(1920, 1080)
func NewMockFrameGenerator(width, height int) *MockFrameGenerator {
	return &MockFrameGenerator{
		width:  width,
		height: height,
	}
}

// Size returns the frame dimensions as (width, height).
func (g *MockFrameGenerator) Size() image.Point {
	return image.Pt(g.width, g.height)
}

// GenerateStaticFrame creates a static mid-gray BGR frame for baseline testing.
//
// Returns:
// - A 3 channel Mat. The caller must Close it.
//
// @example
// frame := gen.GenerateStaticFrame()
// defer frame.Close()
func (g *MockFrameGenerator) GenerateStaticFrame() gocv.Mat {
	frame := gocv.NewMatWithSize(g.height, g.width, gocv.MatTypeCV8UC3)
	frame.SetTo(gocv.NewScalar(128, 128, 128, 0))
	return frame
}

// GenerateGrayFrame creates a static mid-gray single channel frame.
func (g *MockFrameGenerator) GenerateGrayFrame() gocv.Mat {
	frame := gocv.NewMatWithSize(g.height, g.width, gocv.MatTypeCV8UC1)
	frame.SetTo(gocv.NewScalar(128, 0, 0, 0))
	return frame
}

// GenerateMotionFrame creates a frame with one white filled rectangle over
// the static background, simulating a moving silhouette.
//
// Arguments:
// - rect: The region to paint.
//
// Returns:
// - A 3 channel Mat. The caller must Close it.
//
// @example
// frame := gen.GenerateMotionFrame(image.Rect(100, 100, 140, 180))
// defer frame.Close()
func (g *MockFrameGenerator) GenerateMotionFrame(rects ...image.Rectangle) gocv.Mat {
	frame := g.GenerateStaticFrame()
	for _, rect := range rects {
		gocv.Rectangle(&frame, rect, color.RGBA{255, 255, 255, 0}, -1)
	}
	return frame
}

// Boxes builds person boxes of the given size centred on each point.
func Boxes(w, h int, centers ...image.Point) []image.Rectangle {
	out := make([]image.Rectangle, len(centers))
	for i, c := range centers {
		out[i] = image.Rect(c.X-w/2, c.Y-h/2, c.X-w/2+w, c.Y-h/2+h)
	}
	return out
}
