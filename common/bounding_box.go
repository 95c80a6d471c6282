// Package common - Shared geometry types used by detectors, trackers and the motion pipeline.
package common

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// Point is a sub-pixel position in image coordinates.
type Point struct {
	X, Y float32
}

// Distance returns the Euclidean distance between two points.
func (p Point) Distance(other Point) float32 {
	return math32.Hypot(other.X-p.X, other.Y-p.Y)
}

// Sub returns the displacement p - other.
func (p Point) Sub(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

// BoundingBox represents a bounding box with its label, confidence, and coordinates.
type BoundingBox struct {
	Label          string
	Confidence     float32
	X1, Y1, X2, Y2 float32
}

// FromRect builds a BoundingBox from an integral image.Rectangle.
//
// Arguments:
// - rect: The rectangle to convert.
// - label: The class label to attach.
// - confidence: The detector confidence to attach.
//
// Returns:
// - A BoundingBox covering the same pixels as rect.
//
// @example
// box := FromRect(image.Rect(10, 10, 60, 110), "person", 0.9)
// fmt.Println(box.Center()) // {35 60}
func FromRect(rect image.Rectangle, label string, confidence float32) BoundingBox {
	rect = rect.Canon()
	return BoundingBox{
		Label:      label,
		Confidence: confidence,
		X1:         float32(rect.Min.X),
		Y1:         float32(rect.Min.Y),
		X2:         float32(rect.Max.X),
		Y2:         float32(rect.Max.Y),
	}
}

// String formats the box for logs.
func (b *BoundingBox) String() string {
	return fmt.Sprintf("Object %s (confidence %f): (%.2f, %.2f), (%.2f, %.2f)",
		b.Label, b.Confidence, b.X1, b.Y1, b.X2, b.Y2)
}

// ToRect converts the bounding box to an image.Rectangle.
//
// This method converts floating-point coordinates to integer coordinates
// suitable for image processing operations.
//
// Returns:
// - An image.Rectangle with canonicalized coordinates.
//
// @example
// box := BoundingBox{X1: 100.5, Y1: 100.5, X2: 200.5, Y2: 300.5}
// rect := box.ToRect()
// fmt.Printf("Rectangle: %v\n", rect) // Rectangle: (100,100)-(200,300)
func (b *BoundingBox) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}

// Width returns the horizontal extent of the box, never negative.
func (b *BoundingBox) Width() float32 {
	return math32.Abs(b.X2 - b.X1)
}

// Height returns the vertical extent of the box, never negative.
func (b *BoundingBox) Height() float32 {
	return math32.Abs(b.Y2 - b.Y1)
}

// Area returns Width * Height.
func (b *BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// AspectRatio returns height / width, or 0 for a box with no width.
func (b *BoundingBox) AspectRatio() float32 {
	w := b.Width()
	if w == 0 {
		return 0
	}
	return b.Height() / w
}

// Center returns the centroid of the box.
//
// @example
// box := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 50}
// c := box.Center() // {50 25}
func (b *BoundingBox) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Intersection calculates the intersection area between two bounding boxes.
//
// Arguments:
// - other: The other bounding box to calculate intersection with.
//
// Returns:
// - The area of intersection in pixels as float32.
//
// @example
// box1 := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// box2 := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// area := box1.Intersection(&box2) // Returns 2500.0 (50x50 overlap)
func (b *BoundingBox) Intersection(other *BoundingBox) float32 {
	w := math32.Min(math32.Max(b.X1, b.X2), math32.Max(other.X1, other.X2)) -
		math32.Max(math32.Min(b.X1, b.X2), math32.Min(other.X1, other.X2))
	h := math32.Min(math32.Max(b.Y1, b.Y2), math32.Max(other.Y1, other.Y2)) -
		math32.Max(math32.Min(b.Y1, b.Y2), math32.Min(other.Y1, other.Y2))
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Union calculates the union area between two bounding boxes.
//
// @example
// box1 := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// box2 := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// area := box1.Union(&box2) // Returns 17500.0
func (b *BoundingBox) Union(other *BoundingBox) float32 {
	return b.Area() + other.Area() - b.Intersection(other)
}

// IoU calculates the Intersection over Union between two bounding boxes.
//
// This metric is used for Non-Maximum Suppression (NMS) to remove duplicate
// detections and by the tracker to associate boxes across frames.
//
// Arguments:
// - other: The other bounding box to calculate IoU with.
//
// Returns:
// - The IoU value between 0 and 1. Two empty boxes yield 0.
//
// @example
// box1 := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// box2 := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// iou := box1.IoU(&box2) // Returns ~0.143 (2500/17500)
func (b *BoundingBox) IoU(other *BoundingBox) float32 {
	union := b.Union(other)
	if union <= 0 {
		return 0
	}
	return b.Intersection(other) / union
}
