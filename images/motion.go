// Package images - This file contains the frame differencing segmenter
// using OpenCV (via gocv).
//
// The MotionSegmenter struct encapsulates the pipeline used by the fallback
// people counter:
//  1. Grayscale conversion of the previous and current frames.
//  2. Absolute difference between the two.
//  3. Thresholding to create a binary mask of change.
//  4. Morphological opening to drop single-pixel noise.
//  5. External contour extraction for blob detection.
//
// Pipeline Overview:
//
// ┌──────────────────────────┐
// │ Previous + Current Frame │
// └──────┬───────────────────┘
// ┌────────────────────────────────────────┐
// │ Preprocessing (match size, grayscale)  │
// └──────┬─────────────────────────────────┘
// ┌────────────────────────────┐
// │ Absolute Difference        │
// └──────┬─────────────────────┘
// ┌────────────────────────────┐
// │ Thresholding (binary mask) │
// └──────┬─────────────────────┘
// ┌────────────────────────────┐
// │ Morphology (open)          │
// └──────┬─────────────────────┘
// ┌────────────────────────────┐
// │ Contour Detection          │
// └────────────────────────────┘
//
// Usage:
//
//	seg := images.NewMotionSegmenter(3)
//	defer seg.Close()
//
//	contours, err := seg.Segment(previous, current, 25)
//	if err != nil {
//	    return err
//	}
//	defer contours.Close()
//
// Note: You must call Close() when finished to release native resources.
package images

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// MotionSegmenter holds the intermediate matrices of the differencing
// pipeline so they can be reused across frames.
type MotionSegmenter struct {
	Previous  gocv.Mat // Grayscale copy of the older frame, resized to match Current.
	Current   gocv.Mat // Grayscale copy of the newer frame.
	Delta     gocv.Mat // Absolute difference of Previous and Current.
	Threshold gocv.Mat // Binary mask after thresholding and opening.
	Kernel    gocv.Mat // Structuring element for the opening.
}

// NewMotionSegmenter constructs a MotionSegmenter with a square rectangular
// opening kernel of the given size.
//
// Arguments:
//   - kernelSize: Side length of the structuring element. Values below 1 are treated as 1.
//
// Returns:
//   - *MotionSegmenter: The initialized segmenter. Call Close() to release memory.
func NewMotionSegmenter(kernelSize int) *MotionSegmenter {
	if kernelSize < 1 {
		kernelSize = 1
	}
	return &MotionSegmenter{
		Previous:  gocv.NewMat(),
		Current:   gocv.NewMat(),
		Delta:     gocv.NewMat(),
		Threshold: gocv.NewMat(),
		Kernel:    gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize)),
	}
}

// Difference loads both frames as grayscale, resizing the previous frame to
// the size of the current one when they differ, and stores |current - previous|
// in Delta.
//
// Arguments:
//   - previous: The older frame (BGR, BGRA or single channel).
//   - current: The newer frame (BGR, BGRA or single channel).
//
// Returns:
//   - error: An error if either frame is empty or a gocv call fails.
func (m *MotionSegmenter) Difference(previous, current gocv.Mat) error {
	if previous.Empty() || current.Empty() {
		return errors.New("cannot difference an empty frame")
	}

	if err := ToGray(current, &m.Current); err != nil {
		return errors.Wrap(err, "grayscale current frame")
	}
	if err := ToGray(previous, &m.Previous); err != nil {
		return errors.Wrap(err, "grayscale previous frame")
	}
	MatchSize(&m.Previous, m.Current)

	if err := gocv.AbsDiff(m.Previous, m.Current, &m.Delta); err != nil {
		return errors.Wrap(err, "absolute difference")
	}
	return nil
}

// ApplyThreshold converts the grayscale delta image to a binary mask.
// Pixels above the threshold become white (foreground); others become black.
//
// Arguments:
//   - threshold: Pixel intensity threshold (e.g., 25).
//   - maxVal: Maximum value to assign to foreground pixels (usually 255).
//
// Returns:
//   - The threshold used (same as input threshold).
func (m *MotionSegmenter) ApplyThreshold(threshold float32, maxVal float32) float32 {
	return gocv.Threshold(m.Delta, &m.Threshold, threshold, maxVal, gocv.ThresholdBinary)
}

// Open performs a morphological opening on the binary mask, removing
// isolated pixels while keeping larger blobs intact.
func (m *MotionSegmenter) Open() {
	gocv.MorphologyEx(m.Threshold, &m.Threshold, gocv.MorphOpen, m.Kernel)
}

// DetectContours extracts the external contours (boundaries) of connected
// regions in the binary threshold image.
//
// Returns:
//   - gocv.PointsVector: a vector of contours. The caller must Close it.
func (m *MotionSegmenter) DetectContours() gocv.PointsVector {
	return gocv.FindContours(m.Threshold, gocv.RetrievalExternal, gocv.ChainApproxSimple)
}

// Segment runs the full pipeline: difference, threshold, open and contour
// extraction.
//
// Arguments:
//   - previous: The older frame.
//   - current: The newer frame.
//   - threshold: Intensity cutoff for the binary mask.
//
// Returns:
//   - gocv.PointsVector: The external contours of changed regions. The caller must Close it.
//   - error: An error if any step fails.
func (m *MotionSegmenter) Segment(previous, current gocv.Mat, threshold float32) (gocv.PointsVector, error) {
	if err := m.Difference(previous, current); err != nil {
		return gocv.PointsVector{}, err
	}
	m.ApplyThreshold(threshold, 255)
	m.Open()
	return m.DetectContours(), nil
}

// Close releases all OpenCV native resources used by the segmenter.
//
// Always call this when you're done to prevent memory leaks.
func (m *MotionSegmenter) Close() {
	m.Previous.Close()
	m.Current.Close()
	m.Delta.Close()
	m.Threshold.Close()
	m.Kernel.Close()
}
