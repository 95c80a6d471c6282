package images

import (
	"crypto/md5"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ToGray writes a single channel copy of src into dst.
//
// Arguments:
//   - src: A BGR, BGRA or already grayscale Mat.
//   - dst: Destination Mat, reallocated by OpenCV as needed.
//
// Returns:
//   - error: An error if the channel layout is unsupported or conversion fails.
func ToGray(src gocv.Mat, dst *gocv.Mat) error {
	switch src.Channels() {
	case 1:
		src.CopyTo(dst)
		return nil
	case 3:
		return gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	case 4:
		return gocv.CvtColor(src, dst, gocv.ColorBGRAToGray)
	default:
		return errors.Errorf("unsupported channel count %d", src.Channels())
	}
}

// MatchSize resizes dst in place so it has the same dimensions as ref.
// Nothing happens when the sizes already agree.
func MatchSize(dst *gocv.Mat, ref gocv.Mat) {
	if dst.Rows() == ref.Rows() && dst.Cols() == ref.Cols() {
		return
	}
	gocv.Resize(*dst, dst, image.Pt(ref.Cols(), ref.Rows()), 0, 0, gocv.InterpolationLinear)
}

// ResizeTo resizes src into dst when size is non-zero and differs from src,
// otherwise it copies src into dst unchanged.
//
// Arguments:
//   - src: The source frame.
//   - dst: Destination Mat.
//   - size: Target width (X) and height (Y). A zero value disables resizing.
func ResizeTo(src gocv.Mat, dst *gocv.Mat, size image.Point) {
	if size.X <= 0 || size.Y <= 0 || (src.Cols() == size.X && src.Rows() == size.Y) {
		src.CopyTo(dst)
		return
	}
	gocv.Resize(src, dst, size, 0, 0, gocv.InterpolationLinear)
}

// ComputeMatChecksum generates a deterministic checksum for a Mat to verify idempotency.
//
// Arguments:
// - mat: The Mat to compute checksum for.
//
// Returns:
// - A hex-encoded MD5 checksum string.
//
// Example:
//
// ```go
//
//	checksum := ComputeMatChecksum(frame)
//	fmt.Printf("Frame checksum: %s\n", checksum)
//
// ```
func ComputeMatChecksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}

	data, _ := mat.DataPtrUint8()
	hash := md5.New()
	hash.Write(data)
	return fmt.Sprintf("%x", hash.Sum(nil))
}
