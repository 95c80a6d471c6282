package images

import (
	"bytes"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ImageFormat represents supported image formats
type ImageFormat int

const (
	FormatUnknown ImageFormat = iota
	FormatJPEG
	FormatWebP
	FormatPNG
	FormatBMP
)

// String returns the format name.
func (f ImageFormat) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatWebP:
		return "webp"
	case FormatPNG:
		return "png"
	case FormatBMP:
		return "bmp"
	default:
		return "unknown"
	}
}

// DetectFormat identifies an encoded image by its leading bytes.
func DetectFormat(data []byte) ImageFormat {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP
	case len(data) >= 2 && bytes.Equal(data[:2], []byte("BM")):
		return FormatBMP
	default:
		return FormatUnknown
	}
}

// DecodeMat decodes an encoded image into a 3 channel BGR Mat.
//
// WebP goes through libwebp directly so frames decode the same whether or not
// OpenCV was built with WebP support. Everything else uses gocv.IMDecode.
//
// Arguments:
//   - data: The encoded image.
//
// Returns:
//   - gocv.Mat: The decoded image. The caller closes it.
//   - error: An error if the data is empty or cannot be decoded.
func DecodeMat(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), errors.New("empty image data")
	}

	if DetectFormat(data) == FormatWebP {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return gocv.NewMat(), errors.Wrap(err, "failed to decode WebP")
		}
		mat, err := gocv.ImageToMatRGB(img)
		if err != nil {
			mat.Close()
			return gocv.NewMat(), errors.Wrap(err, "failed to convert WebP")
		}
		return mat, nil
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		mat.Close()
		return gocv.NewMat(), errors.Wrap(err, "failed to decode image")
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), errors.New("failed to decode image: empty result")
	}
	return mat, nil
}
