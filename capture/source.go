// Package capture - Frame sources feeding a crowd risk session: cameras, video files and
// frame-<n> image directories.
package capture

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/nvr-ai/go-crowdrisk/controller"
	"github.com/nvr-ai/go-crowdrisk/images"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrEndOfStream is returned by Read once a finite source is exhausted.
var ErrEndOfStream = controller.ErrEndOfStream

// Kind is the type of input being read.
type Kind string

// Kind constants.
const (
	KindCamera    Kind = "camera"
	KindVideo     Kind = "video"
	KindDirectory Kind = "directory"
	KindImage     Kind = "image"
)

// Supported file extensions
var (
	supportedVideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}
	supportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}
)

// Config holds the input configuration.
type Config struct {
	Kind Kind `yaml:"kind"`
	// Device is the camera index used with KindCamera.
	Device int `yaml:"device"`
	// Path is the video file, image file or frame directory.
	Path string `yaml:"path"`
	// Width and Height resize every frame before detection. Zero keeps the native size.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// DefaultConfig reads camera 0 and resizes frames to 700x500.
func DefaultConfig() Config {
	return Config{
		Kind:   KindCamera,
		Device: 0,
		Width:  700,
		Height: 500,
	}
}

// Size returns the configured resize target.
func (c Config) Size() image.Point {
	return image.Pt(c.Width, c.Height)
}

// Validate checks that the configured input exists and has a supported extension.
func (c Config) Validate() error {
	if c.Width < 0 || c.Height < 0 || (c.Width == 0) != (c.Height == 0) {
		return errors.Errorf("resize %dx%d must be both zero or both positive", c.Width, c.Height)
	}

	switch c.Kind {
	case KindCamera:
		if c.Device < 0 {
			return errors.Errorf("invalid camera device %d", c.Device)
		}
		return nil
	case KindVideo:
		return errors.Wrap(validateFile(c.Path, supportedVideoExtensions), "video validation error")
	case KindImage:
		return errors.Wrap(validateFile(c.Path, supportedImageExtensions), "image validation error")
	case KindDirectory:
		info, err := os.Stat(c.Path)
		if err != nil {
			return errors.Wrapf(err, "frame directory %s", c.Path)
		}
		if !info.IsDir() {
			return errors.Errorf("%s is not a directory", c.Path)
		}
		return nil
	default:
		return errors.Errorf("unknown source kind %q", c.Kind)
	}
}

// Open opens the source described by config.
//
// Arguments:
//   - config: The input configuration.
//
// Returns:
//   - controller.FrameSource: The opened source. The caller closes it.
//   - error: An error if the configuration is invalid or the input cannot be opened.
//
// @example
// source, err := capture.Open(capture.Config{Kind: capture.KindVideo, Path: "crowd.mp4"})
func Open(config Config) (controller.FrameSource, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Kind {
	case KindCamera:
		return OpenCamera(config.Device, config.Size())
	case KindVideo:
		return OpenVideo(config.Path, config.Size())
	case KindImage:
		return NewImageSource(config.Path, config.Size()), nil
	default:
		return OpenDirectory(config.Path, config.Size())
	}
}

// validateFile checks if the file exists and has a supported extension
func validateFile(filePath string, supportedExtensions []string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return errors.Errorf("file not found: %s", filePath)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	for _, supportedExt := range supportedExtensions {
		if ext == supportedExt {
			return nil
		}
	}

	return errors.Errorf("unsupported file extension: %s. Supported extensions: %v", ext, supportedExtensions)
}

// resized returns img scaled to size, closing img when a new Mat was made.
func resized(img gocv.Mat, size image.Point) gocv.Mat {
	if size.X <= 0 || size.Y <= 0 || (img.Cols() == size.X && img.Rows() == size.Y) {
		return img
	}
	out := gocv.NewMat()
	images.ResizeTo(img, &out, size)
	img.Close()
	return out
}
