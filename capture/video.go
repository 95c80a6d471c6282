package capture

import (
	"context"
	"image"
	"time"

	"github.com/nvr-ai/go-crowdrisk/controller"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// VideoSource reads frames from a camera or a video file through OpenCV.
//
// A failed read on a camera is transient: devices drop frames. On a file, a
// failed read returns ErrEndOfStream once the position reaches the frame count
// (or stops advancing), and a transient error for a bad frame mid-file.
type VideoSource struct {
	capture *gocv.VideoCapture
	size    image.Point
	finite  bool
	name    string
	next    int
	// failedAt is the file position of the last failed read, -1 if none.
	failedAt float64
}

// OpenCamera opens the capture device with the given index.
func OpenCamera(device int, size image.Point) (*VideoSource, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening video capture device %d", device)
	}
	return &VideoSource{capture: vc, size: size, name: "camera"}, nil
}

// OpenVideo opens a video file.
func OpenVideo(path string, size image.Point) (*VideoSource, error) {
	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening video file %s", path)
	}
	return &VideoSource{capture: vc, size: size, finite: true, name: path, failedAt: -1}, nil
}

// Read returns the next frame.
func (v *VideoSource) Read(ctx context.Context) (controller.Frame, error) {
	if err := ctx.Err(); err != nil {
		return controller.Frame{}, err
	}

	img := gocv.NewMat()
	if ok := v.capture.Read(&img); !ok || img.Empty() {
		img.Close()
		if v.finite {
			return controller.Frame{}, v.fileReadFailure()
		}
		return controller.Frame{}, errors.Errorf("failed to read frame from %s", v.name)
	}
	v.failedAt = -1

	frame := controller.Frame{ID: v.next, Image: resized(img, v.size), Timestamp: time.Now()}
	v.next++
	return frame, nil
}

func (v *VideoSource) fileReadFailure() error {
	pos := v.capture.Get(gocv.VideoCapturePosFrames)
	count := v.capture.Get(gocv.VideoCaptureFrameCount)
	if endOfFile(pos, count, v.failedAt) {
		return ErrEndOfStream
	}
	v.failedAt = pos
	return errors.Errorf("failed to read frame %.0f of %.0f from %s", pos, count, v.name)
}

// endOfFile reports whether a failed read at pos ends a file of count frames.
// An unknown count, or a position that did not move since the previous
// failure at lastFailure, also ends it.
func endOfFile(pos, count, lastFailure float64) bool {
	return count <= 0 || pos >= count || pos == lastFailure
}

// Close releases the capture device.
func (v *VideoSource) Close() error {
	return errors.Wrap(v.capture.Close(), "close video capture")
}
