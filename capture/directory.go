package capture

import (
	"context"
	"image"
	"time"

	"github.com/nvr-ai/go-crowdrisk/controller"
	"github.com/nvr-ai/go-crowdrisk/images"
	"github.com/nvr-ai/go-crowdrisk/util"
	"github.com/pkg/errors"
)

// DirectorySource replays an ordered image sequence. Files are read and
// decoded one at a time as frames are requested.
type DirectorySource struct {
	files []util.ImageFile
	size  image.Point
	next  int
	// Interval, when set, is added to a fixed epoch per frame instead of stamping wall time.
	Interval time.Duration
}

// OpenDirectory lists the frame-<n> images in dir.
func OpenDirectory(dir string, size image.Point) (*DirectorySource, error) {
	files, err := util.ListDirectoryImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no frames in %s", dir)
	}
	return &DirectorySource{files: files, size: size}, nil
}

// NewImageSource replays a single image file as a one frame sequence.
func NewImageSource(path string, size image.Point) *DirectorySource {
	return &DirectorySource{files: []util.ImageFile{{Path: path}}, size: size}
}

// Len returns the number of frames in the sequence.
func (d *DirectorySource) Len() int {
	return len(d.files)
}

// Read decodes the next image. A file that cannot be read or decoded is a
// transient error; the sequence moves on to the next file.
func (d *DirectorySource) Read(ctx context.Context) (controller.Frame, error) {
	if err := ctx.Err(); err != nil {
		return controller.Frame{}, err
	}
	if d.next >= len(d.files) {
		return controller.Frame{}, ErrEndOfStream
	}

	id := d.next
	file := d.files[id]
	d.next++

	if err := file.Load(); err != nil {
		return controller.Frame{}, err
	}
	img, err := images.DecodeMat(file.Data)
	if err != nil {
		return controller.Frame{}, errors.Wrapf(err, "decode %s", file.Path)
	}

	ts := time.Now()
	if d.Interval > 0 {
		ts = time.Unix(0, 0).Add(time.Duration(id) * d.Interval)
	}
	return controller.Frame{ID: id, Image: resized(img, d.size), Timestamp: ts}, nil
}

// Close is a no-op; nothing is held open between reads.
func (d *DirectorySource) Close() error {
	return nil
}
