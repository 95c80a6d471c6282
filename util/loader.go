// Package util - Ordered loading of frame-<n> image sequences from a directory.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FramePrefix is the file name prefix of an image sequence frame, as in frame-12.jpg.
const FramePrefix = "frame-"

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file. Empty until Load is called when
	// the file was listed with ListDirectoryImageFiles.
	Data []byte
	// Frame is the frame number of the image file.
	Frame int
}

// Load reads the file's bytes into Data.
func (f *ImageFile) Load() error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return errors.Wrapf(err, "read frame %d", f.Frame)
	}
	f.Data = data
	return nil
}

// IsImageExt reports whether ext is an image extension the loaders pick up.
func IsImageExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".webp":
		return true
	}
	return false
}

// ListDirectoryImageFiles lists the frame-<n> images in dir ordered by frame
// number without reading them.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: The frames in order, with Data left empty.
// - error: Error if the directory cannot be read or a file name has no frame number.
func ListDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read directory %s", dir)
	}

	var images []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		ext := filepath.Ext(name)
		if !IsImageExt(ext) {
			continue
		}
		frame, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, FramePrefix), ext))
		if err != nil {
			return nil, errors.Wrapf(err, "frame number of %s", name)
		}
		images = append(images, ImageFile{
			Path:  filepath.Join(dir, name),
			Frame: frame,
		})
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].Frame < images[j].Frame
	})

	return images, nil
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	images, err := ListDirectoryImageFiles(dir)
	if err != nil {
		return nil, err
	}
	for i := range images {
		if err := images[i].Load(); err != nil {
			return nil, err
		}
	}
	return images, nil
}
