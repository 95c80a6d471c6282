package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvr-ai/go-crowdrisk/test"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func writeFrames(t *testing.T, dir string, ids ...int) {
	t.Helper()
	gen := test.NewMockFrameGenerator(140, 100)
	for _, id := range ids {
		img := gen.GenerateMotionFrame(image.Rect(id, 10, id+20, 50))
		require.True(t, gocv.IMWrite(filepath.Join(dir, fmt.Sprintf("frame-%02d.png", id)), img))
		img.Close()
	}
}

func TestDirectorySourceReadsInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 12, 3, 7)

	src, err := OpenDirectory(dir, image.Pt(70, 50))
	require.NoError(t, err)
	defer src.Close()
	src.Interval = 40 * time.Millisecond
	assert.Equal(t, 3, src.Len())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		frame, err := src.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, frame.ID)
		assert.Equal(t, image.Pt(70, 50), frame.Size(), "frames are resized")
		assert.Equal(t, time.Unix(0, 0).Add(time.Duration(i)*40*time.Millisecond), frame.Timestamp)
		frame.Close()
	}

	_, err = src.Read(ctx)
	assert.True(t, errors.Is(err, ErrEndOfStream))
}

func TestDirectorySourceSkipsUndecodableFile(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 1, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame-02.jpg"), []byte("not an image"), 0o600))

	src, err := OpenDirectory(dir, image.Point{})
	require.NoError(t, err)

	ctx := context.Background()
	frame, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(140, 100), frame.Size())
	frame.Close()

	_, err = src.Read(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEndOfStream), "a bad file is transient")

	frame, err = src.Read(ctx)
	require.NoError(t, err)
	frame.Close()
}

func TestDirectorySourceCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 1)
	src, err := OpenDirectory(dir, image.Point{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Read(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOpenDirectoryEmpty(t *testing.T) {
	_, err := OpenDirectory(t.TempDir(), image.Point{})
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 1)
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte{0}, 0o600))

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "default camera", config: DefaultConfig()},
		{name: "directory", config: Config{Kind: KindDirectory, Path: dir}},
		{name: "image", config: Config{Kind: KindImage, Path: filepath.Join(dir, "frame-01.png")}},
		{name: "video", config: Config{Kind: KindVideo, Path: video}},
		{name: "missing video", config: Config{Kind: KindVideo, Path: filepath.Join(dir, "nope.mp4")}, wantErr: true},
		{name: "image as video", config: Config{Kind: KindVideo, Path: filepath.Join(dir, "frame-01.png")}, wantErr: true},
		{name: "file as directory", config: Config{Kind: KindDirectory, Path: video}, wantErr: true},
		{name: "half resize", config: Config{Kind: KindCamera, Width: 700}, wantErr: true},
		{name: "negative device", config: Config{Kind: KindCamera, Device: -1}, wantErr: true},
		{name: "unknown kind", config: Config{Kind: "rtsp"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpenImageSource(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 5)

	src, err := Open(Config{Kind: KindImage, Path: filepath.Join(dir, "frame-05.png")})
	require.NoError(t, err)
	defer src.Close()

	frame, err := src.Read(context.Background())
	require.NoError(t, err)
	frame.Close()

	_, err = src.Read(context.Background())
	assert.True(t, errors.Is(err, ErrEndOfStream))
}

func TestEndOfFile(t *testing.T) {
	tests := []struct {
		name        string
		pos, count  float64
		lastFailure float64
		want        bool
	}{
		{name: "bad frame mid file", pos: 41, count: 120, lastFailure: -1, want: false},
		{name: "second bad frame further on", pos: 42, count: 120, lastFailure: 41, want: false},
		{name: "past last frame", pos: 120, count: 120, lastFailure: -1, want: true},
		{name: "unknown frame count", pos: 10, count: 0, lastFailure: -1, want: true},
		{name: "position stuck", pos: 41, count: 120, lastFailure: 41, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, endOfFile(tt.pos, tt.count, tt.lastFailure))
		})
	}
}
