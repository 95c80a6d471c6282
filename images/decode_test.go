package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want ImageFormat
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"png", []byte("\x89PNG\r\n\x1a\n...."), FormatPNG},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWebP},
		{"bmp", []byte("BM...."), FormatBMP},
		{"riff but not webp", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.data))
		})
	}
	assert.Equal(t, "webp", FormatWebP.String())
}

func TestDecodeMatPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(16, 8, color.RGBA{R: 255, A: 255})))

	mat, err := DecodeMat(buf.Bytes())
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 16, mat.Cols())
	assert.Equal(t, 8, mat.Rows())
	assert.Equal(t, 3, mat.Channels())
	px := mat.GetVecbAt(4, 4)
	assert.Equal(t, uint8(0), px[0], "blue")
	assert.Equal(t, uint8(255), px[2], "red")
}

func TestDecodeMatWebP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, solidImage(12, 10, color.RGBA{G: 200, A: 255}), &webp.Options{Lossless: true}))
	require.Equal(t, FormatWebP, DetectFormat(buf.Bytes()))

	mat, err := DecodeMat(buf.Bytes())
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 12, mat.Cols())
	assert.Equal(t, 10, mat.Rows())
	assert.Equal(t, 3, mat.Channels())
}

func TestDecodeMatErrors(t *testing.T) {
	_, err := DecodeMat(nil)
	assert.Error(t, err)

	_, err = DecodeMat([]byte("definitely not an image"))
	assert.Error(t, err)

	_, err = DecodeMat([]byte("RIFF\x00\x00\x00\x00WEBPbroken"))
	assert.Error(t, err)
}
