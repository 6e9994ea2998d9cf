package convert

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"go-docspace/internal/model"
)

func sample(t *testing.T) image.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestConvertBitmapToPNG(t *testing.T) {
	var src bytes.Buffer
	require.NoError(t, bmp.Encode(&src, sample(t)))

	c := New(nil)
	assert.Equal(t, ".png", c.TransferTarget("scan.BMP"))
	assert.Empty(t, c.TransferTarget("photo.png"))

	rc, err := c.Convert(context.Background(), &src, ".bmp", ".png", Options{})
	require.NoError(t, err)
	defer rc.Close()

	out, err := png.Decode(rc)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), out.Bounds())
}

func TestWatermarkChangesPixels(t *testing.T) {
	img := Watermark(sample(t), "CONFIDENTIAL")

	changed := false
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y && !changed; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if r, _, _, _ := img.At(x, y).RGBA(); r != 0xffff {
				changed = true
				break
			}
		}
	}
	assert.True(t, changed)
}

func TestConvertErrors(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	_, err := c.Convert(ctx, bytes.NewReader(nil), ".png", ".webp", Options{})
	assert.ErrorIs(t, err, model.ErrNotSupportedFormat)

	protected := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, 0, 0)
	_, err = c.Convert(ctx, bytes.NewReader(protected), ".docx", ".pdf", Options{})
	assert.ErrorIs(t, err, model.ErrConvertPassword)

	_, err = c.Convert(ctx, bytes.NewReader([]byte("PK\x03\x04")), ".docx", ".pdf", Options{})
	assert.ErrorIs(t, err, model.ErrNotSupportedFormat)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.Convert(cancelled, io.LimitReader(nil, 0), ".png", ".png", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
