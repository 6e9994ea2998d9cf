// Package convert transforms file content between formats on its way out of a
// storage: transfers between storages and downloads. Raster images are
// re-encoded (optionally stamped with a room watermark); office documents are
// recognised but not rendered.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go-docspace/internal/model"
)

// Options tune a single conversion.
type Options struct {
	// Watermark is stamped across images when set.
	Watermark string
}

type encoder func(io.Writer, image.Image) error

var encoders = map[string]encoder{
	".png": png.Encode,
	".jpg": func(w io.Writer, m image.Image) error {
		return jpeg.Encode(w, m, &jpeg.Options{Quality: 92})
	},
	".jpeg": func(w io.Writer, m image.Image) error {
		return jpeg.Encode(w, m, &jpeg.Options{Quality: 92})
	},
	".gif": func(w io.Writer, m image.Image) error {
		return gif.Encode(w, m, nil)
	},
	".bmp":  bmp.Encode,
	".tif":  func(w io.Writer, m image.Image) error { return tiff.Encode(w, m, nil) },
	".tiff": func(w io.Writer, m image.Image) error { return tiff.Encode(w, m, nil) },
}

var decodable = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

var documents = map[string]bool{
	".docx": true, ".xlsx": true, ".pptx": true, ".doc": true, ".xls": true, ".ppt": true,
}

// cfbMagic starts every OLE compound file; OOXML documents only look like this
// when they are password protected.
var cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

type Converter struct {
	transfer map[string]string
}

// New returns a converter. transfer maps source extensions to the extension
// content must be converted to before it moves to another storage; nil uses
// the defaults (legacy bitmap formats become PNG).
func New(transfer map[string]string) *Converter {
	if transfer == nil {
		transfer = map[string]string{".bmp": ".png", ".tif": ".png", ".tiff": ".png"}
	}
	return &Converter{transfer: transfer}
}

// TransferTarget returns the extension title must be converted to before it
// leaves its storage, or "" when it travels as is.
func (c *Converter) TransferTarget(title string) string {
	return c.transfer[model.Extension(title)]
}

// CanConvert reports whether Convert supports from -> to.
func (c *Converter) CanConvert(from, to string) bool {
	from, to = strings.ToLower(from), strings.ToLower(to)
	_, ok := encoders[to]
	return ok && decodable[from]
}

// Convert reads src (a from-format document) and returns it in to-format.
func (c *Converter) Convert(ctx context.Context, src io.Reader, from, to string, opts Options) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, to = strings.ToLower(from), strings.ToLower(to)

	if documents[from] {
		return nil, documentError(src, from)
	}
	if !c.CanConvert(from, to) {
		return nil, fmt.Errorf("%w: %s to %s", model.ErrNotSupportedFormat, from, to)
	}

	img, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", model.ErrNotSupportedFormat, from, err)
	}
	if opts.Watermark != "" {
		img = Watermark(img, opts.Watermark)
	}

	var buf bytes.Buffer
	if err := encoders[to](&buf, img); err != nil {
		return nil, fmt.Errorf("encode %s: %w", to, err)
	}
	return io.NopCloser(&buf), nil
}

func documentError(src io.Reader, from string) error {
	head := make([]byte, len(cfbMagic))
	n, _ := io.ReadFull(src, head)
	if strings.HasSuffix(from, "x") && bytes.Equal(head[:n], cfbMagic) {
		return model.ErrConvertPassword
	}
	return fmt.Errorf("%w: %s documents are not rendered", model.ErrNotSupportedFormat, from)
}

// Watermark tiles text diagonally across a copy of img.
func Watermark(img image.Image, text string) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.NRGBA{R: 128, G: 128, B: 128, A: 110}),
		Face: face,
	}
	width := d.MeasureString(text).Ceil() + 40
	step := face.Height * 4
	for row, y := 0, b.Min.Y+face.Ascent; y < b.Max.Y; row, y = row+1, y+step {
		shift := (row * step) % max(width, 1)
		for x := b.Min.X - shift; x < b.Max.X; x += width {
			d.Dot = fixed.P(x, y)
			d.DrawString(text)
		}
	}
	return dst
}
