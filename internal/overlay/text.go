// Package overlay rasterizes lines of text into a single channel coverage image
// that is uploaded as the overlay texture.
package overlay

import (
	"image"
	"image/color"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultWidth  = 512
	DefaultHeight = 128
	DefaultSize   = 12

	margin = 4
)

// Text draws text lines top to bottom into a fixed size grayscale image.
type Text struct {
	face       font.Face
	img        *image.Gray
	ascent     int
	lineHeight int
}

// NewText creates a rasterizer for a width x height image using the Go Mono
// face at size points.
func NewText(width, height int, size float64) (*Text, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Newf("overlay: invalid size %dx%d", width, height)
	}
	parsed, err := opentype.Parse(gomono.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "overlay: parse font")
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, errors.Wrap(err, "overlay: create face")
	}

	metrics := face.Metrics()
	return &Text{
		face:       face,
		img:        image.NewGray(image.Rect(0, 0, width, height)),
		ascent:     metrics.Ascent.Ceil(),
		lineHeight: metrics.Height.Ceil(),
	}, nil
}

func (t *Text) Bounds() image.Rectangle { return t.img.Rect }

// MaxLines is how many lines fit in the image.
func (t *Text) MaxLines() int {
	if t.lineHeight == 0 {
		return 0
	}
	return (t.img.Rect.Dy() - 2*margin) / t.lineHeight
}

// Render clears the image and draws lines into it. Lines past MaxLines are
// dropped and glyphs past the right edge are clipped. The returned image is
// reused by the next call.
func (t *Text) Render(lines []string) *image.Gray {
	draw.Draw(t.img, t.img.Rect, image.Black, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  t.img,
		Src:  image.NewUniform(color.White),
		Face: t.face,
	}
	for i, line := range lines {
		if i >= t.MaxLines() {
			break
		}
		d.Dot = fixed.P(margin, margin+t.ascent+i*t.lineHeight)
		d.DrawString(line)
	}
	return t.img
}

func (t *Text) Close() error {
	return t.face.Close()
}
