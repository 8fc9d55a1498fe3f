package pdf

import (
	"context"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// maxRasterSide bounds the bitmap size to keep a bad scale from exhausting memory
const maxRasterSide = 8192

// TextRasterizer renders a page preview from its text runs only. Vector art and
// images are not drawn; a full-fidelity renderer can be swapped in through Rasterizer.
type TextRasterizer struct {
	Face font.Face
}

// NewTextRasterizer creates a rasterizer using the built-in 7x13 face
func NewTextRasterizer() *TextRasterizer {
	return &TextRasterizer{Face: basicfont.Face7x13}
}

// RenderToBitmap draws the page's runs on a white canvas. The context is checked
// between runs so a superseded render stops early.
func (r *TextRasterizer) RenderToBitmap(ctx context.Context, page Page, scale float64) (*image.RGBA, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("scale must be positive, got %f", scale)
	}

	size := page.Size()
	vp := size.Viewport(scale)
	w := int(math.Ceil(vp.Width()))
	h := int(math.Ceil(vp.Height()))
	if w > maxRasterSide || h > maxRasterSide {
		return nil, fmt.Errorf("raster %dx%d exceeds limit %d", w, h, maxRasterSide)
	}

	runs, err := page.TextRuns()
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	drawer := &font.Drawer{Dst: img, Src: image.Black, Face: r.Face}
	for i, run := range runs {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if run.Text == "" {
			continue
		}
		// PDF y is the baseline measured from the bottom edge
		drawer.Dot = fixed.P(int(run.Box.X*scale), int((size.Height-run.Box.Y)*scale))
		drawer.DrawString(run.Text)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return img, nil
}
