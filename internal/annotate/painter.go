package annotate

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/a3tai/mcp-conform/internal/coords"
)

// Painter is a drawing backend for Geometry
type Painter interface {
	FillRect(box coords.BoundingBox, c color.Color)
	StrokeRect(box coords.BoundingBox, c color.Color)
	Polyline(points []Point, c color.Color)
	Text(x, baseline float64, s string, c color.Color)
}

// Paint draws g on p: highlights, then leaders, then notes on top
func Paint(p Painter, g Geometry, opts Options) {
	for _, h := range g.Highlights {
		colors := ColorsFor(h.Theme)
		p.FillRect(h.Box, colors.Fill)
		p.StrokeRect(h.Box, colors.Stroke)
	}
	for _, l := range g.Leaders {
		p.Polyline(l.Path(24), ColorsFor(l.Theme).Stroke)
	}
	for _, n := range g.Notes {
		colors := ColorsFor(n.Theme)
		p.FillRect(n.Box, color.White)
		p.FillRect(n.Box, colors.Fill)
		p.StrokeRect(n.Box, colors.Stroke)
		for i, line := range n.Lines {
			baseline := n.Box.Y + opts.Padding + float64(i+1)*opts.LineHeight - 3
			p.Text(n.Box.X+opts.Padding, baseline, line, colors.Text)
		}
	}
}

// PaintSpotlight overlays s on p
func PaintSpotlight(p Painter, s Spotlight) {
	colors := ColorsFor(s.Theme)
	for _, b := range s.Boxes {
		p.FillRect(b, colors.Fill)
		if !s.FullPage {
			p.StrokeRect(b, colors.Stroke)
		}
	}
}

// RasterPainter paints onto an RGBA image
type RasterPainter struct {
	Dst  *image.RGBA
	Face font.Face
}

// NewRasterPainter creates a painter drawing text with the 7x13 face
func NewRasterPainter(dst *image.RGBA) *RasterPainter {
	return &RasterPainter{Dst: dst, Face: basicfont.Face7x13}
}

func rect(b coords.BoundingBox) image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X)), int(math.Floor(b.Y)),
		int(math.Ceil(b.Right())), int(math.Ceil(b.Bottom())),
	)
}

// FillRect composites c over the box
func (r *RasterPainter) FillRect(box coords.BoundingBox, c color.Color) {
	draw.Draw(r.Dst, rect(box).Intersect(r.Dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

// StrokeRect draws a one-pixel outline
func (r *RasterPainter) StrokeRect(box coords.BoundingBox, c color.Color) {
	rc := rect(box)
	if rc.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(rc.Min.X, rc.Min.Y, rc.Max.X, rc.Min.Y+1),
		image.Rect(rc.Min.X, rc.Max.Y-1, rc.Max.X, rc.Max.Y),
		image.Rect(rc.Min.X, rc.Min.Y, rc.Min.X+1, rc.Max.Y),
		image.Rect(rc.Max.X-1, rc.Min.Y, rc.Max.X, rc.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(r.Dst, e.Intersect(r.Dst.Bounds()), src, image.Point{}, draw.Over)
	}
}

// Polyline joins consecutive points with straight pixel lines
func (r *RasterPainter) Polyline(points []Point, c color.Color) {
	for i := 1; i < len(points); i++ {
		r.line(points[i-1], points[i], c)
	}
}

func (r *RasterPainter) line(a, b Point, c color.Color) {
	steps := int(math.Ceil(math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y))))
	if steps == 0 {
		steps = 1
	}
	bounds := r.Dst.Bounds()
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := image.Pt(int(math.Round(a.X+(b.X-a.X)*t)), int(math.Round(a.Y+(b.Y-a.Y)*t)))
		if p.In(bounds) {
			r.Dst.Set(p.X, p.Y, c)
		}
	}
}

// Text draws s with its baseline at the given canvas y
func (r *RasterPainter) Text(x, baseline float64, s string, c color.Color) {
	d := &font.Drawer{Dst: r.Dst, Src: image.NewUniform(c), Face: r.Face, Dot: fixed.P(int(x), int(baseline))}
	d.DrawString(s)
}

// Compose returns a new g.CanvasWidth wide image with page drawn at the origin,
// the margin column to its right, and the geometry painted over both.
func Compose(page image.Image, g Geometry, opts Options) *image.RGBA {
	w := int(math.Ceil(g.CanvasWidth))
	h := int(math.Ceil(g.Height))
	if b := page.Bounds(); b.Dy() > h {
		h = b.Dy()
	}
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.RGBA{248, 250, 252, 255}), image.Point{}, draw.Src)
	draw.Draw(canvas, page.Bounds().Sub(page.Bounds().Min), page, page.Bounds().Min, draw.Src)
	Paint(NewRasterPainter(canvas), g, opts)
	return canvas
}
