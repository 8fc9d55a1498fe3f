// Package coords maps text spans on a page back to the boxes of the runs that drew them.
package coords

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// BoundingBox is an axis-aligned rectangle. Which coordinate space it lives in is
// decided by the caller; use Viewport to convert between PDF and canvas space.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextRun is one string drawn by the PDF engine together with its box
type TextRun struct {
	Text string      `json:"text"`
	Box  BoundingBox `json:"box"`
}

// Right returns the x coordinate of the right edge
func (b BoundingBox) Right() float64 { return b.X + b.Width }

// Bottom returns the y coordinate of the edge opposite to Y
func (b BoundingBox) Bottom() float64 { return b.Y + b.Height }

// Union returns the smallest box containing both b and o
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	minX := math.Min(b.X, o.X)
	minY := math.Min(b.Y, o.Y)
	maxX := math.Max(b.Right(), o.Right())
	maxY := math.Max(b.Bottom(), o.Bottom())
	return BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Intersects reports whether the two boxes overlap with positive area
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.X < o.Right() && o.X < b.Right() && b.Y < o.Bottom() && o.Y < b.Bottom()
}

// Contains reports whether the point lies inside the box
func (b BoundingBox) Contains(x, y float64) bool {
	return x >= b.X && x <= b.Right() && y >= b.Y && y <= b.Bottom()
}

// pageText is the whitespace-collapsed concatenation of a page's runs, with the
// index of the producing run recorded for every byte.
type pageText struct {
	text  string
	owner []int
}

func buildPageText(runs []TextRun) pageText {
	var b strings.Builder
	owner := make([]int, 0, 256)
	prevSpace := false

	for i, run := range runs {
		for _, r := range run.Text {
			if unicode.IsSpace(r) {
				if prevSpace {
					continue
				}
				b.WriteByte(' ')
				owner = append(owner, i)
				prevSpace = true
				continue
			}
			n := utf8.RuneLen(r)
			if n < 0 {
				n = len(string(utf8.RuneError))
			}
			b.WriteRune(r)
			for k := 0; k < n; k++ {
				owner = append(owner, i)
			}
			prevSpace = false
		}
	}
	return pageText{text: b.String(), owner: owner}
}

// CollapseWhitespace replaces every run of whitespace with one space and trims the ends
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FindTextCoordinates returns one box per non-overlapping occurrence of search in
// the page. Whitespace is collapsed on both sides, case is preserved. An occurrence
// spanning several runs yields the union of those runs' boxes. No match returns nil.
func FindTextCoordinates(runs []TextRun, search string) []BoundingBox {
	needle := CollapseWhitespace(search)
	if needle == "" || len(runs) == 0 {
		return nil
	}

	page := buildPageText(runs)
	var boxes []BoundingBox
	from := 0
	for from <= len(page.text)-len(needle) {
		idx := strings.Index(page.text[from:], needle)
		if idx < 0 {
			break
		}
		start := from + idx
		end := start + len(needle)
		boxes = append(boxes, spanBox(runs, page.owner[start:end]))
		from = end
	}
	return boxes
}

func spanBox(runs []TextRun, owners []int) BoundingBox {
	first := owners[0]
	box := runs[first].Box
	last := first
	for _, o := range owners[1:] {
		if o == last {
			continue
		}
		box = box.Union(runs[o].Box)
		last = o
	}
	return box
}

// Viewport converts between PDF page space (points, origin bottom-left) and
// canvas space (pixels, origin top-left) for one page rendered at Scale.
type Viewport struct {
	PageWidth  float64 `json:"page_width"`
	PageHeight float64 `json:"page_height"`
	Scale      float64 `json:"scale"`
}

// Width returns the canvas width in pixels
func (v Viewport) Width() float64 { return v.PageWidth * v.Scale }

// Height returns the canvas height in pixels
func (v Viewport) Height() float64 { return v.PageHeight * v.Scale }

// ToCanvas converts a PDF-space box to canvas space
func (v Viewport) ToCanvas(b BoundingBox) BoundingBox {
	return BoundingBox{
		X:      b.X * v.Scale,
		Y:      (v.PageHeight - b.Y - b.Height) * v.Scale,
		Width:  b.Width * v.Scale,
		Height: b.Height * v.Scale,
	}
}

// ToPDF converts a canvas-space box to PDF space
func (v Viewport) ToPDF(b BoundingBox) BoundingBox {
	return BoundingBox{
		X:      b.X / v.Scale,
		Y:      v.PageHeight - (b.Y+b.Height)/v.Scale,
		Width:  b.Width / v.Scale,
		Height: b.Height / v.Scale,
	}
}

// RunsToCanvas converts every run box to canvas space
func (v Viewport) RunsToCanvas(runs []TextRun) []TextRun {
	out := make([]TextRun, len(runs))
	for i, r := range runs {
		out[i] = TextRun{Text: r.Text, Box: v.ToCanvas(r.Box)}
	}
	return out
}
