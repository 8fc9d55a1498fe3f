// Package annotate computes the highlight and margin-note geometry for the text
// changes on one page. Geometry is pure data in canvas space; painting it is the
// job of a Painter.
package annotate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/coords"
	"github.com/mattn/go-runewidth"
	"github.com/mitchellh/go-wordwrap"
)

// Options controls the margin column. Lengths are canvas pixels.
type Options struct {
	MarginWidth float64
	NoteWidth   float64
	Padding     float64
	LineHeight  float64
	Spacing     float64
	CharWidth   float64
	TopOffset   float64
}

// DefaultOptions matches the 7x13 face used by the raster painter
func DefaultOptions() Options {
	return Options{
		MarginWidth: 240,
		NoteWidth:   220,
		Padding:     6,
		LineHeight:  15,
		Spacing:     8,
		CharWidth:   7,
		TopOffset:   12,
	}
}

// columns is how many cells of text fit on one note line
func (o Options) columns() int {
	cols := int((o.NoteWidth - 2*o.Padding) / o.CharWidth)
	if cols < 8 {
		cols = 8
	}
	return cols
}

// Point is a canvas coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Highlight is a translucent box over located text
type Highlight struct {
	ChangeID int                `json:"change_id"`
	Box      coords.BoundingBox `json:"box"`
	Theme    Theme              `json:"theme"`
}

// Note is a margin note box with its wrapped text
type Note struct {
	ChangeID int                `json:"change_id"`
	Box      coords.BoundingBox `json:"box"`
	Lines    []string           `json:"lines"`
	Theme    Theme              `json:"theme"`
	Anchored bool               `json:"anchored"`
}

// Leader is a cubic Bézier from located text to its note
type Leader struct {
	ChangeID int   `json:"change_id"`
	From     Point `json:"from"`
	Control1 Point `json:"control1"`
	Control2 Point `json:"control2"`
	To       Point `json:"to"`
	Theme    Theme `json:"theme"`
}

// Path flattens the curve into segments+1 points
func (l Leader) Path(segments int) []Point {
	if segments < 1 {
		segments = 1
	}
	pts := make([]Point, 0, segments+1)
	for i := 0; i <= segments; i++ {
		t := float64(i) / float64(segments)
		mt := 1 - t
		a, b, c, d := mt*mt*mt, 3*mt*mt*t, 3*mt*t*t, t*t*t
		pts = append(pts, Point{
			X: a*l.From.X + b*l.Control1.X + c*l.Control2.X + d*l.To.X,
			Y: a*l.From.Y + b*l.Control1.Y + c*l.Control2.Y + d*l.To.Y,
		})
	}
	return pts
}

// AreaKind distinguishes on-page highlights from margin notes
type AreaKind string

const (
	AreaHighlight AreaKind = "highlight"
	AreaNote      AreaKind = "note"
)

// ClickableArea is an interactive rectangle owned by one change
type ClickableArea struct {
	ChangeID int                `json:"change_id"`
	Kind     AreaKind           `json:"kind"`
	Box      coords.BoundingBox `json:"box"`
}

// Geometry is everything needed to draw the annotations of one page
type Geometry struct {
	Viewport    coords.Viewport `json:"viewport"`
	CanvasWidth float64         `json:"canvas_width"`
	Height      float64         `json:"height"`
	Highlights  []Highlight     `json:"highlights"`
	Notes       []Note          `json:"notes"`
	Leaders     []Leader        `json:"leaders"`
	Areas       []ClickableArea `json:"areas"`
}

// Lookup is the outcome of finding a change's text on the page
type Lookup struct {
	Boxes    []coords.BoundingBox
	Fallback bool
}

// Find searches canvas-space runs for the change's exact text, then for its
// location hint. A hint match is marked Fallback.
func Find(runs []coords.TextRun, in *change.Instruction) Lookup {
	if in.ExactTextToFind != "" {
		if boxes := coords.FindTextCoordinates(runs, in.ExactTextToFind); len(boxes) > 0 {
			return Lookup{Boxes: boxes}
		}
	}
	if in.LocationHint != "" {
		if boxes := coords.FindTextCoordinates(runs, in.LocationHint); len(boxes) > 0 {
			return Lookup{Boxes: boxes, Fallback: true}
		}
	}
	return Lookup{}
}

type placed struct {
	in     *change.Instruction
	lookup Lookup
	theme  Theme
}

// Layout computes highlights, exactly one margin note per change, and leader
// lines. runs are in PDF space. Anchored notes are stacked in anchor order
// followed by unanchored notes in input order; every note starts at or below
// the end of the previous one so notes never overlap.
func Layout(vp coords.Viewport, runs []coords.TextRun, changes []change.Instruction, opts Options) Geometry {
	canvasRuns := vp.RunsToCanvas(runs)
	g := Geometry{
		Viewport:    vp,
		CanvasWidth: vp.Width() + opts.MarginWidth,
		Height:      vp.Height(),
		Highlights:  []Highlight{},
		Notes:       []Note{},
		Leaders:     []Leader{},
		Areas:       []ClickableArea{},
	}

	var anchored, unanchored []placed
	for i := range changes {
		in := &changes[i]
		lookup := Find(canvasRuns, in)
		p := placed{in: in, lookup: lookup}
		switch {
		case len(lookup.Boxes) == 0:
			p.theme = ThemeUnlocated
			unanchored = append(unanchored, p)
			continue
		case lookup.Fallback:
			p.theme = ThemeFallback
		default:
			p.theme = themeFor(in.ChangeType)
		}
		anchored = append(anchored, p)
	}
	sort.SliceStable(anchored, func(i, j int) bool {
		return anchored[i].lookup.Boxes[0].Y < anchored[j].lookup.Boxes[0].Y
	})

	noteX := vp.Width() + (opts.MarginWidth-opts.NoteWidth)/2
	cursor := opts.TopOffset

	for _, p := range append(anchored, unanchored...) {
		id := p.in.ID
		lines := wrap(NoteText(p.in, p.theme), opts.columns())
		h := float64(len(lines))*opts.LineHeight + 2*opts.Padding

		y := cursor
		if len(p.lookup.Boxes) > 0 {
			first := p.lookup.Boxes[0]
			y = math.Max(cursor, first.Y)

			// Hint matches are drawn too, in the fallback theme
			if (p.in.ChangeType == change.TextDelete || p.in.ChangeType == change.TextReplace) {
				for _, box := range p.lookup.Boxes {
					g.Highlights = append(g.Highlights, Highlight{ChangeID: id, Box: box, Theme: p.theme})
					g.Areas = append(g.Areas, ClickableArea{ChangeID: id, Kind: AreaHighlight, Box: box})
				}
			}

			from := Point{X: first.Right(), Y: first.Y + first.Height/2}
			to := Point{X: noteX, Y: y + opts.Padding + opts.LineHeight/2}
			midX := from.X + (to.X-from.X)/2
			g.Leaders = append(g.Leaders, Leader{
				ChangeID: id,
				From:     from,
				Control1: Point{X: midX, Y: from.Y},
				Control2: Point{X: midX, Y: to.Y},
				To:       to,
				Theme:    p.theme,
			})
		}

		box := coords.BoundingBox{X: noteX, Y: y, Width: opts.NoteWidth, Height: h}
		g.Notes = append(g.Notes, Note{ChangeID: id, Box: box, Lines: lines, Theme: p.theme, Anchored: len(p.lookup.Boxes) > 0})
		g.Areas = append(g.Areas, ClickableArea{ChangeID: id, Kind: AreaNote, Box: box})
		cursor = y + h + opts.Spacing
	}

	g.Height = math.Max(g.Height, cursor)
	return g
}

// Annotate returns only the interactive rectangles of Layout
func Annotate(vp coords.Viewport, runs []coords.TextRun, changes []change.Instruction, opts Options) []ClickableArea {
	return Layout(vp, runs, changes, opts).Areas
}

// NoteText is the human text of a change's margin note
func NoteText(in *change.Instruction, theme Theme) string {
	var body string
	switch in.ChangeType {
	case change.TextReplace:
		body = fmt.Sprintf("Replace %q with %q", in.ExactTextToFind, in.NewTextToInsert)
	case change.TextDelete:
		body = fmt.Sprintf("Delete %q", in.ExactTextToFind)
	case change.TextAdd:
		body = fmt.Sprintf("Add %q", in.NewTextToInsert)
	default:
		body = in.Description
	}
	if body == "" || body == `Delete ""` {
		body = in.Description
	}

	prefix := fmt.Sprintf("#%d", in.ID)
	switch theme {
	case ThemeFallback:
		prefix += " (near " + in.LocationHint + ")"
	case ThemeUnlocated:
		prefix += " (not located)"
	}
	return prefix + ": " + body
}

// wrap breaks text into lines no wider than cols cells, splitting words that
// are longer than a line.
func wrap(text string, cols int) []string {
	var lines []string
	for _, line := range strings.Split(wordwrap.WrapString(text, uint(cols)), "\n") {
		for runewidth.StringWidth(line) > cols {
			head := runewidth.Truncate(line, cols, "")
			if head == "" {
				break
			}
			lines = append(lines, head)
			line = line[len(head):]
		}
		lines = append(lines, line)
	}
	return lines
}
