package annotate

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/coords"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vp = coords.Viewport{PageWidth: 612, PageHeight: 792, Scale: 1}

// run places text on a 12pt line whose baseline is y in PDF space
func run(text string, x, y float64) coords.TextRun {
	return coords.TextRun{Text: text, Box: coords.BoundingBox{X: x, Y: y, Width: float64(len(text)) * 6, Height: 12}}
}

func specPage() []coords.TextRun {
	return []coords.TextRun{
		run("SECTION 05 50 00", 72, 720),
		run("METAL FABRICATIONS", 72, 706),
		run("Railings shall be", 72, 600),
		run(" stainless steel.", 174, 600),
		run("Provide stainless steel anchors.", 72, 500),
	}
}

func TestLayout_FallbackToLocationHint(t *testing.T) {
	changes := []change.Instruction{{
		ID:              7,
		ChangeType:      change.TextReplace,
		ExactTextToFind: "shall be galvanized steel",
		NewTextToInsert: "shall be stainless steel",
		LocationHint:    "SECTION 05 50 00",
	}}

	g := Layout(vp, specPage(), changes, DefaultOptions())

	require.Len(t, g.Notes, 1)
	assert.Equal(t, ThemeFallback, g.Notes[0].Theme)
	assert.True(t, g.Notes[0].Anchored)
	require.Len(t, g.Leaders, 1)
	assert.Equal(t, ThemeFallback, g.Leaders[0].Theme)
	require.Len(t, g.Highlights, 1)
	assert.Equal(t, ThemeFallback, g.Highlights[0].Theme)
	assert.InDelta(t, 60, g.Highlights[0].Box.Y, 1e-9)

	var kinds []AreaKind
	for _, a := range g.Areas {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []AreaKind{AreaHighlight, AreaNote}, kinds)

	// The hint's canvas box is at y = 792 - 720 - 12
	assert.InDelta(t, 72+16*6, g.Leaders[0].From.X, 1e-9)
	assert.InDelta(t, 60+6, g.Leaders[0].From.Y, 1e-9)
}

func TestLayout_ExactMatchHighlightsEveryOccurrenceButOneNote(t *testing.T) {
	changes := []change.Instruction{{
		ID:              3,
		ChangeType:      change.TextReplace,
		ExactTextToFind: "stainless steel",
		NewTextToInsert: "galvanized steel",
	}}

	g := Layout(vp, specPage(), changes, DefaultOptions())

	assert.Len(t, g.Highlights, 2)
	for _, h := range g.Highlights {
		assert.Equal(t, ThemeReplace, h.Theme)
	}
	require.Len(t, g.Notes, 1)
	require.Len(t, g.Leaders, 1)
	assert.InDelta(t, g.Highlights[0].Box.Right(), g.Leaders[0].From.X, 1e-9, "leader starts at the first occurrence")

	var highlights, notes int
	for _, a := range g.Areas {
		assert.Equal(t, 3, a.ChangeID)
		switch a.Kind {
		case AreaHighlight:
			highlights++
		case AreaNote:
			notes++
		}
	}
	assert.Equal(t, 2, highlights)
	assert.Equal(t, 1, notes)
}

func TestLayout_Themes(t *testing.T) {
	tests := []struct {
		name       string
		in         change.Instruction
		theme      Theme
		highlights int
	}{
		{
			name:       "delete is red and highlighted",
			in:         change.Instruction{ID: 1, ChangeType: change.TextDelete, ExactTextToFind: "METAL FABRICATIONS"},
			theme:      ThemeDelete,
			highlights: 1,
		},
		{
			name:       "add anchors on the hint without a highlight",
			in:         change.Instruction{ID: 2, ChangeType: change.TextAdd, LocationHint: "METAL FABRICATIONS", NewTextToInsert: "x"},
			theme:      ThemeFallback,
			highlights: 0,
		},
		{
			name:       "delete found by hint is highlighted amber",
			in:         change.Instruction{ID: 4, ChangeType: change.TextDelete, ExactTextToFind: "cast iron", LocationHint: "METAL FABRICATIONS"},
			theme:      ThemeFallback,
			highlights: 1,
		},
		{
			name:       "add found by exact text is green",
			in:         change.Instruction{ID: 3, ChangeType: change.TextAdd, ExactTextToFind: "Railings", NewTextToInsert: "Guard"},
			theme:      ThemeAdd,
			highlights: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Layout(vp, specPage(), []change.Instruction{tt.in}, DefaultOptions())
			require.Len(t, g.Notes, 1)
			assert.Equal(t, tt.theme, g.Notes[0].Theme)
			assert.Len(t, g.Highlights, tt.highlights)
		})
	}
}

func TestLayout_UnlocatedRendersExactlyOneNote(t *testing.T) {
	changes := []change.Instruction{
		{ID: 9, ChangeType: change.TextDelete, ExactTextToFind: "not on this page", LocationHint: "nor this"},
		{ID: 10, ChangeType: change.TextAdd, NewTextToInsert: "orphan"},
	}

	g := Layout(vp, specPage(), changes, DefaultOptions())

	require.Len(t, g.Notes, 2)
	assert.Empty(t, g.Leaders)
	assert.Empty(t, g.Highlights)
	for i, n := range g.Notes {
		assert.Equal(t, changes[i].ID, n.ChangeID)
		assert.Equal(t, ThemeUnlocated, n.Theme)
		assert.False(t, n.Anchored)
		assert.Contains(t, strings.Join(n.Lines, " "), "not located")
	}
	require.Len(t, g.Areas, 2)
}

func TestLayout_NotesNeverOverlap(t *testing.T) {
	opts := DefaultOptions()
	long := strings.Repeat("stainless steel handrail brackets ", 8)
	changes := []change.Instruction{
		{ID: 1, ChangeType: change.TextReplace, ExactTextToFind: "Railings shall be", NewTextToInsert: long},
		{ID: 2, ChangeType: change.TextDelete, ExactTextToFind: "stainless steel."},
		{ID: 3, ChangeType: change.TextAdd, NewTextToInsert: long},
		{ID: 4, ChangeType: change.TextDelete, ExactTextToFind: "SECTION 05 50 00"},
		{ID: 5, ChangeType: change.TextDelete, ExactTextToFind: "METAL"},
	}

	g := Layout(vp, specPage(), changes, opts)
	require.Len(t, g.Notes, len(changes))

	for i := 1; i < len(g.Notes); i++ {
		prev, cur := g.Notes[i-1].Box, g.Notes[i].Box
		assert.GreaterOrEqual(t, cur.Y, prev.Bottom()+opts.Spacing-1e-9)
		assert.False(t, prev.Intersects(cur))
	}

	// Anchored notes come first in anchor order; the unanchored one is last
	assert.Equal(t, []int{4, 5, 1, 2, 3}, noteIDs(g))
	assert.GreaterOrEqual(t, g.Height, g.Notes[len(g.Notes)-1].Box.Bottom())

	for _, n := range g.Notes {
		assert.GreaterOrEqual(t, n.Box.X, vp.Width())
		for _, line := range n.Lines {
			assert.LessOrEqual(t, len(line), opts.columns())
		}
	}
}

func noteIDs(g Geometry) []int {
	ids := make([]int, len(g.Notes))
	for i, n := range g.Notes {
		ids[i] = n.ChangeID
	}
	return ids
}

func TestLayout_NoteStartsAtAnchorWhenFree(t *testing.T) {
	changes := []change.Instruction{{ID: 1, ChangeType: change.TextDelete, ExactTextToFind: "Provide"}}
	g := Layout(vp, specPage(), changes, DefaultOptions())

	require.Len(t, g.Notes, 1)
	assert.InDelta(t, 792-500-12, g.Notes[0].Box.Y, 1e-9)
}

func TestWrap(t *testing.T) {
	lines := wrap("aaaaaaaaaaaaaaaaaaaaaaaaa bb", 10)
	assert.Equal(t, []string{"aaaaaaaaaa", "aaaaaaaaaa", "aaaaa", "bb"}, lines)

	assert.Equal(t, []string{"short"}, wrap("short", 10))
}

func TestLeaderPath(t *testing.T) {
	l := Leader{From: Point{0, 0}, Control1: Point{5, 0}, Control2: Point{5, 10}, To: Point{10, 10}}
	pts := l.Path(4)

	require.Len(t, pts, 5)
	assert.Equal(t, Point{0, 0}, pts[0])
	assert.InDelta(t, 10, pts[4].X, 1e-9)
	assert.InDelta(t, 10, pts[4].Y, 1e-9)
	assert.InDelta(t, 5, pts[2].X, 1e-9)
	assert.InDelta(t, 5, pts[2].Y, 1e-9)
}

func TestSpotlightChange(t *testing.T) {
	page := SpotlightChange(vp, specPage(), &change.Instruction{ID: 1, ChangeType: change.PageReplace})
	assert.True(t, page.FullPage)
	require.Len(t, page.Boxes, 1)
	assert.Equal(t, coords.BoundingBox{Width: 612, Height: 792}, page.Boxes[0])

	text := SpotlightChange(vp, specPage(), &change.Instruction{ID: 2, ChangeType: change.TextDelete, ExactTextToFind: "stainless steel"})
	assert.False(t, text.FullPage)
	assert.Len(t, text.Boxes, 2)
	assert.Equal(t, ThemeDelete, text.Theme)

	missing := SpotlightChange(vp, specPage(), &change.Instruction{ID: 3, ChangeType: change.TextDelete, ExactTextToFind: "absent"})
	assert.Empty(t, missing.Boxes)
	assert.Equal(t, ThemeUnlocated, missing.Theme)
}

type recordingPainter struct {
	fills, strokes, lines, texts int
}

func (r *recordingPainter) FillRect(coords.BoundingBox, color.Color)   { r.fills++ }
func (r *recordingPainter) StrokeRect(coords.BoundingBox, color.Color) { r.strokes++ }
func (r *recordingPainter) Polyline([]Point, color.Color)              { r.lines++ }
func (r *recordingPainter) Text(float64, float64, string, color.Color) { r.texts++ }

func TestPaint(t *testing.T) {
	changes := []change.Instruction{
		{ID: 1, ChangeType: change.TextDelete, ExactTextToFind: "stainless steel"},
		{ID: 2, ChangeType: change.TextAdd, NewTextToInsert: "x"},
	}
	g := Layout(vp, specPage(), changes, DefaultOptions())

	var p recordingPainter
	Paint(&p, g, DefaultOptions())
	assert.Equal(t, 2+2*2, p.fills, "two highlights plus backing and tint per note")
	assert.Equal(t, 2+2, p.strokes)
	assert.Equal(t, 1, p.lines)
	assert.Equal(t, len(g.Notes[0].Lines)+len(g.Notes[1].Lines), p.texts)
}

func TestCompose(t *testing.T) {
	opts := DefaultOptions()
	page := image.NewRGBA(image.Rect(0, 0, 612, 792))
	changes := []change.Instruction{{ID: 1, ChangeType: change.TextAdd, NewTextToInsert: "note"}}
	g := Layout(vp, specPage(), changes, opts)

	img := Compose(page, g, opts)
	assert.Equal(t, 612+240, img.Bounds().Dx())
	assert.Equal(t, 792, img.Bounds().Dy())

	// Top-left corner of the note outline carries the stroke color
	n := g.Notes[0].Box
	stroke := ColorsFor(ThemeUnlocated).Stroke
	got := img.RGBAAt(int(n.X), int(n.Y))
	assert.Equal(t, stroke.R, got.R)
	assert.Equal(t, stroke.G, got.G)
	assert.Equal(t, stroke.B, got.B)
}
