package annotate

import (
	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/coords"
)

// Spotlight is the hover/selection overlay for a single change
type Spotlight struct {
	ChangeID int                  `json:"change_id"`
	Boxes    []coords.BoundingBox `json:"boxes"`
	FullPage bool                 `json:"full_page"`
	Theme    Theme                `json:"theme"`
}

// SpotlightChange tints the whole page for page-level changes and general notes,
// and overlays the located occurrences for text changes. A text change that
// cannot be found yields no boxes.
func SpotlightChange(vp coords.Viewport, runs []coords.TextRun, in *change.Instruction) Spotlight {
	s := Spotlight{ChangeID: in.ID, Boxes: []coords.BoundingBox{}}
	if !in.IsTextChange() {
		s.FullPage = true
		s.Theme = themeFor(in.ChangeType)
		s.Boxes = append(s.Boxes, coords.BoundingBox{Width: vp.Width(), Height: vp.Height()})
		return s
	}

	lookup := Find(vp.RunsToCanvas(runs), in)
	switch {
	case len(lookup.Boxes) == 0:
		s.Theme = ThemeUnlocated
	case lookup.Fallback:
		s.Theme = ThemeFallback
	default:
		s.Theme = themeFor(in.ChangeType)
	}
	if lookup.Boxes != nil {
		s.Boxes = lookup.Boxes
	}
	return s
}
