package annotate

import (
	"image/color"

	"github.com/a3tai/mcp-conform/internal/change"
)

// Theme is the visual treatment of one annotation
type Theme string

const (
	ThemeAdd       Theme = "add"
	ThemeReplace   Theme = "replace"
	ThemeDelete    Theme = "delete"
	ThemeFallback  Theme = "fallback"
	ThemeUnlocated Theme = "unlocated"
	ThemePage      Theme = "page"
)

// Colors are the fill and stroke used for a theme. Fill is translucent.
type Colors struct {
	Fill   color.NRGBA
	Stroke color.NRGBA
	Text   color.NRGBA
}

var palette = map[Theme]Colors{
	ThemeAdd:       {Fill: color.NRGBA{16, 185, 129, 64}, Stroke: color.NRGBA{5, 150, 105, 255}, Text: color.NRGBA{6, 78, 59, 255}},
	ThemeReplace:   {Fill: color.NRGBA{16, 185, 129, 64}, Stroke: color.NRGBA{5, 150, 105, 255}, Text: color.NRGBA{6, 78, 59, 255}},
	ThemeDelete:    {Fill: color.NRGBA{239, 68, 68, 64}, Stroke: color.NRGBA{220, 38, 38, 255}, Text: color.NRGBA{127, 29, 29, 255}},
	ThemeFallback:  {Fill: color.NRGBA{245, 158, 11, 64}, Stroke: color.NRGBA{217, 119, 6, 255}, Text: color.NRGBA{120, 53, 15, 255}},
	ThemeUnlocated: {Fill: color.NRGBA{245, 158, 11, 64}, Stroke: color.NRGBA{217, 119, 6, 255}, Text: color.NRGBA{120, 53, 15, 255}},
	ThemePage:      {Fill: color.NRGBA{59, 130, 246, 40}, Stroke: color.NRGBA{37, 99, 235, 255}, Text: color.NRGBA{30, 58, 138, 255}},
}

// ColorsFor returns the colors of t, defaulting to the page theme
func ColorsFor(t Theme) Colors {
	if c, ok := palette[t]; ok {
		return c
	}
	return palette[ThemePage]
}

// themeFor picks the theme of a change located by its own text
func themeFor(t change.Type) Theme {
	switch t {
	case change.TextDelete, change.PageDelete:
		return ThemeDelete
	case change.TextReplace, change.PageReplace:
		return ThemeReplace
	case change.TextAdd, change.PageAdd:
		return ThemeAdd
	default:
		return ThemePage
	}
}
