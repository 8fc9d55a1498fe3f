package pdf

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/a3tai/mcp-conform/internal/coords"
)

// Engine loads PDF documents from raw bytes
type Engine interface {
	LoadDocument(data []byte) (Document, error)
}

// Document is an opened PDF. Pages may be requested concurrently; Close is
// reserved for the owner (see Registry).
type Document interface {
	PageCount() int
	Page(pageNum int) (Page, error)
	Close() error
}

// Page is one page of a Document
type Page interface {
	Number() int
	Size() PageSize
	// TextRuns returns the strings drawn on the page in content-stream order,
	// with boxes in PDF space (points, origin bottom-left).
	TextRuns() ([]coords.TextRun, error)
}

// Rasterizer renders a page to a bitmap at the given scale
type Rasterizer interface {
	RenderToBitmap(ctx context.Context, page Page, scale float64) (*image.RGBA, error)
}

// PageSize holds page dimensions in points
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Default page size used when a page has no readable MediaBox (US Letter)
var DefaultPageSize = PageSize{Width: 612, Height: 792}

// Viewport returns the canvas mapping for the page at scale
func (s PageSize) Viewport(scale float64) coords.Viewport {
	return coords.Viewport{PageWidth: s.Width, PageHeight: s.Height, Scale: scale}
}

// EngineError wraps a failure inside the PDF engine with the operation that failed
type EngineError struct {
	Op   string `json:"operation"`
	Page int    `json:"page,omitempty"`
	Err  error  `json:"error"`
}

func (e *EngineError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("pdf engine error in %s (page %d): %v", e.Op, e.Page, e.Err)
	}
	return fmt.Sprintf("pdf engine error in %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

var (
	ErrDocumentClosed = errors.New("document is closed")
	ErrInvalidPage    = errors.New("invalid page number")
	ErrEmptyDocument  = errors.New("document is empty")
)
