package pdf

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/a3tai/mcp-conform/internal/coords"
	"github.com/ledongthuc/pdf"
)

// defaultRunHeight is used when a run reports no font size
const defaultRunHeight = 12.0

// LedongthucEngine implements Engine on top of ledongthuc/pdf
type LedongthucEngine struct{}

// NewLedongthucEngine creates the default text-extraction engine
func NewLedongthucEngine() *LedongthucEngine {
	return &LedongthucEngine{}
}

// LoadDocument parses data as a PDF held in memory
func (e *LedongthucEngine) LoadDocument(data []byte) (Document, error) {
	if len(data) == 0 {
		return nil, &EngineError{Op: "load_document", Err: ErrEmptyDocument}
	}

	reader, err := openReader(data)
	if err != nil {
		return nil, &EngineError{Op: "load_document", Err: err}
	}

	return &LedongthucDocument{reader: reader, pages: reader.NumPage()}, nil
}

// openReader guards against the panics ledongthuc/pdf raises on malformed input
func openReader(data []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()
	reader, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return reader, nil
}

// LedongthucDocument implements Document using ledongthuc/pdf.
// The underlying reader is not safe for concurrent use, so page access is serialized.
type LedongthucDocument struct {
	mu     sync.Mutex
	reader *pdf.Reader
	pages  int
	closed bool
}

// PageCount returns the number of pages in the document
func (d *LedongthucDocument) PageCount() int {
	return d.pages
}

// Page returns a specific page. Page-tree objects are resolved lazily, so a
// malformed tree surfaces here as a panic and is returned as an error.
func (d *LedongthucDocument) Page(pageNum int) (page Page, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, &EngineError{Op: "get_page", Page: pageNum, Err: ErrDocumentClosed}
	}
	if pageNum < 1 || pageNum > d.pages {
		return nil, &EngineError{
			Op:   "get_page",
			Page: pageNum,
			Err:  fmt.Errorf("%w: document has %d pages", ErrInvalidPage, d.pages),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			page = nil
			err = &EngineError{Op: "get_page", Page: pageNum, Err: fmt.Errorf("page tree: %v", r)}
		}
	}()

	p := d.reader.Page(pageNum)
	if p.V.IsNull() {
		return nil, &EngineError{Op: "get_page", Page: pageNum, Err: fmt.Errorf("page object is null")}
	}

	return &LedongthucPage{doc: d, page: p, pageNum: pageNum}, nil
}

// Close releases the document
func (d *LedongthucDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.reader = nil
	return nil
}

// LedongthucPage implements Page using ledongthuc/pdf
type LedongthucPage struct {
	doc     *LedongthucDocument
	page    pdf.Page
	pageNum int
}

// Number returns the 1-based page number
func (p *LedongthucPage) Number() int {
	return p.pageNum
}

// Size reads the MediaBox, walking up the page tree for inherited values.
// A malformed tree yields DefaultPageSize.
func (p *LedongthucPage) Size() (size PageSize) {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			size = DefaultPageSize
		}
	}()

	const maxTreeDepth = 32
	v := p.page.V
	for depth := 0; depth < maxTreeDepth && !v.IsNull(); depth, v = depth+1, v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Len() != 4 {
			continue
		}
		width := box.Index(2).Float64() - box.Index(0).Float64()
		height := box.Index(3).Float64() - box.Index(1).Float64()
		if width > 0 && height > 0 {
			return PageSize{Width: width, Height: height}
		}
	}
	return DefaultPageSize
}

// TextRuns extracts the text runs of the page
func (p *LedongthucPage) TextRuns() (runs []coords.TextRun, err error) {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()

	if p.doc.closed {
		return nil, &EngineError{Op: "text_runs", Page: p.pageNum, Err: ErrDocumentClosed}
	}

	defer func() {
		if r := recover(); r != nil {
			runs = nil
			err = &EngineError{Op: "text_runs", Page: p.pageNum, Err: fmt.Errorf("content stream: %v", r)}
		}
	}()

	content := p.page.Content()
	runs = make([]coords.TextRun, 0, len(content.Text))
	for _, text := range content.Text {
		// ledongthuc does not report glyph height; the font size stands in for it
		height := text.FontSize
		if height == 0 {
			height = defaultRunHeight
		}
		runs = append(runs, coords.TextRun{
			Text: text.S,
			Box:  coords.BoundingBox{X: text.X, Y: text.Y, Width: text.W, Height: height},
		})
	}
	return runs, nil
}
