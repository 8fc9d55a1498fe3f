package workflow

import (
	"context"
	"fmt"
	"image"

	"github.com/a3tai/mcp-conform/internal/annotate"
	"github.com/a3tai/mcp-conform/internal/assemble"
	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/diff"
	"github.com/a3tai/mcp-conform/internal/pdf"
)

// DefaultScale is the canvas scale used when a request leaves it unset
const DefaultScale = 1.0

// PageRequest names one page of a conformed sequence
type PageRequest struct {
	ProjectID     string
	DocType       change.DocType
	ConformedPage int
	Scale         float64
	// Render asks for a composed bitmap in addition to the geometry
	Render bool
	// FocusChangeID, when set, adds the spotlight of that change
	FocusChangeID int
}

// PageView is an annotated conformed page
type PageView struct {
	Info      assemble.ConformedPageInfo `json:"info"`
	Geometry  annotate.Geometry          `json:"geometry"`
	Spotlight *annotate.Spotlight        `json:"spotlight,omitempty"`
	Image     *image.RGBA                `json:"-"`
}

// Comparison is the pixel diff of a replaced page against the original it replaces
type Comparison struct {
	ConformedPage int              `json:"conformed_page"`
	OriginalPage  int              `json:"original_page"`
	AddendumName  string           `json:"addendum_name"`
	AddendumPage  int              `json:"addendum_page"`
	Result        diff.PixelResult `json:"-"`
	DiffPixels    int              `json:"diff_pixels"`
	Ratio         float64          `json:"ratio"`
}

// pageTarget is what a page request resolved to, copied out of the session
type pageTarget struct {
	info    assemble.ConformedPageInfo
	docName string
	focus   *change.Instruction
}

func renderKey(req PageRequest) string {
	return fmt.Sprintf("%s/%s/%d", req.ProjectID, req.DocType, req.ConformedPage)
}

// resolve finds the conformed page of req under the session lock
func (c *Controller) resolve(ctx context.Context, req PageRequest) (*pageTarget, error) {
	if !req.DocType.Valid() {
		return nil, fmt.Errorf("invalid document type: %s", req.DocType)
	}
	sess, err := c.acquire(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	pages := sess.sequence(req.DocType).Pages
	if req.ConformedPage < 1 || req.ConformedPage > len(pages) {
		return nil, fmt.Errorf("%w: conformed page %d of %d", pdf.ErrInvalidPage, req.ConformedPage, len(pages))
	}
	info := pages[req.ConformedPage-1]
	name, err := documentName(req.ProjectID, req.DocType, info.Map.AddendumName, info.Map.SourceDocument == assemble.SourceAddendum)
	if err != nil {
		return nil, err
	}

	target := &pageTarget{info: info, docName: name}
	if req.FocusChangeID > 0 {
		in := change.Find(sess.record.ChangeLog, req.FocusChangeID)
		if in == nil {
			return nil, fmt.Errorf("%w: %d", ErrChangeNotFound, req.FocusChangeID)
		}
		focus := in.Clone()
		target.focus = &focus
	}
	return target, nil
}

// AnnotatePage lays out the approved text changes of one conformed page and,
// when asked, renders the page with its annotations. A render superseded by a
// newer request for the same page returns ErrRenderCancelled.
func (c *Controller) AnnotatePage(ctx context.Context, req PageRequest) (*PageView, error) {
	if req.Scale <= 0 {
		req.Scale = DefaultScale
	}
	target, err := c.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	doc, release, err := c.registry.Acquire(target.docName)
	if err != nil {
		return nil, err
	}
	defer release()

	page, err := doc.Page(target.info.Map.SourcePageNumber)
	if err != nil {
		return nil, err
	}
	runs, err := page.TextRuns()
	if err != nil {
		return nil, &pdf.EngineError{Op: "text runs", Page: page.Number(), Err: err}
	}
	vp := page.Size().Viewport(req.Scale)

	view := &PageView{
		Info:     target.info,
		Geometry: annotate.Layout(vp, runs, target.info.ApprovedTextChanges, c.annotate),
	}
	if target.focus != nil {
		spot := annotate.SpotlightChange(vp, runs, target.focus)
		view.Spotlight = &spot
	}

	if !req.Render {
		return view, nil
	}
	bitmap, err := c.scheduler.Render(ctx, renderKey(req), page, req.Scale)
	if err != nil {
		return nil, err
	}
	canvas := annotate.Compose(bitmap, view.Geometry, c.annotate)
	if view.Spotlight != nil {
		annotate.PaintSpotlight(annotate.NewRasterPainter(canvas), *view.Spotlight)
	}
	view.Image = canvas
	return view, nil
}

// ComparePage renders a replaced page and the original page it replaces at the
// same scale and pixel-diffs them
func (c *Controller) ComparePage(ctx context.Context, req PageRequest) (*Comparison, error) {
	if req.Scale <= 0 {
		req.Scale = DefaultScale
	}
	target, err := c.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	item := target.info.Map
	if item.OriginalPageForComparison == nil {
		return nil, fmt.Errorf("conformed page %d does not replace an original page", req.ConformedPage)
	}

	before, err := c.renderSource(ctx, renderKey(req)+"/original", baseDocName(req.ProjectID, req.DocType), *item.OriginalPageForComparison, req.Scale)
	if err != nil {
		return nil, err
	}
	after, err := c.renderSource(ctx, renderKey(req)+"/replacement", target.docName, item.SourcePageNumber, req.Scale)
	if err != nil {
		return nil, err
	}

	res, err := diff.Pixels(before, after, diff.DefaultPixelOptions())
	if err != nil {
		return nil, err
	}
	c.logger.Debug("workflow.compared", "key", renderKey(req), "diff_pixels", res.DiffPixels)
	return &Comparison{
		ConformedPage: req.ConformedPage,
		OriginalPage:  *item.OriginalPageForComparison,
		AddendumName:  item.AddendumName,
		AddendumPage:  item.SourcePageNumber,
		Result:        res,
		DiffPixels:    res.DiffPixels,
		Ratio:         res.Ratio(),
	}, nil
}

func (c *Controller) renderSource(ctx context.Context, key, docName string, pageNum int, scale float64) (*image.RGBA, error) {
	doc, release, err := c.registry.Acquire(docName)
	if err != nil {
		return nil, err
	}
	defer release()

	page, err := doc.Page(pageNum)
	if err != nil {
		return nil, err
	}
	return c.scheduler.Render(ctx, key, page, scale)
}
