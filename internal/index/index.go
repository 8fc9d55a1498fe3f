// Package index extracts per-page text from a document for the locator.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/a3tai/mcp-conform/internal/pdf"
)

// DefaultIndexPageThreshold is the number of sheet-number tokens above which a
// page is treated as a table of contents or drawing index.
const DefaultIndexPageThreshold = 12

// sheetNumberPattern matches tokens such as A101, M-2, FP.12, S 301
var sheetNumberPattern = regexp.MustCompile(`(?i)\b[a-z]{1,3}[-._ ]?\d{1,3}\b`)

// Entry is the indexed text of one page
type Entry struct {
	PageNumber        int    `json:"pageNumber" msgpack:"page"`
	FullText          string `json:"fullText" msgpack:"text"`
	IsLikelyIndexPage bool   `json:"isLikelyIndexPage" msgpack:"index_page"`
}

// Indexer builds page indexes
type Indexer struct {
	threshold int
	logger    *slog.Logger
}

// NewIndexer creates an indexer; threshold <= 0 selects the default
func NewIndexer(threshold int, logger *slog.Logger) *Indexer {
	if threshold <= 0 {
		threshold = DefaultIndexPageThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{threshold: threshold, logger: logger}
}

// Threshold returns the sheet-token count above which a page is an index page
func (ix *Indexer) Threshold() int {
	return ix.threshold
}

// BuildIndex indexes every page of doc in ascending order. A page that fails to
// extract yields an empty entry and indexing continues; only cancellation of ctx
// aborts the run.
func (ix *Indexer) BuildIndex(ctx context.Context, doc pdf.Document) ([]Entry, error) {
	count := doc.PageCount()
	entries := make([]Entry, 0, count)

	for pageNum := 1; pageNum <= count; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := pageText(doc, pageNum)
		if err != nil {
			ix.logger.Warn("index.page_failed", "page", pageNum, "error", err)
			entries = append(entries, Entry{PageNumber: pageNum})
			continue
		}

		entries = append(entries, Entry{
			PageNumber:        pageNum,
			FullText:          text,
			IsLikelyIndexPage: ix.IsLikelyIndexPage(text),
		})
	}

	ix.logger.Debug("index.built", "pages", count)
	return entries, nil
}

// IsLikelyIndexPage counts sheet-number tokens in text
func (ix *Indexer) IsLikelyIndexPage(text string) bool {
	return CountSheetNumbers(text) > ix.threshold
}

// CountSheetNumbers returns the number of sheet-number-like tokens in text
func CountSheetNumbers(text string) int {
	return len(sheetNumberPattern.FindAllStringIndex(text, -1))
}

// pageText concatenates the runs of one page. A panic inside the document is
// returned as an error so one bad page never aborts the whole index.
func pageText(doc pdf.Document, pageNum int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("page %d: %v", pageNum, r)
		}
	}()

	page, err := doc.Page(pageNum)
	if err != nil {
		return "", err
	}
	runs, err := page.TextRuns()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, run := range runs {
		b.WriteString(run.Text)
	}
	return b.String(), nil
}
