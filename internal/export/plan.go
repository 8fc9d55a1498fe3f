// Package export turns a conformed sequence into the artifacts handed to a PDF
// writer: per-page edit coordinates, the merged page sequence, and a change log
// workbook.
package export

import (
	"fmt"

	"github.com/a3tai/mcp-conform/internal/assemble"
	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/coords"
	"github.com/a3tai/mcp-conform/internal/pdf"
)

// Whiteout covers text to be removed. Box is in PDF space.
type Whiteout struct {
	ChangeID int                `json:"change_id"`
	Box      coords.BoundingBox `json:"box"`
}

// Insertion places new text. X and Y are the PDF-space baseline origin.
type Insertion struct {
	ChangeID int     `json:"change_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	FontSize float64 `json:"font_size"`
	Text     string  `json:"text"`
}

// PagePlan is the edit list of one conformed page
type PagePlan struct {
	ConformedPageNumber int                  `json:"conformed_page_number"`
	Map                 assemble.PageMapItem `json:"map"`
	Whiteouts           []Whiteout           `json:"whiteouts"`
	Insertions          []Insertion          `json:"insertions"`
	Unplaced            []int                `json:"unplaced,omitempty"`
}

// Plan is the export boundary for one document type
type Plan struct {
	DocType change.DocType `json:"doc_type"`
	Pages   []PagePlan     `json:"pages"`
}

// lineGap is the insertion offset below an anchor, in multiples of its height
const lineGap = 1.2

// BuildPlan computes whiteouts and insertions for every conformed page that
// carries approved text changes. base is the original document; only original
// pages are read. Text is matched exactly: a location hint is good enough to
// anchor a note but never to erase text. Changes whose text cannot be found are
// listed as Unplaced on their page.
func BuildPlan(base pdf.Document, docType change.DocType, pages []assemble.ConformedPageInfo) (*Plan, error) {
	plan := &Plan{DocType: docType, Pages: make([]PagePlan, 0, len(pages))}

	for _, info := range pages {
		pp := PagePlan{
			ConformedPageNumber: info.ConformedPageNumber,
			Map:                 info.Map,
			Whiteouts:           []Whiteout{},
			Insertions:          []Insertion{},
		}
		if len(info.ApprovedTextChanges) == 0 {
			plan.Pages = append(plan.Pages, pp)
			continue
		}

		page, err := base.Page(info.Map.SourcePageNumber)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", info.Map.SourcePageNumber, err)
		}
		runs, err := page.TextRuns()
		if err != nil {
			return nil, fmt.Errorf("text of page %d: %w", info.Map.SourcePageNumber, err)
		}

		for _, in := range info.ApprovedTextChanges {
			if !placeChange(&pp, runs, in) {
				pp.Unplaced = append(pp.Unplaced, in.ID)
			}
		}
		plan.Pages = append(plan.Pages, pp)
	}
	return plan, nil
}

func placeChange(pp *PagePlan, runs []coords.TextRun, in change.Instruction) bool {
	switch in.ChangeType {
	case change.TextDelete, change.TextReplace:
		boxes := coords.FindTextCoordinates(runs, in.ExactTextToFind)
		if len(boxes) == 0 {
			return false
		}
		for _, b := range boxes {
			pp.Whiteouts = append(pp.Whiteouts, Whiteout{ChangeID: in.ID, Box: b})
		}
		if in.ChangeType == change.TextReplace {
			first := boxes[0]
			pp.Insertions = append(pp.Insertions, Insertion{
				ChangeID: in.ID, X: first.X, Y: first.Y, FontSize: first.Height, Text: in.NewTextToInsert,
			})
		}
		return true

	case change.TextAdd:
		var boxes []coords.BoundingBox
		for _, anchor := range []string{in.ExactTextToFind, in.LocationHint} {
			if anchor == "" {
				continue
			}
			if boxes = coords.FindTextCoordinates(runs, anchor); len(boxes) > 0 {
				break
			}
		}
		if len(boxes) == 0 {
			return false
		}
		first := boxes[0]
		pp.Insertions = append(pp.Insertions, Insertion{
			ChangeID: in.ID, X: first.X, Y: first.Y - first.Height*lineGap, FontSize: first.Height, Text: in.NewTextToInsert,
		})
		return true
	}
	return false
}
