// Package assemble derives the conformed page sequence of one base document
// from its page count and the approved page-level changes.
package assemble

import (
	"fmt"
	"sort"

	"github.com/a3tai/mcp-conform/internal/change"
)

// Source tells where a conformed page comes from
type Source string

const (
	SourceOriginal Source = "original"
	SourceAddendum Source = "addendum"
)

// PageMapItem is one page of the conformed sequence
type PageMapItem struct {
	ConformedPageNumber           int            `json:"conformed_page_number"`
	SourceDocument                Source         `json:"source_document"`
	SourcePageNumber              int            `json:"source_page_number"`
	Reason                        string         `json:"reason"`
	OriginalPageForComparison     *int           `json:"original_page_for_comparison,omitempty"`
	InsertAfterOriginalPageNumber *int           `json:"insert_after_original_page_number,omitempty"`
	AddendumName                  string         `json:"addendum_name,omitempty"`
	OriginalDocumentType          change.DocType `json:"original_document_type"`
	ChangeID                      int            `json:"change_id,omitempty"`
}

// ConformedPageInfo is the per-page render unit
type ConformedPageInfo struct {
	Map                 PageMapItem          `json:"map"`
	ConformedPageNumber int                  `json:"conformedPageNumber"`
	ApprovedTextChanges []change.Instruction `json:"approvedTextChanges"`
}

// Warning describes an approved change that was not applied where it asked to be
type Warning struct {
	ChangeID int    `json:"change_id"`
	Message  string `json:"message"`
}

// Result is the output of Plan
type Result struct {
	Pages    []ConformedPageInfo `json:"pages"`
	Warnings []Warning           `json:"warnings,omitempty"`
}

// Assemble returns the conformed sequence for docType. It is a pure function of
// its inputs: instructions that are not approved or belong to another document
// type are ignored, and the input slice is never modified.
func Assemble(instructions []change.Instruction, basePageCount int, docType change.DocType) []ConformedPageInfo {
	return Plan(instructions, basePageCount, docType).Pages
}

// Plan is Assemble plus the warnings for changes that fell back to a default
// placement or could not be applied.
func Plan(instructions []change.Instruction, basePageCount int, docType change.DocType) Result {
	approved := change.FilterApproved(instructions, docType)
	if basePageCount < 0 {
		basePageCount = 0
	}

	var (
		replaces []change.Instruction
		deletes  = make(map[int]bool)
		adds     []change.Instruction
		texts    = make(map[int][]change.Instruction)
		warnings []Warning
	)
	for _, in := range approved {
		switch in.ChangeType {
		case change.PageReplace:
			replaces = append(replaces, in)
		case change.PageDelete:
			if in.TargetPageNumber == nil {
				warnings = append(warnings, warn(in.ID, "page delete has no target page"))
				continue
			}
			deletes[*in.TargetPageNumber] = true
		case change.PageAdd:
			adds = append(adds, in)
		case change.TextAdd, change.TextDelete, change.TextReplace:
			if in.OriginalPageNumber == nil {
				warnings = append(warnings, warn(in.ID, "text change is not placed on a page"))
				continue
			}
			texts[*in.OriginalPageNumber] = append(texts[*in.OriginalPageNumber], in)
		}
	}

	// Seed
	items := make([]PageMapItem, 0, basePageCount+len(adds))
	for p := 1; p <= basePageCount; p++ {
		items = append(items, PageMapItem{
			SourceDocument:       SourceOriginal,
			SourcePageNumber:     p,
			Reason:               "Original page",
			OriginalDocumentType: docType,
		})
	}

	// Replace
	for _, in := range replaces {
		if in.TargetPageNumber == nil || in.SourcePage == nil {
			warnings = append(warnings, warn(in.ID, "page replace needs both target and source pages"))
			continue
		}
		target := *in.TargetPageNumber
		applied := false
		for i := range items {
			if items[i].SourceDocument == SourceOriginal && items[i].SourcePageNumber == target {
				items[i] = PageMapItem{
					SourceDocument:            SourceAddendum,
					SourcePageNumber:          *in.SourcePage,
					Reason:                    reason(in, fmt.Sprintf("Replaces original page %d", target)),
					OriginalPageForComparison: change.IntPtr(target),
					AddendumName:              in.AddendumName,
					OriginalDocumentType:      docType,
					ChangeID:                  in.ID,
				}
				applied = true
				break
			}
		}
		if !applied {
			warnings = append(warnings, warn(in.ID, fmt.Sprintf("original page %d is not available to replace", target)))
		}
	}

	// Delete; replaced pages are no longer original and survive
	kept := items[:0]
	for _, item := range items {
		if item.SourceDocument == SourceOriginal && deletes[item.SourcePageNumber] {
			continue
		}
		kept = append(kept, item)
	}
	items = kept

	// Add
	sort.SliceStable(adds, func(i, j int) bool { return anchorOf(adds[i]) < anchorOf(adds[j]) })
	for _, in := range adds {
		if in.SourcePage == nil || in.InsertAfterOriginalPageNumber == nil {
			warnings = append(warnings, warn(in.ID, "page add needs both source page and insertion anchor"))
			continue
		}
		anchor := *in.InsertAfterOriginalPageNumber
		item := PageMapItem{
			SourceDocument:                SourceAddendum,
			SourcePageNumber:              *in.SourcePage,
			Reason:                        reason(in, fmt.Sprintf("Inserted after original page %d", anchor)),
			InsertAfterOriginalPageNumber: change.IntPtr(anchor),
			AddendumName:                  in.AddendumName,
			OriginalDocumentType:          docType,
			ChangeID:                      in.ID,
		}

		pos, found := insertPosition(items, anchor)
		if !found {
			warnings = append(warnings, warn(in.ID, fmt.Sprintf("anchor page %d not found; appended at end", anchor)))
		}
		items = append(items, PageMapItem{})
		copy(items[pos+1:], items[pos:])
		items[pos] = item
	}

	// Re-sequence and attach
	pages := make([]ConformedPageInfo, len(items))
	for i, item := range items {
		item.ConformedPageNumber = i + 1
		info := ConformedPageInfo{Map: item, ConformedPageNumber: i + 1}
		if item.SourceDocument == SourceOriginal {
			info.ApprovedTextChanges = texts[item.SourcePageNumber]
		}
		if info.ApprovedTextChanges == nil {
			info.ApprovedTextChanges = []change.Instruction{}
		}
		pages[i] = info
	}

	return Result{Pages: pages, Warnings: warnings}
}

// insertPosition returns the index at which an add anchored after original page
// anchor goes: just past the anchor and any pages already inserted there. Only
// an original-sourced page matches, so a deleted or replaced anchor yields the
// end of the list and false.
func insertPosition(items []PageMapItem, anchor int) (int, bool) {
	pos := -1
	if anchor == 0 {
		pos = 0
	} else {
		for i, item := range items {
			if isOriginalPage(item, anchor) {
				pos = i + 1
				break
			}
		}
	}
	if pos < 0 {
		return len(items), false
	}
	for pos < len(items) && isAddedAt(items[pos], anchor) {
		pos++
	}
	return pos, true
}

func isOriginalPage(item PageMapItem, page int) bool {
	return item.SourceDocument == SourceOriginal && item.SourcePageNumber == page
}

func isAddedAt(item PageMapItem, anchor int) bool {
	return item.InsertAfterOriginalPageNumber != nil && *item.InsertAfterOriginalPageNumber == anchor
}

func anchorOf(in change.Instruction) int {
	if in.InsertAfterOriginalPageNumber == nil {
		return -1
	}
	return *in.InsertAfterOriginalPageNumber
}

func reason(in change.Instruction, fallback string) string {
	if in.Description != "" {
		return in.Description
	}
	return fallback
}

func warn(id int, msg string) Warning {
	return Warning{ChangeID: id, Message: msg}
}
