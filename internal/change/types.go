package change

import (
	"fmt"
	"sort"
)

// Type identifies the kind of revision an instruction describes
type Type string

const (
	PageAdd     Type = "PAGE_ADD"
	PageDelete  Type = "PAGE_DELETE"
	PageReplace Type = "PAGE_REPLACE"
	TextAdd     Type = "TEXT_ADD"
	TextDelete  Type = "TEXT_DELETE"
	TextReplace Type = "TEXT_REPLACE"
	GeneralNote Type = "GENERAL_NOTE"
)

// AllTypes lists every change type accepted at the boundary
var AllTypes = []Type{PageAdd, PageDelete, PageReplace, TextAdd, TextDelete, TextReplace, GeneralNote}

// Status is the review state of an instruction
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// DocType selects which base document an instruction targets
type DocType string

const (
	Drawings DocType = "drawings"
	Specs    DocType = "specs"
)

// DocTypes lists the base document types in processing order
var DocTypes = []DocType{Drawings, Specs}

// Instruction is one change extracted from an addendum.
//
// Page fields use pointers so that "unset" and page 0 stay distinguishable;
// insert_after_original_page_number = 0 means prepend.
type Instruction struct {
	ID                     int     `json:"id"`
	ChangeType             Type    `json:"change_type"`
	Status                 Status  `json:"status"`
	SourceOriginalDocument DocType `json:"source_original_document"`
	AddendumName           string  `json:"addendum_name"`
	Description            string  `json:"description"`

	// Page-level fields
	TargetPageNumber              *int `json:"target_page_number,omitempty"`
	SourcePage                    *int `json:"source_page,omitempty"`
	InsertAfterOriginalPageNumber *int `json:"insert_after_original_page_number,omitempty"`

	// Text-level fields
	OriginalPageNumber  *int   `json:"original_page_number,omitempty"`
	ExactTextToFind     string `json:"exact_text_to_find,omitempty"`
	NewTextToInsert     string `json:"new_text_to_insert,omitempty"`
	LocationHint        string `json:"location_hint,omitempty"`
	SpecSection         string `json:"spec_section,omitempty"`
	SemanticSearchQuery string `json:"semantic_search_query,omitempty"`
	Discipline          string `json:"discipline,omitempty"`
}

// QAndAItem is a clarification question answered in an addendum
type QAndAItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// IsPageChange reports whether the instruction affects whole pages
func (t Type) IsPageChange() bool {
	return t == PageAdd || t == PageDelete || t == PageReplace
}

// IsTextChange reports whether the instruction edits text on a page
func (t Type) IsTextChange() bool {
	return t == TextAdd || t == TextDelete || t == TextReplace
}

// Valid reports whether t is a known change type
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// Valid reports whether d is a known document type
func (d DocType) Valid() bool {
	return d == Drawings || d == Specs
}

// IsPageChange reports whether the instruction affects whole pages
func (in *Instruction) IsPageChange() bool { return in.ChangeType.IsPageChange() }

// IsTextChange reports whether the instruction edits text on a page
func (in *Instruction) IsTextChange() bool { return in.ChangeType.IsTextChange() }

// NeedsLocation reports whether the locator can fill a page field on this instruction.
// PAGE_ADD carries its own anchor and GENERAL_NOTE has no location.
func (in *Instruction) NeedsLocation() bool {
	return in.IsTextChange() || in.ChangeType == PageDelete || in.ChangeType == PageReplace
}

// IsUnlocated reports whether the page field the instruction depends on is unset
func (in *Instruction) IsUnlocated() bool {
	switch {
	case in.IsTextChange():
		return in.OriginalPageNumber == nil
	case in.ChangeType == PageDelete || in.ChangeType == PageReplace:
		return in.TargetPageNumber == nil
	default:
		return false
	}
}

// LocatedPage returns the resolved page in the base document, if any
func (in *Instruction) LocatedPage() (int, bool) {
	switch {
	case in.IsTextChange() && in.OriginalPageNumber != nil:
		return *in.OriginalPageNumber, true
	case (in.ChangeType == PageDelete || in.ChangeType == PageReplace) && in.TargetPageNumber != nil:
		return *in.TargetPageNumber, true
	}
	return 0, false
}

// SetLocatedPage writes page into the field the instruction's kind uses
func (in *Instruction) SetLocatedPage(page int) error {
	if page < 1 {
		return fmt.Errorf("page number must be positive, got %d", page)
	}
	switch {
	case in.IsTextChange():
		in.OriginalPageNumber = IntPtr(page)
	case in.ChangeType == PageDelete || in.ChangeType == PageReplace:
		in.TargetPageNumber = IntPtr(page)
	default:
		return fmt.Errorf("change %d of type %s has no locatable page field", in.ID, in.ChangeType)
	}
	return nil
}

// IsApproved reports whether the reviewer approved the instruction
func (in *Instruction) IsApproved() bool { return in.Status == StatusApproved }

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

// FilterApproved returns copies of the approved instructions for docType, ordered by id
func FilterApproved(instructions []Instruction, docType DocType) []Instruction {
	var out []Instruction
	for _, in := range instructions {
		if in.IsApproved() && in.SourceOriginalDocument == docType {
			out = append(out, in.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus transitions the instructions named by ids to status and returns the ids not found
func SetStatus(instructions []Instruction, ids []int, status Status) ([]int, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range instructions {
		if want[instructions[i].ID] {
			instructions[i].Status = status
			delete(want, instructions[i].ID)
		}
	}
	missing := make([]int, 0, len(want))
	for id := range want {
		missing = append(missing, id)
	}
	sort.Ints(missing)
	return missing, nil
}

// Find returns a pointer to the instruction with id, or nil
func Find(instructions []Instruction, id int) *Instruction {
	for i := range instructions {
		if instructions[i].ID == id {
			return &instructions[i]
		}
	}
	return nil
}

// Clone returns a deep copy of in so that page pointers are not shared
func (in Instruction) Clone() Instruction {
	out := in
	out.TargetPageNumber = clonePtr(in.TargetPageNumber)
	out.SourcePage = clonePtr(in.SourcePage)
	out.InsertAfterOriginalPageNumber = clonePtr(in.InsertAfterOriginalPageNumber)
	out.OriginalPageNumber = clonePtr(in.OriginalPageNumber)
	return out
}

func clonePtr(p *int) *int {
	if p == nil {
		return nil
	}
	return IntPtr(*p)
}
