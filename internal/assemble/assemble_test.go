package assemble

import (
	"testing"

	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ip = change.IntPtr

func approved(in change.Instruction) change.Instruction {
	in.Status = change.StatusApproved
	if in.SourceOriginalDocument == "" {
		in.SourceOriginalDocument = change.Specs
	}
	return in
}

type pageRef struct {
	src  Source
	page int
}

func refs(pages []ConformedPageInfo) []pageRef {
	out := make([]pageRef, len(pages))
	for i, p := range pages {
		out[i] = pageRef{p.Map.SourceDocument, p.Map.SourcePageNumber}
	}
	return out
}

func TestAssemble_EndToEndDeleteAndPrepend(t *testing.T) {
	instructions := []change.Instruction{
		approved(change.Instruction{ID: 1, ChangeType: change.PageDelete, TargetPageNumber: ip(4)}),
		approved(change.Instruction{ID: 2, ChangeType: change.PageAdd, SourcePage: ip(1),
			InsertAfterOriginalPageNumber: ip(0), AddendumName: "Addendum1.pdf"}),
	}

	pages := Assemble(instructions, 10, change.Specs)
	require.Len(t, pages, 10)

	assert.Equal(t, SourceAddendum, pages[0].Map.SourceDocument)
	assert.Equal(t, 1, pages[0].Map.SourcePageNumber)
	assert.Equal(t, "Addendum1.pdf", pages[0].Map.AddendumName)

	want := []int{1, 2, 3, 5, 6, 7, 8, 9, 10}
	for i, page := range want {
		assert.Equal(t, SourceOriginal, pages[i+1].Map.SourceDocument)
		assert.Equal(t, page, pages[i+1].Map.SourcePageNumber)
	}
	for i, p := range pages {
		assert.Equal(t, i+1, p.ConformedPageNumber)
		assert.Equal(t, i+1, p.Map.ConformedPageNumber)
		assert.Equal(t, change.Specs, p.Map.OriginalDocumentType)
	}
}

func TestAssemble_Idempotent(t *testing.T) {
	instructions := []change.Instruction{
		approved(change.Instruction{ID: 1, ChangeType: change.PageReplace, TargetPageNumber: ip(2), SourcePage: ip(3)}),
		approved(change.Instruction{ID: 2, ChangeType: change.PageAdd, SourcePage: ip(1), InsertAfterOriginalPageNumber: ip(2)}),
		approved(change.Instruction{ID: 3, ChangeType: change.TextReplace, OriginalPageNumber: ip(1),
			ExactTextToFind: "a", NewTextToInsert: "b"}),
	}
	first := Assemble(instructions, 5, change.Specs)
	second := Assemble(instructions, 5, change.Specs)
	assert.Equal(t, first, second)

	*first[0].ApprovedTextChanges[0].OriginalPageNumber = 99
	assert.Equal(t, 1, *instructions[2].OriginalPageNumber, "output does not alias the input")
}

func TestAssemble_PageCountInvariant(t *testing.T) {
	tests := []struct {
		name         string
		n            int
		instructions []change.Instruction
		want         int
	}{
		{name: "empty document no adds", n: 0, want: 0},
		{
			name: "empty document with add",
			n:    0,
			instructions: []change.Instruction{
				approved(change.Instruction{ID: 1, ChangeType: change.PageAdd, SourcePage: ip(1), InsertAfterOriginalPageNumber: ip(0)}),
			},
			want: 1,
		},
		{
			name: "two deletes one add one replace",
			n:    8,
			instructions: []change.Instruction{
				approved(change.Instruction{ID: 1, ChangeType: change.PageDelete, TargetPageNumber: ip(1)}),
				approved(change.Instruction{ID: 2, ChangeType: change.PageDelete, TargetPageNumber: ip(8)}),
				approved(change.Instruction{ID: 3, ChangeType: change.PageAdd, SourcePage: ip(2), InsertAfterOriginalPageNumber: ip(5)}),
				approved(change.Instruction{ID: 4, ChangeType: change.PageReplace, TargetPageNumber: ip(3), SourcePage: ip(1)}),
			},
			want: 8 - 2 + 1,
		},
		{
			name: "pending and other document ignored",
			n:    3,
			instructions: []change.Instruction{
				{ID: 1, ChangeType: change.PageDelete, TargetPageNumber: ip(1), Status: change.StatusPending, SourceOriginalDocument: change.Specs},
				approved(change.Instruction{ID: 2, ChangeType: change.PageDelete, TargetPageNumber: ip(2), SourceOriginalDocument: change.Drawings}),
			},
			want: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Assemble(tt.instructions, tt.n, change.Specs), tt.want)
		})
	}
}

func TestAssemble_ReplaceBeatsDelete(t *testing.T) {
	instructions := []change.Instruction{
		approved(change.Instruction{ID: 1, ChangeType: change.PageDelete, TargetPageNumber: ip(2)}),
		approved(change.Instruction{ID: 2, ChangeType: change.PageReplace, TargetPageNumber: ip(2), SourcePage: ip(7),
			AddendumName: "Addendum2.pdf"}),
	}
	pages := Assemble(instructions, 3, change.Specs)
	require.Len(t, pages, 3)

	assert.Equal(t, []pageRef{{SourceOriginal, 1}, {SourceAddendum, 7}, {SourceOriginal, 3}}, refs(pages))
	require.NotNil(t, pages[1].Map.OriginalPageForComparison)
	assert.Equal(t, 2, *pages[1].Map.OriginalPageForComparison)
	assert.Equal(t, 2, pages[1].Map.ChangeID)
}

func TestAssemble_InsertionOrderStable(t *testing.T) {
	instructions := []change.Instruction{
		approved(change.Instruction{ID: 10, ChangeType: change.PageAdd, SourcePage: ip(1), InsertAfterOriginalPageNumber: ip(3)}),
		approved(change.Instruction{ID: 11, ChangeType: change.PageAdd, SourcePage: ip(2), InsertAfterOriginalPageNumber: ip(3)}),
		approved(change.Instruction{ID: 12, ChangeType: change.PageAdd, SourcePage: ip(3), InsertAfterOriginalPageNumber: ip(3)}),
		approved(change.Instruction{ID: 13, ChangeType: change.PageAdd, SourcePage: ip(9), InsertAfterOriginalPageNumber: ip(1)}),
	}
	pages := Assemble(instructions, 4, change.Specs)

	assert.Equal(t, []pageRef{
		{SourceOriginal, 1},
		{SourceAddendum, 9},
		{SourceOriginal, 2},
		{SourceOriginal, 3},
		{SourceAddendum, 1},
		{SourceAddendum, 2},
		{SourceAddendum, 3},
		{SourceOriginal, 4},
	}, refs(pages))
}

func TestPlan_OrphanedAddAppendsAndWarns(t *testing.T) {
	instructions := []change.Instruction{
		approved(change.Instruction{ID: 1, ChangeType: change.PageDelete, TargetPageNumber: ip(2)}),
		approved(change.Instruction{ID: 2, ChangeType: change.PageAdd, SourcePage: ip(4), InsertAfterOriginalPageNumber: ip(2)}),
	}
	result := Plan(instructions, 3, change.Specs)

	assert.Equal(t, []pageRef{{SourceOriginal, 1}, {SourceOriginal, 3}, {SourceAddendum, 4}}, refs(result.Pages))
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, 2, result.Warnings[0].ChangeID)
}

func TestAssemble_AddAfterReplacedPage(t *testing.T) {
	instructions := []change.Instruction{
		approved(change.Instruction{ID: 1, ChangeType: change.PageReplace, TargetPageNumber: ip(1), SourcePage: ip(1)}),
		approved(change.Instruction{ID: 2, ChangeType: change.PageAdd, SourcePage: ip(2), InsertAfterOriginalPageNumber: ip(1)}),
	}
	result := Plan(instructions, 2, change.Specs)

	assert.Equal(t, []pageRef{{SourceAddendum, 1}, {SourceOriginal, 2}, {SourceAddendum, 2}}, refs(result.Pages),
		"a replaced anchor is no longer an original page, so the add is appended")
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, 2, result.Warnings[0].ChangeID)
	assert.Contains(t, result.Warnings[0].Message, "anchor page 1 not found")
}

func TestAssemble_TextChangesOnlyOnOriginalPages(t *testing.T) {
	instructions := []change.Instruction{
		approved(change.Instruction{ID: 1, ChangeType: change.PageReplace, TargetPageNumber: ip(2), SourcePage: ip(1)}),
		approved(change.Instruction{ID: 2, ChangeType: change.TextReplace, OriginalPageNumber: ip(2),
			ExactTextToFind: "x", NewTextToInsert: "y"}),
		approved(change.Instruction{ID: 3, ChangeType: change.TextDelete, OriginalPageNumber: ip(3), ExactTextToFind: "z"}),
		approved(change.Instruction{ID: 4, ChangeType: change.TextAdd, OriginalPageNumber: ip(3), NewTextToInsert: "w"}),
		approved(change.Instruction{ID: 5, ChangeType: change.GeneralNote, Description: "bid date moved"}),
		approved(change.Instruction{ID: 6, ChangeType: change.TextAdd, NewTextToInsert: "unplaced"}),
	}
	result := Plan(instructions, 3, change.Specs)
	require.Len(t, result.Pages, 3)

	for _, p := range result.Pages {
		if p.Map.SourceDocument == SourceAddendum {
			assert.Empty(t, p.ApprovedTextChanges)
		}
	}
	assert.Empty(t, result.Pages[0].ApprovedTextChanges)

	page3 := result.Pages[2].ApprovedTextChanges
	require.Len(t, page3, 2)
	assert.Equal(t, 3, page3[0].ID)
	assert.Equal(t, 4, page3[1].ID)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, 6, result.Warnings[0].ChangeID)
}

func TestPlan_InvalidPageChangesWarn(t *testing.T) {
	instructions := []change.Instruction{
		approved(change.Instruction{ID: 1, ChangeType: change.PageReplace, TargetPageNumber: ip(50), SourcePage: ip(1)}),
		approved(change.Instruction{ID: 2, ChangeType: change.PageDelete}),
		approved(change.Instruction{ID: 3, ChangeType: change.PageAdd, SourcePage: ip(1)}),
	}
	result := Plan(instructions, 2, change.Specs)

	assert.Len(t, result.Pages, 2)
	ids := make([]int, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		ids = append(ids, w.ChangeID)
	}
	assert.ElementsMatch(t, []int{1, 2, 3}, ids)
}
