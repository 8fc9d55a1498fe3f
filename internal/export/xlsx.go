package export

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/a3tai/mcp-conform/internal/change"
)

const changeLogSheet = "Change Log"

var changeLogHeaders = []string{
	"ID",
	"Type",
	"Status",
	"Document",
	"Addendum",
	"Page",
	"Find Text",
	"New Text",
	"Description",
}

// ChangeLogXLSX returns a workbook listing every instruction ordered by id
func ChangeLogXLSX(instructions []change.Instruction) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(changeLogSheet); err != nil {
		return nil, err
	}
	idx, _ := f.GetSheetIndex(changeLogSheet)
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	for i, h := range changeLogHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(changeLogSheet, cell, h)
	}

	sorted := make([]change.Instruction, len(instructions))
	copy(sorted, instructions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for r, in := range sorted {
		row := r + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(changeLogSheet, cell, v)
		}
		write(1, in.ID)
		write(2, string(in.ChangeType))
		write(3, string(in.Status))
		write(4, string(in.SourceOriginalDocument))
		write(5, in.AddendumName)
		if page, ok := in.LocatedPage(); ok {
			write(6, page)
		} else {
			write(6, "unlocated")
		}
		write(7, in.ExactTextToFind)
		write(8, in.NewTextToInsert)
		write(9, in.Description)
	}

	_ = f.SetColWidth(changeLogSheet, "A", "A", 6)
	_ = f.SetColWidth(changeLogSheet, "B", "D", 14)
	_ = f.SetColWidth(changeLogSheet, "E", "E", 22)
	_ = f.SetColWidth(changeLogSheet, "F", "F", 10)
	_ = f.SetColWidth(changeLogSheet, "G", "I", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
