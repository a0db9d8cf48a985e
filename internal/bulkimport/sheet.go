package bulkimport

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// EmployeeColumn is the required name of the first header cell; the
// remaining header cells must exactly match configured heading names.
const EmployeeColumn = "user"

type CellKind int

const (
	CellBlank CellKind = iota
	CellNumber
	CellInvalid
)

// Cell is one parsed data cell. Blank cells mean "no override for this
// heading", not zero.
type Cell struct {
	Kind CellKind
	// Value is set only for CellNumber.
	Value decimal.Decimal
	Raw   string
}

func parseCell(raw string) Cell {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Cell{Kind: CellBlank, Raw: raw}
	}
	v, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Cell{Kind: CellInvalid, Raw: raw}
	}
	return Cell{Kind: CellNumber, Value: v, Raw: raw}
}

// Row is one employee's override line. SheetRow is the 1-based row
// number in the workbook, used to annotate errors in place.
type Row struct {
	SheetRow int
	Employee string
	Cells    []Cell
}

// Sheet is the parsed override table: the heading columns in file
// order plus one row per employee line.
type Sheet struct {
	SheetName string
	Headings  []string
	Rows      []Row
}

// Parse reads the first worksheet of an xlsx payload. Only shape errors
// surface here; per-row content problems are collected by Validate so
// the whole file can be annotated at once.
func Parse(data []byte) (Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Sheet{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Sheet{}, errors.New("workbook has no worksheets")
	}
	name := sheets[0]

	rows, err := f.GetRows(name)
	if err != nil {
		return Sheet{}, fmt.Errorf("read worksheet %s: %w", name, err)
	}
	if len(rows) == 0 {
		return Sheet{}, errors.New("worksheet is empty")
	}

	header := rows[0]
	if len(header) == 0 || strings.TrimSpace(strings.ToLower(header[0])) != EmployeeColumn {
		return Sheet{}, fmt.Errorf("first header cell must be %q", EmployeeColumn)
	}
	headings := make([]string, 0, len(header)-1)
	for _, h := range header[1:] {
		headings = append(headings, strings.TrimSpace(h))
	}

	out := Sheet{SheetName: name, Headings: headings}
	for i, raw := range rows[1:] {
		if isEmptyLine(raw) {
			continue
		}
		row := Row{SheetRow: i + 2, Cells: make([]Cell, len(headings))}
		if len(raw) > 0 {
			row.Employee = strings.TrimSpace(raw[0])
		}
		for c := range headings {
			if c+1 < len(raw) {
				row.Cells[c] = parseCell(raw[c+1])
			} else {
				row.Cells[c] = Cell{Kind: CellBlank}
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func isEmptyLine(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
