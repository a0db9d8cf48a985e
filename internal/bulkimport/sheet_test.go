package bulkimport

import (
	"testing"

	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetList()[0]
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestParse(t *testing.T) {
	t.Run("reads rows and classifies cells", func(t *testing.T) {
		data := workbook(t, [][]string{
			{"user", "Basic", "Allowance"},
			{"emp-1", "2000", ""},
			{"emp-2", "oops", "150.50"},
		})
		sheet, err := Parse(data)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if len(sheet.Headings) != 2 || sheet.Headings[0] != "Basic" {
			t.Fatalf("headings = %v", sheet.Headings)
		}
		if len(sheet.Rows) != 2 {
			t.Fatalf("rows = %d, want 2", len(sheet.Rows))
		}
		r1 := sheet.Rows[0]
		if r1.Employee != "emp-1" || r1.SheetRow != 2 {
			t.Fatalf("row 1 = %+v", r1)
		}
		if r1.Cells[0].Kind != CellNumber || r1.Cells[1].Kind != CellBlank {
			t.Fatalf("row 1 cells = %+v", r1.Cells)
		}
		r2 := sheet.Rows[1]
		if r2.Cells[0].Kind != CellInvalid {
			t.Fatalf("non-numeric cell classified as %v", r2.Cells[0].Kind)
		}
		if !r2.Cells[1].Value.Equal(decimalFromString(t, "150.50")) {
			t.Fatalf("cell value = %s", r2.Cells[1].Value)
		}
	})

	t.Run("rejects a wrong first header cell", func(t *testing.T) {
		data := workbook(t, [][]string{{"employee", "Basic"}})
		if _, err := Parse(data); err == nil {
			t.Fatal("want header error")
		}
	})

	t.Run("skips fully blank lines", func(t *testing.T) {
		data := workbook(t, [][]string{
			{"user", "Basic"},
			{"", ""},
			{"emp-1", "10"},
		})
		sheet, err := Parse(data)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if len(sheet.Rows) != 1 {
			t.Fatalf("rows = %d, want blank line skipped", len(sheet.Rows))
		}
	})

	t.Run("rejects garbage bytes", func(t *testing.T) {
		if _, err := Parse([]byte("not a zip")); err == nil {
			t.Fatal("want open error")
		}
	})
}
