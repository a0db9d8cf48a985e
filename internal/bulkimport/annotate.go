package bulkimport

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const errorsColumnTitle = "Errors"

// Annotate returns a copy of the uploaded workbook with an Errors
// column appended and every offending cell filled red, so the admin
// fixes the file in place and resubmits it.
func Annotate(data []byte, sheet Sheet, rowErrs RowErrors) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	badCell, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	errCol := len(sheet.Headings) + 2
	headerCell, err := excelize.CoordinatesToCellName(errCol, 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellValue(sheet.SheetName, headerCell, errorsColumnTitle); err != nil {
		return nil, err
	}

	colByField := map[string]int{EmployeeColumn: 1}
	for i, name := range sheet.Headings {
		colByField[name] = i + 2
	}

	for row, fields := range rowErrs {
		// Header-row errors highlight the offending column name only;
		// the Errors title cell stays in place.
		if row != headerSheetRow {
			msgCell, err := excelize.CoordinatesToCellName(errCol, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet.SheetName, msgCell, rowErrs.message(row)); err != nil {
				return nil, err
			}
		}
		for field := range fields {
			col, ok := colByField[field]
			if !ok {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellStyle(sheet.SheetName, cell, cell, badCell); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
