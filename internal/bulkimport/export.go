package bulkimport

import (
	"github.com/xuri/excelize/v2"

	"github.com/realhrms/payroll/internal/payroll"
)

// templateExampleEmployee fills the sample row of the downloadable
// template; it resolves to no real employee, so an unedited template
// fails validation instead of silently applying.
const templateExampleEmployee = "employee-id"

// Template builds the workbook admins download, fill in, and upload:
// the employee column plus one column per configured heading, with a
// single example row.
func Template(cfg *payroll.Config) ([]byte, error) {
	return buildWorkbook(cfg, []payroll.EmployeePayrollRecord{{Employee: templateExampleEmployee}})
}

// Export writes the current heading totals of every record into the
// import layout. Re-importing an unmodified export is a no-op: every
// override pins the value the engine already computed, so it yields
// zero history entries.
func Export(cfg *payroll.Config, records []payroll.EmployeePayrollRecord) ([]byte, error) {
	return buildWorkbook(cfg, records)
}

func buildWorkbook(cfg *payroll.Config, records []payroll.EmployeePayrollRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetList()[0]

	headings := cfg.Headings()
	if err := f.SetCellValue(sheet, "A1", EmployeeColumn); err != nil {
		return nil, err
	}
	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+2, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h.Name); err != nil {
			return nil, err
		}
	}

	for r, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, rec.Employee); err != nil {
			return nil, err
		}
		for i, h := range headings {
			total, ok := rec.HeadingTotal(h.Name)
			if !ok {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(i+2, r+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, total.String()); err != nil {
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
