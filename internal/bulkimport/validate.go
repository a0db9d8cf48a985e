package bulkimport

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/realhrms/payroll/internal/payroll"
)

// RecordFinder resolves an employee identifier to the employee's
// payroll record for the period being reconciled.
type RecordFinder interface {
	FindRecord(ctx context.Context, org string, periodID string, employee string) (payroll.EmployeePayrollRecord, error)
}

// RowErrors maps a workbook row number to its field errors: the field
// is either a heading name or EmployeeColumn.
type RowErrors map[int]map[string]string

func (r RowErrors) add(row int, field, msg string) {
	if r[row] == nil {
		r[row] = map[string]string{}
	}
	r[row][field] = msg
}

// message joins one row's errors deterministically for the annotated
// Errors column.
func (r RowErrors) message(row int) string {
	fields := r[row]
	if len(fields) == 0 {
		return ""
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+fields[name])
	}
	return strings.Join(parts, "; ")
}

// ValidationError carries every problem found in the file. Nothing was
// applied; the annotated workbook shows the same errors in place.
type ValidationError struct {
	Rows RowErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bulk import rejected: %d rows have errors", len(e.Rows))
}

// ImportRow is one validated line, ready to hand to the recompute
// engine.
type ImportRow struct {
	SheetRow  int
	Employee  string
	Record    payroll.EmployeePayrollRecord
	Overrides map[string]decimal.Decimal
}

// headerSheetRow is the workbook row the column names live on.
const headerSheetRow = 1

// Validate checks the whole sheet before anything is written: unknown
// heading columns, duplicate employee rows, unresolved employees, and
// non-numeric cells are all collected; one bad cell anywhere rejects
// the entire file. Unknown columns are flagged on the header row, so a
// workbook with bogus names fails even when it carries no data rows.
func Validate(ctx context.Context, finder RecordFinder, cfg *payroll.Config, org, periodID string, sheet Sheet) ([]ImportRow, RowErrors) {
	rowErrs := RowErrors{}

	unknown := map[int]bool{}
	for i, name := range sheet.Headings {
		if _, ok := cfg.HeadingByName(name); !ok {
			unknown[i] = true
			rowErrs.add(headerSheetRow, name, "unknown heading")
		}
	}

	seen := map[string]int{}
	var out []ImportRow
	for _, row := range sheet.Rows {
		if row.Employee == "" {
			rowErrs.add(row.SheetRow, EmployeeColumn, "employee identifier is required")
			continue
		}
		if first, dup := seen[row.Employee]; dup {
			rowErrs.add(row.SheetRow, EmployeeColumn, fmt.Sprintf("duplicate of row %d", first))
			continue
		}
		seen[row.Employee] = row.SheetRow

		rowOK := true
		for i, name := range sheet.Headings {
			if unknown[i] {
				continue
			}
			if row.Cells[i].Kind == CellInvalid {
				rowErrs.add(row.SheetRow, name, fmt.Sprintf("value %q is not numeric", row.Cells[i].Raw))
				rowOK = false
			}
		}

		rec, err := finder.FindRecord(ctx, org, periodID, row.Employee)
		if err != nil {
			rowErrs.add(row.SheetRow, EmployeeColumn, "no payroll record for this period: "+err.Error())
			rowOK = false
		}
		if !rowOK {
			continue
		}

		overrides := map[string]decimal.Decimal{}
		for i, name := range sheet.Headings {
			if !unknown[i] && row.Cells[i].Kind == CellNumber {
				overrides[name] = row.Cells[i].Value
			}
		}
		out = append(out, ImportRow{SheetRow: row.SheetRow, Employee: row.Employee, Record: rec, Overrides: overrides})
	}

	if len(rowErrs) > 0 {
		return nil, rowErrs
	}
	return out, nil
}
