package payroll

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store persists heading configuration, pay periods, employee records,
// and edit history. Every mutation of the heading configuration bumps
// the organization's config revision.
type Store interface {
	ListHeadings(ctx context.Context, org string) ([]HeadingDefinition, int64, error)
	SaveHeading(ctx context.Context, h HeadingDefinition) (HeadingDefinition, int64, error)
	DeleteHeading(ctx context.Context, org string, headingID string) (int64, error)
	ConfigRevision(ctx context.Context, org string) (int64, error)

	CreatePayPeriod(ctx context.Context, p PayPeriod) (PayPeriod, error)
	GetPayPeriod(ctx context.Context, org string, periodID string) (PayPeriod, error)
	SetPayPeriodStatus(ctx context.Context, org string, periodID string, status PeriodStatus) (PayPeriod, error)

	// ListEmployeeInputs returns one input per employee enrolled in the
	// period, with package sub-ranges and any carried-over external
	// metrics already resolved.
	ListEmployeeInputs(ctx context.Context, org string, periodID string) ([]EmployeeInput, error)

	SaveRecords(ctx context.Context, org string, records []EmployeePayrollRecord) error
	GetRecord(ctx context.Context, org string, recordID string) (EmployeePayrollRecord, error)
	FindRecord(ctx context.Context, org string, periodID string, employee string) (EmployeePayrollRecord, error)
	ListRecords(ctx context.Context, org string, periodID string) ([]EmployeePayrollRecord, error)
	// DeleteRecord is the explicit admin action that cascades the
	// record's rows and history.
	DeleteRecord(ctx context.Context, org string, recordID string) error

	// ApplyEdit persists the edited record and appends its history
	// entries in one transaction.
	ApplyEdit(ctx context.Context, org string, record EmployeePayrollRecord, history []EditHistoryEntry) error
	ListHistory(ctx context.Context, org string, recordID string) ([]EditHistoryEntry, error)

	// RebateTotal sums the employee's fiscal rebate adjustments.
	RebateTotal(ctx context.Context, org string, employee string, fiscalYear string) (decimal.Decimal, error)
}
