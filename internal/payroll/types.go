package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

type HeadingType string

const (
	TypeAddition       HeadingType = "Addition"
	TypeExtraAddition  HeadingType = "Extra Addition"
	TypeDeduction      HeadingType = "Deduction"
	TypeExtraDeduction HeadingType = "Extra Deduction"
	TypeTaxDeduction   HeadingType = "Tax Deduction"
	TypeType1Cnst      HeadingType = "Type1Cnst"
	TypeType2Cnst      HeadingType = "Type2Cnst"
)

func (t HeadingType) Valid() bool {
	switch t {
	case TypeAddition, TypeExtraAddition, TypeDeduction, TypeExtraDeduction,
		TypeTaxDeduction, TypeType1Cnst, TypeType2Cnst:
		return true
	}
	return false
}

type DurationUnit string

const (
	DurationMonthly DurationUnit = "Monthly"
	DurationHourly  DurationUnit = "Hourly"
	DurationNone    DurationUnit = "None"
)

func (u DurationUnit) Valid() bool {
	switch u {
	case DurationMonthly, DurationHourly, DurationNone:
		return true
	}
	return false
}

// HourlySource names the hours metric an Hourly heading multiplies its
// rate by.
type HourlySource string

const (
	HourlySourceNone     HourlySource = ""
	HourlySourceOvertime HourlySource = "Overtime"
	HourlySourceWorked   HourlySource = "Total Hour Worked"
)

// HeadingDefinition is one organization-scoped payroll line item. Name
// is unique per organization and immutable identity; rule or type edits
// bump the organization's heading config revision, which invalidates
// the cached dependency graph.
type HeadingDefinition struct {
	ID               string
	Organization     string
	Name             string
	Type             HeadingType
	Rule             string
	DurationUnit     DurationUnit
	Taxable          *bool
	AbsentDaysImpact *bool
	HourlySource     HourlySource
	Order            int
}

func (h HeadingDefinition) VarName() string {
	return VarNameForHeading(h.Name)
}

func (h HeadingDefinition) IsTaxable() bool {
	return h.Taxable != nil && *h.Taxable
}

func (h HeadingDefinition) prorated() bool {
	return h.AbsentDaysImpact != nil && *h.AbsentDaysImpact
}

type PeriodStatus string

const (
	StatusGenerated       PeriodStatus = "Generated"
	StatusApprovalPending PeriodStatus = "Approval Pending"
	StatusApproved        PeriodStatus = "Approved"
	StatusConfirmed       PeriodStatus = "Confirmed"
	StatusRejected        PeriodStatus = "Rejected"
)

type PayPeriod struct {
	ID               string
	Organization     string
	StartDate        string
	EndDateExclusive string
	Status           PeriodStatus
	ConfigRevision   int64
}

// Editable reports whether heading amounts of this period may be
// overridden. Only generated and rejected payroll can be edited;
// enforcing this is the caller's job, the engine only reports it.
func (p PayPeriod) Editable() bool {
	return p.Status == StatusGenerated || p.Status == StatusRejected
}

// SubRange is one contiguous package assignment interval inside a pay
// period. A mid-period package change yields two sub-ranges.
type SubRange struct {
	Start        string
	EndExclusive string
	PackageID    string
}

func (s SubRange) Equal(o SubRange) bool {
	return s.Start == o.Start && s.EndExclusive == o.EndExclusive && s.PackageID == o.PackageID
}

// HeadingResultRow is the computed amount of one heading over one
// sub-range. A heading's period total is the sum of its rows; the rows
// partition the period with no gaps or overlaps.
type HeadingResultRow struct {
	Heading  string
	SubRange SubRange
	Amount   decimal.Decimal
}

// OverridesSet is the strongly typed override state of one employee
// record: heading name to pinned amount, versioned on every effective
// change.
type OverridesSet struct {
	Version int
	Values  map[string]decimal.Decimal
}

func (o OverridesSet) Clone() OverridesSet {
	values := make(map[string]decimal.Decimal, len(o.Values))
	for k, v := range o.Values {
		values[k] = v
	}
	return OverridesSet{Version: o.Version, Values: values}
}

// AdHocHeading is a one-off row outside the employee's base package,
// such as a spot bonus or a penalty.
type AdHocHeading struct {
	Name   string
	Type   HeadingType
	Amount decimal.Decimal
}

// EmployeePayrollRecord is one employee's computed payroll for one pay
// period.
type EmployeePayrollRecord struct {
	ID          string
	PeriodID    string
	Employee    string
	SubRanges   []SubRange
	Rows        []HeadingResultRow
	Overrides   OverridesSet
	AnnualGross decimal.Decimal
	TotalTax    decimal.Decimal
	Rebate      decimal.Decimal
}

// HeadingTotal sums the record's rows for one heading.
func (r *EmployeePayrollRecord) HeadingTotal(heading string) (decimal.Decimal, bool) {
	total := decimal.Decimal{}
	found := false
	for _, row := range r.Rows {
		if row.Heading == heading {
			total = total.Add(row.Amount)
			found = true
		}
	}
	return total, found
}

func (r *EmployeePayrollRecord) rowsFor(heading string) []HeadingResultRow {
	var out []HeadingResultRow
	for _, row := range r.Rows {
		if row.Heading == heading {
			out = append(out, row)
		}
	}
	return out
}

// EditHistoryEntry is append-only; entries are never mutated after
// creation. Entries created by one override batch share BatchID and
// Remark.
type EditHistoryEntry struct {
	ID        string
	RecordID  string
	Heading   string
	OldAmount decimal.Decimal
	NewAmount decimal.Decimal
	Actor     string
	BatchID   string
	Remark    string
	CreatedAt time.Time
}

// RebateAdjustment is a fiscal-scoped reduction that feeds tax-heading
// evaluation through the annual-gross aggregate.
type RebateAdjustment struct {
	ID           string
	Organization string
	Employee     string
	FiscalYear   string
	Amount       decimal.Decimal
}
