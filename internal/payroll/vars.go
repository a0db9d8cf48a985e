package payroll

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Context metric and constant names a rule may reference besides other
// headings. Worked/absent/hour aggregates come from the attendance
// subsystem per sub-range; the rest are organization fiscal constants
// or externally supplied period values.
const (
	VarWorkedDays     = "__WORKED_DAYS__"
	VarExpectedDays   = "__EXPECTED_DAYS__"
	VarAbsentDays     = "__ABSENT_DAYS__"
	VarWorkedHours    = "__WORKED_HOURS__"
	VarOvertimeHours  = "__OVERTIME_HOURS__"
	VarAnnualGross    = "__ANNUAL_GROSS_SALARY__"
	VarPeriodsPerYear = "__PERIODS_PER_YEAR__"
)

var contextVars = map[string]bool{
	VarWorkedDays:     true,
	VarExpectedDays:   true,
	VarAbsentDays:     true,
	VarWorkedHours:    true,
	VarOvertimeHours:  true,
	VarAnnualGross:    true,
	VarPeriodsPerYear: true,
}

// IsContextVar reports whether name is a known context metric or fiscal
// constant.
func IsContextVar(name string) bool {
	return contextVars[name]
}

// VarNameForHeading maps a heading's canonical name to the variable
// other rules reference it by: "Total annual gross salary" becomes
// __TOTAL_ANNUAL_GROSS_SALARY__.
func VarNameForHeading(name string) string {
	return "__" + strings.Join(strings.Fields(strings.ToUpper(name)), "_") + "__"
}

func (s HourlySource) varName() string {
	switch s {
	case HourlySourceOvertime:
		return VarOvertimeHours
	case HourlySourceWorked:
		return VarWorkedHours
	default:
		return ""
	}
}

// MetricSet is an explicit bag of named decimal metrics. Lookup returns
// an explicit miss instead of a zero value so a missing attendance
// aggregate is distinguishable from a genuine zero.
type MetricSet struct {
	values map[string]decimal.Decimal
}

func NewMetricSet(values map[string]decimal.Decimal) MetricSet {
	copied := make(map[string]decimal.Decimal, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return MetricSet{values: copied}
}

func (m MetricSet) Lookup(name string) (decimal.Decimal, bool) {
	v, ok := m.values[name]
	return v, ok
}

func (m MetricSet) With(name string, value decimal.Decimal) MetricSet {
	merged := make(map[string]decimal.Decimal, len(m.values)+1)
	for k, v := range m.values {
		merged[k] = v
	}
	merged[name] = value
	return MetricSet{values: merged}
}
