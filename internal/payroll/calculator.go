package payroll

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/realhrms/payroll/pkg/moneyx"
)

// AttendanceSource supplies per-employee, per-sub-range aggregates
// (worked days, absent days, worked and overtime hours). The calculator
// treats the numbers as authoritative and does no attendance logic.
type AttendanceSource interface {
	Metrics(ctx context.Context, employee string, sub SubRange) (MetricSet, error)
}

// Calculator evaluates employee payroll against one compiled heading
// configuration. It is stateless across calls and safe for concurrent
// use by the generation worker pool.
type Calculator struct {
	Config     *Config
	Attendance AttendanceSource
	// Constants holds organization fiscal constants such as
	// __PERIODS_PER_YEAR__.
	Constants MetricSet
}

// CalcRequest describes one employee's evaluation over one pay period.
type CalcRequest struct {
	Period    PayPeriod
	Employee  string
	SubRanges []SubRange
	// Overrides pins heading period totals; pinned headings are not
	// derived from their rule.
	Overrides OverridesSet
	// External carries externally supplied period-level metrics, e.g. a
	// carried-over __ANNUAL_GROSS_SALARY__.
	External MetricSet
	AdHoc    []AdHocHeading
	Rebate   decimal.Decimal
}

var defaultPeriodsPerYear = decimal.NewFromInt(12)

type evalState struct {
	perSub  []map[string]decimal.Decimal
	period  map[string]decimal.Decimal
	metrics []MetricSet
	consts  MetricSet
	taxable decimal.Decimal
}

func (st *evalState) subEnv(i int) func(string) (decimal.Decimal, bool) {
	return func(name string) (decimal.Decimal, bool) {
		if v, ok := st.perSub[i][name]; ok {
			return v, true
		}
		if v, ok := st.period[name]; ok {
			return v, true
		}
		if v, ok := st.metrics[i].Lookup(name); ok {
			return v, true
		}
		return st.consts.Lookup(name)
	}
}

func (st *evalState) periodEnv() func(string) (decimal.Decimal, bool) {
	return func(name string) (decimal.Decimal, bool) {
		if v, ok := st.period[name]; ok {
			return v, true
		}
		return st.consts.Lookup(name)
	}
}

// Calculate evaluates every heading for one employee in topological
// order. Evaluation is pure: identical inputs produce decimal-identical
// rows. Each row is rounded exactly once when it is materialized.
func (c *Calculator) Calculate(ctx context.Context, req CalcRequest) (EmployeePayrollRecord, error) {
	if len(req.SubRanges) == 0 {
		return EmployeePayrollRecord{}, &CalculationError{Employee: req.Employee, Reason: "no package sub-ranges overlap the period"}
	}

	st := &evalState{
		perSub:  make([]map[string]decimal.Decimal, len(req.SubRanges)),
		period:  map[string]decimal.Decimal{},
		metrics: make([]MetricSet, len(req.SubRanges)),
		consts:  c.mergedConstants(req.External),
	}
	for i, sub := range req.SubRanges {
		st.perSub[i] = map[string]decimal.Decimal{}
		if c.Attendance == nil {
			st.metrics[i] = MetricSet{}
			continue
		}
		m, err := c.Attendance.Metrics(ctx, req.Employee, sub)
		if err != nil {
			return EmployeePayrollRecord{}, &CalculationError{Employee: req.Employee, Reason: "attendance aggregate unavailable: " + err.Error()}
		}
		st.metrics[i] = m
	}

	rec := EmployeePayrollRecord{
		PeriodID:  req.Period.ID,
		Employee:  req.Employee,
		SubRanges: append([]SubRange(nil), req.SubRanges...),
		Overrides: req.Overrides.Clone(),
		Rebate:    req.Rebate,
	}
	fullPeriod := SubRange{Start: req.Period.StartDate, EndExclusive: req.Period.EndDateExclusive}

	for _, varName := range c.Config.Graph().TopoOrder() {
		if varName == VarAnnualGross {
			rec.AnnualGross = c.annualGross(st, req.Rebate)
			st.period[VarAnnualGross] = rec.AnnualGross
			continue
		}

		h, ok := c.Config.headingByVar(varName)
		if !ok {
			continue
		}

		if pinned, isPinned := req.Overrides.Values[h.Name]; isPinned {
			total := moneyx.Round2(pinned)
			rec.Rows = append(rec.Rows, HeadingResultRow{Heading: h.Name, SubRange: fullPeriod, Amount: total})
			c.accumulate(st, &rec, h, varName, total)
			continue
		}

		total, rows, err := c.evaluateHeading(st, req, h, fullPeriod)
		if err != nil {
			return EmployeePayrollRecord{}, err
		}
		rec.Rows = append(rec.Rows, rows...)
		c.accumulate(st, &rec, h, varName, total)
	}

	for _, extra := range req.AdHoc {
		amount := moneyx.Round2(extra.Amount)
		rec.Rows = append(rec.Rows, HeadingResultRow{Heading: extra.Name, SubRange: fullPeriod, Amount: amount})
	}

	return rec, nil
}

func (c *Calculator) mergedConstants(external MetricSet) MetricSet {
	merged := c.Constants
	for name := range contextVars {
		if v, ok := external.Lookup(name); ok {
			merged = merged.With(name, v)
		}
	}
	return merged
}

// annualGross values the synthetic aggregate node: an externally
// supplied __ANNUAL_GROSS_SALARY__ pins it; otherwise it is the taxable
// period sum projected to a year, less fiscal rebates, floored at zero.
func (c *Calculator) annualGross(st *evalState, rebate decimal.Decimal) decimal.Decimal {
	if v, ok := st.consts.Lookup(VarAnnualGross); ok {
		return v
	}
	ppy, ok := st.consts.Lookup(VarPeriodsPerYear)
	if !ok {
		ppy = defaultPeriodsPerYear
	}
	annual := st.taxable.Mul(ppy).Sub(rebate)
	if annual.IsNegative() {
		return decimal.Decimal{}
	}
	return annual
}

func (c *Calculator) accumulate(st *evalState, rec *EmployeePayrollRecord, h HeadingDefinition, varName string, total decimal.Decimal) {
	st.period[varName] = total
	if h.IsTaxable() {
		st.taxable = st.taxable.Add(total)
	}
	if h.Type == TypeTaxDeduction {
		rec.TotalTax = rec.TotalTax.Add(total)
	}
}

func (c *Calculator) evaluateHeading(st *evalState, req CalcRequest, h HeadingDefinition, fullPeriod SubRange) (decimal.Decimal, []HeadingResultRow, error) {
	varName := h.VarName()
	compiled := c.Config.ruleByVar(varName)

	if normalizedUnit(h) == DurationNone {
		v, err := compiled.Evaluate(st.periodEnv())
		if err != nil {
			return decimal.Decimal{}, nil, &CalculationError{Employee: req.Employee, Heading: h.Name, Reason: err.Error()}
		}
		amount := moneyx.Round2(v)
		return amount, []HeadingResultRow{{Heading: h.Name, SubRange: fullPeriod, Amount: amount}}, nil
	}

	total := decimal.Decimal{}
	rows := make([]HeadingResultRow, 0, len(req.SubRanges))
	for i, sub := range req.SubRanges {
		v, err := compiled.Evaluate(st.subEnv(i))
		if err != nil {
			return decimal.Decimal{}, nil, &CalculationError{Employee: req.Employee, Heading: h.Name, Reason: err.Error()}
		}
		v, err = c.scale(st, req.Employee, h, i, v)
		if err != nil {
			return decimal.Decimal{}, nil, err
		}
		amount := moneyx.Round2(v)
		st.perSub[i][varName] = amount
		total = total.Add(amount)
		rows = append(rows, HeadingResultRow{Heading: h.Name, SubRange: sub, Amount: amount})
	}
	return total, rows, nil
}

func (c *Calculator) scale(st *evalState, employee string, h HeadingDefinition, i int, v decimal.Decimal) (decimal.Decimal, error) {
	switch normalizedUnit(h) {
	case DurationHourly:
		hoursVar := h.HourlySource.varName()
		hours, ok := st.metrics[i].Lookup(hoursVar)
		if !ok {
			return decimal.Decimal{}, &CalculationError{Employee: employee, Heading: h.Name, Reason: "missing metric " + hoursVar}
		}
		return v.Mul(hours), nil
	case DurationMonthly:
		if !h.prorated() {
			return v, nil
		}
		worked, ok := st.metrics[i].Lookup(VarWorkedDays)
		if !ok {
			return decimal.Decimal{}, &CalculationError{Employee: employee, Heading: h.Name, Reason: "missing metric " + VarWorkedDays}
		}
		expected, ok := st.metrics[i].Lookup(VarExpectedDays)
		if !ok {
			return decimal.Decimal{}, &CalculationError{Employee: employee, Heading: h.Name, Reason: "missing metric " + VarExpectedDays}
		}
		if expected.IsZero() {
			return decimal.Decimal{}, &CalculationError{Employee: employee, Heading: h.Name, Reason: "expected days is zero"}
		}
		if worked.IsZero() {
			return decimal.Decimal{}, nil
		}
		return v.Mul(worked).DivRound(expected, 16), nil
	default:
		return v, nil
	}
}
