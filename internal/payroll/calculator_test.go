package payroll

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type attendanceFunc func(ctx context.Context, employee string, sub SubRange) (MetricSet, error)

func (f attendanceFunc) Metrics(ctx context.Context, employee string, sub SubRange) (MetricSet, error) {
	return f(ctx, employee, sub)
}

func boolPtr(b bool) *bool { return &b }

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func mustConfig(t *testing.T, headings []HeadingDefinition) *Config {
	t.Helper()
	cfg, err := NewConfig("org-1", 1, headings)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return cfg
}

func monthPeriod() PayPeriod {
	return PayPeriod{
		ID:               "period-1",
		Organization:     "org-1",
		StartDate:        "2017-01-01",
		EndDateExclusive: "2017-02-01",
		Status:           StatusGenerated,
		ConfigRevision:   1,
	}
}

func fullMonthSub() []SubRange {
	return []SubRange{{Start: "2017-01-01", EndExclusive: "2017-02-01", PackageID: "pkg-1"}}
}

func fixedMetrics(values map[string]string) attendanceFunc {
	return func(ctx context.Context, employee string, sub SubRange) (MetricSet, error) {
		parsed := map[string]decimal.Decimal{}
		for name, raw := range values {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return MetricSet{}, err
			}
			parsed[name] = v
		}
		return NewMetricSet(parsed), nil
	}
}

func headingTotal(t *testing.T, rec EmployeePayrollRecord, heading string) decimal.Decimal {
	t.Helper()
	total, ok := rec.HeadingTotal(heading)
	if !ok {
		t.Fatalf("no rows for heading %q", heading)
	}
	return total
}

func exampleHeadings() []HeadingDefinition {
	return []HeadingDefinition{
		{ID: "h1", Organization: "org-1", Name: "Addition", Type: TypeAddition, Rule: "2000",
			DurationUnit: DurationMonthly, Taxable: boolPtr(true), AbsentDaysImpact: boolPtr(true), Order: 1},
		{ID: "h2", Organization: "org-1", Name: "Overtime", Type: TypeAddition, Rule: "100",
			DurationUnit: DurationHourly, HourlySource: HourlySourceOvertime, Order: 2},
		{ID: "h3", Organization: "org-1", Name: "Total annual gross salary", Type: TypeType2Cnst,
			Rule: "__ANNUAL_GROSS_SALARY__", Order: 3},
		{ID: "h4", Organization: "org-1", Name: "Tax", Type: TypeTaxDeduction,
			Rule: "0.10 * __TOTAL_ANNUAL_GROSS_SALARY__", Order: 4},
	}
}

func TestCalculateExample(t *testing.T) {
	calc := &Calculator{
		Config: mustConfig(t, exampleHeadings()),
		Attendance: fixedMetrics(map[string]string{
			VarWorkedDays:    "31",
			VarExpectedDays:  "31",
			VarAbsentDays:    "0",
			VarOvertimeHours: "10",
		}),
	}

	rec, err := calc.Calculate(context.Background(), CalcRequest{
		Period:    monthPeriod(),
		Employee:  "emp-1",
		SubRanges: fullMonthSub(),
		External:  NewMetricSet(map[string]decimal.Decimal{VarAnnualGross: dec(t, "20.22")}),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	want := map[string]string{
		"Addition":                  "2000",
		"Overtime":                  "1000",
		"Total annual gross salary": "20.22",
		"Tax":                       "2.02",
	}
	for heading, amount := range want {
		if got := headingTotal(t, rec, heading); !got.Equal(dec(t, amount)) {
			t.Fatalf("heading %s = %s, want %s", heading, got, amount)
		}
	}
	if !rec.AnnualGross.Equal(dec(t, "20.22")) {
		t.Fatalf("annual gross = %s, want 20.22", rec.AnnualGross)
	}
	if !rec.TotalTax.Equal(dec(t, "2.02")) {
		t.Fatalf("total tax = %s, want 2.02", rec.TotalTax)
	}
}

func TestCalculateProration(t *testing.T) {
	cases := []struct {
		name   string
		worked string
		want   string
	}{
		{"zero absence pays the unprorated amount", "31", "2000"},
		{"full absence pays zero", "0", "0"},
		{"half the days pays half", "15.5", "1000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calc := &Calculator{
				Config: mustConfig(t, exampleHeadings()),
				Attendance: fixedMetrics(map[string]string{
					VarWorkedDays:    tc.worked,
					VarExpectedDays:  "31",
					VarOvertimeHours: "0",
				}),
			}
			rec, err := calc.Calculate(context.Background(), CalcRequest{
				Period:    monthPeriod(),
				Employee:  "emp-1",
				SubRanges: fullMonthSub(),
			})
			if err != nil {
				t.Fatalf("Calculate: %v", err)
			}
			if got := headingTotal(t, rec, "Addition"); !got.Equal(dec(t, tc.want)) {
				t.Fatalf("Addition = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCalculateHourly(t *testing.T) {
	t.Run("zero source hours gives zero", func(t *testing.T) {
		calc := &Calculator{
			Config: mustConfig(t, exampleHeadings()),
			Attendance: fixedMetrics(map[string]string{
				VarWorkedDays:    "31",
				VarExpectedDays:  "31",
				VarOvertimeHours: "0",
			}),
		}
		rec, err := calc.Calculate(context.Background(), CalcRequest{
			Period: monthPeriod(), Employee: "emp-1", SubRanges: fullMonthSub(),
		})
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		if got := headingTotal(t, rec, "Overtime"); !got.IsZero() {
			t.Fatalf("Overtime = %s, want 0", got)
		}
	})

	t.Run("missing source metric fails that employee", func(t *testing.T) {
		calc := &Calculator{
			Config: mustConfig(t, exampleHeadings()),
			Attendance: fixedMetrics(map[string]string{
				VarWorkedDays:   "31",
				VarExpectedDays: "31",
			}),
		}
		_, err := calc.Calculate(context.Background(), CalcRequest{
			Period: monthPeriod(), Employee: "emp-1", SubRanges: fullMonthSub(),
		})
		var calcErr *CalculationError
		if !errors.As(err, &calcErr) {
			t.Fatalf("want CalculationError, got %v", err)
		}
		if calcErr.Heading != "Overtime" {
			t.Fatalf("failed heading = %q, want Overtime", calcErr.Heading)
		}
	})
}

func TestCalculateAnnualGrossProjection(t *testing.T) {
	// No external aggregate: the taxable period sum is projected to a
	// year and rebates reduce it.
	calc := &Calculator{
		Config: mustConfig(t, exampleHeadings()),
		Attendance: fixedMetrics(map[string]string{
			VarWorkedDays:    "31",
			VarExpectedDays:  "31",
			VarOvertimeHours: "0",
		}),
	}
	rec, err := calc.Calculate(context.Background(), CalcRequest{
		Period: monthPeriod(), Employee: "emp-1", SubRanges: fullMonthSub(),
		Rebate: dec(t, "4000"),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// 2000 × 12 − 4000
	if !rec.AnnualGross.Equal(dec(t, "20000")) {
		t.Fatalf("annual gross = %s, want 20000", rec.AnnualGross)
	}
	if got := headingTotal(t, rec, "Tax"); !got.Equal(dec(t, "2000")) {
		t.Fatalf("Tax = %s, want 2000", got)
	}
}

func TestCalculatePinnedOverride(t *testing.T) {
	calc := &Calculator{
		Config: mustConfig(t, exampleHeadings()),
		Attendance: fixedMetrics(map[string]string{
			VarWorkedDays:    "31",
			VarExpectedDays:  "31",
			VarOvertimeHours: "0",
		}),
	}
	rec, err := calc.Calculate(context.Background(), CalcRequest{
		Period: monthPeriod(), Employee: "emp-1", SubRanges: fullMonthSub(),
		Overrides: OverridesSet{Values: map[string]decimal.Decimal{"Addition": dec(t, "1500")}},
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got := headingTotal(t, rec, "Addition"); !got.Equal(dec(t, "1500")) {
		t.Fatalf("Addition = %s, want pinned 1500", got)
	}
	// The pin flows into the taxable aggregate.
	if !rec.AnnualGross.Equal(dec(t, "18000")) {
		t.Fatalf("annual gross = %s, want 18000", rec.AnnualGross)
	}

	rows := 0
	for _, row := range rec.Rows {
		if row.Heading == "Addition" {
			rows++
		}
	}
	if rows != 1 {
		t.Fatalf("pinned heading produced %d rows, want a single full-period row", rows)
	}
}

func TestCalculateIsPure(t *testing.T) {
	calc := &Calculator{
		Config: mustConfig(t, exampleHeadings()),
		Attendance: fixedMetrics(map[string]string{
			VarWorkedDays:    "22",
			VarExpectedDays:  "31",
			VarOvertimeHours: "7.5",
		}),
	}
	req := CalcRequest{Period: monthPeriod(), Employee: "emp-1", SubRanges: fullMonthSub()}

	first, err := calc.Calculate(context.Background(), req)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	second, err := calc.Calculate(context.Background(), req)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if len(first.Rows) != len(second.Rows) {
		t.Fatalf("row counts differ: %d vs %d", len(first.Rows), len(second.Rows))
	}
	for i := range first.Rows {
		a, b := first.Rows[i], second.Rows[i]
		if a.Heading != b.Heading || !a.Amount.Equal(b.Amount) {
			t.Fatalf("row %d differs: %s=%s vs %s=%s", i, a.Heading, a.Amount, b.Heading, b.Amount)
		}
	}
}

func TestCalculateSubRangeSplit(t *testing.T) {
	// A mid-period package change yields one row per sub-range and the
	// heading total is their sum.
	calc := &Calculator{
		Config: mustConfig(t, exampleHeadings()),
		Attendance: attendanceFunc(func(ctx context.Context, employee string, sub SubRange) (MetricSet, error) {
			if sub.PackageID == "pkg-1" {
				return NewMetricSet(map[string]decimal.Decimal{
					VarWorkedDays: decimal.NewFromInt(10), VarExpectedDays: decimal.NewFromInt(31),
					VarOvertimeHours: decimal.Decimal{},
				}), nil
			}
			return NewMetricSet(map[string]decimal.Decimal{
				VarWorkedDays: decimal.NewFromInt(21), VarExpectedDays: decimal.NewFromInt(31),
				VarOvertimeHours: decimal.Decimal{},
			}), nil
		}),
	}
	rec, err := calc.Calculate(context.Background(), CalcRequest{
		Period:   monthPeriod(),
		Employee: "emp-1",
		SubRanges: []SubRange{
			{Start: "2017-01-01", EndExclusive: "2017-01-11", PackageID: "pkg-1"},
			{Start: "2017-01-11", EndExclusive: "2017-02-01", PackageID: "pkg-2"},
		},
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if rows := rec.rowsFor("Addition"); len(rows) != 2 {
		t.Fatalf("Addition rows = %d, want 2", len(rows))
	}
	// 2000×10/31 = 645.16, 2000×21/31 = 1354.84
	if got := headingTotal(t, rec, "Addition"); !got.Equal(dec(t, "2000")) {
		t.Fatalf("Addition total = %s, want 2000", got)
	}
}

func TestCalculateNoSubRanges(t *testing.T) {
	calc := &Calculator{Config: mustConfig(t, exampleHeadings())}
	_, err := calc.Calculate(context.Background(), CalcRequest{Period: monthPeriod(), Employee: "emp-1"})
	var calcErr *CalculationError
	if !errors.As(err, &calcErr) {
		t.Fatalf("want CalculationError, got %v", err)
	}
}

func TestCalculateAdHocRows(t *testing.T) {
	calc := &Calculator{
		Config: mustConfig(t, exampleHeadings()),
		Attendance: fixedMetrics(map[string]string{
			VarWorkedDays: "31", VarExpectedDays: "31", VarOvertimeHours: "0",
		}),
	}
	rec, err := calc.Calculate(context.Background(), CalcRequest{
		Period: monthPeriod(), Employee: "emp-1", SubRanges: fullMonthSub(),
		AdHoc: []AdHocHeading{{Name: "Spot Bonus", Type: TypeExtraAddition, Amount: dec(t, "300.555")}},
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got := headingTotal(t, rec, "Spot Bonus"); !got.Equal(dec(t, "300.56")) {
		t.Fatalf("Spot Bonus = %s, want 300.56", got)
	}
}
