package payroll

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func recomputeHeadings() []HeadingDefinition {
	return []HeadingDefinition{
		{ID: "h1", Organization: "org-1", Name: "Basic", Type: TypeAddition, Rule: "1000", Order: 1},
		{ID: "h2", Organization: "org-1", Name: "Allowance", Type: TypeAddition, Rule: "0.5 * __BASIC__", Order: 2},
		{ID: "h3", Organization: "org-1", Name: "Lunch", Type: TypeAddition, Rule: "200", Order: 3},
	}
}

func calculateBaseline(t *testing.T, calc *Calculator) EmployeePayrollRecord {
	t.Helper()
	rec, err := calc.Calculate(context.Background(), CalcRequest{
		Period: monthPeriod(), Employee: "emp-1", SubRanges: fullMonthSub(),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	rec.ID = "rec-1"
	return rec
}

func TestRecomputeClosure(t *testing.T) {
	calc := &Calculator{Config: mustConfig(t, recomputeHeadings())}
	old := calculateBaseline(t, calc)

	// Drift the stored Lunch rows so we can tell "kept" from
	// "re-evaluated to the same value".
	for i := range old.Rows {
		if old.Rows[i].Heading == "Lunch" {
			old.Rows[i].Amount = dec(t, "999")
		}
	}

	now := time.Date(2017, 1, 20, 10, 0, 0, 0, time.UTC)
	result, err := calc.Recompute(context.Background(), EditRequest{
		Period:    monthPeriod(),
		Record:    old,
		Overrides: map[string]decimal.Decimal{"Basic": dec(t, "2000")},
		Actor:     "hr-admin",
		Remark:    "salary revision",
		Now:       now,
	})
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	if got := headingTotal(t, result.Record, "Basic"); !got.Equal(dec(t, "2000")) {
		t.Fatalf("Basic = %s, want pinned 2000", got)
	}
	if got := headingTotal(t, result.Record, "Allowance"); !got.Equal(dec(t, "1000")) {
		t.Fatalf("Allowance = %s, want recomputed 1000", got)
	}
	if got := headingTotal(t, result.Record, "Lunch"); !got.Equal(dec(t, "999")) {
		t.Fatalf("Lunch = %s, want untouched stored 999", got)
	}

	if len(result.History) != 2 {
		t.Fatalf("history entries = %d, want 2 (Basic, Allowance)", len(result.History))
	}
	if result.History[0].Heading != "Allowance" || result.History[1].Heading != "Basic" {
		t.Fatalf("history order = %s, %s; want sorted heading names", result.History[0].Heading, result.History[1].Heading)
	}
	for _, entry := range result.History {
		if entry.BatchID != result.BatchID {
			t.Fatalf("entry %s has batch %s, want shared %s", entry.Heading, entry.BatchID, result.BatchID)
		}
		if entry.Actor != "hr-admin" || entry.Remark != "salary revision" || !entry.CreatedAt.Equal(now) {
			t.Fatalf("entry %s lost batch metadata: %+v", entry.Heading, entry)
		}
	}
	if result.Record.Overrides.Version != old.Overrides.Version+1 {
		t.Fatalf("overrides version = %d, want %d", result.Record.Overrides.Version, old.Overrides.Version+1)
	}
}

func TestRecomputeIdempotent(t *testing.T) {
	calc := &Calculator{Config: mustConfig(t, recomputeHeadings())}
	old := calculateBaseline(t, calc)

	req := EditRequest{
		Period:    monthPeriod(),
		Record:    old,
		Overrides: map[string]decimal.Decimal{"Basic": dec(t, "2000")},
		Actor:     "hr-admin",
	}
	first, err := calc.Recompute(context.Background(), req)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(first.History) == 0 {
		t.Fatal("first apply produced no history")
	}

	req.Record = first.Record
	second, err := calc.Recompute(context.Background(), req)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(second.History) != 0 {
		t.Fatalf("re-applying an identical batch produced %d history entries, want 0", len(second.History))
	}
	if second.Record.Overrides.Version != first.Record.Overrides.Version {
		t.Fatalf("no-op re-apply bumped version %d -> %d", first.Record.Overrides.Version, second.Record.Overrides.Version)
	}
}

func TestRecomputePinEquivalence(t *testing.T) {
	// Pinning Basic to 2000 and recomputing dependents must match a full
	// evaluation with Basic's rule replaced by the constant.
	calc := &Calculator{Config: mustConfig(t, recomputeHeadings())}
	old := calculateBaseline(t, calc)

	result, err := calc.Recompute(context.Background(), EditRequest{
		Period:    monthPeriod(),
		Record:    old,
		Overrides: map[string]decimal.Decimal{"Basic": dec(t, "2000")},
	})
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	replaced := recomputeHeadings()
	replaced[0].Rule = "2000"
	fullCalc := &Calculator{Config: mustConfig(t, replaced)}
	full, err := fullCalc.Calculate(context.Background(), CalcRequest{
		Period: monthPeriod(), Employee: "emp-1", SubRanges: fullMonthSub(),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	for _, heading := range []string{"Basic", "Allowance", "Lunch"} {
		got := headingTotal(t, result.Record, heading)
		want := headingTotal(t, full, heading)
		if !got.Equal(want) {
			t.Fatalf("heading %s: recompute %s != full evaluation %s", heading, got, want)
		}
	}
}

func TestRecomputeRejectsUnknownHeading(t *testing.T) {
	calc := &Calculator{Config: mustConfig(t, recomputeHeadings())}
	old := calculateBaseline(t, calc)

	_, err := calc.Recompute(context.Background(), EditRequest{
		Period:    monthPeriod(),
		Record:    old,
		Overrides: map[string]decimal.Decimal{"Bonus": dec(t, "10")},
	})
	if err == nil {
		t.Fatal("want error for unknown heading override")
	}
}

func TestRecomputeAdHoc(t *testing.T) {
	calc := &Calculator{Config: mustConfig(t, recomputeHeadings())}
	old := calculateBaseline(t, calc)

	t.Run("extra addition is appended", func(t *testing.T) {
		result, err := calc.Recompute(context.Background(), EditRequest{
			Period: monthPeriod(),
			Record: old,
			AdHoc:  []AdHocHeading{{Name: "Festival Bonus", Type: TypeExtraAddition, Amount: dec(t, "500")}},
		})
		if err != nil {
			t.Fatalf("Recompute: %v", err)
		}
		if got := headingTotal(t, result.Record, "Festival Bonus"); !got.Equal(dec(t, "500")) {
			t.Fatalf("Festival Bonus = %s, want 500", got)
		}
	})

	t.Run("persisted rows survive a later unrelated edit", func(t *testing.T) {
		withBonus, err := calc.Recompute(context.Background(), EditRequest{
			Period: monthPeriod(),
			Record: old,
			AdHoc:  []AdHocHeading{{Name: "Festival Bonus", Type: TypeExtraAddition, Amount: dec(t, "500")}},
		})
		if err != nil {
			t.Fatalf("Recompute: %v", err)
		}

		edited, err := calc.Recompute(context.Background(), EditRequest{
			Period:    monthPeriod(),
			Record:    withBonus.Record,
			Overrides: map[string]decimal.Decimal{"Basic": dec(t, "2000")},
		})
		if err != nil {
			t.Fatalf("Recompute: %v", err)
		}
		if got := headingTotal(t, edited.Record, "Festival Bonus"); !got.Equal(dec(t, "500")) {
			t.Fatalf("Festival Bonus after Basic edit = %s, want kept 500", got)
		}
		for _, entry := range edited.History {
			if entry.Heading == "Festival Bonus" {
				t.Fatalf("Basic edit produced a history entry for Festival Bonus: %+v", entry)
			}
		}
	})

	t.Run("re-applying by name replaces, not duplicates", func(t *testing.T) {
		withBonus, err := calc.Recompute(context.Background(), EditRequest{
			Period: monthPeriod(),
			Record: old,
			AdHoc:  []AdHocHeading{{Name: "Festival Bonus", Type: TypeExtraAddition, Amount: dec(t, "500")}},
		})
		if err != nil {
			t.Fatalf("Recompute: %v", err)
		}

		revised, err := calc.Recompute(context.Background(), EditRequest{
			Period: monthPeriod(),
			Record: withBonus.Record,
			AdHoc:  []AdHocHeading{{Name: "Festival Bonus", Type: TypeExtraAddition, Amount: dec(t, "300")}},
		})
		if err != nil {
			t.Fatalf("Recompute: %v", err)
		}
		rowCount := 0
		for _, row := range revised.Record.Rows {
			if row.Heading == "Festival Bonus" {
				rowCount++
			}
		}
		if rowCount != 1 {
			t.Fatalf("Festival Bonus rows = %d, want 1", rowCount)
		}
		if got := headingTotal(t, revised.Record, "Festival Bonus"); !got.Equal(dec(t, "300")) {
			t.Fatalf("Festival Bonus = %s, want replaced 300", got)
		}
	})

	t.Run("base types are rejected", func(t *testing.T) {
		_, err := calc.Recompute(context.Background(), EditRequest{
			Period: monthPeriod(),
			Record: old,
			AdHoc:  []AdHocHeading{{Name: "Sneaky", Type: TypeAddition, Amount: dec(t, "1")}},
		})
		if err == nil {
			t.Fatal("want error for ad hoc heading with a base type")
		}
	})
}
