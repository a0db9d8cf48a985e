package payroll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func generatorFor(t *testing.T, revisions ...int64) *Generator {
	t.Helper()
	var calls atomic.Int64
	return &Generator{
		Calc: &Calculator{Config: mustConfig(t, recomputeHeadings())},
		CurrentRevision: func(ctx context.Context) (int64, error) {
			i := calls.Add(1) - 1
			if int(i) >= len(revisions) {
				return revisions[len(revisions)-1], nil
			}
			return revisions[i], nil
		},
	}
}

func TestGenerateRun(t *testing.T) {
	gen := generatorFor(t, 1)
	inputs := []EmployeeInput{
		{Employee: "emp-3", SubRanges: fullMonthSub()},
		{Employee: "emp-1", SubRanges: fullMonthSub()},
		{Employee: "emp-2", SubRanges: fullMonthSub()},
	}

	result, err := gen.Run(context.Background(), monthPeriod(), inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Complete() {
		t.Fatalf("unexpected failures: %v", result.Failed)
	}
	if len(result.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(result.Records))
	}
	for i, want := range []string{"emp-1", "emp-2", "emp-3"} {
		if result.Records[i].Employee != want {
			t.Fatalf("record %d employee = %s, want %s (sorted)", i, result.Records[i].Employee, want)
		}
	}
}

func TestGenerateIsolatesEmployeeFailures(t *testing.T) {
	gen := generatorFor(t, 1)
	inputs := []EmployeeInput{
		{Employee: "emp-1", SubRanges: fullMonthSub()},
		{Employee: "emp-2"}, // no sub-ranges, fails calculation
	}

	result, err := gen.Run(context.Background(), monthPeriod(), inputs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0].Employee != "emp-1" {
		t.Fatalf("records = %+v, want only emp-1", result.Records)
	}
	if _, failed := result.Failed["emp-2"]; !failed {
		t.Fatalf("emp-2 missing from failures: %v", result.Failed)
	}
	if result.Complete() {
		t.Fatal("Complete() must be false while any employee failed")
	}
}

func TestGenerateStaleRevision(t *testing.T) {
	t.Run("stale before the run starts", func(t *testing.T) {
		gen := generatorFor(t, 2)
		_, err := gen.Run(context.Background(), monthPeriod(), nil)
		var stale *StaleGraphError
		if !errors.As(err, &stale) {
			t.Fatalf("want StaleGraphError, got %v", err)
		}
	})

	t.Run("config mutated mid-run", func(t *testing.T) {
		gen := generatorFor(t, 1, 2)
		_, err := gen.Run(context.Background(), monthPeriod(), []EmployeeInput{
			{Employee: "emp-1", SubRanges: fullMonthSub()},
		})
		var stale *StaleGraphError
		if !errors.As(err, &stale) {
			t.Fatalf("want StaleGraphError, got %v", err)
		}
		if stale.Expected != 1 || stale.Actual != 2 {
			t.Fatalf("stale revisions = %d -> %d, want 1 -> 2", stale.Expected, stale.Actual)
		}
	})
}
