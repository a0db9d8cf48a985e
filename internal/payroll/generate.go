package payroll

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// EmployeeInput is everything one worker needs to calculate one
// employee; workers share nothing mutable.
type EmployeeInput struct {
	Employee  string
	SubRanges []SubRange
	Overrides OverridesSet
	External  MetricSet
	Rebate    decimal.Decimal
}

// GenerateResult is the outcome of one pay-period generation run.
// Failed maps employee ids to the reason their calculation failed;
// failures are per-employee and do not abort the run.
type GenerateResult struct {
	Records []EmployeePayrollRecord
	Failed  map[string]string
}

// Complete reports whether every employee produced a record; a period
// may move to approval only behind this barrier.
func (r GenerateResult) Complete() bool { return len(r.Failed) == 0 }

// Generator evaluates many employees concurrently with a bounded
// worker pool.
type Generator struct {
	Calc    *Calculator
	Workers int
	// CurrentRevision reports the organization's live heading config
	// revision so a run against a stale graph aborts instead of
	// evaluating with an inconsistent order.
	CurrentRevision func(ctx context.Context) (int64, error)
}

const defaultWorkers = 8

func (g *Generator) Run(ctx context.Context, period PayPeriod, employees []EmployeeInput) (GenerateResult, error) {
	if err := g.checkRevision(ctx); err != nil {
		return GenerateResult{}, err
	}

	workers := g.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var mu sync.Mutex
	out := GenerateResult{Failed: map[string]string{}}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, emp := range employees {
		emp := emp
		eg.Go(func() error {
			rec, err := g.Calc.Calculate(egCtx, CalcRequest{
				Period:    period,
				Employee:  emp.Employee,
				SubRanges: emp.SubRanges,
				Overrides: emp.Overrides,
				External:  emp.External,
				Rebate:    emp.Rebate,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var calcErr *CalculationError
				if errors.As(err, &calcErr) {
					out.Failed[emp.Employee] = calcErr.Reason
					return nil
				}
				return err
			}
			out.Records = append(out.Records, rec)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return GenerateResult{}, err
	}

	// A mutation that slipped in mid-run invalidates everything this
	// run computed.
	if err := g.checkRevision(ctx); err != nil {
		return GenerateResult{}, err
	}

	sort.Slice(out.Records, func(i, j int) bool {
		return out.Records[i].Employee < out.Records[j].Employee
	})
	return out, nil
}

func (g *Generator) checkRevision(ctx context.Context) error {
	if g.CurrentRevision == nil {
		return nil
	}
	rev, err := g.CurrentRevision(ctx)
	if err != nil {
		return err
	}
	if rev != g.Calc.Config.Revision {
		return &StaleGraphError{
			Organization: g.Calc.Config.Organization,
			Expected:     g.Calc.Config.Revision,
			Actual:       rev,
		}
	}
	return nil
}
