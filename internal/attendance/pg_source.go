// Package attendance supplies the per-employee, per-sub-range aggregates
// the payroll calculator consumes: worked and expected days, absences,
// worked and overtime hours. Aggregates are ingested per day by the
// attendance subsystem; this package only sums them over a range.
package attendance

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/realhrms/payroll/internal/payroll"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGSource reads attendance day aggregates from postgres. The tenant is
// taken from the request context via TenantFrom so one source serves
// every organization behind the handler.
type PGSource struct {
	pool pgBeginner
	// TenantFrom extracts the organization id scoping the query.
	TenantFrom func(ctx context.Context) (string, bool)
}

func NewPGSource(pool pgBeginner, tenantFrom func(ctx context.Context) (string, bool)) *PGSource {
	return &PGSource{pool: pool, TenantFrom: tenantFrom}
}

func (s *PGSource) Metrics(ctx context.Context, employee string, sub payroll.SubRange) (payroll.MetricSet, error) {
	org, ok := s.TenantFrom(ctx)
	if !ok || strings.TrimSpace(org) == "" {
		return payroll.MetricSet{}, errors.New("attendance: no organization in context")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return payroll.MetricSet{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, org); err != nil {
		return payroll.MetricSet{}, err
	}

	var days int64
	var worked, expected, absent, workedHours, overtimeHours string
	err = tx.QueryRow(ctx, `
SELECT COUNT(*),
       COALESCE(SUM(worked_days), 0)::text,
       COALESCE(SUM(expected_days), 0)::text,
       COALESCE(SUM(absent_days), 0)::text,
       COALESCE(SUM(worked_hours), 0)::text,
       COALESCE(SUM(overtime_hours), 0)::text
FROM payroll.attendance_days
WHERE tenant_id = $1::uuid
  AND employee_id = $2
  AND day >= $3::date
  AND day < $4::date
`, org, employee, sub.Start, sub.EndExclusive).
		Scan(&days, &worked, &expected, &absent, &workedHours, &overtimeHours)
	if err != nil {
		return payroll.MetricSet{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return payroll.MetricSet{}, err
	}

	// No ingested days means no metrics, not zeros; the calculator
	// reports the miss per heading.
	if days == 0 {
		return payroll.MetricSet{}, nil
	}

	values := map[string]decimal.Decimal{}
	for name, raw := range map[string]string{
		payroll.VarWorkedDays:    worked,
		payroll.VarExpectedDays:  expected,
		payroll.VarAbsentDays:    absent,
		payroll.VarWorkedHours:   workedHours,
		payroll.VarOvertimeHours: overtimeHours,
	} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return payroll.MetricSet{}, err
		}
		values[name] = v
	}
	return payroll.NewMetricSet(values), nil
}
