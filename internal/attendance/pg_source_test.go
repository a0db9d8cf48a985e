package attendance

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/realhrms/payroll/internal/payroll"
)

type pgBeginnerStub struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (b pgBeginnerStub) Begin(ctx context.Context) (pgx.Tx, error) {
	return b.beginFn(ctx)
}

type rowStub struct {
	scanFn func(dest ...any) error
}

func (r rowStub) Scan(dest ...any) error {
	return r.scanFn(dest...)
}

type pgTxStub struct {
	pgx.Tx

	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	commitFn   func(ctx context.Context) error
}

func (t *pgTxStub) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execFn != nil {
		return t.execFn(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (t *pgTxStub) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if t.queryRowFn != nil {
		return t.queryRowFn(ctx, sql, args...)
	}
	return rowStub{scanFn: func(...any) error { return nil }}
}

func (t *pgTxStub) Commit(ctx context.Context) error {
	if t.commitFn != nil {
		return t.commitFn(ctx)
	}
	return nil
}

func (t *pgTxStub) Rollback(ctx context.Context) error { return nil }

func tenantFixed(org string) func(ctx context.Context) (string, bool) {
	return func(context.Context) (string, bool) { return org, org != "" }
}

func scanInto(dest []any, days int64, sums ...string) error {
	*(dest[0].(*int64)) = days
	for i, s := range sums {
		*(dest[i+1].(*string)) = s
	}
	return nil
}

func TestMetricsSumsRange(t *testing.T) {
	var gotTenantGUC string
	tx := &pgTxStub{
		execFn: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			gotTenantGUC = args[0].(string)
			return pgconn.CommandTag{}, nil
		},
		queryRowFn: func(_ context.Context, _ string, args ...any) pgx.Row {
			if args[1].(string) != "e1" {
				t.Fatalf("employee=%v", args[1])
			}
			return rowStub{scanFn: func(dest ...any) error {
				return scanInto(dest, 21, "21", "21", "0", "168", "5.5")
			}}
		},
	}
	src := NewPGSource(pgBeginnerStub{beginFn: func(context.Context) (pgx.Tx, error) { return tx, nil }}, tenantFixed("org-1"))

	m, err := src.Metrics(context.Background(), "e1", payroll.SubRange{Start: "2017-01-01", EndExclusive: "2017-02-01"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if gotTenantGUC != "org-1" {
		t.Fatalf("tenant guc=%q", gotTenantGUC)
	}
	worked, ok := m.Lookup(payroll.VarWorkedDays)
	if !ok || worked.String() != "21" {
		t.Fatalf("worked=%v ok=%v", worked, ok)
	}
	overtime, ok := m.Lookup(payroll.VarOvertimeHours)
	if !ok || overtime.String() != "5.5" {
		t.Fatalf("overtime=%v ok=%v", overtime, ok)
	}
}

func TestMetricsNoDaysIsMiss(t *testing.T) {
	tx := &pgTxStub{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return rowStub{scanFn: func(dest ...any) error {
				return scanInto(dest, 0, "0", "0", "0", "0", "0")
			}}
		},
	}
	src := NewPGSource(pgBeginnerStub{beginFn: func(context.Context) (pgx.Tx, error) { return tx, nil }}, tenantFixed("org-1"))

	m, err := src.Metrics(context.Background(), "e1", payroll.SubRange{Start: "2017-01-01", EndExclusive: "2017-02-01"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if _, ok := m.Lookup(payroll.VarWorkedDays); ok {
		t.Fatal("expected a metric miss when no days were ingested")
	}
}

func TestMetricsRequiresTenant(t *testing.T) {
	src := NewPGSource(pgBeginnerStub{beginFn: func(context.Context) (pgx.Tx, error) {
		t.Fatal("begin should not be reached")
		return nil, nil
	}}, tenantFixed(""))

	if _, err := src.Metrics(context.Background(), "e1", payroll.SubRange{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestMetricsQueryError(t *testing.T) {
	tx := &pgTxStub{
		queryRowFn: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return rowStub{scanFn: func(...any) error { return errors.New("boom") }}
		},
	}
	src := NewPGSource(pgBeginnerStub{beginFn: func(context.Context) (pgx.Tx, error) { return tx, nil }}, tenantFixed("org-1"))

	if _, err := src.Metrics(context.Background(), "e1", payroll.SubRange{}); err == nil {
		t.Fatal("expected error")
	}
}
