package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/realhrms/payroll/pkg/httperr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore persists the payroll schema. Every call is one transaction;
// the tenant GUC is set first so row-level security scopes every
// statement to the organization.
type PGStore struct {
	pool pgBeginner
}

func NewPGStore(pool pgBeginner) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) begin(ctx context.Context, org string) (pgx.Tx, error) {
	org = strings.TrimSpace(org)
	if org == "" {
		return nil, errors.New("organization is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, org); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, err
	}
	return tx, nil
}

func scanDecimal(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Decimal{}, nil
	}
	return decimal.NewFromString(raw)
}

func overridesToJSON(o OverridesSet) ([]byte, error) {
	values := make(map[string]string, len(o.Values))
	for name, v := range o.Values {
		values[name] = v.String()
	}
	return json.Marshal(values)
}

func overridesFromJSON(raw []byte, version int) (OverridesSet, error) {
	out := OverridesSet{Version: version, Values: map[string]decimal.Decimal{}}
	if len(raw) == 0 {
		return out, nil
	}
	var values map[string]string
	if err := json.Unmarshal(raw, &values); err != nil {
		return OverridesSet{}, err
	}
	for name, s := range values {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return OverridesSet{}, fmt.Errorf("override %s: %w", name, err)
		}
		out.Values[name] = v
	}
	return out, nil
}

func (s *PGStore) ListHeadings(ctx context.Context, org string) ([]HeadingDefinition, int64, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	headings, err := listHeadingsTx(ctx, tx, org)
	if err != nil {
		return nil, 0, err
	}
	revision, err := configRevisionTx(ctx, tx, org)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return headings, revision, nil
}

func listHeadingsTx(ctx context.Context, tx pgx.Tx, org string) ([]HeadingDefinition, error) {
	rows, err := tx.Query(ctx, `
SELECT id::text, name, heading_type, rule, duration_unit, taxable, absent_days_impact, hourly_source, sort_order
FROM payroll.headings
WHERE tenant_id = $1::uuid
ORDER BY sort_order, name
`, org)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HeadingDefinition
	for rows.Next() {
		var h HeadingDefinition
		var taxable, prorated *bool
		var unit, source string
		if err := rows.Scan(&h.ID, &h.Name, (*string)(&h.Type), &h.Rule, &unit, &taxable, &prorated, &source, &h.Order); err != nil {
			return nil, err
		}
		h.Organization = org
		h.DurationUnit = DurationUnit(unit)
		h.HourlySource = HourlySource(source)
		h.Taxable = taxable
		h.AbsentDaysImpact = prorated
		out = append(out, h)
	}
	return out, rows.Err()
}

func configRevisionTx(ctx context.Context, tx pgx.Tx, org string) (int64, error) {
	var revision int64
	err := tx.QueryRow(ctx, `
SELECT revision FROM payroll.config_revisions WHERE tenant_id = $1::uuid
`, org).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return revision, err
}

func bumpRevisionTx(ctx context.Context, tx pgx.Tx, org string) (int64, error) {
	var revision int64
	err := tx.QueryRow(ctx, `
INSERT INTO payroll.config_revisions (tenant_id, revision, updated_at)
VALUES ($1::uuid, 1, now())
ON CONFLICT (tenant_id)
DO UPDATE SET revision = payroll.config_revisions.revision + 1, updated_at = now()
RETURNING revision
`, org).Scan(&revision)
	return revision, err
}

func (s *PGStore) SaveHeading(ctx context.Context, h HeadingDefinition) (HeadingDefinition, int64, error) {
	tx, err := s.begin(ctx, h.Organization)
	if err != nil {
		return HeadingDefinition{}, 0, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := tx.QueryRow(ctx, `
INSERT INTO payroll.headings (
  id, tenant_id, name, heading_type, rule, duration_unit, taxable, absent_days_impact, hourly_source, sort_order, created_at, updated_at
)
VALUES (
  COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()),
  $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, now(), now()
)
ON CONFLICT (id)
DO UPDATE SET
  name = EXCLUDED.name,
  heading_type = EXCLUDED.heading_type,
  rule = EXCLUDED.rule,
  duration_unit = EXCLUDED.duration_unit,
  taxable = EXCLUDED.taxable,
  absent_days_impact = EXCLUDED.absent_days_impact,
  hourly_source = EXCLUDED.hourly_source,
  sort_order = EXCLUDED.sort_order,
  updated_at = now()
RETURNING id::text
`, h.ID, h.Organization, h.Name, string(h.Type), h.Rule, string(h.DurationUnit), h.Taxable, h.AbsentDaysImpact, string(h.HourlySource), h.Order).Scan(&h.ID); err != nil {
		return HeadingDefinition{}, 0, err
	}

	revision, err := bumpRevisionTx(ctx, tx, h.Organization)
	if err != nil {
		return HeadingDefinition{}, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return HeadingDefinition{}, 0, err
	}
	return h, revision, nil
}

func (s *PGStore) DeleteHeading(ctx context.Context, org string, headingID string) (int64, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, `
DELETE FROM payroll.headings WHERE tenant_id = $1::uuid AND id = $2::uuid
`, org, headingID)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, httperr.NewNotFound("heading " + headingID + " not found")
	}
	revision, err := bumpRevisionTx(ctx, tx, org)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return revision, nil
}

func (s *PGStore) ConfigRevision(ctx context.Context, org string) (int64, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	revision, err := configRevisionTx(ctx, tx, org)
	if err != nil {
		return 0, err
	}
	return revision, tx.Commit(ctx)
}

func (s *PGStore) CreatePayPeriod(ctx context.Context, p PayPeriod) (PayPeriod, error) {
	tx, err := s.begin(ctx, p.Organization)
	if err != nil {
		return PayPeriod{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if p.Status == "" {
		p.Status = StatusGenerated
	}
	if err := tx.QueryRow(ctx, `
INSERT INTO payroll.pay_periods (
  id, tenant_id, start_date, end_date_exclusive, status, config_revision, created_at, updated_at
)
VALUES (
  COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()),
  $2::uuid, $3::date, $4::date, $5, $6, now(), now()
)
RETURNING id::text
`, p.ID, p.Organization, p.StartDate, p.EndDateExclusive, string(p.Status), p.ConfigRevision).Scan(&p.ID); err != nil {
		return PayPeriod{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return PayPeriod{}, err
	}
	return p, nil
}

func (s *PGStore) GetPayPeriod(ctx context.Context, org string, periodID string) (PayPeriod, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return PayPeriod{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	p, err := getPayPeriodTx(ctx, tx, org, periodID)
	if err != nil {
		return PayPeriod{}, err
	}
	return p, tx.Commit(ctx)
}

func getPayPeriodTx(ctx context.Context, tx pgx.Tx, org, periodID string) (PayPeriod, error) {
	p := PayPeriod{Organization: org}
	var status string
	err := tx.QueryRow(ctx, `
SELECT id::text, start_date::text, end_date_exclusive::text, status, config_revision
FROM payroll.pay_periods
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, org, periodID).Scan(&p.ID, &p.StartDate, &p.EndDateExclusive, &status, &p.ConfigRevision)
	if errors.Is(err, pgx.ErrNoRows) {
		return PayPeriod{}, httperr.NewNotFound("pay period " + periodID + " not found")
	}
	if err != nil {
		return PayPeriod{}, err
	}
	p.Status = PeriodStatus(status)
	return p, nil
}

func (s *PGStore) SetPayPeriodStatus(ctx context.Context, org string, periodID string, status PeriodStatus) (PayPeriod, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return PayPeriod{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, `
UPDATE payroll.pay_periods
SET status = $3, updated_at = now()
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, org, periodID, string(status))
	if err != nil {
		return PayPeriod{}, err
	}
	if tag.RowsAffected() == 0 {
		return PayPeriod{}, httperr.NewNotFound("pay period " + periodID + " not found")
	}
	p, err := getPayPeriodTx(ctx, tx, org, periodID)
	if err != nil {
		return PayPeriod{}, err
	}
	return p, tx.Commit(ctx)
}

func (s *PGStore) ListEmployeeInputs(ctx context.Context, org string, periodID string) ([]EmployeeInput, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
SELECT employee_id, COALESCE(rebate::text, '0')
FROM payroll.period_employees
WHERE tenant_id = $1::uuid AND period_id = $2::uuid
ORDER BY employee_id
`, org, periodID)
	if err != nil {
		return nil, err
	}
	inputs := map[string]*EmployeeInput{}
	var order []string
	for rows.Next() {
		var emp, rebateRaw string
		if err := rows.Scan(&emp, &rebateRaw); err != nil {
			rows.Close()
			return nil, err
		}
		rebate, err := scanDecimal(rebateRaw)
		if err != nil {
			rows.Close()
			return nil, err
		}
		inputs[emp] = &EmployeeInput{Employee: emp, Rebate: rebate}
		order = append(order, emp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subRows, err := tx.Query(ctx, `
SELECT employee_id, sub_start::text, sub_end_exclusive::text, package_id::text
FROM payroll.employee_sub_ranges
WHERE tenant_id = $1::uuid AND period_id = $2::uuid
ORDER BY employee_id, sub_start
`, org, periodID)
	if err != nil {
		return nil, err
	}
	for subRows.Next() {
		var emp string
		var sub SubRange
		if err := subRows.Scan(&emp, &sub.Start, &sub.EndExclusive, &sub.PackageID); err != nil {
			subRows.Close()
			return nil, err
		}
		if in, ok := inputs[emp]; ok {
			in.SubRanges = append(in.SubRanges, sub)
		}
	}
	subRows.Close()
	if err := subRows.Err(); err != nil {
		return nil, err
	}

	metricRows, err := tx.Query(ctx, `
SELECT employee_id, name, value::text
FROM payroll.employee_metrics
WHERE tenant_id = $1::uuid AND period_id = $2::uuid
`, org, periodID)
	if err != nil {
		return nil, err
	}
	external := map[string]map[string]decimal.Decimal{}
	for metricRows.Next() {
		var emp, name, raw string
		if err := metricRows.Scan(&emp, &name, &raw); err != nil {
			metricRows.Close()
			return nil, err
		}
		v, err := scanDecimal(raw)
		if err != nil {
			metricRows.Close()
			return nil, err
		}
		if external[emp] == nil {
			external[emp] = map[string]decimal.Decimal{}
		}
		external[emp][name] = v
	}
	metricRows.Close()
	if err := metricRows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	out := make([]EmployeeInput, 0, len(order))
	for _, emp := range order {
		in := inputs[emp]
		in.External = NewMetricSet(external[emp])
		out = append(out, *in)
	}
	return out, nil
}

func (s *PGStore) SaveRecords(ctx context.Context, org string, records []EmployeePayrollRecord) error {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	for _, rec := range records {
		if err := saveRecordTx(ctx, tx, org, rec); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func saveRecordTx(ctx context.Context, tx pgx.Tx, org string, rec EmployeePayrollRecord) error {
	overrides, err := overridesToJSON(rec.Overrides)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO payroll.records (
  id, tenant_id, period_id, employee_id, overrides, overrides_version,
  annual_gross, total_tax, rebate, created_at, updated_at
)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5::jsonb, $6, $7::numeric, $8::numeric, $9::numeric, now(), now())
ON CONFLICT (tenant_id, period_id, employee_id)
DO UPDATE SET
  overrides = EXCLUDED.overrides,
  overrides_version = EXCLUDED.overrides_version,
  annual_gross = EXCLUDED.annual_gross,
  total_tax = EXCLUDED.total_tax,
  rebate = EXCLUDED.rebate,
  updated_at = now()
`, rec.ID, org, rec.PeriodID, rec.Employee, overrides, rec.Overrides.Version,
		rec.AnnualGross.String(), rec.TotalTax.String(), rec.Rebate.String()); err != nil {
		return err
	}

	// Rows and sub-ranges are replaced wholesale; they have no identity
	// beyond their record.
	var recordID string
	if err := tx.QueryRow(ctx, `
SELECT id::text FROM payroll.records
WHERE tenant_id = $1::uuid AND period_id = $2::uuid AND employee_id = $3
`, org, rec.PeriodID, rec.Employee).Scan(&recordID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM payroll.record_rows WHERE tenant_id = $1::uuid AND record_id = $2::uuid`, org, recordID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM payroll.record_sub_ranges WHERE tenant_id = $1::uuid AND record_id = $2::uuid`, org, recordID); err != nil {
		return err
	}
	for i, sub := range rec.SubRanges {
		if _, err := tx.Exec(ctx, `
INSERT INTO payroll.record_sub_ranges (tenant_id, record_id, ord, sub_start, sub_end_exclusive, package_id)
VALUES ($1::uuid, $2::uuid, $3, $4::date, $5::date, NULLIF($6, '')::uuid)
`, org, recordID, i, sub.Start, sub.EndExclusive, sub.PackageID); err != nil {
			return err
		}
	}
	for i, row := range rec.Rows {
		if _, err := tx.Exec(ctx, `
INSERT INTO payroll.record_rows (tenant_id, record_id, ord, heading, sub_start, sub_end_exclusive, package_id, amount)
VALUES ($1::uuid, $2::uuid, $3, $4, $5::date, $6::date, NULLIF($7, '')::uuid, $8::numeric)
`, org, recordID, i, row.Heading, row.SubRange.Start, row.SubRange.EndExclusive, row.SubRange.PackageID, row.Amount.String()); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) GetRecord(ctx context.Context, org string, recordID string) (EmployeePayrollRecord, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return EmployeePayrollRecord{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rec, err := getRecordTx(ctx, tx, org, `r.id = $2::uuid`, recordID)
	if err != nil {
		return EmployeePayrollRecord{}, err
	}
	return rec, tx.Commit(ctx)
}

func (s *PGStore) FindRecord(ctx context.Context, org string, periodID string, employee string) (EmployeePayrollRecord, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return EmployeePayrollRecord{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rec, err := getRecordTx(ctx, tx, org, `r.period_id = $2::uuid AND r.employee_id = $3`, periodID, employee)
	if err != nil {
		return EmployeePayrollRecord{}, err
	}
	return rec, tx.Commit(ctx)
}

func getRecordTx(ctx context.Context, tx pgx.Tx, org, where string, args ...any) (EmployeePayrollRecord, error) {
	rec := EmployeePayrollRecord{}
	var overridesRaw []byte
	var overridesVersion int
	var annualGross, totalTax, rebate string
	queryArgs := append([]any{org}, args...)
	err := tx.QueryRow(ctx, `
SELECT r.id::text, r.period_id::text, r.employee_id, r.overrides, r.overrides_version,
       r.annual_gross::text, r.total_tax::text, r.rebate::text
FROM payroll.records r
WHERE r.tenant_id = $1::uuid AND `+where, queryArgs...).
		Scan(&rec.ID, &rec.PeriodID, &rec.Employee, &overridesRaw, &overridesVersion, &annualGross, &totalTax, &rebate)
	if errors.Is(err, pgx.ErrNoRows) {
		return EmployeePayrollRecord{}, httperr.NewNotFound("payroll record not found")
	}
	if err != nil {
		return EmployeePayrollRecord{}, err
	}
	if rec.Overrides, err = overridesFromJSON(overridesRaw, overridesVersion); err != nil {
		return EmployeePayrollRecord{}, err
	}
	if rec.AnnualGross, err = scanDecimal(annualGross); err != nil {
		return EmployeePayrollRecord{}, err
	}
	if rec.TotalTax, err = scanDecimal(totalTax); err != nil {
		return EmployeePayrollRecord{}, err
	}
	if rec.Rebate, err = scanDecimal(rebate); err != nil {
		return EmployeePayrollRecord{}, err
	}
	if err := loadRecordDetailTx(ctx, tx, org, &rec); err != nil {
		return EmployeePayrollRecord{}, err
	}
	return rec, nil
}

func loadRecordDetailTx(ctx context.Context, tx pgx.Tx, org string, rec *EmployeePayrollRecord) error {
	subRows, err := tx.Query(ctx, `
SELECT sub_start::text, sub_end_exclusive::text, COALESCE(package_id::text, '')
FROM payroll.record_sub_ranges
WHERE tenant_id = $1::uuid AND record_id = $2::uuid
ORDER BY ord
`, org, rec.ID)
	if err != nil {
		return err
	}
	for subRows.Next() {
		var sub SubRange
		if err := subRows.Scan(&sub.Start, &sub.EndExclusive, &sub.PackageID); err != nil {
			subRows.Close()
			return err
		}
		rec.SubRanges = append(rec.SubRanges, sub)
	}
	subRows.Close()
	if err := subRows.Err(); err != nil {
		return err
	}

	rowRows, err := tx.Query(ctx, `
SELECT heading, sub_start::text, sub_end_exclusive::text, COALESCE(package_id::text, ''), amount::text
FROM payroll.record_rows
WHERE tenant_id = $1::uuid AND record_id = $2::uuid
ORDER BY ord
`, org, rec.ID)
	if err != nil {
		return err
	}
	for rowRows.Next() {
		var row HeadingResultRow
		var amount string
		if err := rowRows.Scan(&row.Heading, &row.SubRange.Start, &row.SubRange.EndExclusive, &row.SubRange.PackageID, &amount); err != nil {
			rowRows.Close()
			return err
		}
		if row.Amount, err = scanDecimal(amount); err != nil {
			rowRows.Close()
			return err
		}
		rec.Rows = append(rec.Rows, row)
	}
	rowRows.Close()
	return rowRows.Err()
}

func (s *PGStore) ListRecords(ctx context.Context, org string, periodID string) ([]EmployeePayrollRecord, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
SELECT id::text FROM payroll.records
WHERE tenant_id = $1::uuid AND period_id = $2::uuid
ORDER BY employee_id
`, org, periodID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]EmployeePayrollRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := getRecordTx(ctx, tx, org, `r.id = $2::uuid`, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, tx.Commit(ctx)
}

func (s *PGStore) DeleteRecord(ctx context.Context, org string, recordID string) error {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	for _, stmt := range []string{
		`DELETE FROM payroll.edit_history WHERE tenant_id = $1::uuid AND record_id = $2::uuid`,
		`DELETE FROM payroll.record_rows WHERE tenant_id = $1::uuid AND record_id = $2::uuid`,
		`DELETE FROM payroll.record_sub_ranges WHERE tenant_id = $1::uuid AND record_id = $2::uuid`,
	} {
		if _, err := tx.Exec(ctx, stmt, org, recordID); err != nil {
			return err
		}
	}
	tag, err := tx.Exec(ctx, `DELETE FROM payroll.records WHERE tenant_id = $1::uuid AND id = $2::uuid`, org, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httperr.NewNotFound("payroll record not found")
	}
	return tx.Commit(ctx)
}

func (s *PGStore) ApplyEdit(ctx context.Context, org string, record EmployeePayrollRecord, history []EditHistoryEntry) error {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := saveRecordTx(ctx, tx, org, record); err != nil {
		return err
	}
	for _, entry := range history {
		if _, err := tx.Exec(ctx, `
INSERT INTO payroll.edit_history (
  id, tenant_id, record_id, heading, old_amount, new_amount, actor, batch_id, remark, created_at
)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5::numeric, $6::numeric, $7, $8::uuid, $9, $10)
`, entry.ID, org, entry.RecordID, entry.Heading, entry.OldAmount.String(), entry.NewAmount.String(),
			entry.Actor, entry.BatchID, entry.Remark, entry.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) ListHistory(ctx context.Context, org string, recordID string) ([]EditHistoryEntry, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
SELECT id::text, record_id::text, heading, old_amount::text, new_amount::text, actor, batch_id::text, remark, created_at
FROM payroll.edit_history
WHERE tenant_id = $1::uuid AND record_id = $2::uuid
ORDER BY created_at, heading
`, org, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EditHistoryEntry
	for rows.Next() {
		var entry EditHistoryEntry
		var oldAmount, newAmount string
		if err := rows.Scan(&entry.ID, &entry.RecordID, &entry.Heading, &oldAmount, &newAmount,
			&entry.Actor, &entry.BatchID, &entry.Remark, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if entry.OldAmount, err = scanDecimal(oldAmount); err != nil {
			return nil, err
		}
		if entry.NewAmount, err = scanDecimal(newAmount); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *PGStore) RebateTotal(ctx context.Context, org string, employee string, fiscalYear string) (decimal.Decimal, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var raw string
	if err := tx.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0)::text
FROM payroll.rebate_adjustments
WHERE tenant_id = $1::uuid AND employee_id = $2 AND fiscal_year = $3
`, org, employee, fiscalYear).Scan(&raw); err != nil {
		return decimal.Decimal{}, err
	}
	total, err := scanDecimal(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return total, tx.Commit(ctx)
}
