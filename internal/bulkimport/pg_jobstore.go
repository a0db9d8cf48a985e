package bulkimport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/realhrms/payroll/pkg/httperr"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGJobStore persists import jobs and their annotated workbooks so the
// failure history survives restarts. Every call is one transaction with
// the tenant GUC set first.
type PGJobStore struct {
	pool pgBeginner
}

func NewPGJobStore(pool pgBeginner) *PGJobStore {
	return &PGJobStore{pool: pool}
}

func (s *PGJobStore) begin(ctx context.Context, org string) (pgx.Tx, error) {
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

func (s *PGJobStore) SaveJob(ctx context.Context, job Job) error {
	tx, err := s.begin(ctx, job.Organization)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	failures, err := json.Marshal(job.Failures)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO payroll.import_jobs (
  id, tenant_id, period_id, actor, state, row_count, failures, annotated_file, created_at, updated_at
)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id)
DO UPDATE SET state = EXCLUDED.state, row_count = EXCLUDED.row_count,
  failures = EXCLUDED.failures, annotated_file = EXCLUDED.annotated_file,
  updated_at = EXCLUDED.updated_at
`, job.ID, job.Organization, job.PeriodID, job.Actor, string(job.State),
		job.Rows, failures, job.AnnotatedFile, job.CreatedAt, job.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGJobStore) GetJob(ctx context.Context, org string, jobID string) (Job, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return Job{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	job, err := scanJob(tx.QueryRow(ctx, `
SELECT id::text, tenant_id::text, period_id::text, actor, state, row_count, failures, annotated_file, created_at, updated_at
FROM payroll.import_jobs
WHERE tenant_id = $1::uuid AND id = $2::uuid
`, org, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, httperr.NewNotFound("import job " + jobID + " not found")
	}
	if err != nil {
		return Job{}, err
	}
	return job, tx.Commit(ctx)
}

func (s *PGJobStore) ListJobs(ctx context.Context, org string) ([]Job, error) {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
SELECT id::text, tenant_id::text, period_id::text, actor, state, row_count, failures, annotated_file, created_at, updated_at
FROM payroll.import_jobs
WHERE tenant_id = $1::uuid
ORDER BY created_at DESC
`, org)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *PGJobStore) DeleteFailed(ctx context.Context, org string, periodID string) error {
	tx, err := s.begin(ctx, org)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
DELETE FROM payroll.import_jobs
WHERE tenant_id = $1::uuid AND period_id = $2::uuid AND state = $3
`, org, periodID, string(JobFailed)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanJob(row pgx.Row) (Job, error) {
	var job Job
	var state string
	var failures []byte
	if err := row.Scan(&job.ID, &job.Organization, &job.PeriodID, &job.Actor, &state,
		&job.Rows, &failures, &job.AnnotatedFile, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return Job{}, err
	}
	job.State = JobState(state)
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &job.Failures); err != nil {
			return Job{}, err
		}
	}
	return job, nil
}
