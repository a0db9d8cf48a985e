package bulkimport

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/realhrms/payroll/internal/payroll"
	"github.com/realhrms/payroll/pkg/uuidv7"
)

// EditApplier is the recompute entry point one validated row is handed
// to. *payroll.Service satisfies it.
type EditApplier interface {
	ApplyEdit(ctx context.Context, org string, req payroll.EditRequest) (payroll.EditResult, error)
}

// Importer validates uploaded reconciliation workbooks and drives the
// recompute engine once per row as a cancellable background job.
type Importer struct {
	Applier EditApplier
	Finder  RecordFinder
	Jobs    JobStore

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	// wg lets tests wait for background processing.
	wg sync.WaitGroup
}

func NewImporter(applier EditApplier, finder RecordFinder, jobs JobStore) *Importer {
	return &Importer{
		Applier: applier,
		Finder:  finder,
		Jobs:    jobs,
		cancels: map[string]context.CancelFunc{},
	}
}

// Submit validates the whole file before anything is written. A file
// with any error is rejected as a Failed job carrying the annotated
// workbook; a clean file is queued and applied in the background.
func (imp *Importer) Submit(ctx context.Context, cfg *payroll.Config, period payroll.PayPeriod, data []byte, actor string) (Job, error) {
	jobID, err := uuidv7.NewString()
	if err != nil {
		return Job{}, err
	}
	now := time.Now().UTC()
	job := Job{
		ID:           jobID,
		Organization: cfg.Organization,
		PeriodID:     period.ID,
		Actor:        actor,
		State:        JobQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if !period.Editable() {
		return Job{}, &payroll.NotEditableError{PeriodID: period.ID, Status: period.Status}
	}
	if err := imp.Jobs.DeleteFailed(ctx, cfg.Organization, period.ID); err != nil {
		return Job{}, err
	}

	sheet, err := Parse(data)
	if err != nil {
		return Job{}, err
	}
	rows, rowErrs := Validate(ctx, imp.Finder, cfg, cfg.Organization, period.ID, sheet)
	if len(rowErrs) > 0 {
		annotated, annErr := Annotate(data, sheet, rowErrs)
		if annErr != nil {
			log.Printf("bulk import %s: annotate failed: %v", jobID, annErr)
		}
		job.State = JobFailed
		job.AnnotatedFile = annotated
		if err := imp.Jobs.SaveJob(ctx, job); err != nil {
			return Job{}, err
		}
		return job, &ValidationError{Rows: rowErrs}
	}

	job.Rows = len(rows)
	if err := imp.Jobs.SaveJob(ctx, job); err != nil {
		return Job{}, err
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	imp.mu.Lock()
	imp.cancels[jobID] = cancel
	imp.mu.Unlock()

	imp.wg.Add(1)
	go func() {
		defer imp.wg.Done()
		defer func() {
			imp.mu.Lock()
			delete(imp.cancels, jobID)
			imp.mu.Unlock()
			cancel()
		}()
		imp.process(jobCtx, job, cfg, period, rows)
	}()
	return job, nil
}

func (imp *Importer) process(ctx context.Context, job Job, cfg *payroll.Config, period payroll.PayPeriod, rows []ImportRow) {
	job.State = JobProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := imp.Jobs.SaveJob(ctx, job); err != nil {
		log.Printf("bulk import %s: save job: %v", job.ID, err)
	}

	failures := map[string]string{}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			failures["*"] = "import cancelled before all rows were applied"
			job.State = JobFailed
			job.Failures = failures
			imp.finish(job)
			return
		}
		_, err := imp.Applier.ApplyEdit(ctx, job.Organization, payroll.EditRequest{
			Period:    period,
			Record:    row.Record,
			Overrides: row.Overrides,
			Actor:     job.Actor,
			Remark:    "bulk reconciliation import " + job.ID,
		})
		if err != nil {
			failures[row.Employee] = err.Error()
		}
	}

	job.Failures = failures
	if len(failures) == 0 {
		job.State = JobCompleted
	} else {
		job.State = JobFailed
	}
	imp.finish(job)
}

func (imp *Importer) finish(job Job) {
	job.UpdatedAt = time.Now().UTC()
	if err := imp.Jobs.SaveJob(context.Background(), job); err != nil {
		log.Printf("bulk import %s: save job: %v", job.ID, err)
	}
}

// Cancel stops a queued or processing job. Already-applied rows stay
// applied; re-applying them in a resubmitted file is a no-op because
// the recompute engine diffs before writing.
func (imp *Importer) Cancel(jobID string) bool {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	cancel, ok := imp.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every background job has finished.
func (imp *Importer) Wait() { imp.wg.Wait() }
