package bulkimport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/realhrms/payroll/pkg/httperr"
)

type JobState string

const (
	JobQueued     JobState = "Queued"
	JobProcessing JobState = "Processing"
	JobCompleted  JobState = "Completed"
	JobFailed     JobState = "Failed"
)

// Job is one bulk reconciliation upload. A job that failed validation
// never leaves Failed and carries the annotated workbook; a job that
// passed validation moves Queued -> Processing -> Completed/Failed.
// There is no automatic retry; admins resubmit a corrected file.
type Job struct {
	ID           string
	Organization string
	PeriodID     string
	Actor        string
	State        JobState
	Rows         int
	// Failures maps employee ids to the reason their row was not
	// applied after validation passed.
	Failures map[string]string
	// AnnotatedFile is the downloadable error workbook for uploads
	// rejected by validation.
	AnnotatedFile []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type JobStore interface {
	SaveJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, org string, jobID string) (Job, error)
	ListJobs(ctx context.Context, org string) ([]Job, error)
	// DeleteFailed drops the period's failed jobs and their annotated
	// workbooks. A resubmission replaces the prior failure artifacts.
	DeleteFailed(ctx context.Context, org string, periodID string) error
}

// MemoryJobStore keeps job status in process. Import history survives
// as long as the server does; the annotated workbooks are small enough
// to hold in memory.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[string]Job{}}
}

func (s *MemoryJobStore) SaveJob(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Organization+"/"+job.ID] = job
	return nil
}

func (s *MemoryJobStore) GetJob(ctx context.Context, org string, jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[org+"/"+jobID]
	if !ok {
		return Job{}, httperr.NewNotFound("import job " + jobID + " not found")
	}
	return job, nil
}

func (s *MemoryJobStore) DeleteFailed(ctx context.Context, org string, periodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, job := range s.jobs {
		if job.Organization == org && job.PeriodID == periodID && job.State == JobFailed {
			delete(s.jobs, key)
		}
	}
	return nil
}

func (s *MemoryJobStore) ListJobs(ctx context.Context, org string) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Job
	for _, job := range s.jobs {
		if job.Organization == org {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
