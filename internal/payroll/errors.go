package payroll

import "fmt"

// CalculationError marks one employee's calculation as failed, usually
// because a required context metric is missing. It is fatal for that
// employee's row only; a batch continues past it.
type CalculationError struct {
	Employee string
	Heading  string
	Reason   string
}

func (e *CalculationError) Error() string {
	msg := "calculation failed for employee " + e.Employee
	if e.Heading != "" {
		msg += ", heading " + e.Heading
	}
	return msg + ": " + e.Reason
}

// RecomputeConflict signals concurrent edit contention on one employee
// record. Nothing was written; the caller retries.
type RecomputeConflict struct {
	RecordID string
}

func (e *RecomputeConflict) Error() string {
	return "record " + e.RecordID + " is being edited concurrently"
}

// StaleGraphError aborts a generation run that started against a
// heading configuration which was mutated mid-run.
type StaleGraphError struct {
	Organization string
	Expected     int64
	Actual       int64
}

func (e *StaleGraphError) Error() string {
	return fmt.Sprintf("heading config of %s changed during generation (revision %d -> %d)",
		e.Organization, e.Expected, e.Actual)
}

// NotEditableError reports an edit attempt against a period whose
// status forbids it.
type NotEditableError struct {
	PeriodID string
	Status   PeriodStatus
}

func (e *NotEditableError) Error() string {
	return "pay period " + e.PeriodID + " is not editable in status " + string(e.Status)
}
