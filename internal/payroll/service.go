package payroll

import (
	"context"
	"fmt"
	"log"

	"github.com/realhrms/payroll/internal/rule"
	"github.com/realhrms/payroll/pkg/httperr"
	"github.com/realhrms/payroll/pkg/uuidv7"
)

// Service is the transactional facade over the engine: it loads heading
// configuration through the revision-stamped graph cache, gates edits on
// period status, and serializes concurrent edits per record.
type Service struct {
	Store      Store
	Attendance AttendanceSource
	// Constants holds organization fiscal constants, e.g.
	// __PERIODS_PER_YEAR__ for organizations that do not pay monthly.
	Constants MetricSet
	Workers   int

	resolver *rule.Resolver
	locks    *recordLocks
}

func NewService(store Store, attendance AttendanceSource, constants MetricSet) *Service {
	return &Service{
		Store:      store,
		Attendance: attendance,
		Constants:  constants,
		resolver:   rule.NewResolver(),
		locks:      newRecordLocks(),
	}
}

// ConfigFor loads and compiles the organization's current heading
// configuration. The dependency graph is cached per revision, so
// repeated calls between configuration changes reuse it.
func (s *Service) ConfigFor(ctx context.Context, org string) (*Config, error) {
	headings, revision, err := s.Store.ListHeadings(ctx, org)
	if err != nil {
		return nil, err
	}
	return NewCachedConfig(org, revision, headings, s.resolver)
}

// SaveHeading validates the heading against the full configuration
// before anything is persisted: the rule must parse, every reference
// must resolve, and the graph must stay acyclic. A heading that saves
// cannot fail these checks at calculation time.
func (s *Service) SaveHeading(ctx context.Context, h HeadingDefinition) (HeadingDefinition, error) {
	existing, revision, err := s.Store.ListHeadings(ctx, h.Organization)
	if err != nil {
		return HeadingDefinition{}, err
	}
	candidate := make([]HeadingDefinition, 0, len(existing)+1)
	replaced := false
	for _, cur := range existing {
		if cur.ID == h.ID && h.ID != "" {
			candidate = append(candidate, h)
			replaced = true
			continue
		}
		candidate = append(candidate, cur)
	}
	if !replaced {
		candidate = append(candidate, h)
	}
	if _, err := NewConfig(h.Organization, revision+1, candidate); err != nil {
		return HeadingDefinition{}, err
	}

	saved, _, err := s.Store.SaveHeading(ctx, h)
	if err != nil {
		return HeadingDefinition{}, err
	}
	s.resolver.Invalidate(h.Organization)
	return saved, nil
}

// DeleteHeading refuses to remove a heading other rules still reference.
func (s *Service) DeleteHeading(ctx context.Context, org string, headingID string) error {
	existing, revision, err := s.Store.ListHeadings(ctx, org)
	if err != nil {
		return err
	}
	remaining := make([]HeadingDefinition, 0, len(existing))
	for _, cur := range existing {
		if cur.ID == headingID {
			continue
		}
		remaining = append(remaining, cur)
	}
	if len(remaining) == len(existing) {
		return httperr.NewNotFound("heading " + headingID + " not found")
	}
	if _, err := NewConfig(org, revision+1, remaining); err != nil {
		return err
	}

	if _, err := s.Store.DeleteHeading(ctx, org, headingID); err != nil {
		return err
	}
	s.resolver.Invalidate(org)
	return nil
}

// Generate calculates every enrolled employee of the period with a
// bounded worker pool and persists the resulting records. Per-employee
// calculation failures are reported, not fatal; a heading configuration
// change mid-run aborts the whole run with nothing persisted.
func (s *Service) Generate(ctx context.Context, org string, periodID string) (GenerateResult, error) {
	period, err := s.Store.GetPayPeriod(ctx, org, periodID)
	if err != nil {
		return GenerateResult{}, err
	}
	if !period.Editable() {
		return GenerateResult{}, &NotEditableError{PeriodID: period.ID, Status: period.Status}
	}

	cfg, err := s.ConfigFor(ctx, org)
	if err != nil {
		return GenerateResult{}, err
	}
	inputs, err := s.Store.ListEmployeeInputs(ctx, org, periodID)
	if err != nil {
		return GenerateResult{}, err
	}
	fiscalYear := fiscalYearOf(period.StartDate)
	for i := range inputs {
		adjusted, err := s.Store.RebateTotal(ctx, org, inputs[i].Employee, fiscalYear)
		if err != nil {
			return GenerateResult{}, err
		}
		inputs[i].Rebate = inputs[i].Rebate.Add(adjusted)
	}

	gen := &Generator{
		Calc:    &Calculator{Config: cfg, Attendance: s.Attendance, Constants: s.Constants},
		Workers: s.Workers,
		CurrentRevision: func(ctx context.Context) (int64, error) {
			return s.Store.ConfigRevision(ctx, org)
		},
	}
	result, err := gen.Run(ctx, period, inputs)
	if err != nil {
		return GenerateResult{}, err
	}
	for emp, reason := range result.Failed {
		log.Printf("payroll generate org=%s period=%s employee=%s failed: %s", org, periodID, emp, reason)
	}

	for i := range result.Records {
		if result.Records[i].ID == "" {
			id, err := uuidv7.NewString()
			if err != nil {
				return GenerateResult{}, err
			}
			result.Records[i].ID = id
		}
	}
	if err := s.Store.SaveRecords(ctx, org, result.Records); err != nil {
		return GenerateResult{}, err
	}
	if _, err := s.Store.SetPayPeriodStatus(ctx, org, periodID, StatusGenerated); err != nil {
		return GenerateResult{}, err
	}
	return result, nil
}

// fiscalYearOf keys rebate adjustments by the calendar year the period
// starts in.
func fiscalYearOf(startDate string) string {
	if len(startDate) < 4 {
		return startDate
	}
	return startDate[:4]
}

// MarkReadyForApproval moves a generated period into the approval flow.
// The barrier: every enrolled employee must have a record.
func (s *Service) MarkReadyForApproval(ctx context.Context, org string, periodID string) (PayPeriod, error) {
	period, err := s.Store.GetPayPeriod(ctx, org, periodID)
	if err != nil {
		return PayPeriod{}, err
	}
	if !period.Editable() {
		return PayPeriod{}, &NotEditableError{PeriodID: period.ID, Status: period.Status}
	}

	inputs, err := s.Store.ListEmployeeInputs(ctx, org, periodID)
	if err != nil {
		return PayPeriod{}, err
	}
	records, err := s.Store.ListRecords(ctx, org, periodID)
	if err != nil {
		return PayPeriod{}, err
	}
	have := make(map[string]bool, len(records))
	for _, rec := range records {
		have[rec.Employee] = true
	}
	for _, in := range inputs {
		if !have[in.Employee] {
			return PayPeriod{}, httperr.NewConflict("employee " + in.Employee + " has no payroll record; regenerate before approval")
		}
	}
	return s.Store.SetPayPeriodStatus(ctx, org, periodID, StatusApprovalPending)
}

func (s *Service) Approve(ctx context.Context, org string, periodID string) (PayPeriod, error) {
	return s.transition(ctx, org, periodID, StatusApprovalPending, StatusApproved)
}

func (s *Service) Reject(ctx context.Context, org string, periodID string) (PayPeriod, error) {
	return s.transition(ctx, org, periodID, StatusApprovalPending, StatusRejected)
}

func (s *Service) Confirm(ctx context.Context, org string, periodID string) (PayPeriod, error) {
	return s.transition(ctx, org, periodID, StatusApproved, StatusConfirmed)
}

func (s *Service) transition(ctx context.Context, org, periodID string, from, to PeriodStatus) (PayPeriod, error) {
	period, err := s.Store.GetPayPeriod(ctx, org, periodID)
	if err != nil {
		return PayPeriod{}, err
	}
	if period.Status != from {
		return PayPeriod{}, httperr.NewConflict(fmt.Sprintf("pay period %s is %s, expected %s", periodID, period.Status, from))
	}
	return s.Store.SetPayPeriodStatus(ctx, org, periodID, to)
}

// ApplyEdit recomputes one record under an override batch and persists
// the result with its history in one transaction. Concurrent edits of
// the same record are rejected, not queued.
func (s *Service) ApplyEdit(ctx context.Context, org string, req EditRequest) (EditResult, error) {
	if !req.Period.Editable() {
		return EditResult{}, &NotEditableError{PeriodID: req.Period.ID, Status: req.Period.Status}
	}

	release, ok := s.locks.tryAcquire(req.Record.ID)
	if !ok {
		return EditResult{}, &RecomputeConflict{RecordID: req.Record.ID}
	}
	defer release()

	cfg, err := s.ConfigFor(ctx, org)
	if err != nil {
		return EditResult{}, err
	}
	calc := &Calculator{Config: cfg, Attendance: s.Attendance, Constants: s.Constants}
	result, err := calc.Recompute(ctx, req)
	if err != nil {
		return EditResult{}, err
	}

	// An edit that changed nothing writes nothing.
	if len(result.History) == 0 && result.Record.Overrides.Version == req.Record.Overrides.Version {
		return result, nil
	}
	if err := s.Store.ApplyEdit(ctx, org, result.Record, result.History); err != nil {
		return EditResult{}, err
	}
	return result, nil
}
