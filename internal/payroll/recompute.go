package payroll

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/realhrms/payroll/pkg/moneyx"
	"github.com/realhrms/payroll/pkg/uuidv7"
)

// EditRequest applies one override batch (manual edit or one bulk
// import row) to an employee record.
type EditRequest struct {
	Period PayPeriod
	Record EmployeePayrollRecord
	// Overrides are this batch's pins: heading name to new value.
	Overrides map[string]decimal.Decimal
	AdHoc     []AdHocHeading
	External  MetricSet
	Actor     string
	Remark    string
	Now       time.Time
}

type EditResult struct {
	Record  EmployeePayrollRecord
	History []EditHistoryEntry
	BatchID string
}

// Recompute pins the overridden headings and re-evaluates exactly their
// transitive-dependents closure; every other heading keeps its stored
// rows untouched. Amounts are diffed before anything is reported
// changed, so re-applying an identical override batch yields an empty
// history.
func (c *Calculator) Recompute(ctx context.Context, req EditRequest) (EditResult, error) {
	for name := range req.Overrides {
		if _, ok := c.Config.HeadingByName(name); !ok {
			return EditResult{}, fmt.Errorf("unknown heading %q", name)
		}
	}
	for _, extra := range req.AdHoc {
		if extra.Type != TypeExtraAddition && extra.Type != TypeExtraDeduction {
			return EditResult{}, fmt.Errorf("ad hoc heading %q must be an extra addition or deduction", extra.Name)
		}
	}

	old := req.Record
	merged := old.Overrides.Clone()
	if merged.Values == nil {
		merged.Values = map[string]decimal.Decimal{}
	}
	changedOverrides := false
	for name, value := range req.Overrides {
		if prev, ok := merged.Values[name]; !ok || !moneyx.Equal(prev, value) {
			changedOverrides = true
		}
		merged.Values[name] = value
	}

	roots := make([]string, 0, len(req.Overrides))
	for name := range req.Overrides {
		roots = append(roots, VarNameForHeading(name))
	}
	closure := c.Config.Graph().Dependents(roots...)
	inScope := func(varName string) bool {
		if closure[varName] {
			return true
		}
		for _, r := range roots {
			if r == varName {
				return true
			}
		}
		return false
	}

	// Headings outside the recompute scope are pinned to their stored
	// totals so dependents inside the scope see current values, and the
	// synthetic aggregate is pinned unless the scope reaches it.
	pins := merged.Clone()
	for _, h := range c.Config.Headings() {
		varName := h.VarName()
		if inScope(varName) {
			continue
		}
		if _, alreadyPinned := pins.Values[h.Name]; alreadyPinned {
			continue
		}
		if total, ok := old.HeadingTotal(h.Name); ok {
			pins.Values[h.Name] = total
		}
	}
	external := req.External
	if !inScope(VarAnnualGross) {
		external = external.With(VarAnnualGross, old.AnnualGross)
	}

	fresh, err := c.Calculate(ctx, CalcRequest{
		Period:    req.Period,
		Employee:  old.Employee,
		SubRanges: old.SubRanges,
		Overrides: pins,
		External:  external,
		Rebate:    old.Rebate,
	})
	if err != nil {
		return EditResult{}, err
	}

	// Untouched headings keep their original sub-range breakdown, not
	// the single pinned row the evaluation produced for them.
	next := fresh
	next.ID = old.ID
	next.Overrides = merged
	rows := make([]HeadingResultRow, 0, len(fresh.Rows))
	for _, h := range c.Config.Headings() {
		if !inScope(h.VarName()) {
			if stored := old.rowsFor(h.Name); len(stored) > 0 {
				rows = append(rows, stored...)
				continue
			}
		}
		rows = append(rows, fresh.rowsFor(h.Name)...)
	}
	// Ad hoc rows persisted by earlier edits are not configured headings
	// and sit outside every closure; they survive unless this batch
	// replaces them by name.
	replaced := make(map[string]bool, len(req.AdHoc))
	for _, extra := range req.AdHoc {
		replaced[extra.Name] = true
	}
	for _, row := range old.Rows {
		if _, configured := c.Config.HeadingByName(row.Heading); configured || replaced[row.Heading] {
			continue
		}
		rows = append(rows, row)
	}
	fullPeriod := SubRange{Start: req.Period.StartDate, EndExclusive: req.Period.EndDateExclusive}
	for _, extra := range req.AdHoc {
		rows = append(rows, HeadingResultRow{Heading: extra.Name, SubRange: fullPeriod, Amount: moneyx.Round2(extra.Amount)})
	}
	next.Rows = rows

	history, err := diffHistory(old, next, req)
	if err != nil {
		return EditResult{}, err
	}
	if changedOverrides {
		next.Overrides.Version = old.Overrides.Version + 1
	}
	batchID := ""
	if len(history) > 0 {
		batchID = history[0].BatchID
	}

	return EditResult{Record: next, History: history, BatchID: batchID}, nil
}

func diffHistory(old, next EmployeePayrollRecord, req EditRequest) ([]EditHistoryEntry, error) {
	names := map[string]bool{}
	for _, row := range old.Rows {
		names[row.Heading] = true
	}
	for _, row := range next.Rows {
		names[row.Heading] = true
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var batchID string
	var out []EditHistoryEntry
	for _, name := range ordered {
		oldAmount, _ := old.HeadingTotal(name)
		newAmount, _ := next.HeadingTotal(name)
		if moneyx.Equal(oldAmount, newAmount) {
			continue
		}
		if batchID == "" {
			id, err := uuidv7.NewString()
			if err != nil {
				return nil, err
			}
			batchID = id
		}
		entryID, err := uuidv7.NewString()
		if err != nil {
			return nil, err
		}
		out = append(out, EditHistoryEntry{
			ID:        entryID,
			RecordID:  old.ID,
			Heading:   name,
			OldAmount: oldAmount,
			NewAmount: newAmount,
			Actor:     req.Actor,
			BatchID:   batchID,
			Remark:    req.Remark,
			CreatedAt: now,
		})
	}
	return out, nil
}
