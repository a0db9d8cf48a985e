package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/realhrms/payroll/internal/bulkimport"
	"github.com/realhrms/payroll/internal/payroll"
	"github.com/realhrms/payroll/internal/routing"
	"github.com/realhrms/payroll/internal/rule"
	"github.com/realhrms/payroll/pkg/authz"
	"github.com/realhrms/payroll/pkg/httperr"
)

const maxImportBytes = 10 << 20

// actorFromRequest identifies the user for history attribution. The
// gateway forwards the user id; role is the fallback when it is absent.
func actorFromRequest(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get("X-User")); u != "" {
		return u
	}
	return roleFromRequest(r)
}

type payrollAPI struct {
	svc      *payroll.Service
	store    payroll.Store
	jobs     bulkimport.JobStore
	importer *bulkimport.Importer
}

func (api *payrollAPI) register(router *routing.Router, authorizer *authz.Authorizer) {
	internalAPI := func(object, action string, h http.HandlerFunc) http.Handler {
		return requireCapability(authorizer, object, action, h)
	}

	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/headings",
		internalAPI(authz.ObjectPayrollHeadings, authz.ActionRead, api.listHeadings))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/headings",
		internalAPI(authz.ObjectPayrollHeadings, authz.ActionWrite, api.saveHeading))
	router.Handle(routing.RouteClassInternalAPI, http.MethodDelete, "/payroll/api/headings/{heading_id}",
		internalAPI(authz.ObjectPayrollHeadings, authz.ActionWrite, api.deleteHeading))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/rules/preview",
		internalAPI(authz.ObjectPayrollRules, authz.ActionRead, api.previewRule))

	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/periods",
		internalAPI(authz.ObjectPayrollPeriods, authz.ActionWrite, api.createPeriod))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/periods/{period_id}",
		internalAPI(authz.ObjectPayrollPeriods, authz.ActionRead, api.getPeriod))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/periods/{period_id}/generate",
		internalAPI(authz.ObjectPayrollPeriods, authz.ActionWrite, api.generate))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/periods/{period_id}/submit",
		internalAPI(authz.ObjectPayrollPeriods, authz.ActionWrite, api.transition(payroll.StatusApprovalPending)))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/periods/{period_id}/approve",
		internalAPI(authz.ObjectPayrollPeriods, authz.ActionAdmin, api.transition(payroll.StatusApproved)))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/periods/{period_id}/reject",
		internalAPI(authz.ObjectPayrollPeriods, authz.ActionAdmin, api.transition(payroll.StatusRejected)))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/periods/{period_id}/confirm",
		internalAPI(authz.ObjectPayrollPeriods, authz.ActionAdmin, api.transition(payroll.StatusConfirmed)))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/periods/{period_id}/records",
		internalAPI(authz.ObjectPayrollRecords, authz.ActionRead, api.listRecords))

	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/records/{record_id}",
		internalAPI(authz.ObjectPayrollRecords, authz.ActionRead, api.getRecord))
	router.Handle(routing.RouteClassInternalAPI, http.MethodDelete, "/payroll/api/records/{record_id}",
		internalAPI(authz.ObjectPayrollRecords, authz.ActionAdmin, api.deleteRecord))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/records/{record_id}/history",
		internalAPI(authz.ObjectPayrollRecords, authz.ActionRead, api.listHistory))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/records/{record_id}/edits",
		internalAPI(authz.ObjectPayrollEdits, authz.ActionWrite, api.applyEdit))

	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/periods/{period_id}/import-template",
		internalAPI(authz.ObjectPayrollImports, authz.ActionRead, api.importTemplate))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/periods/{period_id}/export",
		internalAPI(authz.ObjectPayrollImports, authz.ActionRead, api.exportRecords))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/periods/{period_id}/imports",
		internalAPI(authz.ObjectPayrollImports, authz.ActionWrite, api.submitImport))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/imports",
		internalAPI(authz.ObjectPayrollImports, authz.ActionRead, api.listImports))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/imports/{job_id}",
		internalAPI(authz.ObjectPayrollImports, authz.ActionRead, api.getImport))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/payroll/api/imports/{job_id}/errors",
		internalAPI(authz.ObjectPayrollImports, authz.ActionRead, api.importErrorsFile))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/payroll/api/imports/{job_id}/cancel",
		internalAPI(authz.ObjectPayrollImports, authz.ActionWrite, api.cancelImport))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_json", "invalid json")
		return false
	}
	return true
}

// writeDomainError maps engine errors to the API error envelope.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *rule.ConfigurationError
	if errors.As(err, &cfgErr) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "configuration_error", cfgErr.Error())
		return
	}
	var calcErr *payroll.CalculationError
	if errors.As(err, &calcErr) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "calculation_error", calcErr.Error())
		return
	}
	var notEditable *payroll.NotEditableError
	if errors.As(err, &notEditable) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusConflict, "period_not_editable", notEditable.Error())
		return
	}
	var conflict *payroll.RecomputeConflict
	if errors.As(err, &conflict) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusConflict, "recompute_conflict", conflict.Error())
		return
	}
	var stale *payroll.StaleGraphError
	if errors.As(err, &stale) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusConflict, "stale_heading_config", stale.Error())
		return
	}
	if httperr.IsNotFound(err) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if httperr.IsConflict(err) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusConflict, "conflict", err.Error())
		return
	}
	if httperr.IsBadRequest(err) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_request", err.Error())
		return
	}
	routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "internal_error", "internal error")
}

type headingPayload struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Rule             string `json:"rule"`
	DurationUnit     string `json:"duration_unit,omitempty"`
	Taxable          *bool  `json:"taxable,omitempty"`
	AbsentDaysImpact *bool  `json:"absent_days_impact,omitempty"`
	HourlySource     string `json:"hourly_source,omitempty"`
	Order            int    `json:"order"`
	VarName          string `json:"var_name,omitempty"`
}

func headingToPayload(h payroll.HeadingDefinition) headingPayload {
	return headingPayload{
		ID:               h.ID,
		Name:             h.Name,
		Type:             string(h.Type),
		Rule:             h.Rule,
		DurationUnit:     string(h.DurationUnit),
		Taxable:          h.Taxable,
		AbsentDaysImpact: h.AbsentDaysImpact,
		HourlySource:     string(h.HourlySource),
		Order:            h.Order,
		VarName:          h.VarName(),
	}
}

func (api *payrollAPI) listHeadings(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	headings, revision, err := api.store.ListHeadings(r.Context(), tenant.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]headingPayload, 0, len(headings))
	for _, h := range headings {
		out = append(out, headingToPayload(h))
	}
	writeJSON(w, http.StatusOK, map[string]any{"headings": out, "config_revision": revision})
}

func (api *payrollAPI) saveHeading(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	var req headingPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	saved, err := api.svc.SaveHeading(r.Context(), payroll.HeadingDefinition{
		ID:               strings.TrimSpace(req.ID),
		Organization:     tenant.ID,
		Name:             strings.TrimSpace(req.Name),
		Type:             payroll.HeadingType(strings.TrimSpace(req.Type)),
		Rule:             req.Rule,
		DurationUnit:     payroll.DurationUnit(strings.TrimSpace(req.DurationUnit)),
		Taxable:          req.Taxable,
		AbsentDaysImpact: req.AbsentDaysImpact,
		HourlySource:     payroll.HourlySource(strings.TrimSpace(req.HourlySource)),
		Order:            req.Order,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, headingToPayload(saved))
}

func (api *payrollAPI) deleteHeading(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	if err := api.svc.DeleteHeading(r.Context(), tenant.ID, routing.PathParam(r, "heading_id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rulePreviewRequest struct {
	Rule string            `json:"rule"`
	Env  map[string]string `json:"env"`
}

// previewRule dry-runs a rule against caller-supplied variable values
// so admins can check an expression before saving it.
func (api *payrollAPI) previewRule(w http.ResponseWriter, r *http.Request) {
	var req rulePreviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	compiled, err := rule.Compile(req.Rule)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	env := map[string]decimal.Decimal{}
	for name, raw := range req.Env {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_env_value", "env value for "+name+" is not numeric")
			return
		}
		env[name] = v
	}
	value, err := compiled.Evaluate(func(name string) (decimal.Decimal, bool) {
		v, ok := env[name]
		return v, ok
	})
	if err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "evaluation_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"value":      value.String(),
		"references": compiled.References(),
	})
}

type periodPayload struct {
	ID               string `json:"id,omitempty"`
	StartDate        string `json:"start_date"`
	EndDateExclusive string `json:"end_date_exclusive"`
	Status           string `json:"status,omitempty"`
	ConfigRevision   int64  `json:"config_revision,omitempty"`
}

func periodToPayload(p payroll.PayPeriod) periodPayload {
	return periodPayload{
		ID:               p.ID,
		StartDate:        p.StartDate,
		EndDateExclusive: p.EndDateExclusive,
		Status:           string(p.Status),
		ConfigRevision:   p.ConfigRevision,
	}
}

func (api *payrollAPI) createPeriod(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	var req periodPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StartDate == "" || req.EndDateExclusive == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_period", "start_date and end_date_exclusive are required")
		return
	}
	created, err := api.store.CreatePayPeriod(r.Context(), payroll.PayPeriod{
		Organization:     tenant.ID,
		StartDate:        req.StartDate,
		EndDateExclusive: req.EndDateExclusive,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, periodToPayload(created))
}

func (api *payrollAPI) getPeriod(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	period, err := api.store.GetPayPeriod(r.Context(), tenant.ID, routing.PathParam(r, "period_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, periodToPayload(period))
}

func (api *payrollAPI) generate(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	result, err := api.svc.Generate(r.Context(), tenant.ID, routing.PathParam(r, "period_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":  len(result.Records),
		"failed":   result.Failed,
		"complete": result.Complete(),
	})
}

func (api *payrollAPI) transition(to payroll.PeriodStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, _ := currentTenant(r.Context())
		periodID := routing.PathParam(r, "period_id")

		var period payroll.PayPeriod
		var err error
		switch to {
		case payroll.StatusApprovalPending:
			period, err = api.svc.MarkReadyForApproval(r.Context(), tenant.ID, periodID)
		case payroll.StatusApproved:
			period, err = api.svc.Approve(r.Context(), tenant.ID, periodID)
		case payroll.StatusRejected:
			period, err = api.svc.Reject(r.Context(), tenant.ID, periodID)
		case payroll.StatusConfirmed:
			period, err = api.svc.Confirm(r.Context(), tenant.ID, periodID)
		default:
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "internal_error", "internal error")
			return
		}
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, periodToPayload(period))
	}
}

type rowPayload struct {
	Heading      string `json:"heading"`
	Start        string `json:"start"`
	EndExclusive string `json:"end_exclusive"`
	PackageID    string `json:"package_id,omitempty"`
	Amount       string `json:"amount"`
}

type recordPayload struct {
	ID               string       `json:"id"`
	PeriodID         string       `json:"period_id"`
	Employee         string       `json:"employee"`
	Rows             []rowPayload `json:"rows"`
	AnnualGross      string       `json:"annual_gross"`
	TotalTax         string       `json:"total_tax"`
	OverridesVersion int          `json:"overrides_version"`
}

func recordToPayload(rec payroll.EmployeePayrollRecord) recordPayload {
	rows := make([]rowPayload, 0, len(rec.Rows))
	for _, row := range rec.Rows {
		rows = append(rows, rowPayload{
			Heading:      row.Heading,
			Start:        row.SubRange.Start,
			EndExclusive: row.SubRange.EndExclusive,
			PackageID:    row.SubRange.PackageID,
			Amount:       row.Amount.String(),
		})
	}
	return recordPayload{
		ID:               rec.ID,
		PeriodID:         rec.PeriodID,
		Employee:         rec.Employee,
		Rows:             rows,
		AnnualGross:      rec.AnnualGross.String(),
		TotalTax:         rec.TotalTax.String(),
		OverridesVersion: rec.Overrides.Version,
	}
}

func (api *payrollAPI) listRecords(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	records, err := api.store.ListRecords(r.Context(), tenant.ID, routing.PathParam(r, "period_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]recordPayload, 0, len(records))
	for _, rec := range records {
		out = append(out, recordToPayload(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}

func (api *payrollAPI) getRecord(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	rec, err := api.store.GetRecord(r.Context(), tenant.ID, routing.PathParam(r, "record_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordToPayload(rec))
}

func (api *payrollAPI) deleteRecord(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	if err := api.store.DeleteRecord(r.Context(), tenant.ID, routing.PathParam(r, "record_id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type historyPayload struct {
	ID        string `json:"id"`
	Heading   string `json:"heading"`
	OldAmount string `json:"old_amount"`
	NewAmount string `json:"new_amount"`
	Actor     string `json:"actor"`
	BatchID   string `json:"batch_id"`
	Remark    string `json:"remark,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (api *payrollAPI) listHistory(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	entries, err := api.store.ListHistory(r.Context(), tenant.ID, routing.PathParam(r, "record_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]historyPayload, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyPayload{
			ID:        e.ID,
			Heading:   e.Heading,
			OldAmount: e.OldAmount.String(),
			NewAmount: e.NewAmount.String(),
			Actor:     e.Actor,
			BatchID:   e.BatchID,
			Remark:    e.Remark,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

type editPayload struct {
	Overrides map[string]string `json:"overrides"`
	AdHoc     []struct {
		Name   string `json:"name"`
		Type   string `json:"type"`
		Amount string `json:"amount"`
	} `json:"ad_hoc,omitempty"`
	Remark string `json:"remark,omitempty"`
}

func (api *payrollAPI) applyEdit(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	var req editPayload
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := api.store.GetRecord(r.Context(), tenant.ID, routing.PathParam(r, "record_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	period, err := api.store.GetPayPeriod(r.Context(), tenant.ID, rec.PeriodID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	overrides := make(map[string]decimal.Decimal, len(req.Overrides))
	for heading, raw := range req.Overrides {
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_amount", "amount for "+heading+" is not numeric")
			return
		}
		overrides[heading] = v
	}
	adHoc := make([]payroll.AdHocHeading, 0, len(req.AdHoc))
	for _, extra := range req.AdHoc {
		v, err := decimal.NewFromString(strings.TrimSpace(extra.Amount))
		if err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_amount", "amount for "+extra.Name+" is not numeric")
			return
		}
		adHoc = append(adHoc, payroll.AdHocHeading{
			Name:   strings.TrimSpace(extra.Name),
			Type:   payroll.HeadingType(strings.TrimSpace(extra.Type)),
			Amount: v,
		})
	}

	result, err := api.svc.ApplyEdit(r.Context(), tenant.ID, payroll.EditRequest{
		Period:    period,
		Record:    rec,
		Overrides: overrides,
		AdHoc:     adHoc,
		Actor:     actorFromRequest(r),
		Remark:    strings.TrimSpace(req.Remark),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record":          recordToPayload(result.Record),
		"history_entries": len(result.History),
		"batch_id":        result.BatchID,
	})
}

func (api *payrollAPI) importTemplate(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	cfg, err := api.svc.ConfigFor(r.Context(), tenant.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	data, err := bulkimport.Template(cfg)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeWorkbook(w, "payroll-import-template.xlsx", data)
}

func (api *payrollAPI) exportRecords(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	cfg, err := api.svc.ConfigFor(r.Context(), tenant.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	records, err := api.store.ListRecords(r.Context(), tenant.ID, routing.PathParam(r, "period_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	data, err := bulkimport.Export(cfg, records)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeWorkbook(w, "payroll-export.xlsx", data)
}

func writeWorkbook(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (api *payrollAPI) submitImport(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	periodID := routing.PathParam(r, "period_id")

	period, err := api.store.GetPayPeriod(r.Context(), tenant.ID, periodID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	cfg, err := api.svc.ConfigFor(r.Context(), tenant.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_upload", "multipart form required")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_upload", "file field required")
		return
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(io.LimitReader(file, maxImportBytes))
	if err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_upload", "unreadable upload")
		return
	}

	job, err := api.importer.Submit(r.Context(), cfg, period, data, actorFromRequest(r))
	if err != nil {
		var verr *bulkimport.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"job_id": job.ID,
				"state":  job.State,
				"errors": verr.Rows,
			})
			return
		}
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToPayload(job))
}

type jobPayload struct {
	ID        string            `json:"id"`
	PeriodID  string            `json:"period_id"`
	State     string            `json:"state"`
	Rows      int               `json:"rows"`
	Failures  map[string]string `json:"failures,omitempty"`
	HasErrors bool              `json:"has_error_file"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

func jobToPayload(job bulkimport.Job) jobPayload {
	return jobPayload{
		ID:        job.ID,
		PeriodID:  job.PeriodID,
		State:     string(job.State),
		Rows:      job.Rows,
		Failures:  job.Failures,
		HasErrors: len(job.AnnotatedFile) > 0,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (api *payrollAPI) listImports(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	jobs, err := api.jobs.ListJobs(r.Context(), tenant.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]jobPayload, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobToPayload(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (api *payrollAPI) getImport(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	job, err := api.jobs.GetJob(r.Context(), tenant.ID, routing.PathParam(r, "job_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToPayload(job))
}

func (api *payrollAPI) importErrorsFile(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	job, err := api.jobs.GetJob(r.Context(), tenant.ID, routing.PathParam(r, "job_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if len(job.AnnotatedFile) == 0 {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "not_found", "job has no error workbook")
		return
	}
	writeWorkbook(w, "payroll-import-errors.xlsx", job.AnnotatedFile)
}

func (api *payrollAPI) cancelImport(w http.ResponseWriter, r *http.Request) {
	tenant, _ := currentTenant(r.Context())
	jobID := routing.PathParam(r, "job_id")
	if _, err := api.jobs.GetJob(r.Context(), tenant.ID, jobID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if !api.importer.Cancel(jobID) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusConflict, "not_cancellable", "job already finished")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
