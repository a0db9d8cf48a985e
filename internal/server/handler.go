package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/realhrms/payroll/internal/attendance"
	"github.com/realhrms/payroll/internal/bulkimport"
	"github.com/realhrms/payroll/internal/payroll"
	"github.com/realhrms/payroll/internal/routing"
)

type HandlerOptions struct {
	Store           payroll.Store
	Attendance      payroll.AttendanceSource
	TenancyResolver TenancyResolver
	Jobs            bulkimport.JobStore
}

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{})
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	allowlistPath := os.Getenv("ALLOWLIST_PATH")
	if allowlistPath == "" {
		p, err := defaultConfigPath("config/routing/allowlist.yaml")
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}

	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	store := opts.Store
	tenancyResolver := opts.TenancyResolver
	attendanceSource := opts.Attendance

	var pgPool *pgxpool.Pool
	if store == nil {
		pool, err := pgxpool.New(context.Background(), dbDSNFromEnv())
		if err != nil {
			return nil, err
		}
		pgPool = pool
		store = payroll.NewPGStore(pgPool)
		if attendanceSource == nil {
			attendanceSource = attendance.NewPGSource(pgPool, func(ctx context.Context) (string, bool) {
				t, ok := currentTenant(ctx)
				return t.ID, ok
			})
		}
	}
	if tenancyResolver == nil {
		if pgPool == nil {
			return nil, errors.New("server: missing tenancy resolver (set HandlerOptions.TenancyResolver or use the default PG store)")
		}
		tenancyResolver = newTenancyDBResolver(pgPool)
	}

	jobs := opts.Jobs
	if jobs == nil {
		if pgPool != nil {
			jobs = bulkimport.NewPGJobStore(pgPool)
		} else {
			jobs = bulkimport.NewMemoryJobStore()
		}
	}

	authorizer, err := loadAuthorizer()
	if err != nil {
		return nil, err
	}

	svc := payroll.NewService(store, attendanceSource, fiscalConstantsFromEnv())
	if n, err := strconv.Atoi(os.Getenv("PAYROLL_WORKERS")); err == nil && n > 0 {
		svc.Workers = n
	}
	api := &payrollAPI{
		svc:      svc,
		store:    store,
		jobs:     jobs,
		importer: bulkimport.NewImporter(svc, store, jobs),
	}

	router := routing.NewRouter(classifier)
	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	router.Handle(routing.RouteClassOps, http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))

	api.register(router, authorizer)

	return withTenancy(tenancyResolver, classifier, router), nil
}

// withTenancy resolves the request host to an organization and stores
// it in the context. Ops and static routes pass through untenanted.
func withTenancy(resolver TenancyResolver, classifier *routing.Classifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := classifier.Classify(r.URL.Path)
		if rc == routing.RouteClassOps || rc == routing.RouteClassStatic {
			next.ServeHTTP(w, r)
			return
		}

		tenant, ok, err := resolver.ResolveTenant(r.Context(), effectiveHost(r))
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "tenancy_error", "tenancy resolution failed")
			return
		}
		if !ok {
			routing.WriteError(w, r, rc, http.StatusNotFound, "unknown_tenant", "unknown tenant")
			return
		}
		next.ServeHTTP(w, r.WithContext(withTenant(r.Context(), tenant)))
	})
}

// NewMux panics on misconfiguration; main uses it as the single
// assembly point.
func NewMux() http.Handler {
	h, err := NewHandler()
	if err != nil {
		panic(err)
	}
	return h
}
