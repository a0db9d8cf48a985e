package server

import (
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/realhrms/payroll/internal/routing"
	"github.com/realhrms/payroll/pkg/authz"
)

func loadAuthorizer() (*authz.Authorizer, error) {
	modelPath := os.Getenv("AUTHZ_MODEL_PATH")
	if modelPath == "" {
		p, err := defaultConfigPath("config/access/model.conf")
		if err != nil {
			return nil, err
		}
		modelPath = p
	}

	policyPath := os.Getenv("AUTHZ_POLICY_PATH")
	if policyPath == "" {
		p, err := defaultConfigPath("config/access/policy.csv")
		if err != nil {
			return nil, err
		}
		policyPath = p
	}

	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}

	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

func defaultConfigPath(rel string) (string, error) {
	path := rel
	for i := 0; i < 8; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: config file not found: " + rel)
}

// roleFromRequest reads the caller's role slug. The gateway in front of
// this service authenticates the user and forwards the role; requests
// without one act as the anonymous role.
func roleFromRequest(r *http.Request) string {
	role := strings.TrimSpace(strings.ToLower(r.Header.Get("X-Role")))
	if role == "" {
		return authz.RoleAnonymous
	}
	return role
}

// requireCapability wraps a handler with a casbin check in the tenant's
// domain. Shadow mode logs denials and lets the request through.
func requireCapability(authorizer *authz.Authorizer, object, action string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := currentTenant(r.Context())
		if !ok {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
			return
		}
		subject := authz.SubjectFromRoleSlug(roleFromRequest(r))
		domain := authz.DomainFromTenantID(tenant.ID)

		allowed, enforced, err := authorizer.Authorize(subject, domain, object, action)
		if err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "authz_error", "authorization error")
			return
		}
		if !allowed {
			if enforced {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusForbidden, "forbidden", "forbidden")
				return
			}
			log.Printf("authz shadow deny subject=%s domain=%s object=%s action=%s", subject, domain, object, action)
		}
		h.ServeHTTP(w, r)
	})
}
