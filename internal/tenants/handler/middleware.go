package handler

import (
	"net/http"
	"strings"

	"github.com/schemaplane/schemaplane-backend/internal/tenants/service"
	"github.com/schemaplane/schemaplane-backend/pkg/httputil"
	"github.com/schemaplane/schemaplane-backend/pkg/tenant"
)

// APIKeyAuth resolves the request's API key to a tenant and installs the
// tenant context for everything downstream, including schema routing.
// Keys are read from X-API-Key or a Bearer Authorization header.
func APIKeyAuth(svc *service.TenantService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					apiKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			record, err := svc.Authenticate(r.Context(), apiKey)
			if err != nil {
				httputil.Error(w, err)
				return
			}

			ctx := tenant.WithContext(r.Context(), svc.TenantContext(record))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
