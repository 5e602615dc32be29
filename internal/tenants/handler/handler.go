// Package handler exposes the tenant management API: provisioning,
// lifecycle transitions, API keys and fleet migrations.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schemaplane/schemaplane-backend/internal/migration"
	"github.com/schemaplane/schemaplane-backend/internal/registry"
	"github.com/schemaplane/schemaplane-backend/internal/tenants/service"
	"github.com/schemaplane/schemaplane-backend/pkg/errors"
	"github.com/schemaplane/schemaplane-backend/pkg/httputil"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/tenant"
)

// TenantHandler handles tenant management endpoints
type TenantHandler struct {
	service *service.TenantService
	logger  *logger.Logger
}

// NewTenantHandler creates a new tenant handler
func NewTenantHandler(svc *service.TenantService, log *logger.Logger) *TenantHandler {
	return &TenantHandler{
		service: svc,
		logger:  log,
	}
}

// Routes mounts the management API
func (h *TenantHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/tenants", h.Provision)
	r.Get("/tenants", h.List)
	r.Get("/tenants/{id}", h.Get)
	r.Delete("/tenants/{id}", h.Delete)
	r.Put("/tenants/{id}/status", h.SetStatus)
	r.Post("/tenants/{id}/archive", h.Archive)
	r.Post("/tenants/{id}/restore", h.Restore)
	r.Post("/tenants/{id}/api-key", h.RotateAPIKey)
	r.Post("/tenants/{id}/migrate", h.MigrateTenant)

	r.Post("/migrations/run", h.MigrateFleet)
	r.Get("/migrations/status", h.MigrationStatus)

	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(h.service))
		r.Get("/me", h.Me)
	})

	return r
}

// ProvisionRequest is the payload for creating a tenant
type ProvisionRequest struct {
	Slug string `json:"slug" validate:"required,min=2,max=48"`
}

// Provision creates a tenant end to end
func (h *TenantHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	record, err := h.service.Provision(r.Context(), req.Slug)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, record)
}

// List lists tenants, optionally filtered by status
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	var (
		records []registry.TenantRecord
		err     error
	)
	if status != "" {
		records, err = h.service.ListByStatus(r.Context(), registry.Status(status))
	} else {
		records, err = h.service.List(r.Context())
	}
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, records, &httputil.Meta{Total: int64(len(records))})
}

// Get returns a tenant by ID
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}

// Delete removes a tenant. ?hard=true drops the schema with all data.
func (h *TenantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hard := r.URL.Query().Get("hard") == "true"

	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), hard); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// SetStatusRequest is the payload for a status transition
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending active suspended disabled flagged_for_delete"`
}

// SetStatus transitions a tenant's lifecycle state
func (h *TenantHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.SetStatus(r.Context(), chi.URLParam(r, "id"), registry.Status(req.Status)); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Archive moves the tenant's schema aside, preserving data
func (h *TenantHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Archive(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// Restore brings an archived tenant back
func (h *TenantHandler) Restore(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Restore(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// RotateAPIKey generates a fresh API key. The plaintext key appears in this
// response only.
func (h *TenantHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	apiKey, err := h.service.RotateAPIKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"api_key": apiKey})
}

// MigrateTenant migrates a single tenant's schema
func (h *TenantHandler) MigrateTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MigrateTenant(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// MigrateFleetRequest is the payload for a fleet migration run
type MigrateFleetRequest struct {
	Policy string `json:"policy" validate:"omitempty,oneof=stop_all skip continue_others"`
}

// MigrateFleet migrates every tenant schema
func (h *TenantHandler) MigrateFleet(w http.ResponseWriter, r *http.Request) {
	var req MigrateFleetRequest
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
		if err := httputil.Validate(req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	policy := migration.StopAll
	if req.Policy != "" {
		parsed, err := migration.ParseFailurePolicy(req.Policy)
		if err != nil {
			httputil.Error(w, errors.BadRequest(err.Error()))
			return
		}
		policy = parsed
	}

	if err := h.service.MigrateFleet(r.Context(), policy); err != nil {
		var agg *migration.AggregateError
		if errors.As(err, &agg) {
			httputil.JSON(w, http.StatusMultiStatus, map[string]interface{}{
				"failed": agg.FailedSchemas(),
			})
			return
		}
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// MigrationStatus reports per-schema migration state for the fleet
func (h *TenantHandler) MigrationStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.service.Status(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, statuses)
}

// Me returns the tenant resolved from the request's API key
func (h *TenantHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, err := tenant.ID(r.Context())
	if err != nil {
		httputil.Error(w, errors.Unauthorized("no tenant in request"))
		return
	}

	record, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}
