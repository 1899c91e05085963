// Package admin exposes the management API: tenant administration and
// plugin introspection, mounted under /api/admin.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openmedrec/fhirgate/pkg/tenancy"
)

// TenantHandlers serves tenant CRUD. Every mutation invalidates the
// resolver's mapping cache for the touched GUID so the next request
// observes the change.
type TenantHandlers struct {
	store    *tenancy.Store
	resolver *tenancy.Resolver
}

// NewTenantHandlers creates the tenant admin handlers.
func NewTenantHandlers(store *tenancy.Store, resolver *tenancy.Resolver) *TenantHandlers {
	return &TenantHandlers{store: store, resolver: resolver}
}

// List handles GET /api/admin/tenants.
func (h *TenantHandlers) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list tenants: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenants":   recs,
		"totalSize": len(recs),
	})
}

// Get handles GET /api/admin/tenants/{tenantId}.
func (h *TenantHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantId")
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get tenant: %v", err))
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("tenant %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type tenantRequest struct {
	ExternalID  string `json:"externalId"`
	InternalID  string `json:"internalId"`
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
	Enabled     *bool  `json:"enabled"`
	Settings    string `json:"settings"`
}

// Create handles POST /api/admin/tenants. An omitted externalId is
// generated; an omitted enabled flag defaults to true.
func (h *TenantHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req tenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.InternalID == "" {
		writeError(w, http.StatusBadRequest, "internalId is required")
		return
	}
	if req.ExternalID == "" {
		req.ExternalID = uuid.New().String()
	} else if _, err := uuid.Parse(req.ExternalID); err != nil {
		writeError(w, http.StatusBadRequest, "externalId must be a valid GUID")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rec := &tenancy.TenantRecord{
		ExternalID:  req.ExternalID,
		InternalID:  req.InternalID,
		Code:        req.Code,
		DisplayName: req.DisplayName,
		Enabled:     enabled,
		Settings:    req.Settings,
	}
	if err := h.store.Create(r.Context(), rec); err != nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("failed to create tenant: %v", err))
		return
	}
	h.resolver.InvalidateCache(rec.ExternalID)
	writeJSON(w, http.StatusCreated, rec)
}

// Update handles PUT /api/admin/tenants/{tenantId}.
func (h *TenantHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantId")
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get tenant: %v", err))
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("tenant %q not found", id))
		return
	}

	var req tenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.InternalID != "" {
		rec.InternalID = req.InternalID
	}
	if req.Code != "" {
		rec.Code = req.Code
	}
	if req.DisplayName != "" {
		rec.DisplayName = req.DisplayName
	}
	if req.Settings != "" {
		rec.Settings = req.Settings
	}
	if req.Enabled != nil {
		rec.Enabled = *req.Enabled
	}

	if err := h.store.Update(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to update tenant: %v", err))
		return
	}
	h.resolver.InvalidateCache(id)
	writeJSON(w, http.StatusOK, rec)
}

// SetEnabled handles POST /api/admin/tenants/{tenantId}/enable and
// .../disable.
func (h *TenantHandlers) SetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "tenantId")
		ok, err := h.store.SetEnabled(r.Context(), id, enabled)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to update tenant: %v", err))
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("tenant %q not found", id))
			return
		}
		h.resolver.InvalidateCache(id)
		writeJSON(w, http.StatusOK, map[string]any{"externalId": id, "enabled": enabled})
	}
}

// Delete handles DELETE /api/admin/tenants/{tenantId}.
func (h *TenantHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantId")
	ok, err := h.store.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to delete tenant: %v", err))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("tenant %q not found", id))
		return
	}
	h.resolver.InvalidateCache(id)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
