package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// ListEventsHandler handles GET /api/admin/audit/events.
// Query params: tenant, operation, resourceType, outcome, pageSize, pageToken.
func ListEventsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ListFilter{
			TenantID:     r.URL.Query().Get("tenant"),
			Operation:    r.URL.Query().Get("operation"),
			ResourceType: r.URL.Query().Get("resourceType"),
			Outcome:      r.URL.Query().Get("outcome"),
		}

		pageSize := 20
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}
		pageToken := r.URL.Query().Get("pageToken")

		records, nextToken, total, err := store.ListFiltered(r.Context(), filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list audit events: %v", err))
			return
		}

		events := make([]eventResponse, len(records))
		for i, rec := range records {
			events[i] = recordToResponse(rec)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"events":        events,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// GetEventHandler handles GET /api/admin/audit/events/{eventId}.
func GetEventHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventId")
		if eventID == "" {
			writeError(w, http.StatusBadRequest, "missing event ID")
			return
		}

		record, err := store.GetByID(r.Context(), eventID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get audit event: %v", err))
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("audit event %q not found", eventID))
			return
		}

		writeJSON(w, http.StatusOK, recordToResponse(*record))
	}
}

type eventResponse struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenantId"`
	RequestID    string `json:"requestId,omitempty"`
	Operation    string `json:"operation"`
	FHIRVersion  string `json:"fhirVersion,omitempty"`
	ResourceType string `json:"resourceType,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	StatusCode   int    `json:"statusCode,omitempty"`
	Outcome      string `json:"outcome"`
	Detail       string `json:"detail,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

func recordToResponse(rec EventRecord) eventResponse {
	return eventResponse{
		ID:           rec.ID,
		TenantID:     rec.TenantID,
		RequestID:    rec.RequestID,
		Operation:    rec.Operation,
		FHIRVersion:  rec.FHIRVersion,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		UserID:       rec.UserID,
		ClientID:     rec.ClientID,
		StatusCode:   rec.StatusCode,
		Outcome:      rec.Outcome,
		Detail:       rec.Detail,
		CreatedAt:    rec.CreatedAt.Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
