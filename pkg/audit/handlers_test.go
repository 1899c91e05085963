package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEventsHandler(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Append(ctx, event("default", "create", "Patient", "success", base)))
	require.NoError(t, store.Append(ctx, event("acme", "delete", "Patient", "failure", base.Add(time.Minute))))

	router := Router(store)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events?outcome=failure", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Events    []eventResponse `json:"events"`
		TotalSize int             `json:"totalSize"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalSize)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "acme", resp.Events[0].TenantID)
	assert.Equal(t, "delete", resp.Events[0].Operation)
}

func TestGetEventHandler(t *testing.T) {
	store := newTestStore(t)
	ev := event("default", "read", "Patient", "success", time.Now().UTC())
	require.NoError(t, store.Append(context.Background(), ev))

	router := Router(store)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/"+ev.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp eventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ev.ID, resp.ID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}
