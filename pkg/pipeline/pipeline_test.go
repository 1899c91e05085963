package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openmedrec/fhirgate/pkg/conformance"
	"github.com/openmedrec/fhirgate/pkg/fhirversion"
	"github.com/openmedrec/fhirgate/pkg/plugins"
	"github.com/openmedrec/fhirgate/pkg/registry"
	"github.com/openmedrec/fhirgate/pkg/service"
	"github.com/openmedrec/fhirgate/pkg/storage"
	"github.com/openmedrec/fhirgate/pkg/tenancy"
	"github.com/openmedrec/fhirgate/pkg/validation"
)

type testFixture struct {
	handler  *Handler
	registry *plugins.Registry
}

func newTestFixture(t *testing.T, extra ...plugins.Plugin) *testFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	cfg := &registry.Config{
		Resources: []registry.ResourceConfig{
			{Type: "Patient", Versions: []fhirversion.Version{fhirversion.R5, fhirversion.R4B}},
			{Type: "Observation"},
		},
	}
	require.NoError(t, cfg.Validate())
	reg := registry.New(cfg)

	require.NoError(t, storage.Bootstrap(db, reg))
	router, err := storage.NewRouter(db, reg)
	require.NoError(t, err)

	engine := conformance.NewDefaultEngine()
	svc := service.New(router, reg, engine,
		validation.NewProfileChecker(validation.ProfileConfig{}, nil, nil),
		validation.NewSearchParamValidator(nil),
		service.Options{}, nil)

	store := tenancy.NewStore(db)
	require.NoError(t, store.AutoMigrate())
	resolver := tenancy.NewResolver(tenancy.Config{Enabled: false}, store)

	pluginReg := plugins.NewRegistry()
	for _, p := range extra {
		require.NoError(t, pluginReg.Register(p))
	}
	pool := plugins.NewAsyncPool(1, nil)
	t.Cleanup(func() { pool.Shutdown(time.Second) })
	orchestrator := plugins.NewOrchestrator(pluginReg, pool, nil)

	return &testFixture{
		handler:  NewHandler(svc, orchestrator, resolver, "", engine, reg, nil),
		registry: pluginReg,
	}
}

func (f *testFixture) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	r := httptest.NewRequest(method, path, reader)
	for name, value := range headers {
		r.Header.Set(name, value)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func createPatient(t *testing.T, f *testFixture) string {
	t.Helper()
	w := f.do(http.MethodPost, "/fhir/Patient", []byte(`{"resourceType":"Patient","active":true}`), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var doc struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.NotEmpty(t, doc.ID)
	return doc.ID
}

func TestMetadata(t *testing.T) {
	f := newTestFixture(t)

	w := f.do(http.MethodGet, "/fhir/metadata", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5.0.0", w.Header().Get(fhirversion.Header))
	assert.Equal(t, FHIRContentType, w.Header().Get("Content-Type"))

	var doc struct {
		ResourceType string `json:"resourceType"`
		FHIRVersion  string `json:"fhirVersion"`
		Rest         []struct {
			Resource []struct {
				Type string `json:"type"`
			} `json:"resource"`
		} `json:"rest"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "CapabilityStatement", doc.ResourceType)
	assert.Equal(t, "5.0.0", doc.FHIRVersion)
	require.Len(t, doc.Rest, 1)
	require.Len(t, doc.Rest[0].Resource, 2)
}

func TestMetadataExplicitVersion(t *testing.T) {
	f := newTestFixture(t)

	w := f.do(http.MethodGet, "/fhir/r4b/metadata", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4.3.0", w.Header().Get(fhirversion.Header))
}

func TestCreateAndRead(t *testing.T) {
	f := newTestFixture(t)

	w := f.do(http.MethodPost, "/fhir/Patient", []byte(`{"resourceType":"Patient"}`), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `W/"1"`, w.Header().Get("ETag"))
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))

	location := w.Header().Get("Location")
	require.NotEmpty(t, location)
	assert.Contains(t, location, "/fhir/Patient/")
	assert.True(t, strings.HasSuffix(location, "/_history/1"))

	var doc struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))

	w = f.do(http.MethodGet, "/fhir/Patient/"+doc.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `W/"1"`, w.Header().Get("ETag"))
}

func TestReadNotFound(t *testing.T) {
	f := newTestFixture(t)

	w := f.do(http.MethodGet, "/fhir/Patient/ghost", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var doc struct {
		ResourceType string `json:"resourceType"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "OperationOutcome", doc.ResourceType)
}

func TestUpdateAndConflict(t *testing.T) {
	f := newTestFixture(t)
	id := createPatient(t, f)

	w := f.do(http.MethodPut, "/fhir/Patient/"+id,
		[]byte(`{"resourceType":"Patient","active":false}`),
		map[string]string{"If-Match": `W/"1"`})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `W/"2"`, w.Header().Get("ETag"))

	w = f.do(http.MethodPut, "/fhir/Patient/"+id,
		[]byte(`{"resourceType":"Patient"}`),
		map[string]string{"If-Match": `W/"1"`})
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestDeleteThenGone(t *testing.T) {
	f := newTestFixture(t)
	id := createPatient(t, f)

	w := f.do(http.MethodDelete, "/fhir/Patient/"+id, nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())

	w = f.do(http.MethodGet, "/fhir/Patient/"+id, nil, nil)
	require.Equal(t, http.StatusGone, w.Code)

	// History still reveals the deletion.
	w = f.do(http.MethodGet, "/fhir/Patient/"+id+"/_history", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestVRead(t *testing.T) {
	f := newTestFixture(t)
	id := createPatient(t, f)

	w := f.do(http.MethodGet, "/fhir/Patient/"+id+"/_history/1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `W/"1"`, w.Header().Get("ETag"))

	w = f.do(http.MethodGet, "/fhir/Patient/"+id+"/_history/0", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/fhir/Patient/"+id+"/_history/abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPatch(t *testing.T) {
	f := newTestFixture(t)
	id := createPatient(t, f)

	w := f.do(http.MethodPatch, "/fhir/Patient/"+id,
		[]byte(`{"active":false}`),
		map[string]string{"Content-Type": "application/merge-patch+json; charset=utf-8"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `W/"2"`, w.Header().Get("ETag"))
}

func TestSearch(t *testing.T) {
	f := newTestFixture(t)
	createPatient(t, f)
	createPatient(t, f)

	w := f.do(http.MethodGet, "/fhir/Patient?_count=1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		Type  string `json:"type"`
		Total int    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "searchset", doc.Type)
	assert.Equal(t, 2, doc.Total)
}

func TestPostSearchMergesForm(t *testing.T) {
	f := newTestFixture(t)
	id := createPatient(t, f)
	createPatient(t, f)

	w := f.do(http.MethodPost, "/fhir/Patient/_search",
		[]byte("_id="+id),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, 1, doc.Total)
}

func TestExtendedOperation(t *testing.T) {
	f := newTestFixture(t)

	w := f.do(http.MethodPost, "/fhir/Patient/$validate",
		[]byte(`{"resourceType":"Patient"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/fhir/Patient/$unknown", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = f.do(http.MethodDelete, "/fhir/Patient/$validate", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newTestFixture(t)

	w := f.do(http.MethodPut, "/fhir/Patient", []byte(`{}`), nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestUnknownPath(t *testing.T) {
	f := newTestFixture(t)

	w := f.do(http.MethodGet, "/fhir/", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/fhir/Patient/p1/unknown", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestExplicitVersionRouting(t *testing.T) {
	f := newTestFixture(t)

	w := f.do(http.MethodPost, "/fhir/r4b/Patient", []byte(`{"resourceType":"Patient"}`), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "4.3.0", w.Header().Get(fhirversion.Header))
	assert.Contains(t, w.Header().Get("Location"), "/fhir/r4b/Patient/")

	// Observation does not declare r4b support.
	w = f.do(http.MethodPost, "/fhir/r4b/Observation", []byte(`{"resourceType":"Observation"}`), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnsupportedVersionSegment(t *testing.T) {
	f := newTestFixture(t)

	// A version-shaped segment for a release the gateway does not serve is
	// rejected outright instead of being read as a resource type.
	w := f.do(http.MethodGet, "/fhir/r4/Patient/p1", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "r4")

	w = f.do(http.MethodGet, "/fhir/R3/metadata", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

// abortPlugin rejects every matched request with a fixed status.
type abortPlugin struct{ status int }

func (a *abortPlugin) Name() string                    { return "abort" }
func (a *abortPlugin) Mode() plugins.Mode              { return plugins.ModeSync }
func (a *abortPlugin) Priority() int                   { return 1 }
func (a *abortPlugin) Descriptors() []plugins.Descriptor { return []plugins.Descriptor{{}} }
func (a *abortPlugin) Before(ctx context.Context, pc *plugins.Context) (plugins.BeforeResult, error) {
	return plugins.BeforeResult{Abort: &plugins.Abort{
		Status: a.status,
		Body:   []byte(`{"resourceType":"OperationOutcome"}`),
	}}, nil
}

func TestBeforeAbortShortCircuits(t *testing.T) {
	f := newTestFixture(t, &abortPlugin{status: http.StatusForbidden})

	w := f.do(http.MethodGet, "/fhir/Patient/p1", nil, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "OperationOutcome")
}

// rewritePlugin replaces the input resource before the core runs.
type rewritePlugin struct{}

func (p *rewritePlugin) Name() string                    { return "rewrite" }
func (p *rewritePlugin) Mode() plugins.Mode              { return plugins.ModeSync }
func (p *rewritePlugin) Priority() int                   { return 1 }
func (p *rewritePlugin) Descriptors() []plugins.Descriptor { return []plugins.Descriptor{{}} }
func (p *rewritePlugin) Before(ctx context.Context, pc *plugins.Context) (plugins.BeforeResult, error) {
	return plugins.BeforeResult{Resource: []byte(`{"resourceType":"Patient","active":false}`)}, nil
}

func TestBeforeModifiedResourceReachesCore(t *testing.T) {
	f := newTestFixture(t, &rewritePlugin{})

	w := f.do(http.MethodPost, "/fhir/Patient", []byte(`{"resourceType":"Patient","active":true}`), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var doc struct {
		Active bool `json:"active"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.False(t, doc.Active)
}
