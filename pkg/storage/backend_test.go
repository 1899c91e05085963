package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openmedrec/fhirgate/pkg/registry"
)

// newTestDB opens an in-memory SQLite database pinned to one connection so
// attached schemas stay visible across calls.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	cfg := &registry.Config{
		Resources: []registry.ResourceConfig{
			{Type: "Patient"},
			{Type: "Observation"},
			{Type: "CarePlan", Storage: registry.StorageConfig{Mode: registry.StorageDedicated, Schema: "careplan"}},
		},
	}
	require.NoError(t, cfg.Validate())
	return registry.New(cfg)
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	db := newTestDB(t)
	reg := newTestRegistry(t)
	require.NoError(t, Bootstrap(db, reg))
	router, err := NewRouter(db, reg)
	require.NoError(t, err)
	return router
}

func record(tenant, resourceType, id string, version int, current bool) *ResourceVersionRecord {
	return &ResourceVersionRecord{
		ID:           fmt.Sprintf("%s-%s-%d", resourceType, id, version),
		TenantID:     tenant,
		ResourceType: resourceType,
		ResourceID:   id,
		FHIRVersion:  "r5",
		VersionID:    version,
		IsCurrent:    current,
		Content:      fmt.Sprintf(`{"resourceType":%q,"id":%q}`, resourceType, id),
		LastUpdated:  time.Now().UTC(),
	}
}

func TestSaveAndFindCurrent(t *testing.T) {
	router := newTestRouter(t)
	backend := router.Shared()
	ctx := context.Background()

	require.NoError(t, backend.Save(ctx, record("default", "Patient", "p1", 1, true)))

	rec, err := backend.FindCurrent(ctx, "default", "Patient", "p1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.VersionID)
	assert.True(t, rec.IsCurrent)

	rec, err = backend.FindCurrent(ctx, "default", "Patient", "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestVersionLifecycle(t *testing.T) {
	router := newTestRouter(t)
	backend := router.Shared()
	ctx := context.Background()

	require.NoError(t, backend.Save(ctx, record("default", "Patient", "p1", 1, true)))

	max, err := backend.MaxVersionID(ctx, "default", "Patient", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, max)

	require.NoError(t, backend.MarkAllVersionsNotCurrent(ctx, "default", "Patient", "p1"))
	require.NoError(t, backend.Save(ctx, record("default", "Patient", "p1", 2, true)))

	max, err = backend.MaxVersionID(ctx, "default", "Patient", "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, max)

	rec, err := backend.FindVersion(ctx, "default", "Patient", "p1", 1)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.IsCurrent)

	all, err := backend.FindAllVersionsDesc(ctx, "default", "Patient", "p1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[0].VersionID)
	assert.Equal(t, 1, all[1].VersionID)

	exists, err := backend.Exists(ctx, "default", "Patient", "p1")
	require.NoError(t, err)
	assert.True(t, exists)

	max, err = backend.MaxVersionID(ctx, "default", "Patient", "nope")
	require.NoError(t, err)
	assert.Zero(t, max)
}

func TestSoftDelete(t *testing.T) {
	router := newTestRouter(t)
	backend := router.Shared()
	ctx := context.Background()

	require.NoError(t, backend.Save(ctx, record("default", "Patient", "p1", 1, true)))

	ok, err := backend.SoftDelete(ctx, "default", "Patient", "p1", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	// The tombstone stays current and readable through FindCurrent.
	rec, err := backend.FindCurrent(ctx, "default", "Patient", "p1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsDeleted)

	ok, err = backend.SoftDelete(ctx, "default", "Patient", "unknown", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSearchFiltersAndPages(t *testing.T) {
	router := newTestRouter(t)
	backend := router.Shared()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		rec := record("default", "Patient", fmt.Sprintf("p%d", i), 1, true)
		rec.LastUpdated = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, backend.Save(ctx, rec))
	}
	// Deleted and non-current rows never match.
	deleted := record("default", "Patient", "gone", 1, true)
	deleted.IsDeleted = true
	require.NoError(t, backend.Save(ctx, deleted))
	require.NoError(t, backend.Save(ctx, record("default", "Patient", "old", 1, false)))
	// Other tenants are invisible.
	require.NoError(t, backend.Save(ctx, record("acme", "Patient", "other", 1, true)))

	recs, total, err := backend.Search(ctx, "default", "Patient", SearchQuery{Count: 2, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, recs, 2)
	// Newest first.
	assert.Equal(t, "p4", recs[0].ResourceID)
	assert.Equal(t, "p3", recs[1].ResourceID)

	recs, total, err = backend.Search(ctx, "default", "Patient", SearchQuery{Count: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, recs, 1)
	assert.Equal(t, "p0", recs[0].ResourceID)
}

func TestSearchByID(t *testing.T) {
	router := newTestRouter(t)
	backend := router.Shared()
	ctx := context.Background()

	require.NoError(t, backend.Save(ctx, record("default", "Patient", "p1", 1, true)))
	require.NoError(t, backend.Save(ctx, record("default", "Patient", "p2", 1, true)))

	params := SearchQuery{Count: 10}
	params.Params = map[string][]string{"_id": {"p2"}}
	recs, total, err := backend.Search(ctx, "default", "Patient", params)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, recs, 1)
	assert.Equal(t, "p2", recs[0].ResourceID)
}

func TestInTransactionRollsBack(t *testing.T) {
	router := newTestRouter(t)
	backend := router.Shared()
	ctx := context.Background()

	err := backend.InTransaction(ctx, func(tx Backend) error {
		if err := tx.Save(ctx, record("default", "Patient", "p1", 1, true)); err != nil {
			return err
		}
		return fmt.Errorf("force rollback")
	})
	require.Error(t, err)

	rec, err := backend.FindCurrent(ctx, "default", "Patient", "p1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRouterDispatch(t *testing.T) {
	router := newTestRouter(t)
	ctx := context.Background()

	shared, err := router.BackendFor("Patient")
	require.NoError(t, err)
	dedicated, err := router.BackendFor("CarePlan")
	require.NoError(t, err)
	assert.NotEqual(t, shared.(*GormBackend).Table(), dedicated.(*GormBackend).Table())
	assert.Equal(t, "careplan.fhir_resource", dedicated.(*GormBackend).Table())

	// Rows written through one backend are invisible to the other.
	require.NoError(t, dedicated.Save(ctx, record("default", "CarePlan", "c1", 1, true)))
	rec, err := shared.FindCurrent(ctx, "default", "CarePlan", "c1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = dedicated.FindCurrent(ctx, "default", "CarePlan", "c1")
	require.NoError(t, err)
	assert.NotNil(t, rec)

	// Unknown types fall back to the shared backend.
	fallback, err := router.BackendFor("Medication")
	require.NoError(t, err)
	assert.Equal(t, shared, fallback)
}

func TestBootstrapCurrentIndexEnforced(t *testing.T) {
	router := newTestRouter(t)
	backend := router.Shared()
	ctx := context.Background()

	require.NoError(t, backend.Save(ctx, record("default", "Patient", "p1", 1, true)))
	// A second current row for the same logical key violates the partial
	// unique index.
	err := backend.Save(ctx, record("default", "Patient", "p1", 2, true))
	assert.Error(t, err)
}

func TestBootstrapVersionKeyIndexEnforced(t *testing.T) {
	router := newTestRouter(t)
	backend := router.Shared()
	ctx := context.Background()

	require.NoError(t, backend.Save(ctx, record("default", "Patient", "p1", 1, true)))
	require.NoError(t, backend.MarkAllVersionsNotCurrent(ctx, "default", "Patient", "p1"))

	// Re-inserting the same (tenant, type, id, version) must fail even when
	// the existing row is no longer current, and the failure must classify
	// as a unique violation. This covers the dedicated schema too.
	dup := record("default", "Patient", "p1", 1, true)
	dup.ID = "other-row-id"
	err := backend.Save(ctx, dup)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	dedicated, err := router.BackendFor("CarePlan")
	require.NoError(t, err)
	require.NoError(t, dedicated.Save(ctx, record("default", "CarePlan", "c1", 1, true)))
	require.NoError(t, dedicated.MarkAllVersionsNotCurrent(ctx, "default", "CarePlan", "c1"))
	dupCare := record("default", "CarePlan", "c1", 1, true)
	dupCare.ID = "other-care-row"
	err = dedicated.Save(ctx, dupCare)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(fmt.Errorf("connection reset")))
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, IsUniqueViolation(fmt.Errorf("save: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsUniqueViolation(fmt.Errorf("UNIQUE constraint failed: fhir_resource.tenant_id (2067)")))
	assert.True(t, IsUniqueViolation(fmt.Errorf("Error 1062: Duplicate entry 'default-Patient-p1-1' for key 'idx_fhir_resource_version'")))
	assert.True(t, IsUniqueViolation(fmt.Errorf(`ERROR: duplicate key value violates unique constraint "idx_default_resource_version" (SQLSTATE 23505)`)))
}
