package tenancy

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore creates an in-memory SQLite store with the tenant table
// migrated and the default tenant seeded.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func TestAutoMigrateSeedsDefaultTenant(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Get(context.Background(), DefaultTenantGUID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, DefaultTenantID, rec.InternalID)
	assert.True(t, rec.Enabled)

	// Re-running the migration must not duplicate the seed.
	require.NoError(t, store.AutoMigrate())
	recs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStoreCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &TenantRecord{
		ExternalID:  "11111111-1111-1111-1111-111111111111",
		InternalID:  "acme",
		DisplayName: "Acme Health",
		Enabled:     true,
	}
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, rec.ExternalID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acme", got.InternalID)

	got.DisplayName = "Acme Health Systems"
	require.NoError(t, store.Update(ctx, got))

	ok, err := store.SetEnabled(ctx, rec.ExternalID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.Get(ctx, rec.ExternalID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "Acme Health Systems", got.DisplayName)

	ok, err = store.Delete(ctx, rec.ExternalID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = store.Get(ctx, rec.ExternalID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreGetUnknownReturnsNil(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Get(context.Background(), "22222222-2222-2222-2222-222222222222")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStoreSetEnabledUnknown(t *testing.T) {
	store := newTestStore(t)

	ok, err := store.SetEnabled(context.Background(), "22222222-2222-2222-2222-222222222222", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreDefaultTenantCannotBeDeleted(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Delete(context.Background(), DefaultTenantGUID)
	assert.Error(t, err)
}
