package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"gorm.io/gorm"
)

// SearchQuery carries the validated, non-paging search parameters plus the
// resolved page window.
type SearchQuery struct {
	Params url.Values
	Count  int
	Offset int
}

// Backend is the persistence contract shared by the shared-schema and
// dedicated-schema backends.
type Backend interface {
	Save(ctx context.Context, rec *ResourceVersionRecord) error
	FindCurrent(ctx context.Context, tenant, resourceType, id string) (*ResourceVersionRecord, error)
	FindVersion(ctx context.Context, tenant, resourceType, id string, versionID int) (*ResourceVersionRecord, error)
	FindAllVersionsDesc(ctx context.Context, tenant, resourceType, id string) ([]ResourceVersionRecord, error)
	Exists(ctx context.Context, tenant, resourceType, id string) (bool, error)
	MaxVersionID(ctx context.Context, tenant, resourceType, id string) (int, error)
	MarkAllVersionsNotCurrent(ctx context.Context, tenant, resourceType, id string) error
	SoftDelete(ctx context.Context, tenant, resourceType, id string, now time.Time) (bool, error)
	Search(ctx context.Context, tenant, resourceType string, q SearchQuery) ([]ResourceVersionRecord, int64, error)

	// InTransaction runs fn against a transaction-scoped view of the same
	// backend. All row changes of one logical operation go through here.
	InTransaction(ctx context.Context, fn func(tx Backend) error) error
}

// GormBackend is a Backend over one schema-qualified fhir_resource table.
type GormBackend struct {
	db    *gorm.DB
	table string
}

// NewGormBackend creates a backend bound to the given table reference
// (e.g. "fhir.fhir_resource" or "careplan.fhir_resource").
func NewGormBackend(db *gorm.DB, table string) *GormBackend {
	return &GormBackend{db: db, table: table}
}

// Table returns the backend's table reference.
func (s *GormBackend) Table() string { return s.table }

func (s *GormBackend) scope(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// Save inserts a version row.
func (s *GormBackend) Save(ctx context.Context, rec *ResourceVersionRecord) error {
	if err := s.scope(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save resource version: %w", err)
	}
	return nil
}

// FindCurrent returns the unique current row for a logical key, including
// tombstones. Returns nil, nil when no current row exists.
func (s *GormBackend) FindCurrent(ctx context.Context, tenant, resourceType, id string) (*ResourceVersionRecord, error) {
	var rec ResourceVersionRecord
	err := s.scope(ctx).
		Where("tenant_id = ? AND resource_type = ? AND resource_id = ? AND is_current = ?", tenant, resourceType, id, true).
		First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find current: %w", err)
	}
	return &rec, nil
}

// FindVersion returns an exact version row, including tombstones.
// Returns nil, nil when the version does not exist.
func (s *GormBackend) FindVersion(ctx context.Context, tenant, resourceType, id string, versionID int) (*ResourceVersionRecord, error) {
	var rec ResourceVersionRecord
	err := s.scope(ctx).
		Where("tenant_id = ? AND resource_type = ? AND resource_id = ? AND version_id = ?", tenant, resourceType, id, versionID).
		First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("find version: %w", err)
	}
	return &rec, nil
}

// FindAllVersionsDesc returns every version row for a logical key, newest
// version first.
func (s *GormBackend) FindAllVersionsDesc(ctx context.Context, tenant, resourceType, id string) ([]ResourceVersionRecord, error) {
	var recs []ResourceVersionRecord
	err := s.scope(ctx).
		Where("tenant_id = ? AND resource_type = ? AND resource_id = ?", tenant, resourceType, id).
		Order("version_id DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("find all versions: %w", err)
	}
	return recs, nil
}

// Exists reports whether any version row exists for a logical key.
func (s *GormBackend) Exists(ctx context.Context, tenant, resourceType, id string) (bool, error) {
	var count int64
	err := s.scope(ctx).
		Where("tenant_id = ? AND resource_type = ? AND resource_id = ?", tenant, resourceType, id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return count > 0, nil
}

// MaxVersionID returns the highest version id for a logical key, or 0 when
// no rows exist.
func (s *GormBackend) MaxVersionID(ctx context.Context, tenant, resourceType, id string) (int, error) {
	var max *int
	err := s.scope(ctx).
		Select("MAX(version_id)").
		Where("tenant_id = ? AND resource_type = ? AND resource_id = ?", tenant, resourceType, id).
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("max version id: %w", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

// MarkAllVersionsNotCurrent flips is_current off on every row of a logical
// key. Callers run this inside InTransaction together with the insert of the
// new current row.
func (s *GormBackend) MarkAllVersionsNotCurrent(ctx context.Context, tenant, resourceType, id string) error {
	err := s.scope(ctx).
		Where("tenant_id = ? AND resource_type = ? AND resource_id = ?", tenant, resourceType, id).
		Update("is_current", false).Error
	if err != nil {
		return fmt.Errorf("mark not current: %w", err)
	}
	return nil
}

// SoftDelete marks the current row deleted and bumps its last_updated.
// Returns false when no current row exists.
func (s *GormBackend) SoftDelete(ctx context.Context, tenant, resourceType, id string, now time.Time) (bool, error) {
	res := s.scope(ctx).
		Where("tenant_id = ? AND resource_type = ? AND resource_id = ? AND is_current = ?", tenant, resourceType, id, true).
		Updates(map[string]any{"is_deleted": true, "last_updated": now})
	if res.Error != nil {
		return false, fmt.Errorf("soft delete: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Search returns the page of current, non-deleted rows matching the query,
// ordered by last_updated descending, plus the total match count.
//
// Row-level filtering covers the parameters the gateway owns (_id, _source);
// content-level search semantics belong to the conformance engine and are
// out of scope here.
func (s *GormBackend) Search(ctx context.Context, tenant, resourceType string, q SearchQuery) ([]ResourceVersionRecord, int64, error) {
	base := s.scope(ctx).
		Where("tenant_id = ? AND resource_type = ? AND is_current = ? AND is_deleted = ?", tenant, resourceType, true, false)

	if v := q.Params.Get("_id"); v != "" {
		base = base.Where("resource_id = ?", v)
	}
	if v := q.Params.Get("_source"); v != "" {
		base = base.Where("source_uri = ?", v)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count search matches: %w", err)
	}

	var recs []ResourceVersionRecord
	err := base.Session(&gorm.Session{}).
		Order("last_updated DESC").
		Order("resource_id ASC").
		Limit(q.Count).
		Offset(q.Offset).
		Find(&recs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	return recs, total, nil
}

// InTransaction implements Backend.
func (s *GormBackend) InTransaction(ctx context.Context, fn func(tx Backend) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormBackend{db: tx, table: s.table})
	})
}
