package tenancy

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Store provides database operations for tenant records.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the fhir_tenant table and seeds the
// default tenant.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&TenantRecord{}); err != nil {
		return fmt.Errorf("auto-migrate fhir_tenant: %w", err)
	}
	return s.seedDefault()
}

// seedDefault inserts the well-known default tenant if it is missing.
func (s *Store) seedDefault() error {
	var count int64
	if err := s.db.Model(&TenantRecord{}).Where("external_id = ?", DefaultTenantGUID).Count(&count).Error; err != nil {
		return fmt.Errorf("check default tenant: %w", err)
	}
	if count > 0 {
		return nil
	}
	rec := &TenantRecord{
		ExternalID:  DefaultTenantGUID,
		InternalID:  DefaultTenantID,
		Code:        DefaultTenantID,
		DisplayName: "Default Tenant",
		Enabled:     true,
	}
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("seed default tenant: %w", err)
	}
	return nil
}

// Get retrieves a tenant by external GUID. Returns nil, nil if no record
// exists.
func (s *Store) Get(ctx context.Context, externalID string) (*TenantRecord, error) {
	var rec TenantRecord
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &rec, nil
}

// List returns all tenants ordered by creation time.
func (s *Store) List(ctx context.Context) ([]TenantRecord, error) {
	var recs []TenantRecord
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return recs, nil
}

// Create inserts a tenant record.
func (s *Store) Create(ctx context.Context, rec *TenantRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// Update saves a tenant record.
func (s *Store) Update(ctx context.Context, rec *TenantRecord) error {
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	return nil
}

// SetEnabled flips a tenant's enabled flag. Returns false when the tenant
// does not exist.
func (s *Store) SetEnabled(ctx context.Context, externalID string, enabled bool) (bool, error) {
	res := s.db.WithContext(ctx).Model(&TenantRecord{}).
		Where("external_id = ?", externalID).
		Update("enabled", enabled)
	if res.Error != nil {
		return false, fmt.Errorf("set tenant enabled: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete removes a tenant record. The seeded default tenant cannot be
// deleted.
func (s *Store) Delete(ctx context.Context, externalID string) (bool, error) {
	if externalID == DefaultTenantGUID {
		return false, fmt.Errorf("the default tenant cannot be deleted")
	}
	res := s.db.WithContext(ctx).Where("external_id = ?", externalID).Delete(&TenantRecord{})
	if res.Error != nil {
		return false, fmt.Errorf("delete tenant: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
