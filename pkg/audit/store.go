// Package audit records every completed FHIR operation as an append-only
// trail. The recorder plugin runs async so auditing never adds latency to
// the request path; the store and retention worker manage the table.
package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EventRecord is one immutable audit row.
type EventRecord struct {
	ID           string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	TenantID     string    `gorm:"column:tenant_id;type:varchar(36);index:idx_audit_tenant"`
	RequestID    string    `gorm:"column:request_id;type:varchar(64)"`
	Operation    string    `gorm:"column:operation;type:varchar(16)"`
	FHIRVersion  string    `gorm:"column:fhir_version;type:varchar(8)"`
	ResourceType string    `gorm:"column:resource_type;type:varchar(64)"`
	ResourceID   string    `gorm:"column:resource_id;type:varchar(64)"`
	UserID       string    `gorm:"column:user_id;type:varchar(128)"`
	ClientID     string    `gorm:"column:client_id;type:varchar(128)"`
	StatusCode   int       `gorm:"column:status_code"`
	Outcome      string    `gorm:"column:outcome;type:varchar(16)"`
	Detail       string    `gorm:"column:detail;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;index:idx_audit_created"`
}

// TableName sets the audit table name.
func (EventRecord) TableName() string {
	return "fhir_audit_event"
}

// ListFilter narrows a ListFiltered call. Empty fields match everything.
type ListFilter struct {
	TenantID     string
	Operation    string
	ResourceType string
	Outcome      string
}

// Store provides append-only operations for audit event records.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store and migrates its table.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append creates a new immutable audit event record.
func (s *Store) Append(ctx context.Context, event *EventRecord) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// GetByID returns a single event, or nil when not found.
func (s *Store) GetByID(ctx context.Context, id string) (*EventRecord, error) {
	var rec EventRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return &rec, nil
}

// ListFiltered returns paginated events ordered by created_at DESC.
// pageToken is an RFC3339 timestamp; events older than the token are
// returned.
func (s *Store) ListFiltered(ctx context.Context, filter ListFilter, pageSize int, pageToken string) ([]EventRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	base := s.db.WithContext(ctx).Model(&EventRecord{})
	if filter.TenantID != "" {
		base = base.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Operation != "" {
		base = base.Where("operation = ?", filter.Operation)
	}
	if filter.ResourceType != "" {
		base = base.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.Outcome != "" {
		base = base.Where("outcome = ?", filter.Outcome)
	}

	var totalSize int64
	if err := base.Session(&gorm.Session{}).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", err)
	}

	query := base.Session(&gorm.Session{}).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []EventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// DeleteOlderThan deletes audit events created before the cutoff. Returns
// the number of deleted records.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&EventRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
