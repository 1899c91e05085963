// Package storage persists versioned resource records and routes each
// resource type to its configured backend: the shared fhir_resource table or
// a dedicated per-resource schema holding a table with identical columns.
package storage

import "time"

// ResourceVersionRecord is one row per (tenant, type, id, versionId).
// Version history is represented by multiple rows on the same logical key;
// there is no separate history table.
//
// Indexes are not declared on the model: gorm's migrator emits unqualified
// index DDL, which sqlite resolves against the main schema instead of the
// attached one. Bootstrap creates them with dialect-correct qualification.
type ResourceVersionRecord struct {
	ID           string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	TenantID     string    `gorm:"column:tenant_id;not null"`
	ResourceType string    `gorm:"column:resource_type;not null"`
	ResourceID   string    `gorm:"column:resource_id;not null"`
	FHIRVersion  string    `gorm:"column:fhir_version;not null"`
	VersionID    int       `gorm:"column:version_id;not null"`
	IsCurrent    bool      `gorm:"column:is_current;not null"`
	IsDeleted    bool      `gorm:"column:is_deleted;not null"`
	Content      string    `gorm:"column:content;type:text"`
	LastUpdated  time.Time `gorm:"column:last_updated;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	SourceURI    string    `gorm:"column:source_uri"`
}

// TableName returns the GORM table name. Backends override the table with a
// schema-qualified name; this keeps the bare name consistent everywhere.
func (ResourceVersionRecord) TableName() string { return "fhir_resource" }
