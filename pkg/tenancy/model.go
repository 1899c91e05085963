// Package tenancy maps the external tenant GUID carried on each request to
// the internal tenant id used as the partition value in every resource row.
package tenancy

import "time"

// DefaultTenantGUID is the well-known GUID seeded at initialization and
// mapped to the default internal tenant id.
const DefaultTenantGUID = "00000000-0000-0000-0000-000000000000"

// DefaultTenantID is the internal id of the seeded default tenant.
const DefaultTenantID = "default"

// DefaultHeader is the request header carrying the external tenant GUID.
const DefaultHeader = "X-Tenant-ID"

// TenantRecord is one administratively managed tenant.
type TenantRecord struct {
	ExternalID  string    `gorm:"column:external_id;primaryKey;type:varchar(36)" json:"externalId"`
	InternalID  string    `gorm:"column:internal_id;uniqueIndex;not null" json:"internalId"`
	Code        string    `gorm:"column:code" json:"code,omitempty"`
	DisplayName string    `gorm:"column:display_name" json:"displayName,omitempty"`
	Enabled     bool      `gorm:"column:enabled;not null" json:"enabled"`
	Settings    string    `gorm:"column:settings;type:text" json:"settings,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (TenantRecord) TableName() string { return "fhir_tenant" }
