package storage

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/openmedrec/fhirgate/pkg/registry"
)

// Bootstrap ensures every schema named in the registry exists and holds a
// fhir_resource table, installs the unique version-key index on every
// dialect, and installs the partial unique index guaranteeing at most one
// current row per logical key where the dialect supports it.
//
// Schema creation is dialect-specific: postgres and mysql create real
// schemas; sqlite attaches in-memory databases so schema-qualified table
// references work in dev and test runs.
func Bootstrap(db *gorm.DB, reg *registry.Registry) error {
	schemas := []string{reg.SharedSchema()}
	dedicated, err := reg.DedicatedSchemas()
	if err != nil {
		return err
	}
	schemas = append(schemas, dedicated...)

	for _, schema := range schemas {
		if err := registry.ValidateSchemaIdent(schema); err != nil {
			return err
		}
		if err := ensureSchema(db, schema); err != nil {
			return err
		}
		table := qualifiedTable(schema)
		if err := db.Table(table).AutoMigrate(&ResourceVersionRecord{}); err != nil {
			return fmt.Errorf("auto-migrate %s: %w", table, err)
		}
		if err := ensureVersionKeyIndex(db, schema); err != nil {
			return err
		}
		if err := ensureCurrentIndex(db, schema); err != nil {
			return err
		}
	}
	return nil
}

func ensureSchema(db *gorm.DB, schema string) error {
	switch db.Dialector.Name() {
	case "postgres":
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
	case "mysql":
		if err := db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("create database %s: %w", schema, err)
		}
	case "sqlite":
		if err := db.Exec(fmt.Sprintf("ATTACH DATABASE ':memory:' AS %s", schema)).Error; err != nil {
			return fmt.Errorf("attach schema %s: %w", schema, err)
		}
	default:
		return fmt.Errorf("unsupported database dialect %q", db.Dialector.Name())
	}
	return nil
}

// ensureVersionKeyIndex installs a unique index on the full version key
// (tenant, type, id, version_id). Every dialect gets this one; it is what
// turns a lost version-allocation race into a detectable unique violation
// instead of a duplicate history row.
func ensureVersionKeyIndex(db *gorm.DB, schema string) error {
	columns := "(tenant_id, resource_type, resource_id, version_id)"
	var stmt string
	switch db.Dialector.Name() {
	case "sqlite":
		stmt = fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s.idx_fhir_resource_version ON fhir_resource %s",
			schema, columns)
	case "postgres":
		stmt = fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_resource_version ON %s.fhir_resource %s",
			schema, schema, columns)
	case "mysql":
		// MySQL lacks CREATE INDEX IF NOT EXISTS.
		var count int64
		err := db.Raw(
			"SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = ? AND table_name = 'fhir_resource' AND index_name = ?",
			schema, "idx_fhir_resource_version").Scan(&count).Error
		if err != nil {
			return fmt.Errorf("check version-key index on %s: %w", schema, err)
		}
		if count > 0 {
			return nil
		}
		stmt = fmt.Sprintf(
			"CREATE UNIQUE INDEX idx_fhir_resource_version ON %s.fhir_resource %s",
			schema, columns)
	default:
		return fmt.Errorf("unsupported database dialect %q", db.Dialector.Name())
	}
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create version-key index on %s: %w", schema, err)
	}
	return nil
}

// ensureCurrentIndex installs a partial unique index on (tenant, type, id)
// where is_current. MySQL has no partial indexes; there single-current-row
// is carried by the transactional update discipline and the version-key
// index alone.
func ensureCurrentIndex(db *gorm.DB, schema string) error {
	if db.Dialector.Name() == "mysql" {
		return nil
	}
	stmt := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s.idx_fhir_resource_current ON fhir_resource (tenant_id, resource_type, resource_id) WHERE is_current",
		schema)
	if db.Dialector.Name() == "postgres" {
		stmt = fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_resource_current ON %s.fhir_resource (tenant_id, resource_type, resource_id) WHERE is_current",
			schema, schema)
	}
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("create current-row index on %s: %w", schema, err)
	}
	return nil
}
