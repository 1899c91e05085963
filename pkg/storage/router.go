package storage

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/openmedrec/fhirgate/pkg/registry"
)

// Router dispatches persistence calls to the shared backend or a per-schema
// dedicated backend according to the resource registry. It is the single
// choke point for schema selection; the resource service never sees schema
// names.
type Router struct {
	reg       *registry.Registry
	shared    Backend
	dedicated map[string]Backend
}

// NewRouter builds a Router and one backend per schema named in the
// registry. Every schema identifier is validated against the strict pattern
// before a backend is constructed for it.
func NewRouter(db *gorm.DB, reg *registry.Registry) (*Router, error) {
	sharedSchema := reg.SharedSchema()
	if err := registry.ValidateSchemaIdent(sharedSchema); err != nil {
		return nil, err
	}

	r := &Router{
		reg:       reg,
		shared:    NewGormBackend(db, qualifiedTable(sharedSchema)),
		dedicated: make(map[string]Backend),
	}

	schemas, err := reg.DedicatedSchemas()
	if err != nil {
		return nil, err
	}
	for _, schema := range schemas {
		r.dedicated[schema] = NewGormBackend(db, qualifiedTable(schema))
	}

	return r, nil
}

// BackendFor returns the backend for a resource type. Dedicated schema
// identifiers are re-validated immediately before use.
func (r *Router) BackendFor(resourceType string) (Backend, error) {
	rc, ok := r.reg.Get(resourceType)
	if !ok || rc.Storage.Mode != registry.StorageDedicated {
		return r.shared, nil
	}

	schema := rc.Storage.Schema
	if err := registry.ValidateSchemaIdent(schema); err != nil {
		return nil, err
	}

	backend, ok := r.dedicated[schema]
	if !ok {
		return nil, fmt.Errorf("no backend for dedicated schema %q", schema)
	}
	return backend, nil
}

// Shared returns the shared backend.
func (r *Router) Shared() Backend { return r.shared }

// qualifiedTable returns the schema-qualified table reference.
func qualifiedTable(schema string) string {
	return schema + "." + ResourceVersionRecord{}.TableName()
}
