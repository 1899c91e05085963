package registry

import (
	"sort"
	"sync/atomic"

	"github.com/openmedrec/fhirgate/pkg/fhirversion"
)

// DefaultSharedSchema is the schema holding the shared fhir_resource table
// when the configuration does not name one.
const DefaultSharedSchema = "fhir"

// snapshot is an immutable index built from a Config. It is replaced
// wholesale on reload, never mutated in place.
type snapshot struct {
	sharedSchema string
	byType       map[string]*ResourceConfig
}

// Registry is the in-memory index of per-resource configuration. Reads are
// lock-free; Reload publishes a fresh snapshot atomically.
type Registry struct {
	current atomic.Pointer[snapshot]
}

// New builds a Registry from a validated Config.
func New(cfg *Config) *Registry {
	r := &Registry{}
	r.current.Store(buildSnapshot(cfg))
	return r
}

// Reload atomically replaces the whole configuration table.
func (r *Registry) Reload(cfg *Config) {
	r.current.Store(buildSnapshot(cfg))
}

func buildSnapshot(cfg *Config) *snapshot {
	s := &snapshot{
		sharedSchema: cfg.SharedSchema,
		byType:       make(map[string]*ResourceConfig, len(cfg.Resources)),
	}
	if s.sharedSchema == "" {
		s.sharedSchema = DefaultSharedSchema
	}
	for i := range cfg.Resources {
		rc := cfg.Resources[i]
		s.byType[rc.Type] = &rc
	}
	return s
}

// SharedSchema returns the schema name of the shared table.
func (r *Registry) SharedSchema() string {
	return r.current.Load().sharedSchema
}

// Get returns the configuration for a resource type.
func (r *Registry) Get(resourceType string) (*ResourceConfig, bool) {
	rc, ok := r.current.Load().byType[resourceType]
	return rc, ok
}

// Types returns the configured resource type names in sorted order.
func (r *Registry) Types() []string {
	s := r.current.Load()
	out := make([]string, 0, len(s.byType))
	for t := range s.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SupportsVersion reports whether a resource type supports a FHIR version.
func (rc *ResourceConfig) SupportsVersion(v fhirversion.Version) bool {
	return containsVersion(rc.Versions, v)
}

// SupportsInteraction reports whether an interaction is enabled for the
// resource type.
func (rc *ResourceConfig) SupportsInteraction(i Interaction) bool {
	for _, have := range rc.Interactions {
		if have == i {
			return true
		}
	}
	return false
}

// DedicatedSchemas returns the distinct dedicated schema names in use,
// re-validated against the strict identifier pattern.
func (r *Registry) DedicatedSchemas() ([]string, error) {
	s := r.current.Load()
	seen := make(map[string]bool)
	var out []string
	for _, rc := range s.byType {
		if rc.Storage.Mode != StorageDedicated {
			continue
		}
		if seen[rc.Storage.Schema] {
			continue
		}
		if err := ValidateSchemaIdent(rc.Storage.Schema); err != nil {
			return nil, err
		}
		seen[rc.Storage.Schema] = true
		out = append(out, rc.Storage.Schema)
	}
	return out, nil
}
