package tenancy

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/openmedrec/fhirgate/pkg/outcome"
)

// Config controls tenant resolution.
type Config struct {
	// Enabled turns multi-tenancy on. When false every request resolves to
	// the default internal id without a lookup.
	Enabled bool
	// Header is the request header carrying the tenant GUID.
	// Defaults to X-Tenant-ID.
	Header string
	// DefaultID is the internal id used when multi-tenancy is disabled.
	// Defaults to "default".
	DefaultID string
}

// HeaderName returns the configured tenant header.
func (c Config) HeaderName() string {
	if c.Header == "" {
		return DefaultHeader
	}
	return c.Header
}

// DefaultInternalID returns the configured default internal id.
func (c Config) DefaultInternalID() string {
	if c.DefaultID == "" {
		return DefaultTenantID
	}
	return c.DefaultID
}

// Resolver maps the raw tenant header value to an internal tenant id,
// backed by the tenant store and a positive-result mapping cache.
type Resolver struct {
	cfg   Config
	store *Store
	cache *mappingCache
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config, store *Store) *Resolver {
	return &Resolver{cfg: cfg, store: store, cache: newMappingCache()}
}

// Resolve maps the raw header value to an internal tenant id.
//
// With multi-tenancy disabled it returns the default id and performs no
// lookup. Otherwise the header must be a valid GUID naming an existing,
// enabled tenant. Only successful resolutions enter the cache.
func (r *Resolver) Resolve(ctx context.Context, headerValue string) (string, error) {
	if !r.cfg.Enabled {
		return r.cfg.DefaultInternalID(), nil
	}

	raw := strings.TrimSpace(headerValue)
	if raw == "" {
		return "", outcome.New(outcome.KindBadRequest, "missing tenant header %s", r.cfg.HeaderName())
	}

	guid, err := uuid.Parse(raw)
	if err != nil {
		return "", outcome.New(outcome.KindBadRequest, "tenant header %s is not a valid GUID", r.cfg.HeaderName())
	}
	key := guid.String()

	if internalID, ok := r.cache.get(key); ok {
		return internalID, nil
	}

	rec, err := r.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", outcome.New(outcome.KindBadRequest, "tenant %s not found", key)
	}
	if !rec.Enabled {
		return "", outcome.New(outcome.KindForbidden, "tenant %s is disabled", key)
	}

	// A concurrent resolver may race this insert; both write the same value.
	r.cache.put(key, rec.InternalID)
	return rec.InternalID, nil
}

// InvalidateCache drops the cache entry for one tenant GUID. Administrative
// mutations call this on every enable/disable/update/delete.
func (r *Resolver) InvalidateCache(guid string) {
	r.cache.invalidate(guid)
}

// ClearCache drops all cache entries.
func (r *Resolver) ClearCache() {
	r.cache.clear()
}

// CacheSize returns the number of cached mappings.
func (r *Resolver) CacheSize() int {
	return r.cache.size()
}
