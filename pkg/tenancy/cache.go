package tenancy

import "sync"

// mappingCache holds resolved external GUID -> internal id mappings for
// enabled tenants. Entries have no TTL; administrative mutations invalidate
// them explicitly. Only successful resolutions are cached, so disabled or
// unknown tenants are always re-checked against the store.
type mappingCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func newMappingCache() *mappingCache {
	return &mappingCache{entries: make(map[string]string)}
}

func (c *mappingCache) get(guid string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.entries[guid]
	return id, ok
}

func (c *mappingCache) put(guid, internalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[guid] = internalID
}

func (c *mappingCache) invalidate(guid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, guid)
}

func (c *mappingCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]string)
}

func (c *mappingCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
