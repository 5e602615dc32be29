package registry

import (
	"context"
	"sync"
	"time"
)

// CachedRegistry wraps another Registry with a TTL read cache for records
// and listings. Writes invalidate the touched entries and all list caches.
// FindByAPIKey and GetPassword always hit the inner registry.
type CachedRegistry struct {
	inner Registry
	ttl   time.Duration

	mu      sync.RWMutex
	byID    map[string]cachedRecord
	bySlug  map[string]cachedRecord
	lists   map[Status]cachedList
	allList *cachedList
}

type cachedRecord struct {
	record  TenantRecord
	expires time.Time
}

type cachedList struct {
	records []TenantRecord
	expires time.Time
}

// NewCachedRegistry wraps inner with a TTL cache. A non-positive TTL
// disables caching and every call passes through.
func NewCachedRegistry(inner Registry, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		inner:  inner,
		ttl:    ttl,
		byID:   make(map[string]cachedRecord),
		bySlug: make(map[string]cachedRecord),
		lists:  make(map[Status]cachedList),
	}
}

func (c *CachedRegistry) Create(ctx context.Context, record *TenantRecord) error {
	if err := c.inner.Create(ctx, record); err != nil {
		return err
	}
	c.invalidate(record.ID, record.Slug)
	return nil
}

func (c *CachedRegistry) GetByID(ctx context.Context, id string) (*TenantRecord, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		entry, ok := c.byID[id]
		c.mu.RUnlock()
		if ok && time.Now().Before(entry.expires) {
			record := entry.record
			return &record, nil
		}
	}

	record, err := c.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(record)
	return record, nil
}

func (c *CachedRegistry) GetBySlug(ctx context.Context, slug string) (*TenantRecord, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		entry, ok := c.bySlug[slug]
		c.mu.RUnlock()
		if ok && time.Now().Before(entry.expires) {
			record := entry.record
			return &record, nil
		}
	}

	record, err := c.inner.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	c.store(record)
	return record, nil
}

func (c *CachedRegistry) ListByStatus(ctx context.Context, status Status) ([]TenantRecord, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		entry, ok := c.lists[status]
		c.mu.RUnlock()
		if ok && time.Now().Before(entry.expires) {
			return append([]TenantRecord(nil), entry.records...), nil
		}
	}

	records, err := c.inner.ListByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.lists[status] = cachedList{records: append([]TenantRecord(nil), records...), expires: time.Now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return records, nil
}

func (c *CachedRegistry) List(ctx context.Context) ([]TenantRecord, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		entry := c.allList
		c.mu.RUnlock()
		if entry != nil && time.Now().Before(entry.expires) {
			return append([]TenantRecord(nil), entry.records...), nil
		}
	}

	records, err := c.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.allList = &cachedList{records: append([]TenantRecord(nil), records...), expires: time.Now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return records, nil
}

func (c *CachedRegistry) UpdateStatus(ctx context.Context, id string, status Status) error {
	if err := c.inner.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	c.invalidateByID(id)
	return nil
}

func (c *CachedRegistry) SetAPIKey(ctx context.Context, id, apiKey string) error {
	if err := c.inner.SetAPIKey(ctx, id, apiKey); err != nil {
		return err
	}
	c.invalidateByID(id)
	return nil
}

// FindByAPIKey is never served from cache: a suspended tenant's key must
// stop working as soon as the store says so.
func (c *CachedRegistry) FindByAPIKey(ctx context.Context, apiKey string) (*TenantRecord, error) {
	return c.inner.FindByAPIKey(ctx, apiKey)
}

func (c *CachedRegistry) SetPassword(ctx context.Context, id, password string) error {
	if err := c.inner.SetPassword(ctx, id, password); err != nil {
		return err
	}
	c.invalidateByID(id)
	return nil
}

// GetPassword is never cached; plaintext credentials do not belong in
// process memory longer than a single call.
func (c *CachedRegistry) GetPassword(ctx context.Context, id string) (string, error) {
	return c.inner.GetPassword(ctx, id)
}

func (c *CachedRegistry) Delete(ctx context.Context, id string) error {
	if err := c.inner.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidateByID(id)
	return nil
}

func (c *CachedRegistry) store(record *TenantRecord) {
	if c.ttl <= 0 {
		return
	}
	entry := cachedRecord{record: *record, expires: time.Now().Add(c.ttl)}
	c.mu.Lock()
	c.byID[record.ID] = entry
	c.bySlug[record.Slug] = entry
	c.mu.Unlock()
}

// invalidateByID drops the cached record without knowing its slug, so the
// slug index is searched for the matching entry.
func (c *CachedRegistry) invalidateByID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.byID, id)
	for slug, entry := range c.bySlug {
		if entry.record.ID == id {
			delete(c.bySlug, slug)
		}
	}
	c.lists = make(map[Status]cachedList)
	c.allList = nil
}

func (c *CachedRegistry) invalidate(id, slug string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.byID, id)
	delete(c.bySlug, slug)
	c.lists = make(map[Status]cachedList)
	c.allList = nil
}
