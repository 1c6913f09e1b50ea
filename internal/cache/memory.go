package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/google/uuid"
)

type memoryEntry struct {
	msgs      []domain.Message
	expiresAt time.Time
}

// MemoryCache is an in-process MessageCache for single-instance deployments
// and tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type MemoryOption func(*MemoryCache)

// WithClock replaces time.Now, letting tests step past the TTL.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

func NewMemoryCache(ttl time.Duration, opts ...MemoryOption) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &MemoryCache{
		entries: make(map[uuid.UUID]*memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, chatID uuid.UUID) ([]domain.Message, error) {
	c.mu.RLock()
	entry, ok := c.entries[chatID]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[chatID]; ok && cur == entry {
			delete(c.entries, chatID)
		}
		c.mu.Unlock()
		return nil, ErrCacheMiss
	}

	out := make([]domain.Message, len(entry.msgs))
	copy(out, entry.msgs)
	return out, nil
}

func (c *MemoryCache) PopulateFromStore(_ context.Context, chatID uuid.UUID, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	msgs = window(msgs)
	stored := make([]domain.Message, len(msgs))
	copy(stored, msgs)

	c.mu.Lock()
	c.entries[chatID] = &memoryEntry{msgs: stored, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) AppendAndRefresh(_ context.Context, chatID uuid.UUID, msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[chatID]
	if !ok || !c.now().Before(entry.expiresAt) {
		delete(c.entries, chatID)
		return nil
	}

	msgs := make([]domain.Message, 0, len(entry.msgs)+1)
	msgs = append(msgs, msg)
	msgs = append(msgs, entry.msgs...)
	// Replace rather than mutate so readers holding the old slice are unaffected.
	c.entries[chatID] = &memoryEntry{msgs: window(msgs), expiresAt: entry.expiresAt}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, chatID uuid.UUID) error {
	c.mu.Lock()
	delete(c.entries, chatID)
	c.mu.Unlock()
	return nil
}
