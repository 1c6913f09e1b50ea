// Package cache keeps the most recent messages of each chat close at hand so
// history reads do not reach the database every time. The database stays
// authoritative: losing a cache entry only costs a store read.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dom/livechat/internal/domain"
	"github.com/google/uuid"
)

// ErrCacheMiss means the chat has no live entry. It is a signal to fall back to
// the store, not a failure.
var ErrCacheMiss = errors.New("cache miss")

const DefaultTTL = time.Hour

type MessageCache interface {
	// Get returns the cached window, newest first, or ErrCacheMiss.
	Get(ctx context.Context, chatID uuid.UUID) ([]domain.Message, error)
	// PopulateFromStore replaces the entry with msgs (newest first), keeping at
	// most domain.RecentMessageLimit of them, and resets the TTL.
	PopulateFromStore(ctx context.Context, chatID uuid.UUID, msgs []domain.Message) error
	// AppendAndRefresh pushes a newly persisted message onto a live entry and
	// trims it, leaving the entry's expiry unchanged. Without a live entry it
	// does nothing; the next read repopulates the full window.
	AppendAndRefresh(ctx context.Context, chatID uuid.UUID, msg domain.Message) error
	// Invalidate drops the entry. It is idempotent.
	Invalidate(ctx context.Context, chatID uuid.UUID) error
}

func window(msgs []domain.Message) []domain.Message {
	if len(msgs) > domain.RecentMessageLimit {
		return msgs[:domain.RecentMessageLimit]
	}
	return msgs
}
