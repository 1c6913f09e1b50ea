package websocket

import (
	"sync"

	applog "github.com/dom/livechat/internal/log"
	"github.com/dom/livechat/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handle is the sending half of a live connection. Enqueue must not block:
// it either queues the payload or reports that the connection cannot take it.
type Handle interface {
	Enqueue(payload []byte) error
	Close()
}

// Audience decides which users a broadcast reaches.
type Audience func(userID uuid.UUID) bool

// Everyone accepts every user.
func Everyone(uuid.UUID) bool { return true }

// Participants accepts only the given users.
func Participants(ids []uuid.UUID) Audience {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(userID uuid.UUID) bool {
		_, ok := set[userID]
		return ok
	}
}

type registration struct {
	userID uuid.UUID
	handle Handle
}

// Registry tracks authenticated live connections.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]registration
	logger zerolog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]registration),
		logger: applog.Component("registry"),
	}
}

func (r *Registry) Register(connID, userID uuid.UUID, handle Handle) {
	r.mu.Lock()
	prev, replaced := r.conns[connID]
	r.conns[connID] = registration{userID: userID, handle: handle}
	total := len(r.conns)
	r.mu.Unlock()

	if replaced {
		prev.handle.Close()
	} else {
		metrics.WsConnections.Inc()
	}
	r.logger.Debug().
		Str("conn", connID.String()).
		Str("user", userID.String()).
		Int("total", total).
		Msg("connection registered")
}

// Unregister removes and closes the connection. It reports whether the
// connection was registered; calling it again is harmless.
func (r *Registry) Unregister(connID uuid.UUID) bool {
	r.mu.Lock()
	reg, ok := r.conns[connID]
	delete(r.conns, connID)
	total := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return false
	}
	reg.handle.Close()
	metrics.WsConnections.Dec()
	r.logger.Debug().Str("conn", connID.String()).Int("total", total).Msg("connection unregistered")
	return true
}

// BroadcastExcept queues payload on every registered connection accepted by
// to, other than origin, and returns how many accepted it. A connection that
// cannot take the payload is unregistered; the rest are unaffected.
func (r *Registry) BroadcastExcept(origin uuid.UUID, payload []byte, to Audience) int {
	type target struct {
		connID uuid.UUID
		handle Handle
	}

	r.mu.RLock()
	targets := make([]target, 0, len(r.conns))
	for connID, reg := range r.conns {
		if connID == origin || !to(reg.userID) {
			continue
		}
		targets = append(targets, target{connID: connID, handle: reg.handle})
	}
	r.mu.RUnlock()

	delivered := 0
	for _, t := range targets {
		if err := t.handle.Enqueue(payload); err != nil {
			r.logger.Warn().Err(err).Str("conn", t.connID.String()).Msg("dropping connection after failed send")
			metrics.BroadcastDropsTotal.Inc()
			r.Unregister(t.connID)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserConnections counts the live connections of one user.
func (r *Registry) UserConnections(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, reg := range r.conns {
		if reg.userID == userID {
			n++
		}
	}
	return n
}

// CloseAll unregisters every connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Unregister(id)
	}
}
