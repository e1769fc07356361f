// Package presence tracks online/offline transitions per user across multiple
// concurrent connections.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soulmatch/realtime-service/internal/store"
)

// Mirror receives online/offline transitions, typically backed by Redis so
// sibling instances can observe presence.
type Mirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

type Tracker struct {
	mu    sync.Mutex
	conns map[string]map[string]struct{}

	users  store.UserStore
	mirror Mirror
	log    *zap.SugaredLogger
}

func NewTracker(users store.UserStore, mirror Mirror, log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		conns:  make(map[string]map[string]struct{}),
		users:  users,
		mirror: mirror,
		log:    log,
	}
}

// Connect registers a connection and reports whether it is the user's first.
// The first connection flips the durable online flag; failures there are
// logged and do not reject the connection.
func (t *Tracker) Connect(ctx context.Context, userID, connID string) bool {
	t.mu.Lock()
	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	set[connID] = struct{}{}
	first := len(set) == 1
	t.mu.Unlock()

	if first {
		if err := t.users.SetOnline(ctx, userID, true, time.Time{}); err != nil {
			t.log.Errorw("set user online failed", "user", userID, "err", err)
		}
		if t.mirror != nil {
			if err := t.mirror.SetOnline(ctx, userID); err != nil {
				t.log.Warnw("presence mirror online failed", "user", userID, "err", err)
			}
		}
	}
	return first
}

// Disconnect removes a connection and reports whether it was the user's last.
// The count is taken after removal, so callers can use the return value to
// drive last-connection cleanup.
func (t *Tracker) Disconnect(ctx context.Context, userID, connID string) bool {
	t.mu.Lock()
	set, ok := t.conns[userID]
	if ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(t.conns, userID)
		}
	}
	last := ok && len(set) == 0
	t.mu.Unlock()

	if last {
		if err := t.users.SetOnline(ctx, userID, false, time.Now().UTC()); err != nil {
			t.log.Errorw("set user offline failed", "user", userID, "err", err)
		}
		if t.mirror != nil {
			if err := t.mirror.SetOffline(ctx, userID); err != nil {
				t.log.Warnw("presence mirror offline failed", "user", userID, "err", err)
			}
		}
	}
	return last
}

// Count returns the user's current number of live connections.
func (t *Tracker) Count(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[userID])
}
