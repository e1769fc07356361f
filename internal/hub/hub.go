// Package hub is the per-user connection registry. It addresses payloads to
// all of a user's local connections and optionally republishes them for
// sibling instances.
package hub

import (
	"context"
	"sync"
)

type Client struct {
	UserID string
	ConnID string
	Send   chan []byte
}

// PublishFunc forwards a per-user payload to other instances.
type PublishFunc func(ctx context.Context, userID string, payload []byte) error

type Hub struct {
	mu      sync.RWMutex
	byUser  map[string]map[*Client]struct{}
	publish PublishFunc
}

func NewHub(publish PublishFunc) *Hub {
	return &Hub{
		byUser:  make(map[string]map[*Client]struct{}),
		publish: publish,
	}
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byUser[c.UserID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byUser[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
}

// SendToUser delivers to every local connection of the user and republishes
// for sibling instances. Slow connections are skipped, not waited on.
func (h *Hub) SendToUser(ctx context.Context, userID string, payload []byte) {
	h.deliverLocal(userID, "", payload)
	if h.publish != nil {
		_ = h.publish(ctx, userID, payload)
	}
}

// SendToUserExcept is SendToUser minus one named connection, used to echo a
// sender's message to its other devices only.
func (h *Hub) SendToUserExcept(ctx context.Context, userID, exceptConnID string, payload []byte) {
	h.deliverLocal(userID, exceptConnID, payload)
	if h.publish != nil {
		_ = h.publish(ctx, userID, payload)
	}
}

// DeliverLocal injects a payload into local connections only; the fan-out
// relay uses it for foreign-instance traffic.
func (h *Hub) DeliverLocal(userID string, payload []byte) {
	h.deliverLocal(userID, "", payload)
}

func (h *Hub) deliverLocal(userID, exceptConnID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		if exceptConnID != "" && c.ConnID == exceptConnID {
			continue
		}
		select {
		case c.Send <- payload:
		default:
			// client moving slow, drop rather than block the caller
		}
	}
}

func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}
