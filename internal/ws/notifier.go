package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/soulmatch/realtime-service/internal/hub"
)

// HubNotifier marshals push events and hands them to the hub. It is the
// chat.Notifier implementation used in production.
type HubNotifier struct {
	hub *hub.Hub
	log *zap.SugaredLogger
}

func NewHubNotifier(h *hub.Hub, log *zap.SugaredLogger) *HubNotifier {
	return &HubNotifier{hub: h, log: log}
}

func (n *HubNotifier) PushToUser(ctx context.Context, userID, event string, payload any) {
	b, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		n.log.Errorw("push marshal failed", "event", event, "err", err)
		return
	}
	n.hub.SendToUser(ctx, userID, b)
}

func (n *HubNotifier) PushToUserExcept(ctx context.Context, userID, exceptConnID, event string, payload any) {
	b, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		n.log.Errorw("push marshal failed", "event", event, "err", err)
		return
	}
	n.hub.SendToUserExcept(ctx, userID, exceptConnID, b)
}
