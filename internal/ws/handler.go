package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soulmatch/realtime-service/internal/auth"
	"github.com/soulmatch/realtime-service/internal/chat"
	"github.com/soulmatch/realtime-service/internal/config"
	"github.com/soulmatch/realtime-service/internal/domain"
	"github.com/soulmatch/realtime-service/internal/errs"
	"github.com/soulmatch/realtime-service/internal/events"
	"github.com/soulmatch/realtime-service/internal/hub"
	"github.com/soulmatch/realtime-service/internal/match"
	"github.com/soulmatch/realtime-service/internal/presence"
	"github.com/soulmatch/realtime-service/internal/store"
)

// Handler owns one websocket connection end to end: handshake auth, the
// sequential request/ack loop, and last-connection cleanup.
type Handler struct {
	cfg       *config.Config
	validator *auth.Validator
	users     store.UserStore
	tracker   *presence.Tracker
	engine    *match.Engine
	router    *chat.Router
	hub       *hub.Hub
	notify    *HubNotifier
	events    *events.Publisher
	log       *zap.SugaredLogger
}

func NewHandler(cfg *config.Config, validator *auth.Validator, users store.UserStore,
	tracker *presence.Tracker, engine *match.Engine, router *chat.Router,
	h *hub.Hub, ev *events.Publisher, log *zap.SugaredLogger) *Handler {
	return &Handler{
		cfg:       cfg,
		validator: validator,
		users:     users,
		tracker:   tracker,
		engine:    engine,
		router:    router,
		hub:       h,
		notify:    NewHubNotifier(h, log),
		events:    ev,
		log:       log,
	}
}

// Serve runs for the lifetime of one connection. Requests are processed in
// arrival order; each gets exactly one ack.
func (h *Handler) Serve(conn *websocket.Conn) {
	ctx := context.Background()

	token := conn.Query("token")
	userID, err := h.validator.Validate(token)
	if err != nil {
		h.rejectAndClose(conn, errs.ErrAuthRequired)
		return
	}
	user, err := h.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.rejectAndClose(conn, errs.New(errs.CodeAuthRequired, "unknown user"))
		} else {
			h.rejectAndClose(conn, errs.Wrap(errs.CodeStoreUnavailable, "user lookup failed", err))
		}
		return
	}

	connID := uuid.NewString()
	hc := &hub.Client{UserID: user.ID, ConnID: connID, Send: make(chan []byte, h.cfg.WS.SendBuffer)}
	c := newClient(conn, hc)

	h.hub.Add(hc)
	if first := h.tracker.Connect(ctx, user.ID, connID); first {
		h.events.PresenceChanged(ctx, user.ID, true)
	}
	h.log.Infow("user connected", "user", user.ID, "conn", connID)

	go c.writePump(h.cfg.PingInterval, h.cfg.WriteDeadline)
	h.readLoop(ctx, c, user, connID)

	h.hub.Remove(hc)
	c.close()
	if last := h.tracker.Disconnect(ctx, user.ID, connID); last {
		h.log.Infow("user disconnected", "user", user.ID)
		h.events.PresenceChanged(ctx, user.ID, false)
		if peer := h.engine.OnDisconnect(user.ID); peer != "" {
			h.notify.PushToUser(ctx, peer, "matchLeft", nil)
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, c *client, user *domain.User, connID string) {
	conn := c.conn
	conn.SetReadLimit(h.cfg.WS.MaxMessageSizeBytes)
	readWait := h.cfg.PingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.log.Warnw("bad envelope", "user", user.ID, "err", err)
			continue
		}
		ack := h.dispatch(ctx, user, connID, &env)
		h.writeAck(c, ack)
	}
}

func (h *Handler) dispatch(ctx context.Context, user *domain.User, connID string, env *Envelope) *Ack {
	data, err := h.handle(ctx, user, connID, env)
	if err != nil {
		var ce *errs.Error
		if !errors.As(err, &ce) {
			h.log.Errorw("request failed", "type", env.Type, "user", user.ID, "err", err)
			return &Ack{ID: env.ID, Type: "ack", OK: false, Code: errs.CodeStoreUnavailable, Message: "internal error"}
		}
		return &Ack{ID: env.ID, Type: "ack", OK: false, Code: ce.Code, Message: ce.Message}
	}
	return &Ack{ID: env.ID, Type: "ack", OK: true, Data: data}
}

func (h *Handler) handle(ctx context.Context, user *domain.User, connID string, env *Envelope) (any, error) {
	switch env.Type {
	case "sendMessage":
		var p sendMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, errs.New("BAD_PAYLOAD", "malformed sendMessage payload")
		}
		draft := chat.Draft{RecipientID: p.RecipientID, Kind: p.Kind, Content: p.Content, Timestamp: p.Timestamp}
		return h.router.SendMessage(ctx, user, p.ConversationID, draft, connID)

	case "markRead":
		var p conversationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, errs.New("BAD_PAYLOAD", "malformed markRead payload")
		}
		return nil, h.router.MarkRead(ctx, user.ID, p.ConversationID)

	case "startTyping", "stopTyping":
		var p conversationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, errs.New("BAD_PAYLOAD", "malformed typing payload")
		}
		return nil, h.router.Typing(ctx, user.ID, p.ConversationID, env.Type == "startTyping")

	case "revealImage":
		var p revealImagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, errs.New("BAD_PAYLOAD", "malformed revealImage payload")
		}
		return nil, h.router.RevealImage(ctx, user.ID, p.ConversationID, p.MessageID)

	case "matchRequest":
		var p matchRequestPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return nil, errs.New("BAD_PAYLOAD", "malformed matchRequest payload")
			}
		}
		res, err := h.engine.Request(ctx, user, p.Condition)
		if err != nil {
			return nil, err
		}
		if !res.Matched {
			return map[string]any{"matched": false}, nil
		}
		h.events.MatchCreated(ctx, res.ConversationID, res.Caller.ID, res.Peer.ID)
		h.notify.PushToUser(ctx, res.Caller.ID, "matchSucceeded",
			matchSucceededPayload{ConversationID: res.ConversationID, PeerID: res.Peer.ID})
		h.notify.PushToUser(ctx, res.Peer.ID, "matchSucceeded",
			matchSucceededPayload{ConversationID: res.ConversationID, PeerID: res.Caller.ID})
		return map[string]any{
			"matched":        true,
			"conversationId": res.ConversationID,
			"peerId":         res.Peer.ID,
		}, nil

	case "matchCancel":
		h.engine.Cancel(user.ID)
		return nil, nil

	case "matchLeave":
		if peer := h.engine.Leave(user.ID); peer != "" {
			h.notify.PushToUser(ctx, peer, "matchLeft", nil)
		}
		return nil, nil

	case "profileRevealRequest":
		var p conversationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, errs.New("BAD_PAYLOAD", "malformed profileRevealRequest payload")
		}
		return nil, h.router.ProfileRevealRequest(ctx, user.ID, p.ConversationID)

	case "profileRevealResponse":
		var p profileResponsePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, errs.New("BAD_PAYLOAD", "malformed profileRevealResponse payload")
		}
		return nil, h.router.ProfileRevealResponse(ctx, user.ID, p.ConversationID, p.Accepted)
	}
	return nil, errs.New("UNSUPPORTED_EVENT", "unsupported request type: "+env.Type)
}

func (h *Handler) writeAck(c *client, ack *Ack) {
	b, err := json.Marshal(ack)
	if err != nil {
		h.log.Errorw("ack marshal failed", "err", err)
		return
	}
	// acks share the send channel with pushes so per-connection ordering
	// follows the request order. Unlike pushes, acks are never dropped on a
	// full buffer: the read loop blocks here until the pump drains the
	// channel or the connection dies.
	select {
	case c.hc.Send <- b:
	case <-c.done:
		h.log.Warnw("ack abandoned, connection closed", "user", c.hc.UserID, "conn", c.hc.ConnID)
	}
}

func (h *Handler) rejectAndClose(conn *websocket.Conn, err *errs.Error) {
	b, _ := json.Marshal(Ack{Type: "ack", OK: false, Code: err.Code, Message: err.Message})
	_ = conn.WriteMessage(websocket.TextMessage, b)
	_ = conn.Close()
}
