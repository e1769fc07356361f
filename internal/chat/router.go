// Package chat decides which conversation an inbound event belongs to,
// validates membership and anonymity gating, and fans the result out to the
// participants' connections.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soulmatch/realtime-service/internal/domain"
	"github.com/soulmatch/realtime-service/internal/errs"
	"github.com/soulmatch/realtime-service/internal/events"
	"github.com/soulmatch/realtime-service/internal/store"
)

// Notifier pushes server events to all (or all-but-one) of a user's
// connections.
type Notifier interface {
	PushToUser(ctx context.Context, userID, event string, payload any)
	PushToUserExcept(ctx context.Context, userID, exceptConnID, event string, payload any)
}

// Pairings answers whether two users are each other's current match.
type Pairings interface {
	IsLivePeer(userID, peerID string) bool
}

type Router struct {
	convs      store.ConversationStore
	pairs      Pairings
	notify     Notifier
	events     *events.Publisher
	maxContent int
	log        *zap.SugaredLogger
}

func NewRouter(convs store.ConversationStore, pairs Pairings, notify Notifier, ev *events.Publisher, maxContent int, log *zap.SugaredLogger) *Router {
	if maxContent <= 0 {
		maxContent = 500
	}
	return &Router{convs: convs, pairs: pairs, notify: notify, events: ev, maxContent: maxContent, log: log}
}

// Draft is an inbound message before it gets an id and a conversation.
type Draft struct {
	RecipientID string
	Kind        domain.MessageKind
	Content     string
	Timestamp   time.Time
}

type SendResult struct {
	ConversationID string          `json:"conversationId"`
	Message        *domain.Message `json:"message"`
}

// SendMessage appends a message to the conversation it belongs to. With an
// explicit conversation id the sender must be a participant and, for
// anonymous conversations, still paired with the recipient. With no id, an
// existing non-anonymous conversation between the pair must be addressed
// explicitly; otherwise a new one is created.
func (r *Router) SendMessage(ctx context.Context, sender *domain.User, convID string, draft Draft, originConnID string) (*SendResult, error) {
	if len([]rune(draft.Content)) > r.maxContent {
		return nil, errs.ErrContentTooLong
	}
	kind := draft.Kind
	if kind == "" {
		kind = domain.KindText
	}
	ts := draft.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	msg := &domain.Message{
		ID:          uuid.NewString(),
		Timestamp:   ts,
		Kind:        kind,
		SenderID:    sender.ID,
		RecipientID: draft.RecipientID,
		Content:     draft.Content,
	}

	if convID != "" {
		conv, err := r.convs.Get(ctx, convID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errs.ErrConversationNotFound
			}
			return nil, errs.Wrap(errs.CodeStoreUnavailable, "conversation lookup failed", err)
		}
		if !conv.HasParticipant(sender.ID) || conv.PeerOf(sender.ID) != draft.RecipientID {
			return nil, errs.ErrConversationNotFound
		}
		if conv.Anonymous && !r.pairs.IsLivePeer(sender.ID, draft.RecipientID) {
			return nil, errs.ErrAnonymityViolation
		}
		if err := r.convs.AppendMessage(ctx, convID, msg); err != nil {
			return nil, errs.Wrap(errs.CodeStoreUnavailable, "message append failed", err)
		}
	} else {
		_, err := r.convs.FindDirect(ctx, sender.ID, draft.RecipientID)
		switch {
		case err == nil:
			return nil, errs.ErrAmbiguousConversation
		case !errors.Is(err, store.ErrNotFound):
			return nil, errs.Wrap(errs.CodeStoreUnavailable, "conversation lookup failed", err)
		}
		conv := &domain.Conversation{
			ID:          uuid.NewString(),
			InitiatorID: sender.ID,
			RecipientID: draft.RecipientID,
			Anonymous:   false,
			Messages:    []domain.Message{*msg},
			LastUpdated: ts,
		}
		if err := r.convs.Create(ctx, conv); err != nil {
			return nil, errs.Wrap(errs.CodeStoreUnavailable, "conversation create failed", err)
		}
		convID = conv.ID
	}

	r.log.Infow("private message routed", "conversation", convID, "sender", sender.ID, "recipient", draft.RecipientID, "kind", kind)
	res := &SendResult{ConversationID: convID, Message: msg}
	r.notify.PushToUser(ctx, draft.RecipientID, "newMessage", res)
	r.notify.PushToUserExcept(ctx, sender.ID, originConnID, "newMessage", res)
	r.events.MessageSent(ctx, convID, msg)
	return res, nil
}

// MarkRead moves the caller's read cursor to now. The cursor is pull-based;
// the peer is not notified.
func (r *Router) MarkRead(ctx context.Context, userID, convID string) error {
	if _, err := r.conversationFor(ctx, userID, convID); err != nil {
		return err
	}
	if err := r.convs.SetLastRead(ctx, convID, userID, time.Now().UTC()); err != nil {
		return errs.Wrap(errs.CodeStoreUnavailable, "read cursor update failed", err)
	}
	return nil
}

// Typing relays a transient typing indicator to the peer. Nothing persists.
func (r *Router) Typing(ctx context.Context, userID, convID string, start bool) error {
	conv, err := r.conversationFor(ctx, userID, convID)
	if err != nil {
		return err
	}
	event := "typingStopped"
	if start {
		event = "typingStarted"
	}
	r.notify.PushToUser(ctx, conv.PeerOf(userID), event, map[string]string{"conversationId": convID})
	return nil
}

// RevealImage sets a disappearing image's viewed flag and tells the peer.
// Setting an already-viewed message again is not an error; the flag only
// ever moves false to true.
func (r *Router) RevealImage(ctx context.Context, userID, convID, messageID string) error {
	conv, err := r.conversationFor(ctx, userID, convID)
	if err != nil {
		return err
	}
	if err := r.convs.MarkViewed(ctx, convID, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.ErrConversationNotFound
		}
		return errs.Wrap(errs.CodeStoreUnavailable, "viewed flag update failed", err)
	}
	r.notify.PushToUser(ctx, conv.PeerOf(userID), "imageRevealed", map[string]string{
		"conversationId": convID,
		"messageId":      messageID,
	})
	return nil
}

// ProfileRevealRequest relays a profile-reveal ask to the peer of an
// anonymous conversation. Pure relay, nothing persists.
func (r *Router) ProfileRevealRequest(ctx context.Context, userID, convID string) error {
	conv, err := r.anonymousConversationFor(ctx, userID, convID)
	if err != nil {
		return err
	}
	r.notify.PushToUser(ctx, conv.PeerOf(userID), "profileRevealRequested", map[string]string{"conversationId": convID})
	return nil
}

// ProfileRevealResponse relays the answer back the same way.
func (r *Router) ProfileRevealResponse(ctx context.Context, userID, convID string, accepted bool) error {
	conv, err := r.anonymousConversationFor(ctx, userID, convID)
	if err != nil {
		return err
	}
	r.notify.PushToUser(ctx, conv.PeerOf(userID), "profileRevealResponded", map[string]any{
		"conversationId": convID,
		"accepted":       accepted,
	})
	return nil
}

// History returns the most recent messages, membership-checked.
func (r *Router) History(ctx context.Context, userID, convID string, limit int) ([]domain.Message, error) {
	if _, err := r.conversationFor(ctx, userID, convID); err != nil {
		return nil, err
	}
	msgs, err := r.convs.LatestMessages(ctx, convID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStoreUnavailable, "history read failed", err)
	}
	return msgs, nil
}

// conversationFor is the shared membership predicate: the conversation must
// exist and the caller must be one of its two participants.
func (r *Router) conversationFor(ctx context.Context, userID, convID string) (*domain.Conversation, error) {
	conv, err := r.convs.Get(ctx, convID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errs.ErrConversationNotFound
		}
		return nil, errs.Wrap(errs.CodeStoreUnavailable, "conversation lookup failed", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, errs.ErrNotAMember
	}
	return conv, nil
}

func (r *Router) anonymousConversationFor(ctx context.Context, userID, convID string) (*domain.Conversation, error) {
	conv, err := r.conversationFor(ctx, userID, convID)
	if err != nil {
		return nil, err
	}
	if !conv.Anonymous {
		return nil, errs.ErrAnonymityViolation
	}
	return conv, nil
}
