package ws

import (
	"encoding/json"
	"time"

	"github.com/soulmatch/realtime-service/internal/domain"
	"github.com/soulmatch/realtime-service/internal/match"
)

// Envelope is an inbound request frame. The client picks the id; the server
// answers every request with exactly one Ack carrying the same id.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Ack struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Event is a server-initiated push.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type sendMessagePayload struct {
	ConversationID string             `json:"conversationId,omitempty"`
	RecipientID    string             `json:"recipientId"`
	Kind           domain.MessageKind `json:"kind,omitempty"`
	Content        string             `json:"content"`
	Timestamp      time.Time          `json:"timestamp,omitempty"`
}

type conversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type revealImagePayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type matchRequestPayload struct {
	Condition match.Condition `json:"condition"`
}

type profileResponsePayload struct {
	ConversationID string `json:"conversationId"`
	Accepted       bool   `json:"accepted"`
}

type matchSucceededPayload struct {
	ConversationID string `json:"conversationId"`
	PeerID         string `json:"peerId"`
}
