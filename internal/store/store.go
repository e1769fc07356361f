// Package store defines the persistence contracts for conversations and
// users. Mongo-backed implementations live in internal/repository; the
// in-memory ones here back the tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/soulmatch/realtime-service/internal/domain"
)

var ErrNotFound = errors.New("not found")

type ConversationStore interface {
	// Create inserts a new conversation record, messages included.
	Create(ctx context.Context, conv *domain.Conversation) error
	Get(ctx context.Context, id string) (*domain.Conversation, error)
	// FindDirect returns the non-anonymous conversation between the two
	// users, in either role order. ErrNotFound when none exists.
	FindDirect(ctx context.Context, userA, userB string) (*domain.Conversation, error)
	// HasAnonymousBetween reports whether any anonymous conversation was
	// ever created between the two users.
	HasAnonymousBetween(ctx context.Context, userA, userB string) (bool, error)
	AppendMessage(ctx context.Context, convID string, msg *domain.Message) error
	SetLastRead(ctx context.Context, convID, userID string, at time.Time) error
	// MarkViewed flips a message's viewed flag to true. Idempotent.
	MarkViewed(ctx context.Context, convID, messageID string) error
	LatestMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error)
}

type UserStore interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	SetOnline(ctx context.Context, id string, online bool, lastOnline time.Time) error
}
