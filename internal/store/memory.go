package store

import (
	"context"
	"sync"
	"time"

	"github.com/soulmatch/realtime-service/internal/domain"
)

// MemoryConversationStore is a mutex-guarded in-memory ConversationStore,
// used by tests and local runs without Mongo.
type MemoryConversationStore struct {
	mu    sync.Mutex
	convs map[string]*domain.Conversation
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{convs: make(map[string]*domain.Conversation)}
}

func (s *MemoryConversationStore) Create(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	cp.Messages = append([]domain.Message(nil), conv.Messages...)
	s.convs[conv.ID] = &cp
	return nil
}

func (s *MemoryConversationStore) Get(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *MemoryConversationStore) FindDirect(_ context.Context, userA, userB string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if !c.Anonymous && isBetween(c, userA, userB) {
			return cloneConversation(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryConversationStore) HasAnonymousBetween(_ context.Context, userA, userB string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.Anonymous && isBetween(c, userA, userB) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryConversationStore) AppendMessage(_ context.Context, convID string, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return ErrNotFound
	}
	c.Messages = append(c.Messages, *msg)
	c.LastUpdated = msg.Timestamp
	return nil
}

func (s *MemoryConversationStore) SetLastRead(_ context.Context, convID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return ErrNotFound
	}
	switch userID {
	case c.InitiatorID:
		c.InitiatorLastRead = &at
	case c.RecipientID:
		c.RecipientLastRead = &at
	default:
		return ErrNotFound
	}
	return nil
}

func (s *MemoryConversationStore) MarkViewed(_ context.Context, convID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return ErrNotFound
	}
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			c.Messages[i].Viewed = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryConversationStore) LatestMessages(_ context.Context, convID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return nil, ErrNotFound
	}
	msgs := c.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func isBetween(c *domain.Conversation, userA, userB string) bool {
	return (c.InitiatorID == userA && c.RecipientID == userB) ||
		(c.InitiatorID == userB && c.RecipientID == userA)
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Messages = append([]domain.Message(nil), c.Messages...)
	return &cp
}

// MemoryUserStore keeps user profiles in memory for tests.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func NewMemoryUserStore(users ...*domain.User) *MemoryUserStore {
	s := &MemoryUserStore{users: make(map[string]*domain.User)}
	for _, u := range users {
		cp := *u
		s.users[u.ID] = &cp
	}
	return s
}

func (s *MemoryUserStore) FindByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) SetOnline(_ context.Context, id string, online bool, lastOnline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Online = online
	if !lastOnline.IsZero() {
		at := lastOnline
		u.LastOnline = &at
	}
	return nil
}
