// Package redis mirrors presence state and relays per-user pushes between
// service instances over pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const presenceTTL = 24 * time.Hour

type Store struct {
	client     *redis.Client
	prefix     string
	instanceID string
	log        *zap.SugaredLogger
}

func NewStore(client *redis.Client, prefix, instanceID string, log *zap.SugaredLogger) *Store {
	return &Store{client: client, prefix: prefix, instanceID: instanceID, log: log}
}

func (s *Store) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

func (s *Store) fanoutChannel() string {
	return s.prefix + ":fanout"
}

type presenceDoc struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func (s *Store) SetOnline(ctx context.Context, userID string) error {
	b, _ := json.Marshal(presenceDoc{Status: "online", LastSeen: time.Now().Unix()})
	return s.client.Set(ctx, s.presenceKey(userID), b, presenceTTL).Err()
}

func (s *Store) SetOffline(ctx context.Context, userID string) error {
	b, _ := json.Marshal(presenceDoc{Status: "offline", LastSeen: time.Now().Unix()})
	return s.client.Set(ctx, s.presenceKey(userID), b, 0).Err()
}

// fanoutMsg wraps a per-user push so instances can skip their own publishes.
type fanoutMsg struct {
	Instance string          `json:"instance"`
	UserID   string          `json:"user"`
	Data     json.RawMessage `json:"data"`
}

// Publish forwards a per-user payload to sibling instances.
func (s *Store) Publish(ctx context.Context, userID string, payload []byte) error {
	b, err := json.Marshal(fanoutMsg{Instance: s.instanceID, UserID: userID, Data: payload})
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.fanoutChannel(), b).Err()
}

// Relay subscribes to the fan-out channel and hands foreign-instance payloads
// to deliver. Blocks until ctx is done.
func (s *Store) Relay(ctx context.Context, deliver func(userID string, payload []byte)) {
	sub := s.client.Subscribe(ctx, s.fanoutChannel())
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var fm fanoutMsg
			if err := json.Unmarshal([]byte(m.Payload), &fm); err != nil {
				s.log.Warnw("fanout payload unmarshal failed", "err", err)
				continue
			}
			if fm.Instance == s.instanceID {
				continue
			}
			deliver(fm.UserID, fm.Data)
		}
	}
}
