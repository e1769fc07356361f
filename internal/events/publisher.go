// Package events publishes domain events to Kafka for downstream consumers
// (notifications, analytics). Publishing is fire-and-forget: failures are
// logged and never fail the user-visible action.
package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/soulmatch/realtime-service/internal/config"
	"github.com/soulmatch/realtime-service/internal/domain"
)

type Publisher struct {
	writer *kafkago.Writer
	topics config.KafkaConfig
	log    *zap.SugaredLogger
}

// NewPublisher returns nil when no brokers are configured; all methods are
// nil-safe.
func NewPublisher(cfg config.KafkaConfig, log *zap.SugaredLogger) *Publisher {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	return &Publisher{writer: w, topics: cfg, log: log}
}

func (p *Publisher) publish(ctx context.Context, topic, key string, payload any) {
	if p == nil || p.writer == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		p.log.Errorw("event marshal failed", "topic", topic, "err", err)
		return
	}
	msg := kafkago.Message{Topic: topic, Key: []byte(key), Value: b, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("event publish failed", "topic", topic, "err", err)
	}
}

func (p *Publisher) MessageSent(ctx context.Context, conversationID string, msg *domain.Message) {
	p.publish(ctx, p.topics.TopicMessages, conversationID, map[string]any{
		"conversation_id": conversationID,
		"message_id":      msg.ID,
		"sender_id":       msg.SenderID,
		"recipient_id":    msg.RecipientID,
		"kind":            msg.Kind,
		"sent_at":         msg.Timestamp,
	})
}

func (p *Publisher) MatchCreated(ctx context.Context, conversationID, initiatorID, peerID string) {
	p.publish(ctx, p.topics.TopicMatches, conversationID, map[string]any{
		"conversation_id": conversationID,
		"initiator_id":    initiatorID,
		"peer_id":         peerID,
		"created_at":      time.Now().UTC(),
	})
}

func (p *Publisher) PresenceChanged(ctx context.Context, userID string, online bool) {
	p.publish(ctx, p.topics.TopicPresence, userID, map[string]any{
		"user_id":    userID,
		"online":     online,
		"changed_at": time.Now().UTC(),
	})
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

