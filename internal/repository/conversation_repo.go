package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/soulmatch/realtime-service/internal/domain"
	"github.com/soulmatch/realtime-service/internal/store"
)

// ConversationRepository persists conversations as single documents with an
// embedded message array. Appends are a single atomic $push, so concurrent
// writers into one conversation serialize on the document commit order.
type ConversationRepository struct {
	coll *mongo.Collection
}

func NewConversationRepository(coll *mongo.Collection) *ConversationRepository {
	ix := mongo.IndexModel{
		Keys:    bson.D{{Key: "initiator_id", Value: 1}, {Key: "recipient_id", Value: 1}},
		Options: options.Index().SetName("participants_idx"),
	}
	_, _ = coll.Indexes().CreateOne(context.Background(), ix)
	return &ConversationRepository{coll: coll}
}

func betweenFilter(userA, userB string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"initiator_id": userA, "recipient_id": userB},
		bson.M{"initiator_id": userB, "recipient_id": userA},
	}}
}

func (r *ConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	if conv.Messages == nil {
		conv.Messages = []domain.Message{}
	}
	_, err := r.coll.InsertOne(ctx, conv)
	return err
}

func (r *ConversationRepository) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepository) FindDirect(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	filter := betweenFilter(userA, userB)
	filter["anonymous"] = false
	var c domain.Conversation
	if err := r.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepository) HasAnonymousBetween(ctx context.Context, userA, userB string) (bool, error) {
	filter := betweenFilter(userA, userB)
	filter["anonymous"] = true
	n, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, convID string, msg *domain.Message) error {
	res, err := r.coll.UpdateByID(ctx, convID, bson.M{
		"$push": bson.M{"messages": msg},
		"$set":  bson.M{"last_updated": msg.Timestamp},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) SetLastRead(ctx context.Context, convID, userID string, at time.Time) error {
	// cursor field depends on the caller's role in the record
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": convID, "initiator_id": userID},
		bson.M{"$set": bson.M{"initiator_last_read": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	res, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": convID, "recipient_id": userID},
		bson.M{"$set": bson.M{"recipient_last_read": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) MarkViewed(ctx context.Context, convID, messageID string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": convID, "messages._id": messageID},
		bson.M{"$set": bson.M{"messages.$.viewed": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) LatestMessages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	opts := options.FindOne()
	if limit > 0 {
		opts.SetProjection(bson.M{"messages": bson.M{"$slice": -limit}})
	}
	var c domain.Conversation
	if err := r.coll.FindOne(ctx, bson.M{"_id": convID}, opts).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return c.Messages, nil
}
