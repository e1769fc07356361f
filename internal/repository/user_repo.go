package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/soulmatch/realtime-service/internal/domain"
	"github.com/soulmatch/realtime-service/internal/store"
)

// UserRepository reads user profiles owned by the identity service. The only
// fields written from here are online and last_online.
type UserRepository struct {
	coll *mongo.Collection
}

func NewUserRepository(coll *mongo.Collection) *UserRepository {
	return &UserRepository{coll: coll}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) SetOnline(ctx context.Context, id string, online bool, lastOnline time.Time) error {
	set := bson.M{"online": online}
	if !lastOnline.IsZero() {
		set["last_online"] = lastOnline
	}
	res, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
