package repo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mtktsuda/kotori/internal/domain"
)

func (s *Store) tokens() *mongo.Collection { return s.DB.Collection("Tokens") }

// FindLiveToken returns the cached session row for a bearer value, nil when
// none is live.
func (s *Store) FindLiveToken(ctx context.Context, bearer string, now time.Time) (*domain.Token, error) {
	var tok domain.Token
	err := s.tokens().FindOne(ctx, bson.M{
		"token":     bearer,
		"expiresIn": bson.M{"$gt": now},
		"deleted":   notDeleted(),
	}).Decode(&tok)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *Store) InsertToken(ctx context.Context, tok *domain.Token) error {
	res, err := s.tokens().InsertOne(ctx, tok)
	if err != nil {
		return err
	}
	tok.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// InvalidateOtherTokens soft-deletes every cached session of the user except
// the given bearer. Reissued provider tokens retire their predecessors.
func (s *Store) InvalidateOtherTokens(ctx context.Context, userID primitive.ObjectID, email, keepBearer string, now time.Time) error {
	_, err := s.tokens().UpdateMany(ctx,
		bson.M{
			"userId": userID,
			"email":  email,
			"token":  bson.M{"$ne": keepBearer},
		},
		bson.M{"$set": bson.M{"deleted": true, "deletedAt": now}})
	return err
}

// InvalidateUserTokens drops every cached session of the user, used on
// account deletion.
func (s *Store) InvalidateUserTokens(ctx context.Context, userID primitive.ObjectID, now time.Time) error {
	_, err := s.tokens().UpdateMany(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": bson.M{"deleted": true, "deletedAt": now}})
	return err
}
