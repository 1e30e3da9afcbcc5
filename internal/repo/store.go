package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound reports a lookup that matched no live document.
var ErrNotFound = errors.New("repo: not found")

type Store struct {
	Client *mongo.Client
	DB     *mongo.Database
}

func NewStore(ctx context.Context, uri, dbname string) (*Store, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return &Store{Client: cli, DB: cli.Database(dbname)}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// EnsureIndexes creates every index the service relies on. Session rows age
// out through the TTL index; text uniqueness on tags and the compound uniques
// on relation rows back the duplicate checks in the handlers.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.DB.Collection("Tokens").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expiresIn", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{Keys: bson.D{{Key: "token", Value: 1}}},
	}); err != nil {
		return err
	}

	if _, err := s.DB.Collection("Users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}

	if _, err := s.DB.Collection("Tags").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "text", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}

	if _, err := s.DB.Collection("Posts").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "postedAt", Value: -1}}},
		{Keys: bson.D{{Key: "parentId", Value: 1}}},
		{Keys: bson.D{{Key: "refId", Value: 1}}},
	}); err != nil {
		return err
	}

	for coll, keys := range map[string]bson.D{
		"Likes":   {{Key: "postId", Value: 1}, {Key: "userId", Value: 1}},
		"Follows": {{Key: "userId", Value: 1}, {Key: "otherUserId", Value: 1}},
		"Blocks":  {{Key: "userId", Value: 1}, {Key: "otherUserId", Value: 1}},
		"Saws":    {{Key: "postId", Value: 1}, {Key: "userId", Value: 1}},
	} {
		if _, err := s.DB.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true),
		}); err != nil {
			return err
		}
	}

	_, err := s.DB.Collection("Notices").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "to", Value: 1}, {Key: "postedAt", Value: -1}},
	})
	return err
}

// IsDup reports a unique-index violation.
func IsDup(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return false
}

// notDeleted is the live-document guard most queries carry.
func notDeleted() bson.M {
	return bson.M{"$ne": true}
}
