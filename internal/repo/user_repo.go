package repo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Users are stored as open documents: profile fields come and go through the
// validator, so the repo hands back bson.M and lets callers project.

func (s *Store) users() *mongo.Collection { return s.DB.Collection("Users") }

func (s *Store) FindUserByID(ctx context.Context, id primitive.ObjectID) (bson.M, error) {
	return s.findUser(ctx, bson.M{"_id": id, "deleted": notDeleted()})
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (bson.M, error) {
	return s.findUser(ctx, bson.M{"email": email, "deleted": notDeleted()})
}

// FindAnyUserByID returns a user even when soft-deleted; detail views show
// tombstones for deleted accounts.
func (s *Store) FindAnyUserByID(ctx context.Context, id primitive.ObjectID) (bson.M, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

// FindUserByPublicID looks a user up by the short public id clients exchange.
func (s *Store) FindUserByPublicID(ctx context.Context, publicID string) (bson.M, error) {
	return s.findUser(ctx, bson.M{"id": publicID, "deleted": notDeleted()})
}

// FindAnyUserByPublicID includes soft-deleted accounts.
func (s *Store) FindAnyUserByPublicID(ctx context.Context, publicID string) (bson.M, error) {
	return s.findUser(ctx, bson.M{"id": publicID})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (bson.M, error) {
	var user bson.M
	err := s.users().FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return user, err
}

func (s *Store) ListUsers(ctx context.Context, filter bson.M, sort bson.D, skip, limit int64) ([]bson.M, error) {
	match := bson.M{"deleted": notDeleted()}
	for k, v := range filter {
		match[k] = v
	}
	opts := options.Find().SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if sort != nil {
		opts.SetSort(sort)
	}
	cur, err := s.users().Find(ctx, match, opts)
	if err != nil {
		return nil, err
	}
	var users []bson.M
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) CountUsers(ctx context.Context, filter bson.M) (int64, error) {
	match := bson.M{"deleted": notDeleted()}
	for k, v := range filter {
		match[k] = v
	}
	return s.users().CountDocuments(ctx, match)
}

func (s *Store) InsertUser(ctx context.Context, user bson.M) (primitive.ObjectID, error) {
	res, err := s.users().InsertOne(ctx, user)
	if err != nil {
		return primitive.NilObjectID, err
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (s *Store) UpdateUser(ctx context.Context, id primitive.ObjectID, set bson.M) error {
	res, err := s.users().UpdateOne(ctx,
		bson.M{"_id": id, "deleted": notDeleted()},
		bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UnsetUserFields removes fields from a user document.
func (s *Store) UnsetUserFields(ctx context.Context, id primitive.ObjectID, fields ...string) error {
	unset := bson.M{}
	for _, f := range fields {
		unset[f] = ""
	}
	res, err := s.users().UpdateOne(ctx,
		bson.M{"_id": id, "deleted": notDeleted()},
		bson.M{"$unset": unset})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SoftDeleteUser(ctx context.Context, id primitive.ObjectID, by primitive.ObjectID, now time.Time) error {
	res, err := s.users().UpdateOne(ctx,
		bson.M{"_id": id, "deleted": notDeleted()},
		bson.M{"$set": bson.M{"deleted": true, "deletedAt": now, "deletedBy": by}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// StampPresence records a successful session touch for the user behind email.
func (s *Store) StampPresence(ctx context.Context, email string, now time.Time) error {
	_, err := s.users().UpdateOne(ctx,
		bson.M{"email": email, "deleted": notDeleted()},
		bson.M{"$set": bson.M{"joined": true, "latestJoinedAt": now}})
	return err
}

// AdUserIDs returns the object ids of the accounts that publish sponsored
// posts.
func (s *Store) AdUserIDs(ctx context.Context, adAccountID string) ([]primitive.ObjectID, error) {
	cur, err := s.users().Find(ctx,
		bson.M{"id": adAccountID, "deleted": notDeleted()},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}
