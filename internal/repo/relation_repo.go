package repo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Relation rows (likes, follows, blocks, saws) are upsert-on-create so
// repeated actions stay idempotent, and hard-deleted on undo.

func (s *Store) likes() *mongo.Collection   { return s.DB.Collection("Likes") }
func (s *Store) follows() *mongo.Collection { return s.DB.Collection("Follows") }
func (s *Store) blocks() *mongo.Collection  { return s.DB.Collection("Blocks") }
func (s *Store) saws() *mongo.Collection    { return s.DB.Collection("Saws") }

func (s *Store) Like(ctx context.Context, postID, userID primitive.ObjectID, now time.Time) error {
	_, err := s.likes().UpdateOne(ctx,
		bson.M{"postId": postID, "userId": userID},
		bson.M{"$setOnInsert": bson.M{"likedAt": now}},
		options.Update().SetUpsert(true))
	return err
}

func (s *Store) Unlike(ctx context.Context, postID, userID primitive.ObjectID) error {
	_, err := s.likes().DeleteOne(ctx, bson.M{"postId": postID, "userId": userID})
	return err
}

func (s *Store) IsLiked(ctx context.Context, postID, userID primitive.ObjectID) (bool, error) {
	return s.exists(ctx, s.likes(), bson.M{
		"postId": postID, "userId": userID, "deleted": notDeleted(),
	})
}

func (s *Store) CountLikes(ctx context.Context, postID primitive.ObjectID) (int64, error) {
	return s.likes().CountDocuments(ctx, bson.M{"postId": postID, "deleted": notDeleted()})
}

func (s *Store) Follow(ctx context.Context, userID, otherUserID primitive.ObjectID, now time.Time) error {
	_, err := s.follows().UpdateOne(ctx,
		bson.M{"userId": userID, "otherUserId": otherUserID},
		bson.M{"$setOnInsert": bson.M{"followedAt": now}},
		options.Update().SetUpsert(true))
	return err
}

func (s *Store) Unfollow(ctx context.Context, userID, otherUserID primitive.ObjectID) error {
	_, err := s.follows().DeleteOne(ctx, bson.M{"userId": userID, "otherUserId": otherUserID})
	return err
}

func (s *Store) IsFollowing(ctx context.Context, userID, otherUserID primitive.ObjectID) (bool, error) {
	return s.exists(ctx, s.follows(), bson.M{"userId": userID, "otherUserId": otherUserID})
}

// FollowingIDs returns who userID follows, most recent follow first.
func (s *Store) FollowingIDs(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	return s.relationIDs(ctx, s.follows(), bson.M{"userId": userID}, "otherUserId")
}

// FollowerIDs returns who follows userID, most recent follow first.
func (s *Store) FollowerIDs(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	return s.relationIDs(ctx, s.follows(), bson.M{"otherUserId": userID}, "userId")
}

func (s *Store) CountFollowing(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	return s.follows().CountDocuments(ctx, bson.M{"userId": userID})
}

func (s *Store) CountFollowers(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	return s.follows().CountDocuments(ctx, bson.M{"otherUserId": userID})
}

// Block records the block and severs follows in both directions.
func (s *Store) Block(ctx context.Context, userID, otherUserID primitive.ObjectID, now time.Time) error {
	_, err := s.blocks().UpdateOne(ctx,
		bson.M{"userId": userID, "otherUserId": otherUserID},
		bson.M{"$setOnInsert": bson.M{"blockedAt": now}},
		options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	_, err = s.follows().DeleteMany(ctx, bson.M{"$or": []bson.M{
		{"userId": userID, "otherUserId": otherUserID},
		{"userId": otherUserID, "otherUserId": userID},
	}})
	return err
}

func (s *Store) Unblock(ctx context.Context, userID, otherUserID primitive.ObjectID) error {
	_, err := s.blocks().DeleteOne(ctx, bson.M{"userId": userID, "otherUserId": otherUserID})
	return err
}

func (s *Store) IsBlocking(ctx context.Context, userID, otherUserID primitive.ObjectID) (bool, error) {
	return s.exists(ctx, s.blocks(), bson.M{"userId": userID, "otherUserId": otherUserID})
}

// BlockedEitherWay reports whether a block exists in either direction between
// the two users.
func (s *Store) BlockedEitherWay(ctx context.Context, a, b primitive.ObjectID) (bool, error) {
	return s.exists(ctx, s.blocks(), bson.M{"$or": []bson.M{
		{"userId": a, "otherUserId": b},
		{"userId": b, "otherUserId": a},
	}})
}

// BlockWallIDs returns everyone invisible to userID: users they block plus
// users blocking them.
func (s *Store) BlockWallIDs(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	blocking, err := s.relationIDs(ctx, s.blocks(), bson.M{"userId": userID}, "otherUserId")
	if err != nil {
		return nil, err
	}
	blockedBy, err := s.relationIDs(ctx, s.blocks(), bson.M{"otherUserId": userID}, "userId")
	if err != nil {
		return nil, err
	}
	return append(blocking, blockedBy...), nil
}

func (s *Store) MarkSaw(ctx context.Context, postID, userID primitive.ObjectID, now time.Time) error {
	_, err := s.saws().UpdateOne(ctx,
		bson.M{"postId": postID, "userId": userID},
		bson.M{"$setOnInsert": bson.M{"sawAt": now}},
		options.Update().SetUpsert(true))
	return err
}

func (s *Store) HasSaw(ctx context.Context, postID, userID primitive.ObjectID) (bool, error) {
	return s.exists(ctx, s.saws(), bson.M{"postId": postID, "userId": userID})
}

func (s *Store) exists(ctx context.Context, coll *mongo.Collection, filter bson.M) (bool, error) {
	err := coll.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) relationIDs(ctx context.Context, coll *mongo.Collection, filter bson.M, field string) ([]primitive.ObjectID, error) {
	cur, err := coll.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: sortKeyFor(coll.Name()), Value: -1}}).
			SetProjection(bson.M{field: 1}))
	if err != nil {
		return nil, err
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, 0, len(rows))
	for _, row := range rows {
		if id, ok := row[field].(primitive.ObjectID); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func sortKeyFor(coll string) string {
	switch coll {
	case "Blocks":
		return "blockedAt"
	default:
		return "followedAt"
	}
}
