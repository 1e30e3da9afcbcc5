package repo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mtktsuda/kotori/internal/domain"
)

func (s *Store) notices() *mongo.Collection { return s.DB.Collection("Notices") }

// InsertNotices fans one notice out to each recipient as its own row.
func (s *Store) InsertNotices(ctx context.Context, base domain.Notice, to []primitive.ObjectID) error {
	if len(to) == 0 {
		return nil
	}
	rows := make([]interface{}, len(to))
	for i, userID := range to {
		n := base
		n.ID = primitive.NilObjectID
		n.To = userID
		rows[i] = n
	}
	_, err := s.notices().InsertMany(ctx, rows)
	return err
}

func (s *Store) FindNoticeByID(ctx context.Context, id primitive.ObjectID) (*domain.Notice, error) {
	var n domain.Notice
	err := s.notices().FindOne(ctx, bson.M{"_id": id, "deleted": notDeleted()}).Decode(&n)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNotices returns a recipient's notice ids through the timeline
// aggregation, extra filter and unseen-only optional.
func (s *Store) ListNotices(ctx context.Context, to primitive.ObjectID, filter bson.M, unseenOnly bool, sort bson.D, skip, limit int64) ([]bson.M, error) {
	match := s.noticeMatch(to, filter, unseenOnly)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$project", Value: bson.M{"_id": 1, "postedAt": 1}}},
	}
	if sort != nil {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: sort}})
	}
	if skip > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: skip}})
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	cur, err := s.notices().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) CountNotices(ctx context.Context, to primitive.ObjectID, filter bson.M, unseenOnly bool) (int64, error) {
	return s.notices().CountDocuments(ctx, s.noticeMatch(to, filter, unseenOnly))
}

func (s *Store) noticeMatch(to primitive.ObjectID, filter bson.M, unseenOnly bool) bson.M {
	and := []bson.M{
		{"to": to},
		{"deleted": notDeleted()},
	}
	if unseenOnly {
		and = append(and, bson.M{"saw": bson.M{"$ne": true}})
	}
	if len(filter) > 0 {
		and = append(and, filter)
	}
	return bson.M{"$and": and}
}

func (s *Store) MarkNoticeSaw(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.notices().UpdateOne(ctx,
		bson.M{"_id": id, "deleted": notDeleted()},
		bson.M{"$set": bson.M{"saw": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
