package repo

import (
	"context"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) tagsColl() *mongo.Collection { return s.DB.Collection("Tags") }

// UpsertTags registers hashtags harvested from post text. Existing tags keep
// their first-seen timestamp.
func (s *Store) UpsertTags(ctx context.Context, texts []string, now time.Time) error {
	for _, text := range texts {
		_, err := s.tagsColl().UpdateOne(ctx,
			bson.M{"text": text},
			bson.M{
				"$set":         bson.M{"text": text},
				"$setOnInsert": bson.M{"postedAt": now},
			},
			options.Update().SetUpsert(true))
		if err != nil && !IsDup(err) {
			return err
		}
	}
	return nil
}

// SearchTags returns tag texts prefix-matched against the query, newest
// first unless the caller sorts otherwise.
func (s *Store) SearchTags(ctx context.Context, prefix string, sort bson.D, skip, limit int64) ([]string, error) {
	and := []bson.M{{"deleted": notDeleted()}}
	if prefix != "" {
		and = append(and, bson.M{"text": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}})
	}
	if sort == nil {
		sort = bson.D{{Key: "postedAt", Value: -1}, {Key: "text", Value: 1}}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$and": and}}},
		{{Key: "$project", Value: bson.M{"_id": 1, "text": 1, "postedAt": 1}}},
		{{Key: "$sort", Value: sort}},
	}
	if skip > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: skip}})
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	cur, err := s.tagsColl().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID   primitive.ObjectID `bson:"_id"`
		Text string             `bson:"text"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = row.Text
	}
	return texts, nil
}
