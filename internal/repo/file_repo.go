package repo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mtktsuda/kotori/internal/domain"
)

func (s *Store) files() *mongo.Collection { return s.DB.Collection("Files") }

func (s *Store) InsertFile(ctx context.Context, f *domain.File) error {
	res, err := s.files().InsertOne(ctx, f)
	if err != nil {
		return err
	}
	f.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// FindPostFile returns the attachment row only when it belongs to the post.
func (s *Store) FindPostFile(ctx context.Context, postID, fileID primitive.ObjectID) (*domain.File, error) {
	var f domain.File
	err := s.files().FindOne(ctx, bson.M{"_id": fileID, "postId": postID}).Decode(&f)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) FindOwnedFile(ctx context.Context, fileID, userID primitive.ObjectID) (*domain.File, error) {
	var f domain.File
	err := s.files().FindOne(ctx, bson.M{
		"_id":      fileID,
		"postedBy": userID,
		"deleted":  notDeleted(),
	}).Decode(&f)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListPostFiles returns the live attachment metadata for the ids a post
// carries, upload order.
func (s *Store) ListPostFiles(ctx context.Context, postID primitive.ObjectID, fileIDs []primitive.ObjectID) ([]bson.M, error) {
	cur, err := s.files().Find(ctx,
		bson.M{
			"postId":  postID,
			"_id":     bson.M{"$in": fileIDs},
			"deleted": notDeleted(),
		},
		options.Find().
			SetSort(bson.D{{Key: "postedAt", Value: 1}}).
			SetProjection(bson.M{"_id": 1, "filename": 1, "mimetype": 1}))
	if err != nil {
		return nil, err
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) SoftDeleteFile(ctx context.Context, fileID primitive.ObjectID, by primitive.ObjectID) error {
	res, err := s.files().UpdateOne(ctx,
		bson.M{"_id": fileID, "deleted": notDeleted()},
		bson.M{"$set": bson.M{"deleted": true, "deletedBy": by}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
