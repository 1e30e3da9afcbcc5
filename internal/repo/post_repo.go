package repo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxThreadDepth caps recursive walks over parentId/children links. Data
// corruption (a reply cycle) must not pin a request forever.
const maxThreadDepth = 64

// CommentNode is one entry of a reply tree, ids only.
type CommentNode struct {
	ID       primitive.ObjectID `json:"_id"`
	Children []CommentNode      `json:"children,omitempty"`
}

func (s *Store) posts() *mongo.Collection { return s.DB.Collection("Posts") }

// FindPostByID returns the post whether or not it is tombstoned; callers
// decide how much of a deleted post to expose.
func (s *Store) FindPostByID(ctx context.Context, id primitive.ObjectID) (bson.M, error) {
	var post bson.M
	err := s.posts().FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return post, err
}

func (s *Store) FindLivePostByID(ctx context.Context, id primitive.ObjectID) (bson.M, error) {
	var post bson.M
	err := s.posts().FindOne(ctx, bson.M{"_id": id, "deleted": notDeleted()}).Decode(&post)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return post, err
}

func (s *Store) InsertPost(ctx context.Context, post bson.M) (primitive.ObjectID, error) {
	res, err := s.posts().InsertOne(ctx, post)
	if err != nil {
		return primitive.NilObjectID, err
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (s *Store) UpdatePost(ctx context.Context, id primitive.ObjectID, set bson.M) error {
	res, err := s.posts().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) IncPostViews(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.posts().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"viewsCount": 1}})
	return err
}

// TombstonePost soft-deletes a post. The text and repost link move to
// stash fields so the thread keeps its shape while the content disappears
// from every read path.
func (s *Store) TombstonePost(ctx context.Context, post bson.M, by primitive.ObjectID, now time.Time) error {
	set := bson.M{
		"_text":     post["text"],
		"deleted":   true,
		"deletedAt": now,
		"deletedBy": by,
	}
	unset := bson.M{"text": ""}
	if refID, ok := post["refId"]; ok {
		set["_refId"] = refID
		unset["refId"] = ""
	}
	_, err := s.posts().UpdateOne(ctx, bson.M{"_id": post["_id"]},
		bson.M{"$set": set, "$unset": unset})
	return err
}

// Feed runs the timeline aggregation: id, parentId and postedAt only, the
// detail endpoint fills the rest per post.
func (s *Store) Feed(ctx context.Context, match bson.M, sort bson.D, skip, limit int64) ([]bson.M, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$project", Value: bson.M{"_id": 1, "parentId": 1, "postedAt": 1}}},
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
	cur, err := s.posts().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) CountPosts(ctx context.Context, match bson.M) (int64, error) {
	return s.posts().CountDocuments(ctx, match)
}

// adMatch selects live top-level posts by the sponsored accounts.
func adMatch(adIDs []primitive.ObjectID) bson.M {
	return bson.M{"$and": []bson.M{
		{"parentId": bson.M{"$exists": false}},
		{"postedBy": bson.M{"$in": adIDs}},
		{"deleted": notDeleted()},
	}}
}

func (s *Store) CountAdPosts(ctx context.Context, adIDs []primitive.ObjectID) (int64, error) {
	if len(adIDs) == 0 {
		return 0, nil
	}
	return s.posts().CountDocuments(ctx, adMatch(adIDs))
}

// AdPostAt returns the sponsored post at the given offset, nil when the
// offset runs past the end.
func (s *Store) AdPostAt(ctx context.Context, adIDs []primitive.ObjectID, offset int64) (bson.M, error) {
	var post bson.M
	err := s.posts().FindOne(ctx, adMatch(adIDs),
		options.FindOne().
			SetSort(bson.D{{Key: "postedAt", Value: -1}}).
			SetSkip(offset)).Decode(&post)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return post, err
}

// AncestorIDs walks parentId links up from the given parent, nearest first.
// A visited set plus the depth cap guards against reply cycles.
func (s *Store) AncestorIDs(ctx context.Context, parentID primitive.ObjectID) ([]primitive.ObjectID, error) {
	chain := []primitive.ObjectID{parentID}
	visited := map[primitive.ObjectID]struct{}{parentID: {}}
	current := parentID
	for depth := 0; depth < maxThreadDepth; depth++ {
		post, err := s.FindPostByID(ctx, current)
		if err != nil {
			return nil, err
		}
		if post == nil {
			break
		}
		next, ok := post["parentId"].(primitive.ObjectID)
		if !ok {
			break
		}
		if _, seen := visited[next]; seen {
			break
		}
		visited[next] = struct{}{}
		chain = append(chain, next)
		current = next
	}
	return chain, nil
}

// CommentTree returns the reply tree under root, newest first at every
// level. Tombstoned replies stay in the tree so threads keep their shape.
func (s *Store) CommentTree(ctx context.Context, root primitive.ObjectID) ([]CommentNode, error) {
	visited := map[primitive.ObjectID]struct{}{root: {}}
	return s.commentChildren(ctx, root, visited, 0)
}

func (s *Store) commentChildren(ctx context.Context, parent primitive.ObjectID, visited map[primitive.ObjectID]struct{}, depth int) ([]CommentNode, error) {
	if depth >= maxThreadDepth {
		return nil, nil
	}
	cur, err := s.posts().Find(ctx, bson.M{"parentId": parent},
		options.Find().
			SetSort(bson.D{{Key: "postedAt", Value: -1}}).
			SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}

	nodes := make([]CommentNode, 0, len(rows))
	for _, row := range rows {
		if _, seen := visited[row.ID]; seen {
			continue
		}
		visited[row.ID] = struct{}{}
		children, err := s.commentChildren(ctx, row.ID, visited, depth+1)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, CommentNode{ID: row.ID, Children: children})
	}
	return nodes, nil
}

// HasRepostBy reports whether userID has a live repost of postID.
func (s *Store) HasRepostBy(ctx context.Context, postID, userID primitive.ObjectID) (bool, error) {
	return s.exists(ctx, s.posts(), bson.M{
		"refId": postID, "postedBy": userID, "deleted": notDeleted(),
	})
}

func (s *Store) CountReposts(ctx context.Context, postID primitive.ObjectID) (int64, error) {
	return s.posts().CountDocuments(ctx, bson.M{"refId": postID, "deleted": notDeleted()})
}

// HasCommentBy reports whether userID has a live reply under postID.
func (s *Store) HasCommentBy(ctx context.Context, postID, userID primitive.ObjectID) (bool, error) {
	return s.exists(ctx, s.posts(), bson.M{
		"parentId": postID, "postedBy": userID, "deleted": notDeleted(),
	})
}

func (s *Store) CountComments(ctx context.Context, postID primitive.ObjectID) (int64, error) {
	return s.posts().CountDocuments(ctx, bson.M{"parentId": postID, "deleted": notDeleted()})
}

// ListComments returns the direct live replies of a post, newest first.
func (s *Store) ListComments(ctx context.Context, postID primitive.ObjectID, skip, limit int64) ([]bson.M, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "postedAt", Value: -1}}).
		SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.posts().Find(ctx, bson.M{"parentId": postID, "deleted": notDeleted()}, opts)
	if err != nil {
		return nil, err
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListPostsBy returns a user's live top-level posts, newest first.
func (s *Store) ListPostsBy(ctx context.Context, userID primitive.ObjectID, skip, limit int64) ([]bson.M, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "postedAt", Value: -1}}).
		SetSkip(skip).
		SetProjection(bson.M{"_id": 1, "parentId": 1, "postedAt": 1})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.posts().Find(ctx, bson.M{
		"postedBy": userID,
		"parentId": bson.M{"$exists": false},
		"deleted":  notDeleted(),
	}, opts)
	if err != nil {
		return nil, err
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
