package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Token is a cached session: the raw bearer string mapped to the identity it
// resolved to. Prior tokens for the same user+email are soft-invalidated
// when a new one is issued.
type Token struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"userId"`
	Email     string             `bson:"email"`
	Token     string             `bson:"token"`
	ExpiresIn time.Time          `bson:"expiresIn"`
	Deleted   bool               `bson:"deleted,omitempty"`
	DeletedAt *time.Time         `bson:"deletedAt,omitempty"`
}

// Notice actions.
const (
	ActionPost    = "post"
	ActionComment = "comment"
	ActionLike    = "like"
	ActionFollow  = "follow"
)

// Notice is one notification row per recipient (fan-out-on-write).
type Notice struct {
	ID       primitive.ObjectID  `bson:"_id,omitempty" json:"_id,omitempty"`
	Action   string              `bson:"action" json:"action"`
	To       primitive.ObjectID  `bson:"to" json:"to"`
	PostedBy primitive.ObjectID  `bson:"postedBy" json:"postedBy"`
	PostedAt time.Time           `bson:"postedAt" json:"postedAt"`
	PostID   *primitive.ObjectID `bson:"postId,omitempty" json:"postId,omitempty"`
	Saw      bool                `bson:"saw,omitempty" json:"saw,omitempty"`
}

// File is attachment metadata; content lives in the blob store keyed by the
// hex of the File's own id.
type File struct {
	ID       primitive.ObjectID  `bson:"_id,omitempty" json:"_id,omitempty"`
	UserID   *primitive.ObjectID `bson:"userId,omitempty" json:"userId,omitempty"`
	PostID   *primitive.ObjectID `bson:"postId,omitempty" json:"postId,omitempty"`
	Type     string              `bson:"type,omitempty" json:"type,omitempty"` // "bg" | "avatar"
	Filename string              `bson:"filename" json:"filename"`
	Encoding string              `bson:"encoding,omitempty" json:"encoding,omitempty"`
	Mimetype string              `bson:"mimetype" json:"mimetype"`
	PostedBy primitive.ObjectID  `bson:"postedBy" json:"postedBy"`
	PostedAt time.Time           `bson:"postedAt" json:"postedAt"`
	Deleted  bool                `bson:"deleted,omitempty" json:"deleted,omitempty"`
}

type Tag struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"_id,omitempty"`
	Text     string             `bson:"text" json:"text"`
	PostedAt time.Time          `bson:"postedAt" json:"postedAt"`
}

// Like rows soft-delete; Follow and Block rows are removed outright.

type Like struct {
	ID      primitive.ObjectID `bson:"_id,omitempty"`
	PostID  primitive.ObjectID `bson:"postId"`
	UserID  primitive.ObjectID `bson:"userId"`
	LikedAt time.Time          `bson:"likedAt"`
	Deleted bool               `bson:"deleted,omitempty"`
}

type Follow struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	UserID      primitive.ObjectID `bson:"userId"`
	OtherUserID primitive.ObjectID `bson:"otherUserId"`
	FollowedAt  time.Time          `bson:"followedAt"`
}

type Block struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	UserID      primitive.ObjectID `bson:"userId"`
	OtherUserID primitive.ObjectID `bson:"otherUserId"`
	BlockedAt   time.Time          `bson:"blockedAt"`
}

type Saw struct {
	ID     primitive.ObjectID `bson:"_id,omitempty"`
	PostID primitive.ObjectID `bson:"postId"`
	UserID primitive.ObjectID `bson:"userId"`
	SawAt  time.Time          `bson:"sawAt"`
}
