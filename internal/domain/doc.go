package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Users and Posts are open documents: patch and response shaping work over
// arbitrary key sets, so they stay bson.M end to end. The accessors below
// cover the handful of fields the code needs typed.

type Schema map[string]struct{}

func NewSchema(keys ...string) Schema {
	s := make(Schema, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s Schema) Has(key string) bool {
	_, ok := s[key]
	return ok
}

var (
	UserSchema = NewSchema("id", "email", "handle", "description", "url",
		"bgColor", "bgId", "avatarColor", "avatarId")

	// Profile shape exposed on other users' pages: no email.
	PublicUserSchema = NewSchema("id", "handle", "description", "url",
		"bgColor", "bgId", "avatarColor", "avatarId")

	// Poster summary attached to posts and notices.
	PosterSchema = NewSchema("id", "handle", "bgColor", "bgId",
		"avatarColor", "avatarId", "deleted")

	FollowingSchema = NewSchema("id", "handle", "description", "avatarId", "color")

	PostSchema = NewSchema("parentId", "postId", "text", "viewsCount", "files")

	NoticeSchema = NewSchema("action", "postId", "saw")

	NoticePostSchema = NewSchema("text")
)

// OID reads an object id field, zero when absent or mistyped.
func OID(doc bson.M, key string) primitive.ObjectID {
	id, _ := doc[key].(primitive.ObjectID)
	return id
}

func Str(doc bson.M, key string) string {
	s, _ := doc[key].(string)
	return s
}

func Bool(doc bson.M, key string) bool {
	b, _ := doc[key].(bool)
	return b
}

func Time(doc bson.M, key string) (time.Time, bool) {
	switch v := doc[key].(type) {
	case time.Time:
		return v, true
	case primitive.DateTime:
		return v.Time(), true
	}
	return time.Time{}, false
}

// Active reports the presence heuristic: the user has joined and was last
// seen within the window.
func Active(user bson.M, now time.Time, window time.Duration) bool {
	if !Bool(user, "joined") {
		return false
	}
	at, ok := Time(user, "latestJoinedAt")
	if !ok {
		return false
	}
	return now.Sub(at) < window
}
