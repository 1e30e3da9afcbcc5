package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mtktsuda/kotori/internal/domain"
)

type fakeStore struct {
	base domain.Notice
	to   []primitive.ObjectID
}

func (f *fakeStore) InsertNotices(_ context.Context, base domain.Notice, to []primitive.ObjectID) error {
	f.base = base
	f.to = to
	return nil
}

type fakePub struct {
	exchange string
	key      string
	body     []byte
	err      error
}

func (p *fakePub) Publish(_ context.Context, exchange, key string, body []byte, _ string) error {
	p.exchange, p.key, p.body = exchange, key, body
	return p.err
}
func (p *fakePub) Close() error { return nil }

func TestFanout(t *testing.T) {
	store := &fakeStore{}
	n := New(store, &fakePub{}, "events")

	from := primitive.NewObjectID()
	postID := primitive.NewObjectID()
	to := []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID()}

	require.NoError(t, n.Fanout(context.Background(), domain.ActionLike, from, to, postID))

	assert.Equal(t, domain.ActionLike, store.base.Action)
	assert.Equal(t, from, store.base.PostedBy)
	require.NotNil(t, store.base.PostID)
	assert.Equal(t, postID, *store.base.PostID)
	assert.Equal(t, to, store.to)
}

func TestFanoutNoRecipients(t *testing.T) {
	store := &fakeStore{}
	n := New(store, &fakePub{}, "events")

	require.NoError(t, n.Fanout(context.Background(), domain.ActionPost, primitive.NewObjectID(), nil, primitive.NilObjectID))
	assert.Empty(t, store.to)
}

func TestBroadcast(t *testing.T) {
	pub := &fakePub{}
	n := New(&fakeStore{}, pub, "events")

	ok := n.Broadcast(context.Background(), "liked", map[string]string{"postId": "x"}, "req-1")

	assert.True(t, ok)
	assert.Equal(t, "events", pub.exchange)
	assert.Equal(t, "notice.liked", pub.key)
	assert.Contains(t, string(pub.body), "data:application/vnd.liked,")
}

func TestBroadcastSwallowsPublishError(t *testing.T) {
	pub := &fakePub{err: errors.New("broker down")}
	n := New(&fakeStore{}, pub, "events")

	ok := n.Broadcast(context.Background(), "viewed", map[string]string{}, "req-2")

	assert.False(t, ok)
}
