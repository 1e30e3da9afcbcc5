// Package notify owns the two event paths: durable per-recipient notices and
// the best-effort broadcast exchange.
package notify

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mtktsuda/kotori/internal/domain"
	"github.com/mtktsuda/kotori/internal/log"
	"github.com/mtktsuda/kotori/internal/metrics"
	"github.com/mtktsuda/kotori/internal/queue"
)

// Store is the slice of the repo the notifier writes notices through.
type Store interface {
	InsertNotices(ctx context.Context, base domain.Notice, to []primitive.ObjectID) error
}

type Notifier struct {
	store    Store
	pub      queue.Publisher
	exchange string
}

func New(store Store, pub queue.Publisher, exchange string) *Notifier {
	return &Notifier{store: store, pub: pub, exchange: exchange}
}

// Fanout writes one notice row per recipient. postID is optional; follow
// notices carry none.
func (n *Notifier) Fanout(ctx context.Context, action string, from primitive.ObjectID, to []primitive.ObjectID, postID primitive.ObjectID) error {
	if len(to) == 0 {
		return nil
	}
	base := domain.Notice{
		Action:   action,
		PostedBy: from,
		PostedAt: time.Now().UTC(),
	}
	if !postID.IsZero() {
		base.PostID = &postID
	}
	if err := n.store.InsertNotices(ctx, base, to); err != nil {
		return err
	}
	metrics.NoticesFannedOut.WithLabelValues(action).Add(float64(len(to)))
	return nil
}

// Broadcast publishes an event to the exchange. Failures never propagate to
// the caller's request; they are logged and counted, and the return value
// reports whether the event actually left.
func (n *Notifier) Broadcast(ctx context.Context, action string, payload any, reqID string) bool {
	body, err := queue.EncodeEvent(action, payload)
	if err != nil {
		metrics.BroadcastDropped.WithLabelValues(action).Inc()
		log.L().Warn("broadcast encode failed", zap.String("action", action), zap.Error(err))
		return false
	}
	if err := n.pub.Publish(ctx, n.exchange, "notice."+action, body, reqID); err != nil {
		metrics.BroadcastDropped.WithLabelValues(action).Inc()
		log.L().Warn("broadcast publish failed", zap.String("action", action), zap.Error(err))
		return false
	}
	return true
}
