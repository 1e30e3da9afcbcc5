package queue

import "context"

type Publisher interface {
	Publish(ctx context.Context, exchange, key string, body []byte, reqID string) error
	Close() error
}

type NoopPub struct{}

func NewNoop() Publisher { return NoopPub{} }

func (NoopPub) Publish(ctx context.Context, exchange, key string, body []byte, reqID string) error {
	return nil
}
func (NoopPub) Close() error { return nil }
