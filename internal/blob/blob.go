// Package blob abstracts attachment byte storage behind a small interface so
// handlers never touch the cloud SDK directly.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound reports a key with no stored object.
var ErrNotFound = errors.New("blob: not found")

type Storage interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
