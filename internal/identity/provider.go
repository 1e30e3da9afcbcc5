// Package identity talks to the external identity provider that owns
// credentials. The service itself never stores passwords.
package identity

import (
	"context"
	"errors"
)

// ErrNotFound reports an address unknown to the provider.
var ErrNotFound = errors.New("identity: user not found")

type Provider interface {
	// GetEmail resolves an access token to the verified email it belongs to.
	GetEmail(ctx context.Context, accessToken string) (string, error)
	// DeleteUser removes the account registered under email.
	DeleteUser(ctx context.Context, email string) error
}
