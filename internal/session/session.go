// Package session resolves bearer tokens to accounts. Provider lookups are
// cached in the token collection so most requests never leave the process.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mtktsuda/kotori/internal/domain"
	"github.com/mtktsuda/kotori/internal/identity"
	"github.com/mtktsuda/kotori/internal/log"
)

// ErrAuth is the single failure every broken resolution collapses to. The
// client learns nothing about which step failed.
var ErrAuth = errors.New("session: failed auth")

// providerBackoff delays the slow path so a burst of requests with a fresh
// token does not stampede the provider before the first cache write lands.
const providerBackoff = 300 * time.Millisecond

// Store is the slice of the repo the resolver needs.
type Store interface {
	FindLiveToken(ctx context.Context, bearer string, now time.Time) (*domain.Token, error)
	InsertToken(ctx context.Context, tok *domain.Token) error
	InvalidateOtherTokens(ctx context.Context, userID primitive.ObjectID, email, keepBearer string, now time.Time) error
	FindUserByEmail(ctx context.Context, email string) (bson.M, error)
	StampPresence(ctx context.Context, email string, now time.Time) error
}

// Session is a resolved caller.
type Session struct {
	UserID primitive.ObjectID
	Email  string
}

type Resolver struct {
	store      Store
	provider   identity.Provider
	rdb        *redis.Client
	ttl        time.Duration
	ratePerMin int

	now   func() time.Time
	sleep func(time.Duration)
}

func NewResolver(store Store, provider identity.Provider, rdb *redis.Client, ttl time.Duration, ratePerMin int) *Resolver {
	return &Resolver{
		store:      store,
		provider:   provider,
		rdb:        rdb,
		ttl:        ttl,
		ratePerMin: ratePerMin,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Resolve maps an Authorization header to a session. An empty header is an
// anonymous caller: (nil, nil). Any failure past that is ErrAuth.
func (r *Resolver) Resolve(ctx context.Context, authorization string) (*Session, error) {
	if authorization == "" {
		return nil, nil
	}
	now := r.now()

	tok, err := r.store.FindLiveToken(ctx, authorization, now)
	if err != nil {
		return nil, ErrAuth
	}

	if tok == nil {
		tok, err = r.resolveWithProvider(ctx, authorization, now)
		if err != nil {
			log.L().Info("session resolve failed", zap.Error(err))
			return nil, ErrAuth
		}
	}

	if err := r.store.StampPresence(ctx, tok.Email, r.now()); err != nil {
		return nil, ErrAuth
	}

	return &Session{UserID: tok.UserID, Email: tok.Email}, nil
}

func (r *Resolver) resolveWithProvider(ctx context.Context, authorization string, now time.Time) (*domain.Token, error) {
	r.sleep(providerBackoff)

	if err := r.allowProviderCall(ctx, authorization); err != nil {
		return nil, err
	}

	accessToken := strings.TrimPrefix(authorization, "Bearer ")

	email, err := r.provider.GetEmail(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	user, err := r.store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Provider-valid token with no account yet. Resolve email only and
		// skip the cache so profile registration can go through.
		return &domain.Token{Email: email}, nil
	}
	userID := domain.OID(user, "_id")

	if err := r.store.InvalidateOtherTokens(ctx, userID, email, authorization, now); err != nil {
		return nil, err
	}

	tok := &domain.Token{
		UserID:    userID,
		Email:     email,
		Token:     authorization,
		ExpiresIn: r.cacheDeadline(accessToken, now),
	}
	if err := r.store.InsertToken(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// cacheDeadline bounds the cache row by the access token's own exp claim
// when it is shorter than the configured TTL. The claim is read without
// signature checks; the provider already vouched for the token.
func (r *Resolver) cacheDeadline(accessToken string, now time.Time) time.Time {
	deadline := now.Add(r.ttl)

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return deadline
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return deadline
	}
	if exp.Time.Before(deadline) && exp.Time.After(now) {
		return exp.Time
	}
	return deadline
}

// allowProviderCall rate-limits slow-path lookups per bearer through redis.
// No redis client means no limit.
func (r *Resolver) allowProviderCall(ctx context.Context, authorization string) error {
	if r.rdb == nil || r.ratePerMin <= 0 {
		return nil
	}
	key := "session:rl:" + hashKey(authorization)
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		// redis down must not lock everyone out
		return nil
	}
	if n == 1 {
		r.rdb.Expire(ctx, key, time.Minute)
	}
	if n > int64(r.ratePerMin) {
		return ErrAuth
	}
	return nil
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:9])
}
