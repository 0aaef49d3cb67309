// Package redisstore keeps OIDC session state in Redis so several
// processes can share it.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	oidcstore "github.com/goliatone/go-oidc-store"
)

const (
	defaultUserPrefix     = "oidc:user:"
	defaultRedirectPrefix = "oidc:redirect:"
	defaultChannel        = "oidc:events"
)

// UserStore is a usermanager.UserStore on Redis.
type UserStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// UserStoreOption configures a UserStore.
type UserStoreOption func(*UserStore)

func WithUserPrefix(prefix string) UserStoreOption {
	return func(s *UserStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithUserTTL caps how long a user is kept. Users are never kept past the
// expiry of their access token unless they carry a refresh token.
func WithUserTTL(ttl time.Duration) UserStoreOption {
	return func(s *UserStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithUserClock(now func() time.Time) UserStoreOption {
	return func(s *UserStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewUserStore(client redis.UniversalClient, opts ...UserStoreOption) *UserStore {
	s := &UserStore{
		client: client,
		prefix: defaultUserPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *UserStore) Get(ctx context.Context, key string) (*oidcstore.User, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get user: %w", err)
	}

	var user oidcstore.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

func (s *UserStore) Set(ctx context.Context, key string, user *oidcstore.User) error {
	if user == nil {
		return s.Delete(ctx, key)
	}

	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+key, raw, s.expiration(user)).Err(); err != nil {
		return fmt.Errorf("redis set user: %w", err)
	}
	return nil
}

func (s *UserStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete user: %w", err)
	}
	return nil
}

func (s *UserStore) expiration(user *oidcstore.User) time.Duration {
	ttl := s.ttl
	if user.RefreshToken != "" {
		return ttl
	}

	left, ok := user.ExpiresIn(s.now())
	if !ok {
		return ttl
	}
	if left <= 0 {
		left = time.Second
	}
	if ttl == 0 || left < ttl {
		return left
	}
	return ttl
}

// RedirectStore is an oidcstore.RedirectStore on Redis.
type RedirectStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedirectStore creates a store whose entries expire after ttl. A zero
// ttl keeps them until deleted.
func NewRedirectStore(client redis.UniversalClient, ttl time.Duration) *RedirectStore {
	return &RedirectStore{client: client, prefix: defaultRedirectPrefix, ttl: ttl}
}

var _ oidcstore.RedirectStore = (*RedirectStore)(nil)

func (s *RedirectStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get redirect: %w", err)
	}
	return value, nil
}

func (s *RedirectStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.prefix+key, value, s.ttl).Err()
}

func (s *RedirectStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
