package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"pgmanage.org/internal/session"
)

const defaultPrefix = "pgm:session:"

// SessionStore keeps session tokens in Redis with native key expiry.
type SessionStore struct {
	c      *redis.Client
	prefix string
}

var _ session.TokenStore = (*SessionStore)(nil)

// Open connects to addr. The connection is lazy; use Ping to verify it.
func Open(addr, password string, db int) *SessionStore {
	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// New wraps an existing client.
func New(c *redis.Client) *SessionStore {
	return &SessionStore{c: c, prefix: defaultPrefix}
}

func (s *SessionStore) key(id string) string { return s.prefix + id }

func (s *SessionStore) Get(ctx context.Context, id string) (string, error) {
	val, err := s.c.Get(ctx, s.key(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", session.ErrNotFound
		}
		return "", err
	}
	return val, nil
}

func (s *SessionStore) Put(ctx context.Context, id, token string, ttl time.Duration) error {
	return s.c.Set(ctx, s.key(id), token, ttl).Err()
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	n, err := s.c.Del(ctx, s.key(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) Ping(ctx context.Context) error {
	return s.c.Ping(ctx).Err()
}

func (s *SessionStore) Close() error { return s.c.Close() }
