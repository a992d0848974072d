// Package store selects and opens the session token store named by the configuration.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pgmanage.org/internal/config"
	"pgmanage.org/internal/obs"
	"pgmanage.org/internal/session"
	"pgmanage.org/internal/store/pg"
	"pgmanage.org/internal/store/redis"
)

// Sessions bundles the manager with the resources behind it.
type Sessions struct {
	Manager *session.Manager
	Kind    string

	pg    *pg.SessionStore
	close func() error
}

// Open builds the session manager for cfg.
func Open(cfg config.Config) (*Sessions, error) {
	secret, err := secretFor(cfg)
	if err != nil {
		return nil, err
	}
	codec, err := session.NewCodec(secret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	out := &Sessions{Kind: cfg.SessionStore, close: func() error { return nil }}
	var tokens session.TokenStore
	switch cfg.SessionStore {
	case config.StoreMemory:
		tokens = session.NewMemoryStore()
	case config.StoreFile:
		fs, err := session.NewFileStore(cfg.SessionDir)
		if err != nil {
			return nil, err
		}
		tokens = fs
	case config.StoreRedis:
		rs := redis.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		tokens, out.close = rs, rs.Close
	case config.StorePostgres:
		ps, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open session db: %w", err)
		}
		tokens, out.close, out.pg = ps, ps.Close, ps
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
	out.Manager = session.NewManager(codec, tokens)
	return out, nil
}

// Close releases the store connection, if any.
func (s *Sessions) Close() error { return s.close() }

// PurgeLoop deletes expired rows from the PostgreSQL store every interval until
// ctx is done. Other stores expire entries themselves and return immediately.
func (s *Sessions) PurgeLoop(ctx context.Context, every time.Duration) {
	if s.pg == nil {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.pg.PurgeExpired(ctx)
			if err != nil {
				obs.Logger().Warn("session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				obs.Logger().Info("sessions purged", zap.Int64("count", n))
			}
		}
	}
}

func secretFor(cfg config.Config) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	switch cfg.SessionStore {
	case config.StoreFile:
		return session.LoadOrCreateSecret(cfg.SessionDir)
	case config.StoreMemory:
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		return secret, nil
	default:
		return nil, errors.New("session_secret is required for shared session stores")
	}
}
