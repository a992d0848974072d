package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"pgmanage.org/internal/config"
	"pgmanage.org/internal/session"
)

func testSession() session.Session {
	return session.Session{Email: "tenant@pg.com", Role: session.RoleTenant, UserID: 2, TenantID: 1}
}

func TestOpenFileStoreCreatesSecret(t *testing.T) {
	cfg := config.Default()
	cfg.SessionDir = t.TempDir()

	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Manager.Save(ctx, "cli", testSession()))

	// A second process reuses the stored secret and can read the session.
	again, err := Open(cfg)
	require.NoError(t, err)
	got, err := again.Manager.Load(ctx, "cli")
	require.NoError(t, err)
	require.EqualValues(t, 2, got.UserID)
}

func TestOpenRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.SessionStore = config.StoreRedis
	cfg.RedisAddr = mr.Addr()
	cfg.SessionSecret = "redis-secret-0123456789"
	cfg.SessionTTL = time.Minute

	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Manager.Ping(ctx))
	require.NoError(t, s.Manager.Save(ctx, "abc", testSession()))
	require.True(t, mr.Exists("pgm:session:abc"))

	// Not a PostgreSQL store: nothing to purge.
	done := make(chan struct{})
	go func() {
		s.PurgeLoop(ctx, time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purge loop should return for redis")
	}
}

func TestSharedStoresNeedSecret(t *testing.T) {
	cfg := config.Default()
	cfg.SessionStore = config.StoreRedis
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := Open(cfg)
	require.ErrorContains(t, err, "session_secret")

	cfg.SessionStore = config.StoreMemory
	s, err := Open(cfg)
	require.NoError(t, err)
	require.Equal(t, config.StoreMemory, s.Kind)
}
