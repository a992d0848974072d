package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"pgmanage.org/internal/session"
)

func setupStore(t *testing.T) (*miniredis.Miniredis, *SessionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, New(client)
}

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	mr, store := setupStore(t)
	require.NoError(t, store.Ping(ctx))

	_, err := store.Get(ctx, "01HZX")
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, store.Put(ctx, "01HZX", "tok", time.Minute))
	require.True(t, mr.Exists("pgm:session:01HZX"))
	require.Equal(t, time.Minute, mr.TTL("pgm:session:01HZX"))

	tok, err := store.Get(ctx, "01HZX")
	require.NoError(t, err)
	require.Equal(t, "tok", tok)

	require.NoError(t, store.Delete(ctx, "01HZX"))
	require.ErrorIs(t, store.Delete(ctx, "01HZX"), session.ErrNotFound)
}

func TestSessionStoreExpiry(t *testing.T) {
	ctx := context.Background()
	mr, store := setupStore(t)

	require.NoError(t, store.Put(ctx, "a", "tok", time.Second))
	mr.FastForward(2 * time.Second)

	_, err := store.Get(ctx, "a")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionStoreBehindManager(t *testing.T) {
	ctx := context.Background()
	_, store := setupStore(t)
	codec, err := session.NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	mgr := session.NewManager(codec, store)

	s := session.Session{Email: "a@x.com", Role: session.RoleAdmin, UserID: 1}
	require.NoError(t, mgr.Save(ctx, "01HZX", s))

	got, err := mgr.Load(ctx, "01HZX")
	require.NoError(t, err)
	require.Equal(t, session.RoleAdmin, got.Role)
	require.NoError(t, mgr.Ping(ctx))
}

func TestSessionStorePingFailure(t *testing.T) {
	mr, store := setupStore(t)
	mr.Close()
	require.Error(t, store.Ping(context.Background()))
}
