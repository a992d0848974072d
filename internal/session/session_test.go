package session

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func sampleSession() Session {
	return Session{
		Email:    "a@x.com",
		Role:     RoleTenant,
		UserID:   42,
		TenantID: 9,
		Cookies:  []*http.Cookie{{Name: "session", Value: "abc", Path: "/"}},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := codec.Encode(sampleSession())
	require.NoError(t, err)

	got, err := codec.Decode(token)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", got.Email)
	require.Equal(t, RoleTenant, got.Role)
	require.EqualValues(t, 42, got.UserID)
	require.EqualValues(t, 9, got.TenantID)
	require.False(t, got.IssuedAt.IsZero())
	require.Len(t, got.Cookies, 1)
	require.Equal(t, "session", got.Cookies[0].Name)
	require.Equal(t, "abc", got.Cookies[0].Value)
}

func TestCodecRejects(t *testing.T) {
	codec, err := NewCodec(testSecret, time.Hour)
	require.NoError(t, err)
	token, err := codec.Encode(sampleSession())
	require.NoError(t, err)

	other, err := NewCodec([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	require.NoError(t, err)

	expired, err := NewCodec(testSecret, time.Hour)
	require.NoError(t, err)
	expired.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	stale, err := expired.Encode(sampleSession())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	cases := map[string]struct {
		codec *Codec
		token string
	}{
		"empty":        {codec, ""},
		"garbage":      {codec, "not-a-token"},
		"tampered":     {codec, tampered},
		"wrong secret": {other, token},
		"expired":      {codec, stale},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.codec.Decode(tc.token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestCodecRefusesIncompleteSession(t *testing.T) {
	codec, err := NewCodec(testSecret, time.Hour)
	require.NoError(t, err)

	_, err = codec.Encode(Session{Email: "a@x.com", Role: RoleTenant})
	require.Error(t, err)
	_, err = codec.Encode(Session{Email: "a@x.com", UserID: 1, Role: "GUEST"})
	require.Error(t, err)

	_, err = NewCodec([]byte("short"), time.Hour)
	require.Error(t, err)
	_, err = NewCodec(testSecret, 0)
	require.Error(t, err)
}

func TestManagerWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	codec, err := NewCodec(testSecret, time.Hour)
	require.NoError(t, err)
	mem := NewMemoryStore()
	mgr := NewManager(codec, mem)

	_, err = mgr.Load(ctx, "01HZX")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Binding{Manager: mgr, ID: "01HZX"}.Commit(ctx, sampleSession()))
	got, err := mgr.Load(ctx, "01HZX")
	require.NoError(t, err)
	require.EqualValues(t, 42, got.UserID)

	require.NoError(t, mgr.Delete(ctx, "01HZX"))
	require.NoError(t, mgr.Delete(ctx, "01HZX"))
	_, err = mgr.Load(ctx, "01HZX")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mem.Put(ctx, "bad", "garbage", time.Hour))
	_, err = mgr.Load(ctx, "bad")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 0, mem.Len())

	require.Error(t, mgr.Save(ctx, "../etc/passwd", sampleSession()))
	require.Error(t, Binding{}.Commit(ctx, sampleSession()))
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	now := time.Now()
	mem.now = func() time.Time { return now }

	require.NoError(t, mem.Put(ctx, "a", "tok", time.Minute))
	tok, err := mem.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "tok", tok)

	now = now.Add(2 * time.Minute)
	_, err = mem.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "sessions")
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Ping(ctx))

	_, err = fs.Get(ctx, "current")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, fs.Put(ctx, "current", "tok-1", time.Hour))
	require.NoError(t, fs.Put(ctx, "current", "tok-2", time.Hour))
	tok, err := fs.Get(ctx, "current")
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok)

	info, err := os.Stat(filepath.Join(dir, "current.token"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, fs.Delete(ctx, "current"))
	require.ErrorIs(t, fs.Delete(ctx, "current"), ErrNotFound)
	require.Error(t, fs.Put(ctx, "a/b", "tok", time.Hour))
}

func TestLoadOrCreateSecret(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrCreateSecret(dir)
	require.NoError(t, err)
	require.Len(t, first, 64)

	second, err := LoadOrCreateSecret(dir)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestContextAndRole(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := ContextWithSession(context.Background(), sampleSession())
	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "a@x.com", got.Email)

	role, err := ParseRole(" admin ")
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, role)
	require.True(t, Session{Email: "x@y.z", UserID: 1, Role: role}.IsAdmin())

	_, err = ParseRole("guest")
	require.Error(t, err)
}
