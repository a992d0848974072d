package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// ErrNotFound is returned when no live session exists under an id.
var ErrNotFound = errors.New("session: not found")

// TokenStore persists signed session tokens by id. Implementations must honour
// ttl where the medium supports expiry; the token's own expiry is checked on decode.
type TokenStore interface {
	Get(ctx context.Context, id string) (string, error)
	Put(ctx context.Context, id, token string, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is acceptable as a session key.
func ValidID(id string) bool { return idPattern.MatchString(id) }

// Manager encodes sessions and stores them as tokens.
type Manager struct {
	codec  *Codec
	tokens TokenStore
}

// NewManager pairs a codec with a token store.
func NewManager(codec *Codec, tokens TokenStore) *Manager {
	return &Manager{codec: codec, tokens: tokens}
}

// Load returns the session stored under id. Tampered or expired tokens are
// removed and reported as ErrNotFound.
func (m *Manager) Load(ctx context.Context, id string) (Session, error) {
	if !ValidID(id) {
		return Session{}, ErrNotFound
	}
	token, err := m.tokens.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	s, err := m.codec.Decode(token)
	if err != nil {
		_ = m.tokens.Delete(ctx, id)
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Save encodes s and stores it under id, replacing any previous session.
func (m *Manager) Save(ctx context.Context, id string, s Session) error {
	if !ValidID(id) {
		return fmt.Errorf("session: invalid id %q", id)
	}
	token, err := m.codec.Encode(s)
	if err != nil {
		return err
	}
	return m.tokens.Put(ctx, id, token, m.codec.TTL())
}

// Delete destroys the session under id. Deleting a missing session is not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return nil
	}
	err := m.tokens.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// TTL is the lifetime of sessions saved by m.
func (m *Manager) TTL() time.Duration { return m.codec.TTL() }

// Ping checks the underlying store.
func (m *Manager) Ping(ctx context.Context) error { return m.tokens.Ping(ctx) }

// Binding commits one session under a fixed id. It is the sink handed to the
// provisioning and login flows so that nothing is persisted before they finish.
type Binding struct {
	Manager *Manager
	ID      string
}

// Commit stores s under the bound id.
func (b Binding) Commit(ctx context.Context, s Session) error {
	if b.Manager == nil {
		return errors.New("session: binding without manager")
	}
	return b.Manager.Save(ctx, b.ID, s)
}

// Forget deletes the session under the bound id.
func (b Binding) Forget(ctx context.Context) error {
	if b.Manager == nil {
		return errors.New("session: binding without manager")
	}
	return b.Manager.Delete(ctx, b.ID)
}

// MemoryStore keeps tokens in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return "", ErrNotFound
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, id)
		return "", ErrNotFound
	}
	return e.token, nil
}

func (s *MemoryStore) Put(_ context.Context, id, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{token: token}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[id] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
