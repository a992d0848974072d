package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/obs"
	"pgmanage.org/internal/session"
)

// Source lists backend data on behalf of one session. *backend.Client satisfies it.
type Source interface {
	ListRooms(ctx context.Context) ([]backend.Room, error)
	ListTenants(ctx context.Context) ([]backend.Tenant, error)
	ListPayments(ctx context.Context) ([]backend.Payment, error)
	TenantPayments(ctx context.Context, tenantID int64) ([]backend.Payment, error)
	ListComplaints(ctx context.Context) ([]backend.Complaint, error)
}

// SourceFunc builds a Source carrying the session's backend credentials.
type SourceFunc func(s session.Session) (Source, error)

// FactorySource adapts a backend.Factory.
func FactorySource(f *backend.Factory) SourceFunc {
	return func(s session.Session) (Source, error) {
		return f.Client(s.Cookies)
	}
}

// Loader fetches the lists a session may see and keeps the latest snapshot per
// user. It is the reload collaborator of the provisioning flows.
type Loader struct {
	source SourceFunc
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[int64]Snapshot
}

// NewLoader returns a loader reading through source.
func NewLoader(source SourceFunc) *Loader {
	return &Loader{
		source: source,
		logger: obs.Logger(),
		now:    time.Now,
		cache:  map[int64]Snapshot{},
	}
}

// Reload refreshes the cached snapshot for s.
func (l *Loader) Reload(ctx context.Context, s session.Session) error {
	_, err := l.Load(ctx, s)
	return err
}

// Load fetches a fresh snapshot for s, one concurrent call per list, and caches
// it. Admins see every list; tenants see rooms, complaints and their own payments.
func (l *Loader) Load(ctx context.Context, s session.Session) (Snapshot, error) {
	if !s.Valid() {
		return Snapshot{}, errors.New("dashboard: session has no identity")
	}
	src, err := l.source(s)
	if err != nil {
		return Snapshot{}, err
	}

	// Each list lands in its own field, so the fetches share nothing.
	snap := Snapshot{Role: s.Role}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Rooms, err = src.ListRooms(gctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Complaints, err = src.ListComplaints(gctx)
		return err
	})
	switch {
	case s.IsAdmin():
		g.Go(func() (err error) {
			snap.Tenants, err = src.ListTenants(gctx)
			return err
		})
		g.Go(func() (err error) {
			snap.Payments, err = src.ListPayments(gctx)
			return err
		})
	case s.TenantID > 0:
		g.Go(func() (err error) {
			snap.Payments, err = src.TenantPayments(gctx, s.TenantID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	snap.FetchedAt = l.now().UTC()

	l.mu.Lock()
	l.cache[s.UserID] = snap
	l.mu.Unlock()

	l.logger.Debug("dashboard_reloaded",
		zap.Int64("user_id", s.UserID),
		zap.String("role", string(s.Role)),
		zap.Int("rooms", len(snap.Rooms)),
		zap.Int("payments", len(snap.Payments)),
	)
	return snap, nil
}

// Cached returns the last snapshot loaded for userID.
func (l *Loader) Cached(userID int64) (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap, ok := l.cache[userID]
	return snap, ok
}

// Forget drops the cached snapshot of userID.
func (l *Loader) Forget(userID int64) {
	l.mu.Lock()
	delete(l.cache, userID)
	l.mu.Unlock()
}
