// Package provision turns a registration form into an authenticated, room-linked
// account against the property backend, and signs existing accounts in.
package provision

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/ids"
	"pgmanage.org/internal/obs"
	"pgmanage.org/internal/session"
)

// Backend is the subset of the property backend the flows depend on.
// *backend.Client satisfies it.
type Backend interface {
	Register(ctx context.Context, req backend.RegisterRequest) (backend.Registration, error)
	Login(ctx context.Context, email, password string) (backend.LoginResult, error)
	CurrentUser(ctx context.Context) (backend.User, error)
	ListUsers(ctx context.Context) ([]backend.User, error)
	CreateTenant(ctx context.Context, req backend.TenantRequest) (backend.TenantRef, error)
	Cookies() []*http.Cookie
}

// TenantLister is optionally implemented by a Backend. Login uses it to find the
// tenant record of a tenant account.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]backend.Tenant, error)
}

// LogoutBackend ends the backend side of a session.
type LogoutBackend interface {
	Logout(ctx context.Context) error
}

// SessionSink receives the session once a flow has fully succeeded.
type SessionSink interface {
	Commit(ctx context.Context, s session.Session) error
}

// SessionEraser forgets the locally stored session.
type SessionEraser interface {
	Forget(ctx context.Context) error
}

// Reloader refreshes data views after a session is committed. Its failure does not
// undo the session.
type Reloader interface {
	Reload(ctx context.Context, s session.Session) error
}

// Provisioner runs the registration, login and room-link flows. A Provisioner is
// bound to one backend session and must not run two flows concurrently.
type Provisioner struct {
	backend  Backend
	sink     SessionSink
	reloader Reloader
	events   func(Event)
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithSink sets where successful sessions are committed.
func WithSink(s SessionSink) Option { return func(p *Provisioner) { p.sink = s } }

// WithReloader sets the collaborator refreshed after a successful flow.
func WithReloader(r Reloader) Option { return func(p *Provisioner) { p.reloader = r } }

// WithEvents registers a progress callback. It must not block.
func WithEvents(fn func(Event)) Option { return func(p *Provisioner) { p.events = fn } }

// WithLogger overrides the process logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithAttemptID names the next attempt instead of minting an id, so a caller can
// subscribe to its events before starting it.
func WithAttemptID(id string) Option {
	return func(p *Provisioner) {
		if id != "" {
			p.newID = func() string { return id }
		}
	}
}

// New returns a Provisioner talking to b.
func New(b Backend, opts ...Option) *Provisioner {
	p := &Provisioner{
		backend: b,
		logger:  obs.Logger(),
		now:     time.Now,
		newID:   ids.New,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision registers req as a new tenant account and returns the committed
// session. Each step runs at most once. Failures are always *Error.
func (p *Provisioner) Provision(ctx context.Context, req Request) (session.Session, error) {
	o := &outcome{attemptID: p.newID(), flow: FlowRegister, req: req.Normalize()}
	s, err := p.run(ctx, o, registerFlow)
	p.finish(o, err)
	return s, err
}

// Login signs an existing account in and returns the committed session.
func (p *Provisioner) Login(ctx context.Context, email, password string) (session.Session, error) {
	o := &outcome{
		attemptID: p.newID(),
		flow:      FlowLogin,
		req:       Request{Email: NormalizeEmail(email), Password: password},
	}
	s, err := p.run(ctx, o, loginFlow)
	p.finish(o, err)
	return s, err
}

// LinkTenant assigns a room to the account of an existing session, the recovery
// path after a tenant-link failure. It returns the updated, committed session.
func (p *Provisioner) LinkTenant(ctx context.Context, current session.Session, req LinkRequest) (session.Session, error) {
	o := &outcome{
		attemptID:      p.newID(),
		flow:           FlowLink,
		req:            Request{Email: current.Email, Name: req.Name, Phone: req.Phone, RoomID: req.RoomID},
		link:           &req,
		accountCreated: true,
		userID:         current.UserID,
		role:           current.Role,
	}
	if !current.Valid() {
		err := &Error{Kind: KindIdentityUnresolved, Step: StepValidate, Message: "no signed-in account to link"}
		p.finish(o, err)
		return session.Session{}, err
	}
	s, err := p.run(ctx, o, linkFlow)
	p.finish(o, err)
	return s, err
}

// Logout ends the backend session best-effort and forgets the local one.
func Logout(ctx context.Context, b LogoutBackend, eraser SessionEraser) error {
	if b != nil {
		if err := b.Logout(ctx); err != nil {
			obs.Logger().Warn("backend logout failed", zap.Error(err))
		}
	}
	if eraser == nil {
		return nil
	}
	return eraser.Forget(ctx)
}

func (p *Provisioner) finish(o *outcome, err error) {
	if err == nil {
		obs.ObserveProvisionOutcome(o.flow + ":success")
		p.emit(o, StepDone, StatusSucceeded, "")
		p.logger.Info("provision_complete",
			zap.String("attempt_id", o.attemptID),
			zap.String("flow", o.flow),
			zap.Int64("user_id", o.userID),
			zap.Int64("tenant_id", o.tenantID),
		)
		return
	}
	kind := KindOf(err)
	obs.ObserveProvisionOutcome(o.flow + ":" + string(kind))
	p.emit(o, StepDone, StatusFailed, kind)
	fields := []zap.Field{
		zap.String("attempt_id", o.attemptID),
		zap.String("flow", o.flow),
		zap.String("kind", string(kind)),
		zap.Bool("account_created", o.accountCreated),
		zap.Error(err),
	}
	if kind == KindValidation || kind == KindDuplicateAccount || kind == KindAuthentication {
		p.logger.Info("provision_rejected", fields...)
		return
	}
	p.logger.Warn("provision_failed", fields...)
}
