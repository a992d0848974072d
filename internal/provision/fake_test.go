package provision

import (
	"context"
	"net/http"
	"sync"

	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/session"
)

type fakeAccount struct {
	user     backend.User
	password string
}

// fakeBackend mimics the property backend closely enough to observe call counts
// and the duplicate-email rule across attempts.
type fakeBackend struct {
	mu sync.Mutex

	accounts map[string]*fakeAccount
	tenants  []backend.Tenant
	nextID   int64
	loggedIn string
	calls    map[string]int

	registerWithTenant bool
	registerID         int64
	hideFromUsers      bool
	registerErr        error
	loginErr           error
	currentErr         error
	usersErr           error
	tenantErr          error
	onLogin            func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		accounts: map[string]*fakeAccount{},
		nextID:   41,
		calls:    map[string]int{},
	}
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) Register(_ context.Context, req backend.RegisterRequest) (backend.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["register"]++
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	if _, ok := f.accounts[req.Email]; ok {
		return nil, &backend.APIError{Method: http.MethodPost, Path: "/register", Status: http.StatusBadRequest, Message: "Email already exists"}
	}
	f.nextID++
	f.accounts[req.Email] = &fakeAccount{
		user:     backend.User{ID: f.nextID, Email: req.Email, Role: req.Role},
		password: req.Password,
	}
	reported := f.nextID
	if f.registerID != 0 {
		reported = f.registerID
	}
	if f.registerWithTenant {
		t := backend.Tenant{ID: int64(len(f.tenants) + 1), UserID: reported, Name: req.Name, RoomID: req.RoomID}
		f.tenants = append(f.tenants, t)
		return backend.CreatedWithTenant{ID: reported, TenantID: t.ID}, nil
	}
	return backend.Created{ID: reported}, nil
}

func (f *fakeBackend) Login(_ context.Context, email, password string) (backend.LoginResult, error) {
	f.mu.Lock()
	f.calls["login"]++
	hook := f.onLogin
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return backend.LoginResult{}, f.loginErr
	}
	acct, ok := f.accounts[email]
	if !ok || acct.password != password {
		return backend.LoginResult{}, &backend.APIError{Method: http.MethodPost, Path: "/login", Status: http.StatusUnauthorized, Message: "Invalid credentials"}
	}
	f.loggedIn = email
	return backend.LoginResult{Message: "Login successful", Role: acct.user.Role}, nil
}

func (f *fakeBackend) CurrentUser(context.Context) (backend.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["current-user"]++
	if f.currentErr != nil {
		return backend.User{}, f.currentErr
	}
	acct, ok := f.accounts[f.loggedIn]
	if !ok {
		return backend.User{}, &backend.APIError{Method: http.MethodGet, Path: "/current-user", Status: http.StatusUnauthorized}
	}
	return acct.user, nil
}

func (f *fakeBackend) ListUsers(context.Context) ([]backend.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["users"]++
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	out := []backend.User{{ID: 1, Email: "admin@pg.com", Role: backend.RoleAdmin}}
	if !f.hideFromUsers {
		for _, a := range f.accounts {
			out = append(out, a.user)
		}
	}
	return out, nil
}

func (f *fakeBackend) CreateTenant(_ context.Context, req backend.TenantRequest) (backend.TenantRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["tenants"]++
	if f.tenantErr != nil {
		return backend.TenantRef{}, f.tenantErr
	}
	t := backend.Tenant{ID: int64(len(f.tenants) + 1), UserID: req.UserID, Name: req.Name, Phone: req.Phone, RoomID: req.RoomID}
	f.tenants = append(f.tenants, t)
	return backend.TenantRef{ID: t.ID}, nil
}

func (f *fakeBackend) ListTenants(context.Context) ([]backend.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list-tenants"]++
	return append([]backend.Tenant(nil), f.tenants...), nil
}

func (f *fakeBackend) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["logout"]++
	f.loggedIn = ""
	return nil
}

func (f *fakeBackend) Cookies() []*http.Cookie {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loggedIn == "" {
		return nil
	}
	return []*http.Cookie{{Name: "session", Value: "cookie-" + f.loggedIn}}
}

type recordingSink struct {
	mu        sync.Mutex
	committed []session.Session
	err       error
	forgotten int
}

func (s *recordingSink) Commit(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.committed = append(s.committed, sess)
	return nil
}

func (s *recordingSink) Forget(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten++
	s.committed = nil
	return nil
}

type recordingReloader struct {
	calls int
	err   error
}

func (r *recordingReloader) Reload(context.Context, session.Session) error {
	r.calls++
	return r.err
}
