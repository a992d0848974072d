// Package session holds the local record of the authenticated console user and
// the explicit boundary through which it is persisted and restored.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Role of the authenticated account.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleTenant Role = "TENANT"
)

// ParseRole accepts the backend spelling in any case.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleTenant:
		return RoleTenant, nil
	default:
		return "", fmt.Errorf("session: unknown role %q", s)
	}
}

// Session is the authenticated identity of one client. Cookies are the backend
// credentials that let the holder act as that identity.
type Session struct {
	Email    string         `json:"email"`
	Role     Role           `json:"role"`
	UserID   int64          `json:"user_id"`
	TenantID int64          `json:"tenant_id,omitempty"`
	Cookies  []*http.Cookie `json:"-"`
	IssuedAt time.Time      `json:"issued_at"`
}

// Valid reports whether s carries a resolved identity.
func (s Session) Valid() bool {
	if s.UserID <= 0 || strings.TrimSpace(s.Email) == "" {
		return false
	}
	return s.Role == RoleAdmin || s.Role == RoleTenant
}

// IsAdmin reports whether the session belongs to an administrator.
func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

type sessionContextKey struct{}

// ContextWithSession attaches the session to the context.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &s)
}

// FromContext extracts the session attached by ContextWithSession.
func FromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || v == nil {
		return Session{}, false
	}
	return *v, true
}
