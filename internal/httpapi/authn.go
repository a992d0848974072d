package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"pgmanage.org/internal/audit"
	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/obs"
	"pgmanage.org/internal/session"
)

type sessionIDKey struct{}

// withSession resolves the session cookie into a session on the request context.
// Requests without a live session pass through anonymously.
func (a *API) withSession(next http.Handler) http.Handler {
	if a.sessions == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		ck, err := r.Cookie(a.cookieName)
		if err != nil || ck.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		s, err := a.sessions.Load(r.Context(), ck.Value)
		switch {
		case err == nil:
			ctx := session.ContextWithSession(r.Context(), s)
			ctx = contextWithSessionID(ctx, ck.Value)
			next.ServeHTTP(w, r.WithContext(ctx))
		case errors.Is(err, session.ErrNotFound):
			a.clearCookie(w)
			next.ServeHTTP(w, r)
		default:
			obs.Logger().Error("session_load_failed",
				zap.String("request_id", requestID(r)),
				zap.Error(err),
			)
			writeError(w, r, http.StatusServiceUnavailable, "session store unavailable")
		}
	})
}

// requireSession returns the caller's session or answers 401.
func requireSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	s, ok := session.FromContext(r.Context())
	if !ok || !s.Valid() {
		writeError(w, r, http.StatusUnauthorized, "sign in required")
		return session.Session{}, false
	}
	return s, true
}

// requireRole returns the caller's session when it holds role, otherwise answers 401 or 403.
func requireRole(w http.ResponseWriter, r *http.Request, role session.Role) (session.Session, bool) {
	s, ok := requireSession(w, r)
	if !ok {
		return s, false
	}
	if s.Role != role {
		_ = audit.LogEvent(r.Context(), "console.access.denied", map[string]any{
			"path":     r.URL.Path,
			"required": string(role),
		})
		writeError(w, r, http.StatusForbidden, "forbidden")
		return session.Session{}, false
	}
	return s, true
}

// backendFor returns a backend client acting with the caller's credentials.
func (a *API) backendFor(w http.ResponseWriter, r *http.Request, s session.Session) (*backend.Client, bool) {
	if a.backends == nil {
		writeError(w, r, http.StatusServiceUnavailable, "property service not configured")
		return nil, false
	}
	c, err := a.backends.Client(s.Cookies)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "backend client error")
		return nil, false
	}
	return c, true
}

func (a *API) setCookie(w http.ResponseWriter, id string) {
	maxAge := 0
	if a.sessions != nil {
		maxAge = int(a.sessions.TTL().Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func requestID(r *http.Request) string {
	return audit.RequestIDFromContext(r.Context())
}
