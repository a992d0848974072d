package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"pgmanage.org/internal/audit"
	"pgmanage.org/internal/ids"
	"pgmanage.org/internal/obs"
	"pgmanage.org/internal/provision"
	"pgmanage.org/internal/session"
)

// attemptIDHeader lets a client choose the id of its provisioning attempt, and
// carries the id used back to it.
const attemptIDHeader = "X-Attempt-ID"

// sessionResponse is a committed session plus the attempt that produced it.
type sessionResponse struct {
	session.Session
	AttemptID string `json:"attempt_id"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func contextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

func sessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// attemptID returns the client-chosen attempt id when it is well formed, or a
// fresh one, and echoes it in the response headers.
func attemptID(w http.ResponseWriter, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(attemptIDHeader))
	if !session.ValidID(id) {
		id = ids.New()
	}
	w.Header().Set(attemptIDHeader, id)
	return id
}

// replaceSession drops the console session a successful sign-in supersedes.
func (a *API) replaceSession(r *http.Request, next string) {
	prev := sessionIDFromContext(r.Context())
	if prev == "" || prev == next {
		return
	}
	if err := a.sessions.Delete(r.Context(), prev); err != nil && !errors.Is(err, session.ErrNotFound) {
		obs.Logger().Warn("previous session not deleted", zap.String("request_id", requestID(r)), zap.Error(err))
	}
}

// provisioner builds a flow runner bound to a fresh backend session and the
// console session id the result will be committed under.
func (a *API) provisioner(w http.ResponseWriter, r *http.Request, current session.Session, id string) (*provision.Provisioner, bool) {
	if a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "session store not configured")
		return nil, false
	}
	c, ok := a.backendFor(w, r, current)
	if !ok {
		return nil, false
	}
	opts := []provision.Option{
		provision.WithSink(session.Binding{Manager: a.sessions, ID: id}),
		provision.WithAttemptID(attemptID(w, r)),
	}
	if a.loader != nil {
		opts = append(opts, provision.WithReloader(a.loader))
	}
	if a.stream != nil {
		opts = append(opts, provision.WithEvents(a.stream.Publish))
	}
	return provision.New(c, opts...), true
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req provision.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id := ids.New()
	p, ok := a.provisioner(w, r, session.Session{}, id)
	if !ok {
		return
	}
	s, err := p.Provision(r.Context(), req)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "console.register.failed", map[string]any{
			"email": provision.NormalizeEmail(req.Email),
			"kind":  string(provision.KindOf(err)),
		})
		writeProvisionError(w, r, err)
		return
	}

	a.replaceSession(r, id)
	a.setCookie(w, id)
	_ = audit.LogEvent(r.Context(), "console.register.succeeded", map[string]any{
		"email":     s.Email,
		"user_id":   s.UserID,
		"tenant_id": s.TenantID,
	})
	writeJSON(w, http.StatusCreated, sessionResponse{Session: s, AttemptID: w.Header().Get(attemptIDHeader)})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id := ids.New()
	p, ok := a.provisioner(w, r, session.Session{}, id)
	if !ok {
		return
	}
	s, err := p.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "console.login.failed", map[string]any{
			"email": provision.NormalizeEmail(req.Email),
			"kind":  string(provision.KindOf(err)),
		})
		writeProvisionError(w, r, err)
		return
	}

	// Every sign-in gets a fresh id; the session it replaces is dropped.
	a.replaceSession(r, id)
	a.setCookie(w, id)
	_ = audit.LogEvent(r.Context(), "console.login.succeeded", map[string]any{
		"email":   s.Email,
		"user_id": s.UserID,
		"role":    string(s.Role),
	})
	writeJSON(w, http.StatusOK, sessionResponse{Session: s, AttemptID: w.Header().Get(attemptIDHeader)})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	s, ok := session.FromContext(r.Context())
	id := sessionIDFromContext(r.Context())
	if !ok || id == "" {
		a.clearCookie(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var remote provision.LogoutBackend
	if a.backends != nil {
		if c, err := a.backends.Client(s.Cookies); err == nil {
			remote = c
		}
	}
	if err := provision.Logout(r.Context(), remote, session.Binding{Manager: a.sessions, ID: id}); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	if a.loader != nil {
		a.loader.Forget(s.UserID)
	}
	a.clearCookie(w)
	_ = audit.LogEvent(r.Context(), "console.logout", map[string]any{"email": s.Email})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleLinkTenant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	current, ok := requireRole(w, r, session.RoleTenant)
	if !ok {
		return
	}
	if current.TenantID > 0 {
		writeError(w, r, http.StatusConflict, "account is already linked to a room")
		return
	}
	var req provision.LinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p, ok := a.provisioner(w, r, current, sessionIDFromContext(r.Context()))
	if !ok {
		return
	}
	s, err := p.LinkTenant(r.Context(), current, req)
	if err != nil {
		writeProvisionError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "console.tenant.linked", map[string]any{
		"tenant_id": s.TenantID,
		"room_id":   req.RoomID,
	})
	writeJSON(w, http.StatusOK, sessionResponse{Session: s, AttemptID: w.Header().Get(attemptIDHeader)})
}

// provisionStatus maps a failure kind to the HTTP status the UI branches on.
func provisionStatus(k provision.Kind) int {
	switch k {
	case provision.KindValidation:
		return http.StatusBadRequest
	case provision.KindDuplicateAccount, provision.KindTenantLink:
		return http.StatusConflict
	case provision.KindPartialProvision, provision.KindIdentityUnresolved:
		return http.StatusFailedDependency
	case provision.KindTransport:
		return http.StatusBadGateway
	case provision.KindAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeProvisionError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *provision.Error
	if !errors.As(err, &pe) {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	msg := pe.Message
	if strings.TrimSpace(msg) == "" {
		msg = string(pe.Kind)
	}
	payload := errorPayload(r, msg)
	payload["kind"] = pe.Kind
	payload["step"] = pe.Step
	payload["advice"] = provision.Advice(pe.Kind)
	if pe.Field != "" {
		payload["field"] = pe.Field
	}
	if pe.AccountCreated {
		payload["account_created"] = true
	}
	if id := w.Header().Get(attemptIDHeader); id != "" {
		payload["attempt_id"] = id
	}
	writeJSON(w, provisionStatus(pe.Kind), payload)
}
