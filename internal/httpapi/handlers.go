package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/dashboard"
	"pgmanage.org/internal/obs"
	"pgmanage.org/internal/session"
	"pgmanage.org/internal/stream"
)

// Config wires the console API to its collaborators.
type Config struct {
	Sessions     *session.Manager
	Backends     *backend.Factory
	Loader       *dashboard.Loader
	Stream       *stream.Stream
	CookieName   string
	CookieSecure bool
	Version      string
	RateBurst    int
	RatePerSec   int
	MaxBody      int64
}

// API is the backend-for-frontend HTTP layer of the console.
type API struct {
	mux      *http.ServeMux
	sessions *session.Manager
	backends *backend.Factory
	loader   *dashboard.Loader
	stream   *stream.Stream
	limiter  *RateLimiter

	cookieName   string
	cookieSecure bool
	version      string
	maxBody      int64
}

func New(cfg Config) *API {
	a := &API{
		mux:          http.NewServeMux(),
		sessions:     cfg.Sessions,
		backends:     cfg.Backends,
		loader:       cfg.Loader,
		stream:       cfg.Stream,
		limiter:      NewRateLimiter(cfg.RateBurst, cfg.RatePerSec),
		cookieName:   cfg.CookieName,
		cookieSecure: cfg.CookieSecure,
		version:      cfg.Version,
		maxBody:      cfg.MaxBody,
	}
	if a.cookieName == "" {
		a.cookieName = "pgm_session"
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	if a.loader == nil && a.backends != nil {
		a.loader = dashboard.NewLoader(dashboard.FactorySource(a.backends))
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// provisioning and session
	a.mux.HandleFunc("/v1/register", a.handleRegister)
	a.mux.HandleFunc("/v1/login", a.handleLogin)
	a.mux.HandleFunc("/v1/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/session", a.handleSession)
	a.mux.HandleFunc("/v1/tenants/link", a.handleLinkTenant)
	a.mux.HandleFunc("/v1/provision/events", a.Stream)

	// property data
	a.mux.HandleFunc("/v1/rooms", a.handleRooms)
	a.mux.HandleFunc("/v1/rooms/available", a.handleAvailableRooms)
	a.mux.HandleFunc("/v1/dashboard", a.handleDashboard)
	a.mux.HandleFunc("/v1/tenants", a.handleTenants)
	a.mux.HandleFunc("/v1/tenants/", a.handleTenantResource)
	a.mux.HandleFunc("/v1/payments", a.handlePayments)
	a.mux.HandleFunc("/v1/complaints", a.handleComplaints)
	a.mux.HandleFunc("/v1/receipts/", a.handleReceipt)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = a.limiter.Middleware(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return otelhttp.NewHandler(h, "console",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + obs.CanonicalPath(r.URL.Path)
		}),
	)
}

// SweepLimiter evicts idle rate-limit buckets until ctx is done.
func (a *API) SweepLimiter(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			a.limiter.Sweep(now)
		}
	}
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "pgmanage-console",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.sessions != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.sessions.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    "pgmanage-console",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"uptime":  obs.Uptime().String(),
	}
	if a.stream != nil {
		info["stream_subscribers"] = a.stream.Subscribers()
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorPayload(r, msg))
}

func errorPayload(r *http.Request, msg string) map[string]any {
	payload := map[string]any{
		"error": msg,
	}
	if rid := requestID(r); rid != "" {
		payload["request_id"] = rid
	}
	return payload
}

// writeBackendError relays a property backend failure. Client errors keep the
// backend's status and message; everything else becomes 502.
func writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	status := backend.StatusOf(err)
	switch {
	case status >= 400 && status < 500:
		msg := backend.MessageOf(err)
		if msg == "" {
			msg = http.StatusText(status)
		}
		writeError(w, r, status, msg)
	default:
		obs.Logger().Warn("backend_call_failed",
			zap.String("request_id", requestID(r)),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusBadGateway, "property service unavailable")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
