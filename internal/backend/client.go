package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pgmanage.org/internal/obs"
)

// Client is a typed client for the property backend. Each Client owns a cookie
// jar, so one Client corresponds to one backend login session.
type Client struct {
	http      *resty.Client
	base      *url.URL
	jar       http.CookieJar
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *zap.Logger
	transport http.RoundTripper
	userAgent string
	cookies   []*http.Cookie
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every single call. Zero leaves only the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLimiter shares one limiter between clients.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger used for per-call debug entries.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTransport overrides the base round tripper (it is still wrapped for tracing).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

// WithCookies restores backend credentials captured by Cookies.
func WithCookies(cookies []*http.Cookie) Option {
	return func(c *Client) { c.cookies = cookies }
}

// New builds a client for baseURL. Requests are never retried.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend: base url %q must be absolute", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		base:      base,
		jar:       jar,
		logger:    obs.Logger(),
		transport: http.DefaultTransport,
		userAgent: "pgmanage-console",
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.cookies) > 0 {
		jar.SetCookies(base, c.cookies)
	}

	c.http = resty.New().
		SetBaseURL(base.String()).
		SetTransport(otelhttp.NewTransport(c.transport)).
		SetCookieJar(jar).
		SetRetryCount(0).
		SetLogger(c.logger.Sugar()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", c.userAgent)
	return c, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.base.String() }

// Cookies returns the backend credentials currently held by the client.
func (c *Client) Cookies() []*http.Cookie {
	return c.jar.Cookies(c.base)
}

// Register creates an account (and, when the backend supports it, the tenant record).
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Registration, error) {
	var out registerResponse
	if err := c.do(ctx, http.MethodPost, "/register", req, &out); err != nil {
		return nil, err
	}
	return out.registration(), nil
}

// Login establishes the backend session cookie.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", body, &out); err != nil {
		return LoginResult{}, err
	}
	return out, nil
}

// Logout ends the backend session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/logout", nil, nil)
}

// CurrentUser returns the identity bound to the session cookie.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/current-user", nil, &out); err != nil {
		return User{}, err
	}
	if out.ID == 0 {
		return User{}, fmt.Errorf("%w: current-user without id", ErrMalformed)
	}
	return out, nil
}

// ListUsers lists every account. The backend restricts it to admins.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.do(ctx, http.MethodGet, "/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTenant links an account to a room.
func (c *Client) CreateTenant(ctx context.Context, req TenantRequest) (TenantRef, error) {
	var out TenantRef
	if err := c.do(ctx, http.MethodPost, "/tenants", req, &out); err != nil {
		return TenantRef{}, err
	}
	return out, nil
}

// ListTenants lists tenant records with denormalised room data.
func (c *Client) ListTenants(ctx context.Context) ([]Tenant, error) {
	var out []Tenant
	if err := c.do(ctx, http.MethodGet, "/tenants", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRooms lists the room inventory. It does not require a session.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var out []Room
	if err := c.do(ctx, http.MethodGet, "/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRoom adds a room (admin only).
func (c *Client) CreateRoom(ctx context.Context, room NewRoom) error {
	return c.do(ctx, http.MethodPost, "/rooms", room, nil)
}

// ListPayments lists all rent payments.
func (c *Client) ListPayments(ctx context.Context) ([]Payment, error) {
	var out []Payment
	if err := c.do(ctx, http.MethodGet, "/payments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePayment records a rent payment (admin only).
func (c *Client) CreatePayment(ctx context.Context, p NewPayment) error {
	return c.do(ctx, http.MethodPost, "/payments", p, nil)
}

// TenantPayments lists the payments of one tenant.
func (c *Client) TenantPayments(ctx context.Context, tenantID int64) ([]Payment, error) {
	var out []Payment
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tenants/%d/payments", tenantID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Receipt fetches the receipt for one payment.
func (c *Client) Receipt(ctx context.Context, paymentID int64) (Receipt, error) {
	var out Receipt
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/receipts/%d", paymentID), nil, &out); err != nil {
		return Receipt{}, err
	}
	return out, nil
}

// ListComplaints lists complaint categories and statuses.
func (c *Client) ListComplaints(ctx context.Context) ([]Complaint, error) {
	var out []Complaint
	if err := c.do(ctx, http.MethodGet, "/complaints", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateComplaint files a complaint (tenants only).
func (c *Client) CreateComplaint(ctx context.Context, complaint NewComplaint) error {
	return c.do(ctx, http.MethodPost, "/complaints", complaint, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (err error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &transportError{method: method, path: path, err: err}
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := obs.Tracer().Start(ctx, "backend "+method+" "+obs.CanonicalPath(path))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	elapsed := time.Since(start)
	if err != nil {
		obs.ObserveBackendCall(method, path, 0, elapsed)
		c.logger.Debug("backend call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return &transportError{method: method, path: path, err: err}
	}

	status := resp.StatusCode()
	obs.ObserveBackendCall(method, path, status, elapsed)
	span.SetAttributes(attribute.Int("http.status_code", status))
	c.logger.Debug("backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
	)

	if status < 200 || status > 299 {
		return decodeAPIError(method, path, status, resp.Body())
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformed, method, path, err)
	}
	return nil
}
