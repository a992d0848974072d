package backend

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Factory builds per-session clients that share pacing and transport settings.
// The console server needs one cookie jar per browser session.
type Factory struct {
	baseURL string
	opts    []Option
}

// FactoryConfig carries the settings shared by every client a Factory builds.
type FactoryConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RPS       float64
	Burst     int
	UserAgent string
	Logger    *zap.Logger
	Transport http.RoundTripper
}

// NewFactory validates the base URL once and prepares the shared limiter.
func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if _, err := New(cfg.BaseURL); err != nil {
		return nil, err
	}
	opts := []Option{WithTimeout(cfg.Timeout), WithUserAgent(cfg.UserAgent), WithLogger(cfg.Logger)}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, WithLimiter(rate.NewLimiter(rate.Limit(cfg.RPS), burst)))
	}
	if cfg.Transport != nil {
		opts = append(opts, WithTransport(cfg.Transport))
	}
	return &Factory{baseURL: cfg.BaseURL, opts: opts}, nil
}

// Client returns a fresh client, optionally resuming backend credentials.
func (f *Factory) Client(cookies []*http.Cookie) (*Client, error) {
	opts := append([]Option(nil), f.opts...)
	if len(cookies) > 0 {
		opts = append(opts, WithCookies(cookies))
	}
	return New(f.baseURL, opts...)
}
