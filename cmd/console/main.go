package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/config"
	"pgmanage.org/internal/dashboard"
	"pgmanage.org/internal/httpapi"
	"pgmanage.org/internal/obs"
	"pgmanage.org/internal/store"
	"pgmanage.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		obs.Logger().Fatal("load config", zap.Error(err))
	}

	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat, "pgmanage-console")
	if err != nil {
		obs.Logger().Fatal("build logger", zap.Error(err))
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, "pgmanage-console", version, cfg.OTLPEndpoint, cfg.OTLPInsecure)
	if err != nil {
		logger.Fatal("setup tracing", zap.Error(err))
	}

	sessions, err := store.Open(cfg)
	if err != nil {
		logger.Fatal("open session store", zap.String("store", cfg.SessionStore), zap.Error(err))
	}
	defer sessions.Close()

	factory, err := backend.NewFactory(backend.FactoryConfig{
		BaseURL:   cfg.BackendURL,
		Timeout:   cfg.StepTimeout,
		RPS:       cfg.BackendRPS,
		Burst:     cfg.BackendBurst,
		UserAgent: cfg.UserAgent,
		Logger:    logger.Named("backend"),
	})
	if err != nil {
		logger.Fatal("backend client", zap.Error(err))
	}

	api := httpapi.New(httpapi.Config{
		Sessions:     sessions.Manager,
		Backends:     factory,
		Loader:       dashboard.NewLoader(dashboard.FactorySource(factory)),
		Stream:       stream.New(64),
		CookieName:   cfg.CookieName,
		CookieSecure: cfg.CookieSecure,
		Version:      version,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RateLimitRPS,
	})

	go sessions.PurgeLoop(ctx, 10*time.Minute)
	go api.SweepLimiter(ctx, time.Minute)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE responses stay open; handlers bound their own backend calls.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("starting console",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.String("backend", cfg.BackendURL),
		zap.String("session_store", sessions.Kind),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("listen", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
