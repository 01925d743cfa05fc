package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mcpgate/mcpgate/internal/adapter/backend"
	gatehttp "github.com/mcpgate/mcpgate/internal/adapter/http"
	"github.com/mcpgate/mcpgate/internal/adapter/ristretto"
	"github.com/mcpgate/mcpgate/internal/adapter/ws"
	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/logger"
	"github.com/mcpgate/mcpgate/internal/middleware"
	backendport "github.com/mcpgate/mcpgate/internal/port/backend"
	"github.com/mcpgate/mcpgate/internal/resilience"
	"github.com/mcpgate/mcpgate/internal/secrets"
	"github.com/mcpgate/mcpgate/internal/service"
	"github.com/mcpgate/mcpgate/internal/telemetry"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"backend_url", cfg.Backend.URL,
		"poll_interval", cfg.Poller.Interval,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := telemetry.Init(ctx, cfg.Logging.Service, cfg.OTel.Endpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Backend client ---
	// A token file takes precedence over the inline token and can be
	// re-read at runtime (SIGHUP), so rotation needs no restart.
	var vault *secrets.Vault
	token := cfg.Backend.Token
	if cfg.Backend.TokenFile != "" {
		vault, err = secrets.NewVault(secrets.FileLoader(cfg.Backend.TokenFile, secrets.KeyBackendToken))
		if err != nil {
			return fmt.Errorf("backend token: %w", err)
		}
		token = vault.Get(secrets.KeyBackendToken)
		slog.Info("backend token loaded", "file", cfg.Backend.TokenFile,
			"token", vault.Redacted(secrets.KeyBackendToken))
	}

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	client := backend.NewClient(cfg.Backend.URL, token, cfg.Backend.Timeout)
	client.SetBreaker(breaker)

	// --- Cache ---
	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- Services ---
	hub := ws.NewHub()

	approvals := service.NewApprovalService(client, cache, cfg.Cache.CheckTTL)
	approvals.SetBroadcaster(hub)
	approvals.SetMetrics(metrics)

	tracker := service.NewTrackerService(client, approvals)
	tracker.SetBroadcaster(hub)
	tracker.SetMetrics(metrics)

	poller := service.NewPollerService(tracker, cfg.Poller.Interval)
	poller.SetFetchLimit(cfg.Poller.MaxConcurrent)
	poller.SetMetrics(metrics)
	tracker.SetScheduler(poller)
	defer poller.Stop()

	streams := service.NewStreamService(client, cfg.Stream.ReconnectDelay)
	streams.SetBroadcaster(hub)
	streams.SetMetrics(metrics)
	defer streams.Shutdown()

	// Pick up executions that were in flight before a restart. A cold
	// backend at boot is not fatal; the list stays empty until the GUI
	// triggers a refresh.
	if err := tracker.RefreshLogs(ctx, backendport.ListLogsQuery{}); err != nil {
		slog.Warn("initial execution log refresh failed", "error", err)
	}
	poller.Resume()

	// --- HTTP ---
	handlers := gatehttp.NewHandlers(tracker, approvals, streams)
	handlers.BreakerState = breaker.State

	r := chi.NewRouter()
	r.Use(gatehttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(gatehttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Server.RateLimitRPS > 0 {
		rl := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		r.Use(rl.Handler)
	}

	gatehttp.MountRoutes(r, handlers, hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "mcpgate.http"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown; SIGHUP reloads the backend token.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	for sig := range sigs {
		if sig != syscall.SIGHUP {
			break
		}
		if vault == nil {
			slog.Warn("SIGHUP ignored, no backend.token_file configured")
			continue
		}
		if err := vault.Reload(); err != nil {
			slog.Error("backend token reload failed", "error", err)
			continue
		}
		client.SetToken(vault.Get(secrets.KeyBackendToken))
		slog.Info("backend token reloaded", "token", vault.Redacted(secrets.KeyBackendToken))
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
