package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	importhandler "github.com/FACorreiaa/ledger-ingest/internal/domain/import/handler"
	"github.com/FACorreiaa/ledger-ingest/pkg/cron"
)

const shutdownTimeout = 15 * time.Second

// Routes builds the HTTP handler with middleware applied.
func (d *Dependencies) Routes() http.Handler {
	mux := http.NewServeMux()
	d.ImportHandler.Register(mux)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := `{"status":"ok"}`
		if d.DB != nil {
			if err := d.DB.Pool.Ping(r.Context()); err != nil {
				status, body = http.StatusServiceUnavailable, `{"status":"database unavailable"}`
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	if d.Config.Observability.MetricsEnabled && d.Config.Observability.MetricsPort == 0 {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	c := cors.New(cors.Options{
		AllowedOrigins: d.Config.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", importhandler.TenantHeader},
		MaxAge:         3600,
	})
	limiter := importhandler.NewRateLimiter(d.Config.Server.RateLimitPerSecond, d.Config.Server.RateLimitBurst)

	return importhandler.Recovery(d.Logger)(
		importhandler.Logging(d.Logger)(
			c.Handler(limiter.Middleware(mux)),
		),
	)
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, deps *Dependencies) error {
	cfg := deps.Config

	if err := deps.Scheduler.Start(); err != nil && !errors.Is(err, cron.ErrDisabled) {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	servers := []*http.Server{{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           deps.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Ingest.ImportTimeout + 30*time.Second,
	}}
	if cfg.Observability.MetricsEnabled && cfg.Observability.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", deps.Metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Observability.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			deps.Logger.Info("http server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			deps.Logger.Warn("http server shutdown failed", slog.String("addr", srv.Addr), slog.Any("error", err))
		}
	}
	deps.Logger.Info("http servers stopped")
	return runErr
}
