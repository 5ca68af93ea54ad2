package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fwintner/marketpulse/internal/dashboard"
	"github.com/fwintner/marketpulse/internal/domain"
	"github.com/fwintner/marketpulse/internal/inference"
	"github.com/fwintner/marketpulse/internal/metrics"
	"github.com/fwintner/marketpulse/internal/platform/config"
	"github.com/fwintner/marketpulse/internal/platform/logging"
	"github.com/fwintner/marketpulse/internal/platform/version"
	"github.com/fwintner/marketpulse/internal/server"
	"github.com/fwintner/marketpulse/internal/websocket"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupProvider(cfg *config.Config, clock clockwork.Clock) *inference.Client {
	client := inference.NewClient(inference.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
		Timeout: cfg.FetchTimeout,
	}, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := client.Verify(ctx); err != nil {
		slog.Error("Inference endpoint verification failed", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, engine *dashboard.Engine, hub *websocket.Hub) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		engine.Stop()
		hub.Stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, runtime.Version()).Set(1)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", info.Version)

	provider := setupProvider(cfg, clock)

	initialCtx, err := domain.ParseAnalysisContext(cfg.DefaultContext)
	if err != nil {
		slog.Error("Invalid default context", "error", err)
		os.Exit(1)
	}

	hub := websocket.NewHub(cfg.MaxWebSocketClients)
	engine := dashboard.NewEngine(provider, clock, cfg.SubjectList(), initialCtx, cfg.RefreshInterval, hub)
	engine.Start()

	srv := server.NewServer(cfg, engine, hub)
	done := runGracefulShutdown(srv, engine, hub)

	slog.Info("Server starting", "port", cfg.Port, "subjects", len(cfg.SubjectList()), "refresh_interval", cfg.RefreshInterval)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
