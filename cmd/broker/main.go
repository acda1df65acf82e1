// Command broker runs the real-time event streaming broker: an HTTP API
// fronting stream introspection, history pagination, and the WebSocket/SSE
// subscription endpoints.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tarsy-project/eventbroker/pkg/analytics"
	"github.com/tarsy-project/eventbroker/pkg/api"
	"github.com/tarsy-project/eventbroker/pkg/cleanup"
	"github.com/tarsy-project/eventbroker/pkg/config"
	"github.com/tarsy-project/eventbroker/pkg/dispatch"
	"github.com/tarsy-project/eventbroker/pkg/registry"
	"github.com/tarsy-project/eventbroker/pkg/replay"
	"github.com/tarsy-project/eventbroker/pkg/store"
	"github.com/tarsy-project/eventbroker/pkg/transport"
	"github.com/tarsy-project/eventbroker/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment file", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("starting event broker", "version", version.Full(), "config_dir", *configDir, "http_port", httpPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, filepath.Join(*configDir, "broker.yaml"))
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	st, err := openStore(cfg.Persistence)
	if err != nil {
		slog.Error("failed to open event store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("error closing event store", "error", err)
		}
	}()

	reg := registry.New(cfg.Caps.MaxStreams, cfg.Retention.StaleThreshold, nil)
	rec := analytics.New(analytics.DefaultThresholds(), nil)
	d := dispatch.New(st, reg, rec, dispatch.Config{
		SendQueueSize:         cfg.Transport.SendQueueSize,
		MaxSubscribersDefault: cfg.Stream.MaxSubscribers,
		MaxConnectionsGlobal:  cfg.Caps.MaxConnectionsGlobal,
		SanitizeMaxFieldBytes: cfg.Caps.SanitizeMaxFieldBytes,
	})
	staleSubscriberThreshold := 2 * cfg.Stream.HeartbeatInterval
	rec.SetStaleSubscriberChecker(staleSubscriberThreshold, d.CountStaleSubscribers)
	reg.SetStaleSubscriberCounter(staleSubscriberThreshold, d.CountStaleSubscribers)

	rsvc := replay.New(st, cfg.Transport.ReplayBatchSize, cfg.Transport.ReplayBatchPause)

	ws := transport.NewWSAdapter(d, rsvc, transport.WSConfig{
		WriteTimeout:      cfg.Transport.WriteTimeout,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		MaxMessageBytes:   int64(cfg.Caps.MaxMessageSizeBytes),
		ReplayBatchSize:   cfg.Transport.ReplayBatchSize,
	})
	sse := transport.NewSSEAdapter(d, rsvc, transport.SSEConfig{
		WriteTimeout:      cfg.Transport.WriteTimeout,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		MaxEventBytes:     cfg.Caps.MaxEventSizeBytes,
		ReplayBatchSize:   cfg.Transport.ReplayBatchSize,
	})

	cleanupSvc := cleanup.NewService(cfg.Retention, reg, d, st)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	server := api.NewServer(cfg, st, reg, d, rsvc, rec, ws, sse)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ":"+httpPort)
		if err := server.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections")
	case err := <-serveErr:
		slog.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Transport.ShutdownDrainTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during graceful shutdown", "error", err)
	}

	slog.Info("event broker stopped")
}

func openStore(cfg *config.PersistenceConfig) (store.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.Open(store.Config{
			Path:        cfg.SQLitePath,
			BusyTimeout: cfg.BusyTimeout,
		})
	default:
		return store.NewMemoryStore(), nil
	}
}
