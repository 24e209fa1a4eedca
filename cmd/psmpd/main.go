// PSMP governance server — registers agent artifacts, arbitrates dependency
// conflicts, enforces lifecycle and routing policy, and keeps the compliance
// audit trail.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/psmp-io/psmp/pkg/api"
	"github.com/psmp-io/psmp/pkg/audit"
	"github.com/psmp-io/psmp/pkg/config"
	"github.com/psmp-io/psmp/pkg/llm"
	"github.com/psmp-io/psmp/pkg/secure"
	"github.com/psmp-io/psmp/pkg/services"
	"github.com/psmp-io/psmp/pkg/storage"
	"github.com/psmp-io/psmp/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		pg := cfg.Storage.Postgres
		return storage.NewPostgresStore(ctx, storage.PostgresConfig{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			SSLMode:  pg.SSLMode,
			MaxConns: pg.MaxConns,
		})
	case config.StorageBackendBolt:
		return storage.NewBoltStore(cfg.Storage.DataDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	slog.Info("Starting PSMP engine",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Storage
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()
	slog.Info("Storage ready", "backend", cfg.Storage.Backend)

	// 3. Compliance auditor
	auditor, err := audit.NewAuditor(audit.Config{
		Dir:       cfg.Audit.Dir,
		QueueSize: cfg.Audit.QueueSize,
		HashChain: cfg.Audit.HashChain,
		Strict:    cfg.Governance.StrictAudit,
	})
	if err != nil {
		slog.Error("Failed to start auditor", "error", err)
		os.Exit(1)
	}

	// 4. LLM gateway with background health monitoring
	llmGateway, err := llm.NewGateway(cfg.LLM)
	if err != nil {
		slog.Error("Failed to build LLM gateway", "error", err)
		os.Exit(1)
	}
	llmGateway.StartHealthMonitor(ctx)
	defer llmGateway.Close()

	// 5. Governance services
	state := services.NewStateManager(store)
	engine := services.NewEngine(store, state, cfg.Governance.Mode)
	secureGateway := secure.NewGateway(cfg.Governance, llmGateway, auditor)
	slog.Info("Services initialized",
		"mode", cfg.Governance.Mode,
		"policy", cfg.Governance.Policy,
		"offline", cfg.Governance.Offline)

	// 6. HTTP server (non-blocking)
	server := api.NewServer(state, engine, secureGateway, llmGateway, auditor)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop accepting requests, then drain the audit
	// queue so every recorded decision reaches disk.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := auditor.Close(); err != nil {
		slog.Error("Error closing auditor", "error", err)
	}

	slog.Info("Shutdown complete")
}
