package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"token_swap/internal/domain"
	"token_swap/internal/engine"
	"token_swap/internal/infra"
	"token_swap/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Logger  *slog.Logger
	Storage *storage.Storage
	Metrics *infra.Metrics
	Engine  *engine.Engine

	configPath    string
	metricsServer *http.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{configPath: configPath}
}

// Initialize loads config, sets up logging, opens storage and restores the
// engine from the last committed snapshot.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.configPath)
	if errors.Is(err, domain.ErrConfigNotFound) {
		slog.Warn("Config file not found, using defaults", slog.String("path", b.configPath))
		cfg, err = infra.LoadDefaults()
	}
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Debug("Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Metrics
	b.Metrics = infra.NewMetrics()

	// 5. Engine
	b.Engine = engine.New(cfg.Deployment.ID, store,
		engine.WithLogger(b.Logger),
		engine.WithRecorder(b.Metrics),
	)
	if err := b.Engine.Load(ctx); err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}

	return nil
}

// ServeMetrics starts the Prometheus endpoint when addr is non-empty.
func (b *Bootstrap) ServeMetrics(addr string) {
	if addr == "" || b.Metrics == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", b.Metrics.Handler())
	b.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("Metrics server started", slog.String("addr", addr))
		if err := b.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", slog.Any("error", err))
		}
	}()
}

// Close shuts down the metrics endpoint and the database.
func (b *Bootstrap) Close() {
	if b.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.metricsServer.Shutdown(ctx)
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close storage", slog.Any("error", err))
		}
	}
}
