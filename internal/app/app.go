package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/autoreply/internal/activation"
	"github.com/foxzi/autoreply/internal/api"
	"github.com/foxzi/autoreply/internal/config"
	"github.com/foxzi/autoreply/internal/ipfilter"
	"github.com/foxzi/autoreply/internal/metrics"
	"github.com/foxzi/autoreply/internal/ratelimit"
	"github.com/foxzi/autoreply/internal/template"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *bolt.DB
	store         *template.Storage
	activator     *activation.Activator
	apiServer     *api.Server
	quota         *ratelimit.Limiter
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	// Setup logger
	logger := SetupLogger(cfg.Logging, os.Stdout)

	db, err := OpenDB(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Create activation quota if configured
	var quota *ratelimit.Limiter
	if cfg.Activation.Quota.Enabled() {
		quota, err = ratelimit.NewLimiter(db, cfg.Activation.Quota)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create activation quota: %w", err)
		}
		logger.Info("activation quotas enabled")
	}

	fail := func(err error) (*App, error) {
		if quota != nil {
			quota.Stop()
		}
		db.Close()
		return nil, err
	}

	activator := NewActivator(cfg, store, quota, logger)

	// Setup metrics if enabled
	var metricsServer *metrics.Server
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		filter, err := ipfilter.Parse(cfg.Metrics.AllowedIPs, logger.With("component", "metrics_ipfilter"))
		if err != nil {
			return fail(fmt.Errorf("failed to parse metrics allowed_ips: %w", err))
		}

		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, filter, logger.With("component", "metrics"))
		collector = metrics.NewCollector(m, store, cfg.Storage.Path, cfg.Metrics.CollectInterval)
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	apiServer, err := api.NewServer(store, activator, cfg, logger.With("component", "api"))
	if err != nil {
		return fail(err)
	}

	return &App{
		config:        cfg,
		db:            db,
		store:         store,
		activator:     activator,
		apiServer:     apiServer,
		quota:         quota,
		metricsServer: metricsServer,
		collector:     collector,
		logger:        logger,
	}, nil
}

// OpenDB opens the bolt file at path, creating its directory first
func OpenDB(path string) (*bolt.DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// OpenStore creates the template store and seeds an empty one from the
// starter file, or with one fresh group when no starter file is set.
func OpenStore(cfg *config.Config, db *bolt.DB, logger *slog.Logger) (*template.Storage, error) {
	store, err := template.NewStorage(db, template.NewNormalizer())
	if err != nil {
		return nil, fmt.Errorf("failed to create template storage: %w", err)
	}

	starter, err := store.Normalizer().LoadFile(cfg.Storage.StarterFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load starter file: %w", err)
	}

	seeded, err := store.Seed(context.Background(), starter)
	if err != nil {
		return nil, fmt.Errorf("failed to seed template storage: %w", err)
	}
	if seeded {
		logger.Info("template storage seeded",
			"starter_file", cfg.Storage.StarterFile,
			"groups", len(starter))
	}

	return store, nil
}

// NewActivator wires the activation pipeline from config
func NewActivator(cfg *config.Config, store *template.Storage, quota *ratelimit.Limiter, logger *slog.Logger) *activation.Activator {
	builder := activation.NewBuilder(activation.WithSource(cfg.Activation.Source))

	opts := []activation.ActivatorOption{activation.WithBaseURL(cfg.Activation.URL)}
	if quota != nil {
		opts = append(opts, activation.WithQuota(quota))
	}
	return activation.NewActivator(store, builder, logger, opts...)
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting autoreply",
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
		"activation_url", a.config.Activation.URL,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if total, err := a.store.CountGroups(ctx); err == nil {
		metrics.SetTemplateGroups(total)
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Start metrics server and collector
	if a.metricsServer != nil {
		a.collector.Start(ctx)
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Create timeout context
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		a.collector.Stop()
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Stop quota limiter (persists counters)
	if a.quota != nil {
		if err := a.quota.Stop(); err != nil {
			a.logger.Error("activation quota stop error", "error", err)
		}
	}

	// Close storage
	if err := a.db.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
