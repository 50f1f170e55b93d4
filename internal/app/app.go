// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/blastline/dispatch/internal/campaign"
	"github.com/blastline/dispatch/internal/campaign/memory"
	campaignpostgres "github.com/blastline/dispatch/internal/campaign/postgres"
	"github.com/blastline/dispatch/internal/campaign/smtp"
	"github.com/blastline/dispatch/internal/config"
	"github.com/blastline/dispatch/internal/pkg/ctxlog"
	"github.com/blastline/dispatch/internal/pkg/httputil"
	"github.com/blastline/dispatch/internal/pkg/metrics"
	"github.com/blastline/dispatch/internal/pkg/postgres"
	"github.com/blastline/dispatch/internal/version"
	"github.com/blastline/dispatch/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config           *config.Config
	logger           *slog.Logger
	db               *pgxpool.Pool
	server           *http.Server
	metricsServer    *http.Server
	backgroundCancel context.CancelFunc
	dispatcher       *campaign.Dispatcher
}

// New creates a new application instance. With a database URL
// configured, campaigns and the queue are backed by PostgreSQL;
// without one, by in-memory stores for local development.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())

	app := &App{
		config:           cfg,
		logger:           logger,
		backgroundCancel: backgroundCancel,
	}

	var store campaign.Store
	var queue campaign.Queue

	if cfg.Database.URL != "" {
		if cfg.Database.Migrate {
			if err := postgres.Migrate(cfg.Database.URL, migrations.FS); err != nil {
				backgroundCancel()
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}

		connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
		defer connectCancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			backgroundCancel()
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		app.db = db
		store = campaignpostgres.NewRepository(db)
		queue = campaignpostgres.NewQueue(db)

		go app.collectDBMetrics(backgroundCtx)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		store = memory.NewStore()
		queue = memory.NewQueue()
	}

	router := app.setupRouter(backgroundCtx, store, queue)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.backgroundCancel()

	// Stop the dispatcher first so no send is cut off mid-flight.
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.db != nil {
		a.db.Close()
	}

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, queue campaign.Queue) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := queue.Stats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			campaign.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Dispatcher returns the dispatcher instance. Used in tests to access
// dispatcher state. Returns nil if the dispatcher is disabled.
func (a *App) Dispatcher() *campaign.Dispatcher {
	return a.dispatcher
}

func (a *App) setupRouter(ctx context.Context, store campaign.Store, queue campaign.Queue) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	suppressions := memory.NewSuppressionList()
	recipientValidator := campaign.NewValidator(suppressions, suppressions)
	planner := campaign.NewPlanner()
	renderer := campaign.NewRenderer()

	service := campaign.NewService(store, queue, recipientValidator, planner, renderer)
	handler := campaign.NewHandler(service)

	slog.Info("dispatcher configured",
		"enabled", a.config.Dispatcher.Enabled,
		"smtp_enabled", a.config.SMTP.Enabled,
	)

	if a.config.Dispatcher.Enabled {
		sender := a.buildSender()

		limiter := campaign.NewRateLimiter(campaign.RateLimiterConfig{
			Window:      a.config.RateLimit.Window,
			GlobalLimit: a.config.RateLimit.GlobalLimit,
		})

		a.dispatcher = campaign.NewDispatcher(campaign.DispatcherConfig{
			PollInterval:          a.config.Dispatcher.PollInterval,
			BatchSize:             a.config.Dispatcher.BatchSize,
			LeaseTimeout:          a.config.Dispatcher.LeaseTimeout,
			StoreFailureThreshold: a.config.Dispatcher.StoreFailureThreshold,
			StoreRetryBackoff:     a.config.Dispatcher.StoreRetryBackoff,
		}, store, queue, limiter, sender, renderer)
		a.dispatcher.Start(ctx)

		go a.collectQueueMetrics(ctx, queue)
	}

	r.Route("/api/v1", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})

	return r
}

// buildSender picks the real SMTP sender or the dry-run fallback.
// Config validation guarantees host and from address when SMTP is
// enabled, so a constructor error here means the two disagree.
func (a *App) buildSender() campaign.Sender {
	if !a.config.SMTP.Enabled {
		return smtp.NewDryRunSender()
	}
	sender, err := smtp.NewSender(smtp.Config{
		Host:        a.config.SMTP.Host,
		Port:        a.config.SMTP.Port,
		User:        a.config.SMTP.User,
		Password:    a.config.SMTP.Password,
		FromAddress: a.config.SMTP.FromAddress,
		RateLimit:   a.config.SMTP.RateLimit,
		DialTimeout: a.config.SMTP.DialTimeout,
	})
	if err != nil {
		slog.Error("create smtp sender, falling back to dry-run", "error", err)
		return smtp.NewDryRunSender()
	}
	return sender
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		httputil.Text(w, http.StatusOK, "OK")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
