// Package server builds the crawler's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-crawler/internal/adapters/selector"
	"github.com/JakeFAU/listing-crawler/internal/api"
	"github.com/JakeFAU/listing-crawler/internal/browser"
	"github.com/JakeFAU/listing-crawler/internal/challenge"
	"github.com/JakeFAU/listing-crawler/internal/challenge/twocaptcha"
	"github.com/JakeFAU/listing-crawler/internal/classifier"
	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/engine"
	"github.com/JakeFAU/listing-crawler/internal/governor"
	"github.com/JakeFAU/listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/listing-crawler/internal/logging"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
	"github.com/JakeFAU/listing-crawler/internal/notify"
	"github.com/JakeFAU/listing-crawler/internal/notify/sinks"
	"github.com/JakeFAU/listing-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/listing-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/listing-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/listing-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/listing-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/listing-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/listing-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/listing-crawler/internal/telemetry"
)

// stopGrace bounds how long a cooperative stop may take before in-flight
// work is canceled.
const stopGrace = 30 * time.Second

// Database is the store surface the app needs: listings, sources and a
// readiness probe.
type Database interface {
	crawler.ListingStore
	crawler.SourceRegistry
	Ping(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	engine    *engine.Engine
	adapters  []crawler.Adapter
	apiServer *api.Server
	hub       *notify.Hub
	publisher *gcppublisher.Publisher
	snapshots *gcsstorage.BlobStore
	chrome    *browser.Chrome
	db        Database
	closeDB   func() error
	tracer    *sdktrace.TracerProvider
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("database", cfg.Database.Driver),
		zap.String("snapshots", cfg.Snapshots.Backend),
		zap.Bool("browser", cfg.Browser.Enabled),
	)

	built := false
	defer func() {
		if !built {
			app.closeInfrastructure(context.Background())
		}
	}()

	app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.db, app.closeDB, err = OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	blobs, err := setupSnapshots(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupHub(ctx, app); err != nil {
		return nil, err
	}

	clock := system.New()
	errs := classifier.New(classifier.Config{
		Cooldown:          cfg.Errors.Cooldown,
		MaxErrorsPerHour:  cfg.Errors.MaxPerHour,
		CriticalThreshold: cfg.Errors.CriticalThreshold,
		Clock:             clock,
		Notifier:          app.hub,
		Logger:            logger,
	})

	pages := setupBrowser(app)
	gov, err := setupGovernor(app)
	if err != nil {
		return nil, err
	}
	challenges, err := setupChallenges(app, clock, blobs)
	if err != nil {
		return nil, err
	}

	defs, err := selector.LoadFile(cfg.Crawler.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	app.adapters, err = selector.FromDefinitions(defs, selector.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build adapters: %w", err)
	}
	logger.Info("adapters loaded", zap.Int("count", len(app.adapters)), zap.String("file", cfg.Crawler.SourcesFile))

	app.engine, err = engine.New(engine.Config{
		MaxCycles:    cfg.Crawler.MaxCycles,
		AdapterPause: cfg.Crawler.AdapterPause,
		CyclePause:   cfg.Crawler.CyclePause,
		Retry:        cfg.RetryPolicy(),
		Clock:        clock,
		IDs:          uuid.New(),
		Browser:      pages,
		Store:        app.db,
		Sources:      app.db,
		Challenges:   challenges,
		Errors:       errs,
		Governor:     gov,
		Pacer: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Crawler.RequestsPerSecond,
			DefaultBurst: cfg.Crawler.Burst,
			PerHostRPS:   cfg.PerHostRPS(),
		}),
		Notifier: app.hub,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}

	app.apiServer = api.NewServer(api.Config{
		Engine:  app.engine,
		Sources: app.db,
		Budgets: errs,
		Ready:   app.db,
		APIKey:  cfg.Server.APIKey,
		Logger:  logger.Named("api"),
	})

	built = true
	return app, nil
}

// OpenDatabase opens the configured listing store. The returned func
// releases it.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Database, func() error, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.DSN,
			ListingsTable:   cfg.ListingsTable,
			SourcesTable:    cfg.SourcesTable,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		logger.Info("postgres store initialized", zap.String("listings_table", cfg.ListingsTable))
		return store, func() error { store.Close(); return nil }, nil
	case config.DriverSQLite:
		store, err := sqlitestore.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		logger.Info("sqlite store initialized", zap.String("path", cfg.DSN))
		return store, store.Close, nil
	default:
		logger.Warn("using in-memory listing store; listings are lost on exit")
		return memorystorage.NewStore(), func() error { return nil }, nil
	}
}

func setupSnapshots(ctx context.Context, app *App) (crawler.BlobStore, error) {
	cfg := app.cfg.Snapshots
	switch cfg.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.snapshots = store
		app.logger.Info("using GCS snapshot backend", zap.String("bucket", cfg.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local snapshot backend", zap.String("path", cfg.BaseDir))
		return store, nil
	default:
		app.logger.Info("using in-memory snapshot backend")
		return memorystorage.NewBlobStore(cfg.Prefix), nil
	}
}

func setupHub(ctx context.Context, app *App) error {
	cfg := app.cfg.Notify
	var sinkList []notify.Sink
	if cfg.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(app.logger.Named("notify_log")))
	}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if cfg.PubSub.TopicName != "" && cfg.PubSub.ProjectID != "" {
		app.publisher, err = gcppublisher.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		kinds := make([]crawler.NotificationKind, 0, len(cfg.PubSub.Kinds))
		for _, k := range cfg.PubSub.Kinds {
			kinds = append(kinds, crawler.NotificationKind(k))
		}
		pubSink, err := sinks.NewPublisherSink(app.publisher, cfg.PubSub.TopicName, kinds...)
		if err != nil {
			return fmt.Errorf("publisher sink init failed: %w", err)
		}
		sinkList = append(sinkList, pubSink)
		app.logger.Info("Pub/Sub notifications enabled",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
			zap.Strings("kinds", cfg.PubSub.Kinds),
		)
	}

	app.hub = notify.NewHub(notify.Config{
		BufferSize:          cfg.BufferSize,
		MaxBatchEvents:      cfg.MaxBatchEvents,
		MaxBatchWait:        cfg.MaxBatchWait,
		SinkTimeout:         cfg.SinkTimeout,
		MaxFlushesPerSecond: cfg.MaxFlushesPerSecond,
		Logger:              app.logger,
	}, sinkList...)
	app.logger.Info("notification hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

func setupBrowser(app *App) crawler.Browser {
	cfg := app.cfg.Browser
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = app.cfg.Crawler.UserAgent
	}
	if !cfg.Enabled {
		app.logger.Info("browser disabled, using static page source")
		return browser.NewStatic(browser.StaticConfig{
			UserAgent: userAgent,
			Timeout:   cfg.NavTimeout,
		})
	}
	app.chrome = browser.New(browser.Config{
		UserAgent:       userAgent,
		NavTimeout:      cfg.NavTimeout,
		SelectorTimeout: cfg.SelectorTimeout,
		Headless:        cfg.Headless,
		Logger:          app.logger,
	})
	app.logger.Info("using chromedp page source", zap.Bool("headless", cfg.Headless))
	return app.chrome
}

func setupGovernor(app *App) (*governor.Governor, error) {
	cfg := app.cfg.Governor
	gcfg := governor.Config{
		LightInterval:    cfg.LightInterval,
		HeavyInterval:    cfg.HeavyInterval,
		MemoryCeiling:    app.cfg.MemoryCeiling(),
		PressureFraction: cfg.PressureFraction,
		PressureGap:      cfg.PressureGap,
		Logger:           app.logger,
	}
	if cfg.UseRSS {
		reader, err := governor.NewProcReader()
		if err != nil {
			return nil, fmt.Errorf("governor reader init failed: %w", err)
		}
		gcfg.Reader = reader
	}
	if app.chrome != nil {
		gcfg.Recycler = app.chrome
	}
	return governor.New(gcfg), nil
}

func setupChallenges(app *App, clock crawler.Clock, blobs crawler.BlobStore) (*challenge.Handler, error) {
	cfg := app.cfg.Challenge
	hcfg := challenge.Config{
		MaxWait:      cfg.MaxWait,
		PollInterval: cfg.PollInterval,
		Detector:     challenge.NewDetector(cfg.ExtraSelectors, cfg.ExtraKeywords),
		Notifier:     app.hub,
		Hasher:       sha256.New(),
		Clock:        clock,
		Logger:       app.logger,
	}
	if cfg.SnapshotOnTimeout {
		hcfg.Snapshots = blobs
	}
	if cfg.Solver.Provider == config.SolverTwoCaptcha {
		solver, err := twocaptcha.New(twocaptcha.Config{
			APIKey:       cfg.Solver.APIKey,
			Endpoint:     cfg.Solver.Endpoint,
			PollInterval: cfg.Solver.PollInterval,
			MaxWait:      cfg.Solver.MaxWait,
			Clock:        clock,
			Logger:       app.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("2captcha solver init failed: %w", err)
		}
		hcfg.Solver = solver
		app.logger.Info("automated challenge solving enabled", zap.String("provider", cfg.Solver.Provider))
	}
	h, err := challenge.NewHandler(hcfg)
	if err != nil {
		return nil, fmt.Errorf("challenge handler init failed: %w", err)
	}
	return h, nil
}

// Run crawls until the engine finishes its cycles or a signal arrives. A
// signal requests a cooperative stop; in-flight work is canceled only after
// stopGrace.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	done := make(chan struct{})

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		defer close(done)
		if err := a.engine.Start(workCtx, a.adapters...); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		a.logger.Info("engine finished")
		return nil
	})
	g.Go(func() error {
		select {
		case <-done:
			return nil
		case <-gctx.Done():
		}
		a.logger.Info("shutdown initiated")
		a.engine.Stop()
		select {
		case <-done:
		case <-time.After(stopGrace):
			a.logger.Warn("engine did not stop in time, canceling in-flight work")
			cancelWork()
		}
		return nil
	})

	if a.cfg.Server.Enabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-done:
			case <-gctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	runErr := g.Wait()
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("notification hub close failed", zap.Error(err))
		}
		a.hub = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.snapshots = nil
	}
	if a.chrome != nil {
		a.chrome.Close()
		a.chrome = nil
	}
	if a.closeDB != nil {
		if err := a.closeDB(); err != nil {
			a.logger.Warn("listing store close failed", zap.Error(err))
		}
		a.closeDB = nil
	}
	a.logger.Info("shutdown complete")
}
