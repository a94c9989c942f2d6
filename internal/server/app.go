// Package server is the composition root: it builds every collaborator from
// config and runs the HTTP server alongside the scheduler loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/JakeFAU/bizdirectory-crawler/internal/api"
	"github.com/JakeFAU/bizdirectory-crawler/internal/clock/system"
	"github.com/JakeFAU/bizdirectory-crawler/internal/config"
	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	"github.com/JakeFAU/bizdirectory-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/bizdirectory-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/bizdirectory-crawler/internal/hash/sha256"
	"github.com/JakeFAU/bizdirectory-crawler/internal/id/uuid"
	"github.com/JakeFAU/bizdirectory-crawler/internal/logging"
	"github.com/JakeFAU/bizdirectory-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/bizdirectory-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/bizdirectory-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/bizdirectory-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/bizdirectory-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/bizdirectory-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/bizdirectory-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/bizdirectory-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/bizdirectory-crawler/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// archiveDigestLength keeps archive object names short.
const archiveDigestLength = 16

// App holds the wired service.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	store     crawler.BusinessStore
	scheduler *scheduler.Scheduler
	closers   []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Build creates the application's dependencies. Targets from cfg are
// registered with the scheduler.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("archive", cfg.Storage.Archive),
		zap.Bool("pubsub", cfg.PubSub.Enabled()),
	)

	tp, err := telemetry.InitTracerProvider(ctx, logging.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.onClose("tracer", tp.Shutdown)

	if err := app.setupStore(ctx); err != nil {
		app.closeQuietly()
		return nil, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		app.closeQuietly()
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeQuietly()
		return nil, err
	}

	runner, err := crawler.NewRunner(crawler.RunnerDeps{
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:   cfg.HTTP.UserAgent,
			Timeout:     cfg.Timeout(),
			MaxBodySize: cfg.HTTP.MaxBodyBytes,
			Limiter: ratelimit.New(ratelimit.Config{
				RequestsPerSecond: cfg.HTTP.RatePerSecond,
				Burst:             cfg.HTTP.RateBurst,
			}),
		}, logger),
		Extractor: extract.New(logger),
		Store:     app.store,
		Clock:     app.clock,
		IDs:       uuid.New(),
		BIIDs:     crawler.NewBIIDGenerator(uint64(time.Now().UnixNano()), cfg.Crawler.BIIDAttempts),
		Archive:   archive,
		Hasher:    &sha256.Hasher{Length: archiveDigestLength},
		Logger:    logger,
	})
	if err != nil {
		app.closeQuietly()
		return nil, fmt.Errorf("runner init failed: %w", err)
	}

	schedule, err := scheduler.NewSchedule(cfg.Scheduler.PollInterval, cfg.Scheduler.PollCron)
	if err != nil {
		app.closeQuietly()
		return nil, err
	}
	app.scheduler, err = scheduler.New(scheduler.Deps{
		Runner:    runner,
		Store:     app.store,
		Publisher: publisher,
		Clock:     app.clock,
		Logger:    logger,
	}, scheduler.Config{
		Schedule:     schedule,
		ErrorBackoff: cfg.Scheduler.ErrorBackoff,
		Topic:        cfg.PubSub.TopicName,
	})
	if err != nil {
		app.closeQuietly()
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	targets, err := cfg.BuildTargets()
	if err != nil {
		app.closeQuietly()
		return nil, err
	}
	for _, t := range targets {
		if err := app.scheduler.Add(t); err != nil {
			app.closeQuietly()
			return nil, fmt.Errorf("register target: %w", err)
		}
	}
	return app, nil
}

// Scheduler exposes the wired scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Store exposes the wired business store.
func (a *App) Store() crawler.BusinessStore {
	return a.store
}

// Run listens on the configured port and blocks until ctx is cancelled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln, plus the scheduler loop when autostart is
// set, until ctx is done. The scheduler is stopped before the server drains.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           api.NewServer(gctx, a.scheduler, a.store, a.clock, a.cfg, a.logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if a.cfg.Scheduler.Autostart {
		a.scheduler.Start(gctx)
	}

	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		a.scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases storage, messaging and tracing resources in reverse build order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) closeQuietly() {
	_ = a.Close(context.Background())
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendSQLite:
		store, err := sqlitestore.New(a.cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.onClose("sqlite", func(context.Context) error { return store.Close() })
		a.store = store
		a.logger.Info("using sqlite business store", zap.String("path", a.cfg.Storage.SQLitePath))
	case config.BackendPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.onClose("postgres", func(context.Context) error { store.Close(); return nil })
		a.store = store
		a.logger.Info("using postgres business store")
	default:
		a.store = memorystorage.NewBusinessStore()
		a.logger.Info("using in-memory business store")
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	if !a.cfg.Crawler.ArchivePages {
		return nil, nil
	}
	switch a.cfg.Storage.Archive {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.logger.Info("archiving pages to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.ArchiveDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving pages locally", zap.String("path", a.cfg.Storage.ArchiveDir))
		return store, nil
	case config.ArchiveMemory:
		a.logger.Info("archiving pages in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if !a.cfg.PubSub.Enabled() {
		a.logger.Info("no Pub/Sub topic configured, run summaries are not published")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	pub := gcppublisher.New(client, a.logger)
	a.onClose("pubsub", func(context.Context) error { return pub.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}
