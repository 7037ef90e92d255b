// Package app builds the crawler's long-lived services from configuration and
// runs them, either as a one-shot crawl or as an HTTP service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/hkjc-results-crawler/internal/api"
	"github.com/JakeFAU/hkjc-results-crawler/internal/clock/system"
	"github.com/JakeFAU/hkjc-results-crawler/internal/config"
	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
	"github.com/JakeFAU/hkjc-results-crawler/internal/dispatcher"
	"github.com/JakeFAU/hkjc-results-crawler/internal/export"
	collyfetcher "github.com/JakeFAU/hkjc-results-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/hkjc-results-crawler/internal/hash/sha256"
	"github.com/JakeFAU/hkjc-results-crawler/internal/id/uuid"
	"github.com/JakeFAU/hkjc-results-crawler/internal/job"
	"github.com/JakeFAU/hkjc-results-crawler/internal/logging"
	"github.com/JakeFAU/hkjc-results-crawler/internal/metrics"
	"github.com/JakeFAU/hkjc-results-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/hkjc-results-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/hkjc-results-crawler/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/hkjc-results-crawler/internal/publisher/redis"
	"github.com/JakeFAU/hkjc-results-crawler/internal/report"
	"github.com/JakeFAU/hkjc-results-crawler/internal/source"
	gcsstorage "github.com/JakeFAU/hkjc-results-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/hkjc-results-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/hkjc-results-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/hkjc-results-crawler/internal/storage/postgres"
	"github.com/JakeFAU/hkjc-results-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// raceStore is what the crawl writes to and the API reads from.
type raceStore interface {
	crawler.RaceStore
	crawler.RaceReader
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store        raceStore
	pgStore      *pgstore.RaceStore
	gcsClient    *storage.Client
	redisClient  *goredis.Client
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic

	dispatch  *dispatcher.Dispatcher
	progress  *progress.Hub
	runner    *job.Runner
	apiServer *api.Server

	fetcher   crawler.Fetcher
	blobs     crawler.BlobStore
	publisher crawler.Publisher
}

// Option overrides a dependency that Build would otherwise create from config.
type Option func(*App)

// WithFetcher replaces the colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithBlobStore replaces the export blob backend. Export still has to be
// enabled in config.
func WithBlobStore(b crawler.BlobStore) Option {
	return func(a *App) { a.blobs = b }
}

// WithPublisher replaces the Redis stream publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// Build creates the application's dependencies. Runs started through the job
// runner live under ctx.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	metrics.Init()
	a.logger.Info("building application dependencies",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("source", cfg.Source.BaseURL),
	)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clock := system.New(loc)

	if err := a.setupStore(ctx); err != nil {
		return nil, err
	}

	src, err := a.setupSource()
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	var dispatchOpts []dispatcher.Option
	exporter, err := a.setupExporter(ctx)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	if exporter != nil {
		dispatchOpts = append(dispatchOpts, dispatcher.WithExporter(exporter))
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	if publisher != nil {
		dispatchOpts = append(dispatchOpts, dispatcher.WithPublisher(publisher))
	}
	if cfg.Progress.Enabled {
		a.progress = progress.NewHub(progress.Config{
			BufferSize:     cfg.Progress.BufferSize,
			MaxBatchEvents: cfg.Progress.MaxBatchEvents,
			MaxBatchWait:   cfg.ProgressWait(),
			SinkTimeout:    time.Duration(cfg.Progress.SinkTimeoutSecs) * time.Second,
			BaseContext:    ctx,
			Logger:         logging.Component(logger, "progress_hub"),
		}, progresssinks.NewLogSink(logging.Component(logger, "progress")))
		dispatchOpts = append(dispatchOpts, dispatcher.WithProgress(a.progress))
	}

	a.dispatch = dispatcher.New(
		src,
		a.store,
		worker.New(src, logging.Component(logger, "worker")),
		clock,
		dispatcher.Config{
			RaceCeiling:    cfg.Crawler.RaceCeiling,
			WorkersPerDate: cfg.Crawler.WorkersPerDate,
		},
		logging.Component(logger, "dispatcher"),
		dispatchOpts...,
	)

	renderer, err := report.New(cfg.Report.FontPath)
	if err != nil {
		if closeErr := a.progress.Close(ctx); closeErr != nil {
			a.logger.Warn("progress hub close failed", zap.Error(closeErr))
		}
		a.closeInfrastructure()
		return nil, fmt.Errorf("report renderer init failed: %w", err)
	}

	a.runner = job.NewRunner(ctx, a.dispatch.Update, clock, uuid.New(), logging.Component(logger, "job"))
	a.apiServer = api.NewServer(a.store, a.runner, renderer, logging.Component(logger, "api"))
	return a, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case config.DriverPostgres:
		store, err := pgstore.NewRaceStore(ctx, pgstore.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("race store init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return fmt.Errorf("race store schema failed: %w", err)
		}
		a.pgStore = store
		a.store = store
		a.logger.Info("postgres race store initialized", zap.String("table", a.cfg.DB.Table))
	default:
		a.logger.Warn("using in-memory race store; results are lost on exit")
		a.store = memorystorage.NewRaceStore()
	}
	return nil
}

func (a *App) setupSource() (*source.Client, error) {
	if a.fetcher == nil {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: a.cfg.Source.UserAgent,
			Timeout:   a.cfg.SourceTimeout(),
		})
		a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Source.UserAgent))
	}
	src, err := source.New(a.fetcher, a.cfg.Source.BaseURL, logging.Component(a.logger, "source"))
	if err != nil {
		return nil, fmt.Errorf("source init failed: %w", err)
	}
	return src, nil
}

func (a *App) setupExporter(ctx context.Context) (crawler.Exporter, error) {
	if !a.cfg.Export.Enabled {
		return nil, nil
	}
	if a.blobs == nil {
		var err error
		switch a.cfg.Export.Backend {
		case config.BackendGCS:
			a.gcsClient, err = storage.NewClient(ctx)
			if err != nil {
				return nil, fmt.Errorf("gcs client init failed: %w", err)
			}
			a.blobs, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
				Bucket: a.cfg.Export.GCSBucket,
				Prefix: a.cfg.Export.Prefix,
			})
			if err != nil {
				return nil, fmt.Errorf("gcs blob store init failed: %w", err)
			}
			a.logger.Info("using GCS export backend", zap.String("bucket", a.cfg.Export.GCSBucket))
		default:
			a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Export.BaseDir})
			if err != nil {
				return nil, fmt.Errorf("local blob store init failed: %w", err)
			}
			a.logger.Info("using local export backend", zap.String("path", a.cfg.Export.BaseDir))
		}
	}
	var exportOpts []export.Option
	if a.cfg.Export.Checksum {
		exportOpts = append(exportOpts, export.WithChecksum(sha256.New()))
	}
	exporter, err := export.NewJSONExporter(a.blobs, a.cfg.Export.Path, exportOpts...)
	if err != nil {
		return nil, fmt.Errorf("json exporter init failed: %w", err)
	}
	return exporter, nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.publisher != nil {
		return a.publisher, nil
	}
	if a.cfg.Publisher.Backend == config.PublisherPubSub {
		return a.setupPubSubPublisher(ctx)
	}
	if a.cfg.Redis.Addr == "" {
		a.logger.Info("no redis address configured, stream publishing disabled")
		return nil, nil
	}
	redisCfg := redispublisher.Config{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		Stream:   a.cfg.Redis.Stream,
		MaxLen:   a.cfg.Redis.MaxLen,
	}
	a.redisClient = redispublisher.NewClient(redisCfg)
	publisher, err := redispublisher.New(a.redisClient, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("redis publisher init failed: %w", err)
	}
	a.publisher = publisher
	a.logger.Info("redis stream publisher initialized",
		zap.String("addr", a.cfg.Redis.Addr),
		zap.String("stream", a.cfg.Redis.Stream),
	)
	return publisher, nil
}

func (a *App) setupPubSubPublisher(ctx context.Context) (crawler.Publisher, error) {
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubTopic = client.Topic(a.cfg.PubSub.Topic)
	publisher, err := pubsubpublisher.New(a.pubsubTopic)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = publisher
	a.logger.Info("pubsub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return publisher, nil
}

// Logger returns the application's root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Update runs one crawl-and-store pass in the foreground.
func (a *App) Update(ctx context.Context) (crawler.Summary, error) {
	summary, err := a.dispatch.Update(ctx)
	if err != nil {
		return summary, fmt.Errorf("update race results: %w", err)
	}
	return summary, nil
}

// Serve runs the HTTP API until ctx is canceled. With crawlOnStart a crawl is
// started through the job runner before the listener comes up.
func (a *App) Serve(ctx context.Context, crawlOnStart bool) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if crawlOnStart {
		status, err := a.runner.Start(ctx)
		if err != nil {
			return fmt.Errorf("start initial crawl: %w", err)
		}
		a.logger.Info("initial crawl started", zap.String("run_id", status.RunID))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Close stops the job runner and releases connections.
func (a *App) Close(ctx context.Context) error {
	var closeErr error
	if a.runner != nil {
		if err := a.runner.Close(ctx); err != nil {
			closeErr = fmt.Errorf("close job runner: %w", err)
		}
	}
	if a.progress != nil {
		if err := a.progress.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close progress hub: %w", err))
		}
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return closeErr
}

func (a *App) closeInfrastructure() {
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}
