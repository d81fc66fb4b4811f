// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/bizregistry-scraper/internal/api"
	"github.com/JakeFAU/bizregistry-scraper/internal/captcha"
	"github.com/JakeFAU/bizregistry-scraper/internal/captcha/anticaptcha"
	"github.com/JakeFAU/bizregistry-scraper/internal/captcha/twocaptcha"
	"github.com/JakeFAU/bizregistry-scraper/internal/clock/system"
	"github.com/JakeFAU/bizregistry-scraper/internal/config"
	"github.com/JakeFAU/bizregistry-scraper/internal/coordinator"
	"github.com/JakeFAU/bizregistry-scraper/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/bizregistry-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/bizregistry-scraper/internal/hash/sha256"
	"github.com/JakeFAU/bizregistry-scraper/internal/id/uuid"
	"github.com/JakeFAU/bizregistry-scraper/internal/logging"
	"github.com/JakeFAU/bizregistry-scraper/internal/metrics"
	"github.com/JakeFAU/bizregistry-scraper/internal/pipeline"
	"github.com/JakeFAU/bizregistry-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/bizregistry-scraper/internal/progress"
	progresssinks "github.com/JakeFAU/bizregistry-scraper/internal/progress/sinks"
	"github.com/JakeFAU/bizregistry-scraper/internal/proxypool"
	memorypublisher "github.com/JakeFAU/bizregistry-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/bizregistry-scraper/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/bizregistry-scraper/internal/queue/memory"
	queueRedis "github.com/JakeFAU/bizregistry-scraper/internal/queue/redis"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
	"github.com/JakeFAU/bizregistry-scraper/internal/source"
	gcsstorage "github.com/JakeFAU/bizregistry-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/bizregistry-scraper/internal/storage/local"
	memoryStorage "github.com/JakeFAU/bizregistry-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/bizregistry-scraper/internal/storage/postgres"
	"github.com/JakeFAU/bizregistry-scraper/internal/worker"
)

// EventsTopic is the Pub/Sub attribute carried by published progress events.
const EventsTopic = "scraper-events"

type stores struct {
	jobs      scraper.JobStore
	companies scraper.CompanyStore
	proxies   scraper.ProxyStore
	captchas  scraper.CaptchaStore
}

type closableQueue interface {
	scraper.Queue
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	coordinator  *coordinator.Coordinator
	dispatch     *dispatcher.Dispatcher
	progressHub  *progress.Hub
	queue        closableQueue
	redisQueue   *queueRedis.Queue
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
	storage      *storage.Client
	db           *pgstore.Store
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	type SanitizedConfig struct {
		ServerPort     int      `json:"server_port"`
		Workers        int      `json:"workers"`
		Sources        []string `json:"sources"`
		QueueBackend   string   `json:"queue_backend"`
		StorageBackend string   `json:"storage_backend"`
		Postgres       bool     `json:"postgres"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		Workers:        cfg.Scraper.Workers,
		Sources:        cfg.Scraper.DefaultSources,
		QueueBackend:   cfg.Queue.Backend,
		StorageBackend: cfg.Storage.Backend,
		Postgres:       cfg.Database.DSN != "",
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run recovers orphaned jobs, starts the workers and HTTP server, and blocks
// until the context is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recovered, err := a.coordinator.Recover(ctx)
	if err != nil {
		a.logger.Error("job recovery failed", zap.Int("recovered", recovered), zap.Error(err))
	}
	metrics.AddRecoveredJobs(recovered)
	if recovered > 0 {
		a.logger.Info("orphaned jobs recovered", zap.Int("count", recovered))
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.coordinator.Shutdown()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	app.logger.Info("building application dependencies")
	st, err := setupDatabase(ctx, app)
	if err != nil {
		return nil, err
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	events := setupProgress(ctx, app, publisher)

	if err := setupQueue(app); err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()

	proxies := proxypool.New(
		st.proxies,
		proxypool.NewHTTPProber(
			cfg.Proxy.TestURL,
			time.Duration(cfg.Proxy.TestTimeoutSeconds)*time.Second,
			proxypool.DefaultTunnels(),
		),
		ids,
		clock,
		events,
		proxypool.Config{
			BatchSize:             cfg.Proxy.BatchSize,
			BatchPause:            time.Duration(cfg.Proxy.BatchPauseMs) * time.Millisecond,
			DefaultCostPerRequest: cfg.Proxy.DefaultCostPerRequest,
		},
		logger.Named("proxypool"),
	)

	gateway := setupCaptcha(app, st.captchas, ids, clock, events)

	runner := pipeline.New(
		source.Builtin(),
		collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Scraper.UserAgent,
			RespectRobots: cfg.Scraper.RespectRobots,
			Timeout:       cfg.FetchTimeout(),
		}),
		proxies,
		gateway,
		captcha.NewDetector(captcha.DefaultIndicators),
		ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Scraper.RateLimitRPS,
			DefaultBurst: cfg.Scraper.RateLimitBurst,
		}, metrics.ObserveRateLimitDelay),
		blobStore,
		sha256.New(),
		pipeline.Config{
			Archive:       cfg.Scraper.ArchivePages,
			ArchivePrefix: cfg.Storage.Prefix,
			ContentType:   cfg.Storage.ContentType,
		},
		logger.Named("pipeline"),
	)

	app.coordinator = coordinator.New(
		st.jobs,
		st.companies,
		runner,
		app.queue,
		ids,
		clock,
		events,
		coordinator.Config{
			DefaultSources: cfg.Scraper.DefaultSources,
			DefaultSolver:  scraper.SolverService(cfg.Captcha.DefaultService),
			MaxLimit:       cfg.Scraper.MaxLimit,
		},
		logger.Named("coordinator"),
	)

	workers := make([]dispatcher.Runner, 0, cfg.Scraper.Workers)
	for i := range cfg.Scraper.Workers {
		workers = append(workers, worker.New(
			app.queue,
			app.coordinator,
			worker.Config{ID: i},
			logger.Named("worker"),
		))
	}
	app.dispatch = dispatcher.New(workers, logger.Named("dispatcher"))

	app.apiServer = api.NewServer(
		app.coordinator,
		proxies,
		gateway,
		api.Config{
			AuthEnabled: cfg.Auth.Enabled,
			APIKey:      cfg.Auth.APIKey,
			Ready:       app.ready,
		},
		logger.Named("api"),
	)

	return app, nil
}

// ready pings the external dependencies that jobs cannot run without.
func (a *App) ready(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			return err
		}
	}
	if a.redisQueue != nil {
		if err := a.redisQueue.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

func setupDatabase(ctx context.Context, app *App) (stores, error) {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory stores")
		companies := memoryStorage.NewCompanyStore()
		return stores{
			jobs:      memoryStorage.NewJobStore(memoryStorage.WithCompanyStore(companies)),
			companies: companies,
			proxies:   memoryStorage.NewProxyStore(),
			captchas:  memoryStorage.NewCaptchaStore(),
		}, nil
	}
	db, err := pgstore.New(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("postgres store init failed: %w", err)
	}
	if app.cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return stores{}, fmt.Errorf("postgres migrate failed: %w", err)
		}
	}
	app.db = db
	app.logger.Info("postgres store initialized", zap.Bool("migrated", app.cfg.Database.Migrate))
	return stores{jobs: db, companies: db, proxies: db, captchas: db}, nil
}

func setupStorage(ctx context.Context, app *App) (scraper.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobStore, nil
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(app.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (scraper.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubTopic = client.Topic(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubTopic), nil
}

func setupProgress(ctx context.Context, app *App, publisher scraper.Publisher) progress.Emitter {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.Nop{}
	}
	sinkList := []progress.Sink{
		progresssinks.NewPublisherSink(publisher, EventsTopic, app.logger.Named("progress_publisher")),
	}
	if promSink, err := progresssinks.NewPrometheusSink(nil); err != nil {
		app.logger.Warn("prometheus progress sink unavailable", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub
}

func setupQueue(app *App) error {
	if app.cfg.Queue.Backend != "redis" {
		app.queue = queueMemory.NewQueue(app.cfg.Scraper.QueueDepth)
		app.logger.Info("using in-memory job queue", zap.Int("depth", app.cfg.Scraper.QueueDepth))
		return nil
	}
	q, err := queueRedis.New(queueRedis.Config{
		Addr:     app.cfg.Queue.RedisAddr,
		Password: app.cfg.Queue.RedisPassword,
		DB:       app.cfg.Queue.RedisDB,
		Key:      app.cfg.Queue.RedisKey,
	})
	if err != nil {
		return fmt.Errorf("redis queue init failed: %w", err)
	}
	app.queue = q
	app.redisQueue = q
	app.logger.Info("using redis job queue",
		zap.String("addr", app.cfg.Queue.RedisAddr),
		zap.String("key", app.cfg.Queue.RedisKey))
	return nil
}

func setupCaptcha(
	app *App,
	store scraper.CaptchaStore,
	ids scraper.IDGenerator,
	clock scraper.Clock,
	events progress.Emitter,
) *captcha.Gateway {
	var providers []captcha.Provider
	if key := app.cfg.Captcha.TwoCaptchaAPIKey; key != "" {
		providers = append(providers, twocaptcha.New(key, ""))
	}
	if key := app.cfg.Captcha.AntiCaptchaAPIKey; key != "" {
		providers = append(providers, anticaptcha.New(key, ""))
	}
	gateway := captcha.New(
		providers,
		store,
		ids,
		clock,
		events,
		captcha.Config{
			PollInterval:      app.cfg.PollInterval(),
			MaxPolls:          app.cfg.Captcha.MaxPolls,
			FailedAttemptCost: app.cfg.Captcha.FailedAttemptCost,
			DefaultService:    scraper.SolverService(app.cfg.Captcha.DefaultService),
		},
		app.logger.Named("captcha"),
	)
	if len(providers) == 0 {
		app.logger.Warn("no CAPTCHA provider credentials configured; solve requests will fail")
	} else {
		app.logger.Info("captcha gateway initialized", zap.Any("services", gateway.Services()))
	}
	return gateway
}
