// Package server builds the application's dependencies and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/polite-crawler/internal/api"
	"github.com/JakeFAU/polite-crawler/internal/clock/system"
	"github.com/JakeFAU/polite-crawler/internal/config"
	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/polite-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/polite-crawler/internal/id/uuid"
	"github.com/JakeFAU/polite-crawler/internal/links"
	"github.com/JakeFAU/polite-crawler/internal/logging"
	"github.com/JakeFAU/polite-crawler/internal/metrics"
	"github.com/JakeFAU/polite-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/polite-crawler/internal/policy/retry"
	logpublisher "github.com/JakeFAU/polite-crawler/internal/publisher/log"
	memorypublisher "github.com/JakeFAU/polite-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/polite-crawler/internal/publisher/pubsub"
	queueKafka "github.com/JakeFAU/polite-crawler/internal/queue/kafka"
	queueMemory "github.com/JakeFAU/polite-crawler/internal/queue/memory"
	queueRedis "github.com/JakeFAU/polite-crawler/internal/queue/redis"
	"github.com/JakeFAU/polite-crawler/internal/robots"
	"github.com/JakeFAU/polite-crawler/internal/storage"
	memoryStorage "github.com/JakeFAU/polite-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/polite-crawler/internal/storage/postgres"
	redisStorage "github.com/JakeFAU/polite-crawler/internal/storage/redis"
	"github.com/JakeFAU/polite-crawler/internal/traversal"
	"github.com/JakeFAU/polite-crawler/internal/worker"
)

// Mode selects which halves of the service a process runs.
type Mode string

const (
	// ModeAPI serves HTTP submissions and lookups only.
	ModeAPI Mode = "api"
	// ModeWorker consumes the queue only.
	ModeWorker Mode = "worker"
	// ModeAll runs both in one process.
	ModeAll Mode = "all"
)

func (m Mode) serves() bool { return m == ModeAPI || m == ModeAll }
func (m Mode) works() bool  { return m == ModeWorker || m == ModeAll }

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	mode   Mode
	logger *zap.Logger
	clock  *system.Clock

	redisClient *redis.Client
	queue       crawler.Queue
	closeQueue  func() error
	store       storage.Store
	pgStore     *pgstore.Store
	publisher   crawler.Publisher
	pubsub      *gcppublisher.Publisher
	checks      map[string]crawler.Pinger

	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
}

// NewApp creates an App with the given configuration and logger.
func NewApp(cfg *config.Config, mode Mode, logger *zap.Logger) (*App, error) {
	switch mode {
	case ModeAPI, ModeWorker, ModeAll:
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	logger.Info("creating application",
		zap.String("mode", string(mode)),
		zap.Int("server_port", cfg.Server.Port),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("events_backend", cfg.Events.Backend),
	)
	return &App{
		cfg:    cfg,
		mode:   mode,
		logger: logger,
		clock:  system.New(),
		checks: make(map[string]crawler.Pinger),
	}, nil
}

// Build creates the application's dependencies for mode.
func Build(ctx context.Context, cfg *config.Config, mode Mode) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, string(mode))
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app, err := NewApp(cfg, mode, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")
	if a.mode != ModeAll && (a.cfg.Queue.Backend == "memory" || a.cfg.Store.Backend == "memory") {
		a.logger.Warn("in-memory queue or store is not shared between processes",
			zap.String("mode", string(a.mode)),
		)
	}
	if err := a.setupRedis(ctx); err != nil {
		return err
	}
	if err := a.setupQueue(ctx); err != nil {
		return err
	}
	if err := a.setupStore(ctx); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	if err := a.setupDispatcher(); err != nil {
		return err
	}
	if a.mode.serves() {
		a.apiServer = api.NewServer(
			a.dispatch,
			a.store,
			uuid.New(),
			a.clock,
			*a.cfg,
			a.checks,
			a.logger.Named("api"),
		)
	}
	return nil
}

func (a *App) setupRedis(ctx context.Context) error {
	if !a.cfg.UsesRedis() {
		return nil
	}
	var opts *redis.Options
	if a.cfg.Redis.URL != "" {
		parsed, err := redis.ParseURL(a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     a.cfg.Redis.Addr,
			DB:       a.cfg.Redis.DB,
			Password: a.cfg.Redis.Password,
		}
	}
	a.redisClient = redis.NewClient(opts)
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	a.logger.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return nil
}

func (a *App) setupQueue(ctx context.Context) error {
	switch a.cfg.Queue.Backend {
	case "redis":
		q := queueRedis.New(a.redisClient, queueRedis.Config{
			Name:         a.cfg.Queue.Name,
			PollInterval: a.cfg.Queue.PollInterval,
		}, a.logger.Named("queue"))
		if a.cfg.Queue.Recover && a.mode.works() {
			moved, err := q.Recover(ctx)
			if err != nil {
				return fmt.Errorf("recover queue: %w", err)
			}
			a.logger.Info("recovered abandoned queue items", zap.Int("count", moved))
		}
		a.queue = q
		a.checks["queue"] = q
		a.logger.Info("using redis queue", zap.String("name", a.cfg.Queue.Name))
	case "kafka":
		q, err := queueKafka.New(queueKafka.Config{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.Topic,
			GroupID: a.cfg.Kafka.GroupID,
		}, a.logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("kafka queue init failed: %w", err)
		}
		a.queue = q
		a.closeQueue = q.Close
		a.logger.Info("using kafka queue",
			zap.Strings("brokers", a.cfg.Kafka.Brokers),
			zap.String("topic", a.cfg.Kafka.Topic),
		)
	default:
		q := queueMemory.NewQueue(a.cfg.Queue.Depth)
		a.queue = q
		a.closeQueue = func() error {
			q.Close()
			return nil
		}
		a.logger.Info("using in-memory queue", zap.Int("depth", a.cfg.Queue.Depth))
	}
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case "redis":
		s := redisStorage.NewStore(a.redisClient, a.cfg.Store.TTL)
		a.store = s
		a.logger.Info("using redis store")
	case "postgres":
		if a.cfg.Postgres.Migrate {
			if err := pgstore.RunMigrations(a.cfg.Postgres.DSN, a.logger.Named("migrate")); err != nil {
				return fmt.Errorf("postgres migrations failed: %w", err)
			}
		}
		s, err := pgstore.NewStore(ctx, pgstore.Config{
			DSN:       a.cfg.Postgres.DSN,
			MaxConns:  a.cfg.Postgres.MaxConns,
			MinConns:  a.cfg.Postgres.MinConns,
			StatusTTL: a.cfg.Store.TTL,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = s
		a.pgStore = s
		a.logger.Info("using postgres store",
			zap.Int32("max_conns", a.cfg.Postgres.MaxConns),
			zap.Duration("purge_interval", a.cfg.Postgres.PurgeInterval),
		)
	default:
		a.store = memoryStorage.NewStore(a.clock, a.cfg.Store.TTL)
		a.logger.Info("using in-memory store")
	}
	a.checks["store"] = pingerFunc(func(ctx context.Context) error {
		return storage.Ping(ctx, a.store)
	})
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch a.cfg.Events.Backend {
	case "none":
		a.logger.Info("job events disabled")
	case "memory":
		a.publisher = memorypublisher.New()
		a.logger.Info("using in-memory event publisher")
	case "pubsub":
		p, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = p
		a.pubsub = p
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	default:
		a.publisher = logpublisher.New(a.logger)
		a.logger.Info("logging job events", zap.String("topic", a.cfg.Events.Topic))
	}
	return nil
}

func (a *App) setupDispatcher() error {
	if !a.mode.works() {
		a.dispatch = dispatcher.New(a.queue, nil)
		return nil
	}
	limiter, err := ratelimit.New(ratelimit.Config{
		Global:    a.cfg.Rate.Global,
		PerDomain: a.cfg.Rate.PerDomain,
		Interval:  a.cfg.Rate.Interval,
		Mode:      ratelimit.Mode(a.cfg.Rate.Mode),
		CacheSize: a.cfg.Rate.DomainCacheSize,
	})
	if err != nil {
		return fmt.Errorf("rate limiter init failed: %w", err)
	}
	a.logger.Info("rate limiter configured",
		zap.Int("global", a.cfg.Rate.Global),
		zap.Int("per_domain", a.cfg.Rate.PerDomain),
		zap.Duration("interval", a.cfg.Rate.Interval),
		zap.String("mode", a.cfg.Rate.Mode),
	)
	gate, err := robots.New(robots.Config{
		UserAgent: a.cfg.Crawler.UserAgent,
		Timeout:   a.cfg.Robots.Timeout,
		CacheSize: a.cfg.Robots.CacheSize,
	}, a.logger.Named("robots"))
	if err != nil {
		return fmt.Errorf("robots gate init failed: %w", err)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   a.cfg.Crawler.UserAgent,
		Timeout:     a.cfg.Crawler.FetchTimeout,
		MaxBodySize: a.cfg.Crawler.MaxBodyBytes,
	})
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Crawler.UserAgent))

	fetchRetry := retry.New(a.cfg.Retry.Fetch.MaxAttempts, a.cfg.Retry.Fetch.Schedule).WithSleeper(a.clock.Sleep)
	jobRetry := retry.New(a.cfg.Retry.Job.MaxAttempts, a.cfg.Retry.Job.Schedule)
	engine := traversal.New(fetcher, links.New(), gate, limiter, fetchRetry, a.logger.Named("traversal"))

	workerCfg := worker.Config{
		ResultTTL: a.cfg.Store.TTL,
		Topic:     a.cfg.Events.Topic,
	}
	workers := make([]dispatcher.Runner, 0, a.cfg.Worker.Concurrency)
	for i := 0; i < a.cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			a.queue,
			engine,
			a.store,
			a.publisher,
			a.clock,
			jobRetry,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers)
	a.logger.Info("worker pool configured",
		zap.Int("workers", a.dispatch.Size()),
		zap.Int("job_max_attempts", a.cfg.Retry.Job.MaxAttempts),
		zap.Duration("result_ttl", workerCfg.ResultTTL),
	)
	return nil
}

// Run starts the configured halves and blocks until ctx is canceled, a
// termination signal arrives, or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started", zap.String("mode", string(a.mode)))
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if a.mode.works() {
		g.Go(func() error {
			a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
			a.dispatch.Run(gctx)
			a.logger.Info("dispatcher stopped")
			return nil
		})
		if a.pgStore != nil && a.cfg.Postgres.PurgeInterval > 0 {
			g.Go(func() error {
				a.purgeLoop(gctx)
				return nil
			})
		}
	}

	if a.mode.serves() {
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
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	<-gctx.Done()
	a.logger.Info("shutdown initiated")
	err := g.Wait()
	a.Close()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func (a *App) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Postgres.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.pgStore.PurgeExpired(ctx)
			if err != nil {
				a.logger.Warn("purge expired rows failed", zap.Error(err))
				continue
			}
			a.logger.Debug("purged expired rows", zap.Int64("rows", n))
		}
	}
}

// Close releases clients in reverse order of construction.
func (a *App) Close() {
	if a.closeQueue != nil {
		if err := a.closeQueue(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}
