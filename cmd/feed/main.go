package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/reclamflow/feed/api/controllers"
	"github.com/reclamflow/feed/api/routes"
	"github.com/reclamflow/feed/internal/alert"
	"github.com/reclamflow/feed/internal/feed"
	"github.com/reclamflow/feed/internal/identity"
	"github.com/reclamflow/feed/internal/schedule"
	"github.com/reclamflow/feed/internal/toast"
	"github.com/reclamflow/feed/internal/transport"
	"github.com/reclamflow/feed/pkg/config"
	"github.com/reclamflow/feed/pkg/db"
	"github.com/reclamflow/feed/pkg/kvstore"
	"github.com/reclamflow/feed/pkg/logger"
	"github.com/reclamflow/feed/pkg/metrics"
	"github.com/reclamflow/feed/pkg/pubsub"
	"github.com/reclamflow/feed/pkg/redis"
)

const (
	serviceName     = "reclamflow-feed"
	shutdownTimeout = 10 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":   cfg.App.Env,
		"store": cfg.Feed.StoreDriver,
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "feed stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "feed shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	feedMetrics := metrics.NewFeedMetrics(prometheus.DefaultRegisterer)
	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)
	ready := map[string]controllers.Pinger{}

	var redisClient *redis.Client
	connectRedis := func() (*redis.Client, error) {
		if redisClient != nil {
			return redisClient, nil
		}
		client, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return nil, err
		}
		redisClient = client
		ready["redis"] = client
		return client, nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var (
		store      kvstore.Store
		scopeStore func(identity.Identity) feed.KeyValueStore
	)
	switch strings.ToLower(cfg.Feed.StoreDriver) {
	case config.StoreRedis:
		client, err := connectRedis()
		if err != nil {
			return err
		}
		if store, err = kvstore.NewRedis(client); err != nil {
			return err
		}
	case config.StoreSQL:
		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return err
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}()
		if cfg.DB.AutoMigrate {
			if err := dbClient.Migrate(ctx, &kvstore.Entry{}); err != nil {
				return err
			}
		}
		if store, err = kvstore.NewSQL(dbClient.DB()); err != nil {
			return err
		}
		ready["database"] = dbClient
	default:
		store = kvstore.NewMemory()
	}
	if _, shared := store.(*kvstore.Memory); !shared {
		scopeStore = func(id identity.Identity) feed.KeyValueStore {
			return kvstore.WithPrefix(store, kvstore.UserNamespace(id.Key()))
		}
	}

	tokens, err := tokenSource(cfg.Token)
	if err != nil {
		return err
	}

	catalogue, err := loadCatalogue(cfg.Feed.CatalogueFile)
	if err != nil {
		return err
	}

	fetcher, err := feed.NewHTTPFetcher(feed.HTTPFetcherOptions{
		BaseURL:      cfg.Feed.APIBaseURL,
		Timeout:      cfg.Feed.RequestTimeout,
		MaxBodyBytes: cfg.Feed.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	notifications, err := feed.New(feed.Options{
		Store:      store,
		ScopeStore: scopeStore,
		Fetcher:    fetcher,
		Resolver:   identity.NewResolver(cfg.JWT),
		Catalogue:  catalogue,
		Tokens:     tokens,
		Logger:     logg,
		Metrics:    feedMetrics,
	})
	if err != nil {
		return err
	}

	player, err := soundPlayer(cfg.Sound)
	if err != nil {
		return err
	}
	// The mute preference belongs to the device, so it lives in the unscoped store.
	coordinator, err := alert.NewCoordinator(player, store, logg)
	if err != nil {
		return err
	}
	defer coordinator.Stop()

	queue := toast.NewQueue(toast.Options{
		Limit:    cfg.Toast.Limit,
		Duration: cfg.Toast.Duration,
		Cue:      coordinator,
		Logger:   logg,
		Metrics:  feedMetrics,
	})
	defer queue.Close()
	notifications.OnNew(queue.OnNewUnread)
	notifications.OnRead(queue.ForgetKey)

	// An identity failure is kept in the feed status; /api/v1/feed/retry recovers.
	_ = notifications.Retry(ctx)

	pollJob, err := schedule.NewPollJob(notifications, logg)
	if err != nil {
		return err
	}
	var lock schedule.Lock = schedule.NopLock{}
	if cfg.Feed.PollLock {
		client, err := connectRedis()
		if err != nil {
			return err
		}
		lock, err = schedule.NewRedisLock(client, func() string {
			if id, ok := notifications.Identity(); ok {
				return client.LockKey("poll:" + id.Key())
			}
			return client.LockKey("poll")
		}, cfg.Feed.PollLockTTL)
		if err != nil {
			return err
		}
	}
	poller, err := schedule.NewService(schedule.ServiceParams{
		Logger:     logg,
		Registry:   schedule.NewRegistry(pollJob),
		Lock:       lock,
		Metrics:    jobMetrics,
		Interval:   cfg.Feed.PollInterval,
		// The cadence starts once the identity resolves, possibly via /api/v1/feed/retry.
		StartAfter: notifications.Ready(),
	})
	if err != nil {
		return err
	}

	live, closeBroker, err := newTransport(ctx, cfg, logg, feedMetrics, notifications, connectRedis, ready)
	if err != nil {
		return err
	}
	defer closeBroker()

	server := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			Feed:    notifications,
			Toasts:  queue,
			Sound:   coordinator,
			PollNow: poller.RunNow,
			Ready:   ready,
			Metrics: prometheus.DefaultGatherer,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(logg.WithField(gctx, "addr", server.Addr), "starting feed api")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := poller.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if live != nil {
		defer live.Teardown()
		g.Go(func() error { return live.Run(gctx) })
	}
	return g.Wait()
}

func tokenSource(cfg config.TokenConfig) (identity.TokenSource, error) {
	if !strings.EqualFold(cfg.Source, config.TokenSourceKeyring) {
		return identity.StaticToken(cfg.Value), nil
	}
	ring, err := identity.OpenKeyringToken(cfg.KeyringDir)
	if err != nil {
		return nil, err
	}
	if cfg.Value != "" {
		if err := ring.Save(cfg.Value); err != nil {
			return nil, err
		}
	}
	return ring, nil
}

func loadCatalogue(path string) (*feed.Catalogue, error) {
	if strings.TrimSpace(path) == "" {
		return feed.DefaultCatalogue()
	}
	return feed.LoadCatalogue(path)
}

func soundPlayer(cfg config.SoundConfig) (alert.Player, error) {
	switch strings.ToLower(cfg.Player) {
	case config.SoundPlayerCommand:
		return alert.NewCommandPlayer(cfg.Command)
	case config.SoundPlayerNone:
		return alert.Nop{}, nil
	default:
		return alert.BellPlayer{Out: os.Stderr}, nil
	}
}

func newTransport(
	ctx context.Context,
	cfg *config.Config,
	logg *logger.Logger,
	feedMetrics *metrics.FeedMetrics,
	notifications *feed.Feed,
	connectRedis func() (*redis.Client, error),
	ready map[string]controllers.Pinger,
) (*transport.Transport, func(), error) {
	closeBroker := func() {}
	var broker transport.Broker
	switch strings.ToLower(cfg.Feed.Broker) {
	case config.BrokerRedis:
		client, err := connectRedis()
		if err != nil {
			return nil, closeBroker, err
		}
		if broker, err = transport.NewRedisBroker(client, logg); err != nil {
			return nil, closeBroker, err
		}
	case config.BrokerPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, closeBroker, err
		}
		closeBroker = func() {
			if err := client.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}
		ready["pubsub"] = client
		if broker, err = transport.NewPubSubBroker(client, logg); err != nil {
			return nil, closeBroker, err
		}
	default:
		return nil, closeBroker, nil
	}

	var policy transport.ReconnectPolicy = transport.Never{}
	if cfg.Feed.Reconnect {
		policy = transport.Backoff{
			Initial:     cfg.Feed.ReconnectInitial,
			Max:         cfg.Feed.ReconnectMax,
			MaxAttempts: cfg.Feed.ReconnectAttempts,
		}
	}
	live, err := transport.New(transport.Options{
		Broker:    broker,
		Topic:     cfg.Feed.TicketTopic,
		Handler:   notifications.HandleTransportEvent,
		Logger:    logg,
		Metrics:   feedMetrics,
		Reconnect: policy,
	})
	if err != nil {
		return nil, closeBroker, err
	}
	live.Observe(func(tr transport.Transition) {
		notifications.SetTransportState(tr.To.String())
	})
	return live, closeBroker, nil
}
