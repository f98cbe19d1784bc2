package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/internal/clock/system"
	"github.com/JakeFAU/sipeto/internal/config"
	"github.com/JakeFAU/sipeto/internal/dispatcher"
	"github.com/JakeFAU/sipeto/internal/httpclient"
	"github.com/JakeFAU/sipeto/internal/id/uuid"
	"github.com/JakeFAU/sipeto/internal/media"
	"github.com/JakeFAU/sipeto/internal/media/instagram"
	"github.com/JakeFAU/sipeto/internal/media/tiktok"
	"github.com/JakeFAU/sipeto/internal/media/twitter"
	"github.com/JakeFAU/sipeto/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/sipeto/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sipeto/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/sipeto/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sipeto/internal/storage/local"
	memoryStorage "github.com/JakeFAU/sipeto/internal/storage/memory"
	pgstore "github.com/JakeFAU/sipeto/internal/storage/postgres"
	"github.com/JakeFAU/sipeto/internal/worker"
)

func setupHTTPClient(app *App) *httpclient.Client {
	httpCfg := app.cfg.HTTP
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   httpCfg.RateLimitRPS,
		DefaultBurst: httpCfg.RateLimitBurst,
	})
	app.logger.Info("outbound http client",
		zap.Duration("timeout", app.cfg.RequestTimeout()),
		zap.Int("max_retries", httpCfg.MaxRetries),
		zap.Float64("rate_limit_rps", httpCfg.RateLimitRPS),
		zap.Int("rate_limit_burst", httpCfg.RateLimitBurst),
	)
	return httpclient.New(httpclient.Config{
		Timeout:        app.cfg.RequestTimeout(),
		MaxRetries:     httpCfg.MaxRetries,
		BackoffInitial: time.Duration(httpCfg.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(httpCfg.BackoffMaxMs) * time.Millisecond,
		UserAgent:      httpCfg.UserAgent,
	}, limiter, app.logger)
}

func setupStorage(ctx context.Context, app *App) (media.ObjectStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs media store init failed: %w", err)
		}
		return store, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local media store init failed: %w", err)
		}
		return store, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupResolvers(app *App, fetcher media.Fetcher) (*media.Registry, error) {
	builders := []struct {
		platform media.Platform
		build    func(media.Settings) media.Resolver
	}{
		{media.PlatformInstagram, func(s media.Settings) media.Resolver {
			return instagram.New(s, app.httpClient, fetcher, app.logger)
		}},
		{media.PlatformTwitter, func(s media.Settings) media.Resolver {
			return twitter.New(s, app.httpClient, fetcher, app.logger)
		}},
		{media.PlatformTikTok, func(s media.Settings) media.Resolver {
			return tiktok.New(s, app.httpClient, fetcher, app.logger)
		}},
	}

	var resolvers []media.Resolver
	for _, b := range builders {
		settings, err := media.LoadSettings(app.bot, b.platform)
		if err != nil {
			app.logger.Warn("platform disabled", zap.String("platform", string(b.platform)), zap.Error(err))
			continue
		}
		resolvers = append(resolvers, b.build(settings))
		app.logger.Debug("platform enabled",
			zap.String("platform", string(b.platform)),
			zap.String("output_path", settings.OutputPath),
		)
	}
	if len(resolvers) == 0 {
		return nil, fmt.Errorf("no platform is fully configured")
	}
	return media.NewRegistry(resolvers...), nil
}

func setupLedger(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, keeping the download ledger in memory")
		app.ledger = memoryStorage.NewDownloadStore()
		return nil
	}
	store, err := pgstore.NewDownloadStore(ctx, pgstore.Config{
		DSN:      app.cfg.DB.DSN,
		Table:    app.cfg.DB.Table,
		MaxConns: app.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("download ledger init failed: %w", err)
	}
	app.pgStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("download ledger schema: %w", err)
	}
	app.ledger = store
	app.logger.Info("download ledger initialized", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (media.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient, app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupDispatcher(app *App, publisher media.Publisher) *dispatcher.Dispatcher {
	workerCfg := worker.Config{
		JobTimeout: app.cfg.JobBudget(),
		Topic:      app.cfg.PubSub.TopicName,
	}
	app.logger.Info("worker config",
		zap.Int("concurrency", app.cfg.Worker.Concurrency),
		zap.Int("queue_depth", app.cfg.Worker.QueueDepth),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
		zap.String("topic", workerCfg.Topic),
	)

	ids := uuid.New()
	clock := system.New()
	workers := make([]*worker.Worker, 0, app.cfg.Worker.Concurrency)
	for i := 0; i < app.cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.registry,
			app.ledger,
			publisher,
			ids,
			clock,
			workerCfg,
			app.logger.With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, workers)
}
