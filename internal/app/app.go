// Package app builds the bot's long-lived services and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/internal/api"
	"github.com/JakeFAU/sipeto/internal/clock/system"
	"github.com/JakeFAU/sipeto/internal/config"
	"github.com/JakeFAU/sipeto/internal/dispatcher"
	"github.com/JakeFAU/sipeto/internal/hash/sha256"
	"github.com/JakeFAU/sipeto/internal/httpclient"
	"github.com/JakeFAU/sipeto/internal/id/uuid"
	"github.com/JakeFAU/sipeto/internal/logging"
	"github.com/JakeFAU/sipeto/internal/media"
	gcppublisher "github.com/JakeFAU/sipeto/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/sipeto/internal/queue/memory"
	"github.com/JakeFAU/sipeto/internal/router"
	"github.com/JakeFAU/sipeto/internal/server"
	pgstore "github.com/JakeFAU/sipeto/internal/storage/postgres"
	"github.com/JakeFAU/sipeto/internal/telegram"
)

// ErrNoMediaLink is returned by Resolve when the text holds no supported link.
var ErrNoMediaLink = errors.New("no supported media link")

// Options are the inputs to Build.
type Options struct {
	Config    config.Config
	BotConfig config.BotConfig
	// Logger overrides the logger built from Config.Logging.
	Logger *zap.Logger
}

// App contains the bot's dependencies.
type App struct {
	cfg    config.Config
	bot    config.BotConfig
	logger *zap.Logger

	token      string
	webhookURL string

	httpClient *httpclient.Client
	registry   *media.Registry
	queue      *queueMemory.Queue
	dispatch   *dispatcher.Dispatcher
	router     *router.Router
	telegram   *telegram.Client
	ledger     media.DownloadLedger
	handler    http.Handler
	listener   *server.Listener
	ready      atomic.Bool

	pgStore         *pgstore.DownloadStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
}

// Build creates the application's dependencies. Missing bot token, endpoint or
// webhook URL is fatal; a platform with an incomplete section is disabled.
func Build(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{
			Development: opts.Config.Logging.Development,
			Level:       opts.Config.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}

	required, err := opts.BotConfig.Required(config.KeyToken, config.KeyEndpoint, config.KeyWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("bot config: %w", err)
	}

	app := &App{
		cfg:        opts.Config,
		bot:        opts.BotConfig,
		logger:     logger,
		token:      required[config.KeyToken],
		webhookURL: required[config.KeyWebhookURL],
	}
	app.logBanner()
	app.logger.Info("building application dependencies")

	app.httpClient = setupHTTPClient(app)

	objects, err := setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	fetcher := media.NewDownloader(app.httpClient, objects, sha256.New(), logger)

	app.registry, err = setupResolvers(app, fetcher)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	if err = setupLedger(ctx, app); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.queue = queueMemory.NewQueue(app.cfg.Worker.QueueDepth)
	app.dispatch = setupDispatcher(app, publisher)

	app.telegram, err = telegram.NewClient(required[config.KeyEndpoint], app.token, app.httpClient, logger)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("telegram client init failed: %w", err)
	}

	app.router = router.New(
		app.registry,
		app.dispatch,
		app.telegram,
		uuid.New(),
		system.New(),
		router.Config{
			ReplyOnMiss:   app.cfg.Bot.ReplyOnMiss,
			ReportResults: app.cfg.Bot.ReportResults,
			Download:      app.cfg.Worker.Download,
			ReplyTimeout:  app.cfg.JobBudget() + app.cfg.RequestTimeout(),
		},
		logger,
	)

	app.handler = api.Routes(api.Options{
		Token:  app.token,
		Router: app.router,
		Ledger: app.ledger,
		Ready:  app.readiness,
		Logger: logger,
	})
	return app, nil
}

// Handler returns the inbound route table.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Listen binds the webhook listener. Run calls it when it has not been called.
func (a *App) Listen(ctx context.Context) error {
	if a.listener != nil {
		return nil
	}
	l, err := server.Listen(ctx, server.Config{
		Address:      a.cfg.ListenAddress(),
		KeepAlive:    a.cfg.Server.KeepAlive,
		ReadTimeout:  a.cfg.Server.ReadTimeout(),
		WriteTimeout: a.cfg.Server.WriteTimeout(),
		IdleTimeout:  a.cfg.Server.IdleTimeout(),
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
	}, a.handler, a.logger)
	if err != nil {
		return fmt.Errorf("webhook listener: %w", err)
	}
	a.listener = l
	return nil
}

// Addr reports the listener address, or nil before Listen.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Run serves webhooks until ctx is canceled or SIGINT/SIGTERM arrives, then
// drains sessions, pending jobs and chat replies within the shutdown grace.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Listen(ctx); err != nil {
		return err
	}
	if a.cfg.Bot.RegisterWebhook {
		if _, err := a.RegisterWebhook(ctx); err != nil {
			a.logger.Error("webhook registration failed", zap.Error(err))
		}
	}

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
		a.dispatch.Run(workCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.listener.Serve(ctx)
	}()
	a.ready.Store(true)
	a.logger.Info("application started", zap.String("addr", a.Addr().String()))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		if runErr != nil {
			a.logger.Error("listener stopped", zap.Error(runErr))
		}
	}
	a.ready.Store(false)
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownGrace())
	defer cancel()
	if err := a.listener.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("listener shutdown", zap.Error(err))
	}

	// Queued jobs still run; workers exit once the queue is empty.
	a.queue.Close()
	a.waitReplies(shutdownCtx)
	cancelWork()
	<-dispatchDone

	return errors.Join(runErr, a.Close(shutdownCtx))
}

func (a *App) waitReplies(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.router.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("abandoning pending chat replies", zap.Error(ctx.Err()))
	}
}

// RegisterWebhook points Telegram at the configured webhook URL unless it
// already is. It reports whether a change was made.
func (a *App) RegisterWebhook(ctx context.Context) (bool, error) {
	changed, err := a.telegram.EnsureWebhook(ctx, a.webhookURL)
	if err != nil {
		return false, fmt.Errorf("ensure webhook: %w", err)
	}
	if changed {
		a.logger.Info("webhook registered", zap.String("url", a.telegram.Redact(a.webhookURL)))
	} else {
		a.logger.Info("webhook already registered", zap.String("url", a.telegram.Redact(a.webhookURL)))
	}
	return changed, nil
}

// Resolve runs one link through the worker pipeline outside the webhook path.
func (a *App) Resolve(ctx context.Context, text string, download bool) (media.Result, error) {
	resolver, link, ok := a.registry.Detect(text)
	if !ok {
		return media.Result{}, fmt.Errorf("%w in %q", ErrNoMediaLink, text)
	}
	jobID, err := uuid.New().NewID()
	if err != nil {
		return media.Result{}, fmt.Errorf("generate job id: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.dispatch.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	future, err := a.dispatch.Submit(ctx, media.Job{
		JobID:     jobID,
		Platform:  resolver.Platform(),
		URL:       link,
		Attempt:   1,
		Submitted: time.Now(),
		Download:  download,
	})
	if err != nil {
		return media.Result{}, fmt.Errorf("submit: %w", err)
	}
	result, err := future.Wait(ctx)
	if err != nil {
		return media.Result{}, err
	}
	return result, result.Err
}

// Platforms lists the enabled platforms.
func (a *App) Platforms() []media.Platform {
	return a.registry.Platforms()
}

// Close releases clients. It is safe to call after Run.
func (a *App) Close(_ context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

func (a *App) readiness(context.Context) error {
	if !a.ready.Load() {
		return errors.New("not accepting updates")
	}
	return nil
}

func (a *App) logBanner() {
	field := func(key string) zap.Field {
		v, _ := a.bot.Lookup(key)
		return zap.String(key, v)
	}
	a.logger.Info("sipeto starting",
		field(config.KeyProject),
		field(config.KeyVersion),
		field(config.KeyDescription),
		field(config.KeyAuthor),
	)
}
