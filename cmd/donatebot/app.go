package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"donatebot/internal/bot"
	"donatebot/internal/config"
	"donatebot/internal/gateway/telegram"
	"donatebot/internal/handler"
	"donatebot/internal/infrastructure/cache"
	"donatebot/internal/infrastructure/database"
	"donatebot/internal/infrastructure/lock"
	"donatebot/internal/infrastructure/mq"
	"donatebot/internal/job"
	"donatebot/internal/repository"
	"donatebot/internal/service"
	"donatebot/pkg/idgen"
	"donatebot/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	modeWebhook = config.ModeWebhook
	modePolling = config.ModePolling
)

func loadConfig(mode string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if mode != "" {
		cfg.Server.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app holds the wired components and the resources they own.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	client     *telegram.Client
	dispatcher *bot.Dispatcher
	outbox     *job.OutboxSender
	closers    []func()
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}

	if err := idgen.Init(1); err != nil {
		return nil, err
	}

	a.client = telegram.NewClient(cfg.Telegram.APIURL, cfg.Telegram.Token, cfg.Telegram.RequestTimeout, log)
	store := repository.NewLedgerStore(cfg.Ledger.Path, log)
	log.Info("ledger ready", zap.String("path", store.Path()), zap.Int("entries", len(store.Load())))

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled {
		rdb, err := cache.InitRedis(&cfg.Redis)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { closeRedis(rdb, log) })
		locker = lock.NewRedisLocker(rdb, cfg.Refund.LockTTL)
		log.Info("redis refund lock enabled", zap.String("addr", cfg.Redis.Addr()))
	}

	var (
		journal service.RefundJournal
		auditor service.Auditor = service.NewLogAuditor(log)
	)
	if cfg.MySQL.Enabled {
		db, err := database.InitMySQL(&cfg.MySQL)
		if err != nil {
			a.close()
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		}
		journal = repository.NewRefundAttemptRepository(db)
		outboxRepo := repository.NewOutboxRepository(db)
		auditor = service.NewOutboxAuditor(outboxRepo, cfg.Kafka.Topic.Audit)
		log.Info("mysql audit store enabled", zap.String("database", cfg.MySQL.Database))

		if len(cfg.Kafka.Brokers) > 0 {
			producer, err := mq.InitKafka(&cfg.Kafka)
			if err != nil {
				// events stay PENDING in the outbox until a producer is available
				log.Warn("kafka unavailable, audit events will queue", zap.Error(err))
			} else {
				a.closers = append(a.closers, func() { _ = producer.Close() })
				a.outbox = job.NewOutboxSender(outboxRepo, producer, cfg.Business, log)
			}
		}
	}

	donations := service.NewDonationService(a.client, cfg.Donation, log)
	recorder := service.NewTransactionRecorder(store, a.client, auditor, cfg.Refund.SupportContact, log)
	refunds := service.NewRefundService(service.RefundServiceOptions{
		Authorizer:     service.SingleOperator(cfg.Refund.OperatorID),
		Ledger:         store,
		Gateway:        a.client,
		Locker:         locker,
		Journal:        journal,
		Auditor:        auditor,
		SupportContact: cfg.Refund.SupportContact,
		Logger:         log,
	})
	a.dispatcher = bot.NewDispatcher(a.client, donations, recorder, refunds, log)
	return a, nil
}

func closeRedis(rdb *redis.Client, log *zap.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn("close redis", zap.Error(err))
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func start(cmd *cobra.Command, mode string) error {
	cfg, err := loadConfig(mode)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.outbox != nil {
		go a.outbox.Start(ctx)
		defer a.outbox.Stop()
	}

	me, err := a.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("check bot token: %w", err)
	}
	log.Info("bot started", zap.String("username", me.Username), zap.String("mode", cfg.Server.Mode), zap.String("version", Version))

	if cfg.Server.Mode == modeWebhook {
		return a.serveWebhook(ctx)
	}
	return a.poll(ctx)
}

func (a *app) serveWebhook(ctx context.Context) error {
	cfg := a.cfg
	if err := a.client.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	a.logger.Info("webhook registered", zap.String("url", cfg.Telegram.WebhookURL))

	h := handler.NewHandler(a.dispatcher, cfg.Telegram.WebhookSecret, cfg.Server.Mode, a.logger)
	return a.runHTTP(ctx, handler.SetupRouter(h, a.logger, true))
}

func (a *app) poll(ctx context.Context) error {
	// getUpdates is refused while a webhook is set
	if err := a.client.DeleteWebhook(ctx); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	h := handler.NewHandler(a.dispatcher, "", a.cfg.Server.Mode, a.logger)
	router := handler.SetupRouter(h, a.logger, false)
	poller := bot.NewPoller(a.client, a.dispatcher, a.cfg.Telegram.PollTimeout, a.logger)

	return runGroup(ctx,
		func(ctx context.Context) error { return a.runHTTP(ctx, router) },
		poller.Run,
	)
}

// runGroup runs fns until ctx is done. The first error cancels the others
// and is returned once they have all exited.
func runGroup(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}

// runHTTP serves until ctx is done, then shuts down within 5s.
func (a *app) runHTTP(ctx context.Context, router http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.Int("port", a.cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
