package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	httptransport "github.com/pondem87/thuso-monorepo-sub000/internal/api/http"
	"github.com/pondem87/thuso-monorepo-sub000/internal/api/http/handlers"
	"github.com/pondem87/thuso-monorepo-sub000/internal/auth"
	"github.com/pondem87/thuso-monorepo-sub000/internal/config"
	"github.com/pondem87/thuso-monorepo-sub000/internal/dialogue"
	"github.com/pondem87/thuso-monorepo-sub000/internal/events"
	"github.com/pondem87/thuso-monorepo-sub000/internal/management"
	"github.com/pondem87/thuso-monorepo-sub000/internal/menu"
	"github.com/pondem87/thuso-monorepo-sub000/internal/observability"
	"github.com/pondem87/thuso-monorepo-sub000/internal/persistence"
	"github.com/pondem87/thuso-monorepo-sub000/internal/repository"
	"github.com/pondem87/thuso-monorepo-sub000/internal/service"
	"github.com/pondem87/thuso-monorepo-sub000/internal/whatsapp"
	"github.com/pondem87/thuso-monorepo-sub000/internal/worker"
)

const drainTimeout = 30 * time.Second

func runServe(parent context.Context) error {
	cfg, logger := bootstrap()
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect postgres", zap.Error(err))
		return err
	}
	defer pg.Close()
	pool := pg.PoolHandle()
	if pool == nil {
		return errors.New("POSTGRES_DSN is required")
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Error("failed to run migrations", zap.Error(err))
			return err
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	metrics.Subscribe(dispatcher)

	store, err := newSnapshotStore(ctx, cfg, redis, logger)
	if err != nil {
		logger.Error("failed to configure snapshot store", zap.Error(err))
		return err
	}
	locker := repository.NewRedisLocker(redis.Client, cfg.Session.LockTTL(), cfg.Session.LockWait())

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.ServiceName, cfg.Auth.AccessTokenTTLMinutes)
	managementClient, err := management.NewClient(cfg.Management.BaseURL, tokens,
		management.WithTimeout(time.Duration(cfg.Management.TimeoutSeconds)*time.Second))
	if err != nil {
		return err
	}

	tenantService := service.NewTenantService(service.TenantDependencies{
		MetadataRepo: repository.NewTenantMetadataRepository(pool),
		AccountRepo:  repository.NewTenantAccountRepository(pool),
		Management:   managementClient,
		Dispatcher:   dispatcher,
		Logger:       logger.Named("tenant"),
		TTL:          cfg.Tenant.MetadataTTL(),
	})
	windowService := service.NewWindowService(service.WindowDependencies{
		WindowRepo: repository.NewWindowRepository(pool),
		Dispatcher: dispatcher,
		Logger:     logger.Named("window"),
	})

	waTimeout := time.Duration(cfg.WhatsApp.TimeoutSeconds) * time.Second
	waClient := whatsapp.NewClient(
		whatsapp.WithBaseURL(cfg.WhatsApp.GraphBaseURL),
		whatsapp.WithHTTPClient(&http.Client{Timeout: waTimeout}),
	)
	formatter := service.NewFormatter(menu.DefaultRegistry(), waClient,
		service.NewHTTPMediaSource(cfg.WhatsApp.MediaBaseURL, waTimeout), logger.Named("formatter"))

	dispatchService := service.NewDispatchService(service.DispatchDependencies{
		Tenants:    tenantService,
		Windows:    windowService,
		Formatter:  formatter,
		Sender:     waClient,
		Records:    repository.NewSentMessageRepository(pool),
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger.Named("dispatch"),
	})

	var writers []*kafka.Writer
	defer func() {
		for _, w := range writers {
			if err := w.Close(); err != nil {
				logger.Warn("closing kafka writer", zap.String("topic", w.Topic), zap.Error(err))
			}
		}
	}()
	newWriter := func(topic string) *kafka.Writer {
		w := persistence.NewKafkaWriter(cfg.Kafka, topic, logger)
		writers = append(writers, w)
		return w
	}

	var freeText dialogue.FreeTextForwarder = service.NewLoggingFreeTextForwarder(logger.Named("freetext"))
	var eventsWriter service.MessageWriter
	if cfg.Kafka.Enabled {
		freeText = service.NewKafkaFreeTextForwarder(newWriter(cfg.Kafka.FreeTextTopic))
		w := newWriter(cfg.Kafka.EventsTopic)
		w.Async = true
		eventsWriter = w
	}
	service.NewNotificationService(dispatcher, eventsWriter, logger.Named("notification")).RegisterHandlers()

	inboundService := service.NewInboundService(service.InboundDependencies{
		Store:         store,
		Locker:        locker,
		Sender:        dispatchService,
		Catalog:       tenantService,
		FreeText:      freeText,
		Dispatcher:    dispatcher,
		Logger:        logger.Named("inbound"),
		SettleTimeout: cfg.Dialogue.SettleTimeout(),
		PageSize:      cfg.Dialogue.PageSize,
	})

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	queue := worker.NewQueue(workerCtx, worker.QueueOptions{
		MaxConcurrent: cfg.Worker.MaxConcurrent,
		LaneIdle:      cfg.Worker.LaneIdle(),
		JobTimeout:    cfg.Worker.DispatchTimeout(),
		Logger:        logger.Named("queue"),
	})
	inboundWorker := worker.NewInboundWorker(queue, inboundService)
	outboundWorker := worker.NewOutboundWorker(queue, dispatchService)

	var sink handlers.InboundSink = inboundWorker
	var consumers sync.WaitGroup
	if cfg.Kafka.Enabled {
		sink = worker.NewKafkaInboundPublisher(newWriter(cfg.Kafka.InboundTopic))
		startConsumer(ctx, &consumers, logger, worker.NewConsumer("inbound",
			persistence.NewKafkaReader(cfg.Kafka, cfg.Kafka.InboundTopic, logger),
			worker.InboundMessageHandler(inboundWorker), logger))
		startConsumer(ctx, &consumers, logger, worker.NewConsumer("outbound",
			persistence.NewKafkaReader(cfg.Kafka, cfg.Kafka.OutboundTopic, logger),
			worker.OutboundMessageHandler(outboundWorker), logger))
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Webhook:        handlers.NewWebhookHandler(sink, cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret, logger.Named("webhook")),
		Dispatch:       handlers.NewDispatchHandler(dispatchService, outboundWorker),
		Metrics:        metrics.Handler(),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-listenErr:
		logger.Error("fiber listen", zap.Error(err))
		stop()
	}

	if err := app.ShutdownWithTimeout(drainTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	consumers.Wait()
	if !queue.WaitIdle(drainTimeout) {
		logger.Warn("queue not drained before shutdown", zap.Int("lanes", queue.Lanes()))
	}
	queue.Stop()
	return nil
}

func newSnapshotStore(ctx context.Context, cfg *config.Config, redis *persistence.Redis, logger *zap.Logger) (repository.SnapshotStore, error) {
	if cfg.Session.Backend == "dynamodb" {
		client, err := persistence.NewDynamoDB(ctx, cfg.Session, logger)
		if err != nil {
			return nil, err
		}
		return repository.NewDynamoSnapshotStore(client, cfg.Session.DynamoTable, cfg.Session.Retention())
	}
	return repository.NewRedisSnapshotStore(redis.Client, cfg.Session.Retention()), nil
}

func startConsumer(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, c *worker.Consumer) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.Run(ctx); err != nil {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}()
}
