package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/storefront/gateway"
	"github.com/example/storefront/pkg/auth"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/discovery"
	"github.com/example/storefront/pkg/events"
	healthgrpc "github.com/example/storefront/pkg/grpc"
	"github.com/example/storefront/pkg/idgen"
	"github.com/example/storefront/pkg/logging"
	"github.com/example/storefront/pkg/notify"
	"github.com/example/storefront/pkg/payment"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := os.Getenv("STOREFRONT_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting storefront API",
		zap.String("name", cfg.Server.Name),
		zap.Int("http_port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.GRPC.Port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("API stopped with error", zap.Error(err))
	}
	logger.Info("API stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := repository.OpenDatabase(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	redisRepo := repository.NewRedisRepository(&cfg.Redis)
	defer redisRepo.Close()

	var sd *discovery.ServiceDiscovery
	if len(cfg.Etcd.Endpoints) > 0 {
		sd, err = discovery.NewServiceDiscovery(&cfg.Etcd, logger)
		if err != nil {
			logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		} else {
			defer sd.Close()
		}
	}

	workerID := cfg.IDGen.WorkerID
	var claim *discovery.WorkerClaim
	if cfg.IDGen.ClaimFromEtcd {
		if sd == nil {
			return errors.New("idgen.claim_from_etcd is set but etcd is unavailable")
		}
		claim, err = sd.ClaimWorkerID(ctx, cfg.IDGen.DatacenterID)
		if err != nil {
			return fmt.Errorf("failed to claim worker id: %w", err)
		}
		workerID = claim.ID
	}
	ids, err := idgen.New(cfg.IDGen.DatacenterID, workerID)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers)
	}
	defer publisher.Close()

	outbox := events.NewOutbox(ids, cfg.Kafka.Topic)
	relay := events.NewRelay(db, outbox, publisher, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, logger.Named("outbox"))

	dispatcher, err := notify.NewDispatcher(notify.SendersFromConfig(cfg.Notification), notify.Options{
		MaxRetries:  cfg.Notification.MaxRetries,
		RetryDelay:  cfg.Notification.RetryDelay,
		SendTimeout: cfg.Notification.SendTimeout,
	}, logger.Named("notify"))
	if err != nil {
		return err
	}
	defer dispatcher.Shutdown()

	stock := events.NewBroadcaster(64)
	deps := service.Deps{
		DB:       db,
		IDs:      ids,
		Outbox:   outbox,
		Notifier: dispatcher,
		Stock:    stock,
		Logger:   logger,
	}

	var (
		index service.ProductSearcher
		audit gateway.AuditTrail
	)
	if cfg.MongoDB.Enabled {
		mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
		if err != nil {
			logger.Warn("Failed to connect to MongoDB, audit log and search index disabled", zap.Error(err))
		} else {
			defer mongoRepo.Close(context.WithoutCancel(ctx))
			deps.Audit = mongoRepo
			index = mongoRepo
			audit = mongoRepo
		}
	}

	payments := service.PaymentOptions{
		StrictTransitions: cfg.Payments.StrictTransitions,
		SuccessURL:        cfg.Stripe.SuccessURL,
		CancelURL:         cfg.Stripe.CancelURL,
	}
	if cfg.Stripe.SecretKey != "" {
		payments.Gateway = payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)

	health := healthgrpc.NewHealthServer(&cfg.GRPC, logger, map[string]healthgrpc.CheckFunc{
		"database": sqlDB.PingContext,
		"redis":    redisRepo.Ping,
	})

	api := gateway.NewGateway(&cfg.Server, logger, gateway.Services{
		Orders:    service.NewOrderService(deps, cfg.Orders.StrictTransitions),
		Payments:  service.NewPaymentService(deps, payments),
		Catalog:   service.NewCatalogService(deps, index),
		Inventory: service.NewInventoryService(deps),
		Carts:     service.NewCartService(deps),
		Users:     service.NewUserService(deps, redisRepo, tokens, cfg.Auth.OTPTTL),
		Promos:    service.NewPromoService(deps),
		Stock:     stock,
		Audit:     audit,
		Health:    health.Probe,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Run(ctx) })
	g.Go(func() error { return health.Run(ctx) })
	g.Go(func() error { return relay.Run(ctx) })

	if claim != nil {
		g.Go(func() error {
			select {
			case <-claim.Lost():
				ids.Revoke()
				return fmt.Errorf("worker id %d lease lost", claim.ID)
			case <-ctx.Done():
				return nil
			}
		})
	}

	if sd != nil {
		instance := &discovery.ServiceInstance{Name: cfg.Server.Name, Host: cfg.GRPC.Host, Port: cfg.GRPC.Port}
		g.Go(func() error {
			if err := sd.Register(ctx, instance); err != nil {
				logger.Warn("Failed to register service", zap.Error(err))
				return nil
			}
			<-ctx.Done()
			return sd.Deregister(context.WithoutCancel(ctx), instance)
		})
	}

	return g.Wait()
}
