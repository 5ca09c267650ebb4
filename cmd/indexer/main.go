package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/events"
	"github.com/example/storefront/pkg/logging"
	"github.com/example/storefront/pkg/repository"
	"go.uber.org/zap"
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

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("kafka.brokers is required for the indexer")
	}

	mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoRepo.Close(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mongoRepo.Ping(ctx); err != nil {
		logger.Fatal("MongoDB is not reachable", zap.Error(err))
	}

	consumer := events.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID,
		events.IndexHandler(mongoRepo), logger.Named("indexer"))
	defer consumer.Close()

	logger.Info("Indexer started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group_id", cfg.Kafka.GroupID))

	if err := consumer.Run(ctx); err != nil {
		logger.Fatal("Indexer stopped with error", zap.Error(err))
	}
	logger.Info("Indexer stopped")
}
