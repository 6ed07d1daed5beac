package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/sourced-repo/internal/config"
	"github.com/example/sourced-repo/internal/domain/counter"
	"github.com/example/sourced-repo/internal/domain/product"
	"github.com/example/sourced-repo/internal/infrastructure/kafka"
	"github.com/example/sourced-repo/internal/notification"
)

func main() {
	configPath := flag.String("config", os.Getenv("SOURCED_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("[Notifier] Failed to load config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if !cfg.Kafka.Enabled() {
		logger.Error("[Notifier] kafka.brokers must be set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := notification.NewHandler(logger)
	logNotification := func(ctx context.Context, n kafka.Notification) error {
		logger.Info("[Notifier] Notification received", "entity", n.Entity, "id", n.ID,
			"name", n.Name, "args", n.Args, "emittedAt", n.EmittedAt)
		return nil
	}
	handler.On(counter.EntityName, counter.NotificationInitialized, logNotification)
	handler.On(counter.EntityName, counter.NotificationIncremented, logNotification)
	handler.On(product.EntityName, product.NotificationStockDepleted, func(ctx context.Context, n kafka.Notification) error {
		logger.Warn("[Notifier] Product out of stock", "id", n.ID, "args", n.Args)
		return nil
	})

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, logger)
	defer consumer.Close()

	logger.Info("[Notifier] Starting consumer", "brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)
	if err := consumer.Consume(ctx, handler.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("[Notifier] Consumer error", "error", err)
		os.Exit(1)
	}
	logger.Info("[Notifier] Shutting down...")
}
