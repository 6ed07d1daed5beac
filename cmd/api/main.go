package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/example/sourced-repo/internal/api"
	"github.com/example/sourced-repo/internal/config"
	"github.com/example/sourced-repo/internal/domain/counter"
	"github.com/example/sourced-repo/internal/domain/entity"
	"github.com/example/sourced-repo/internal/domain/product"
	"github.com/example/sourced-repo/internal/infrastructure/kafka"
	"github.com/example/sourced-repo/internal/infrastructure/store"
	"github.com/example/sourced-repo/internal/telemetry"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	configPath := flag.String("config", os.Getenv("SOURCED_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("[API] Failed to load config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("[API] Exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		UseStdout:   cfg.Telemetry.Stdout,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("[API] Telemetry shutdown failed", "error", err)
		}
	}()

	provider, health, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()
	logger.Info("[API] Storage ready", "backend", cfg.Storage.Backend, "tablePrefix", cfg.Storage.TablePrefix)

	opts := cfg.Repository.Options(logger)
	counters := counter.NewRepository(opts...)
	if err := counters.Init(ctx, provider); err != nil {
		return err
	}
	products := product.NewRepository(opts...)
	if err := products.Init(ctx, provider); err != nil {
		return err
	}

	var counterWatchers []counter.Watcher
	var productWatchers []product.Watcher
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		relay := kafka.NewNotificationRelay(producer, logger)
		counterWatchers = append(counterWatchers, func(c *counter.Counter) entity.Observer {
			return relay.Observe(counter.EntityName, c.ID)
		})
		productWatchers = append(productWatchers, func(p *product.Product) entity.Observer {
			return relay.Observe(product.EntityName, p.ID)
		})
		logger.Info("[API] Relaying notifications", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(api.RouterConfig{
		Counters: counter.NewService(counters, counterWatchers...),
		Products: product.NewService(products, productWatchers...),
		Health:   health,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           otelhttp.NewHandler(router, "sourced-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[API] Server started", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("[API] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStorage builds the table provider for the configured backend
func openStorage(ctx context.Context, cfg *config.Config) (store.TableProvider, api.HealthChecker, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoDB.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
			}
		})
		return store.NewDynamoProvider(client, cfg.Storage.TablePrefix), nil, func() {}, nil

	case config.BackendPostgres:
		db, err := store.ConnectPostgres(cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		provider := store.NewPostgresProvider(db, cfg.Storage.TablePrefix, cfg.Storage.EnsureSchema)
		return provider, pingFunc(db.PingContext), closeDB(db), nil

	default:
		return store.NewMemoryProvider(), nil, func() {}, nil
	}
}

func closeDB(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			slog.Warn("[API] Failed to close PostgreSQL", "error", err)
		}
	}
}
