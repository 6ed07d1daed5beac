package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/example/sourced-repo/internal/config"
	"github.com/example/sourced-repo/internal/infrastructure/kafka"
	"github.com/example/sourced-repo/internal/infrastructure/kinesis"
	"github.com/example/sourced-repo/internal/infrastructure/store"
)

// CommittedEvent is published for every event row inserted into an event table
type CommittedEvent struct {
	Entity string      `json:"entity"`
	Table  string      `json:"table"`
	Event  store.Event `json:"event"`
}

type relayHandler struct {
	publisher   kafka.Publisher
	tablePrefix string
	logger      *slog.Logger
}

// handle publishes each inserted event keyed by entity id and reports the
// records that could not be converted or published so only they are retried.
func (h *relayHandler) handle(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	h.logger.Info("[Lambda Relay] Received records", "count", len(kinesisEvent.Records))

	var batchItemFailures []events.KinesisBatchItemFailure
	fail := func(record events.KinesisEventRecord) {
		batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
			ItemIdentifier: record.Kinesis.SequenceNumber,
		})
	}

	for _, record := range kinesisEvent.Records {
		converted, err := kinesis.ConvertFromKinesisRecord(record)
		if err != nil {
			h.logger.Error("[Lambda Relay] Failed to convert record", "eventID", record.EventID, "error", err)
			fail(record)
			continue
		}

		// Updates, removals and snapshot rows
		if converted == nil {
			continue
		}

		msg := CommittedEvent{
			Entity: converted.EntityType(h.tablePrefix),
			Table:  converted.Table,
			Event:  converted.Event,
		}
		if err := h.publisher.Publish(ctx, converted.Event.ID, msg); err != nil {
			h.logger.Error("[Lambda Relay] Failed to publish event", "id", converted.Event.ID,
				"version", converted.Event.Version, "error", err)
			fail(record)
			continue
		}
	}

	h.logger.Info("[Lambda Relay] Processed records",
		"succeeded", len(kinesisEvent.Records)-len(batchItemFailures), "total", len(kinesisEvent.Records))

	return events.KinesisEventResponse{BatchItemFailures: batchItemFailures}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(os.Getenv("SOURCED_CONFIG"))
	if err != nil {
		logger.Error("[Lambda Relay] Failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Kafka.Enabled() {
		logger.Error("[Lambda Relay] kafka.brokers must be set")
		os.Exit(1)
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	h := &relayHandler{publisher: producer, tablePrefix: cfg.Storage.TablePrefix, logger: logger}
	logger.Info("[Lambda Relay] Initialized", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	lambda.Start(h.handle)
}
