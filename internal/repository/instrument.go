package repository

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/example/sourced-repo/internal/repository"

type instruments struct {
	tracer         trace.Tracer
	eventsAppended metric.Int64Counter
	snapshotsSaved metric.Int64Counter
	commitFailures metric.Int64Counter
}

func newInstruments() instruments {
	meter := otel.Meter(instrumentationName)
	return instruments{
		tracer: otel.Tracer(instrumentationName),
		eventsAppended: counter(meter, "sourced.events.appended",
			"Events durably appended by Commit", "{event}"),
		snapshotsSaved: counter(meter, "sourced.snapshots.saved",
			"Snapshots written by Commit", "{snapshot}"),
		commitFailures: counter(meter, "sourced.commit.failures",
			"Commits that returned an error", "{commit}"),
	}
}

func counter(meter metric.Meter, name, description, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}

func (r *Repository[T]) startSpan(ctx context.Context, name, id string) (context.Context, trace.Span) {
	return r.inst.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("entity.type", r.entityName),
		attribute.String("entity.id", id),
	))
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if p := PhaseOf(err); p != "" {
		span.SetAttributes(attribute.String("repository.phase", string(p)))
	}
	return err
}
