package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/example/sourced-repo/internal/repository"
)

func installTestTelemetry(t *testing.T) (*tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
	})
	return recorder, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func spanNamed(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func TestCommit_RecordsSpanAndMetrics(t *testing.T) {
	recorder, reader := installTestTelemetry(t)
	repo, _, _, _ := newTestRepository(t)

	require.NoError(t, repo.Commit(context.Background(), newMutatedEntity(t), repository.ForceSnapshot()))

	span := spanNamed(recorder.Ended(), "Repository.Commit")
	require.NotNil(t, span)
	assert.Contains(t, span.Attributes(), attribute.String("entity.type", "TestEntity"))
	assert.Contains(t, span.Attributes(), attribute.String("entity.id", "test-id"))
	assert.Equal(t, codes.Unset, span.Status().Code)

	assert.Equal(t, int64(3), counterValue(t, reader, "sourced.events.appended"))
	assert.Equal(t, int64(1), counterValue(t, reader, "sourced.snapshots.saved"))
	assert.Zero(t, counterValue(t, reader, "sourced.commit.failures"))
}

func TestCommit_FailureMarksSpan(t *testing.T) {
	recorder, reader := installTestTelemetry(t)
	repo, _, snapshots, _ := newTestRepository(t)
	snapshots.PutErr = errors.New("item size exceeded")

	err := repo.Commit(context.Background(), newMutatedEntity(t), repository.ForceSnapshot())
	require.Error(t, err)

	span := spanNamed(recorder.Ended(), "Repository.Commit")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.String("repository.phase", "snapshot"))
	assert.Equal(t, int64(1), counterValue(t, reader, "sourced.commit.failures"))
}

func TestLoad_RecordsSpan(t *testing.T) {
	recorder, _ := installTestTelemetry(t)
	repo, _, _, _ := newTestRepository(t)

	_, err := repo.Load(context.Background(), "test-id")
	require.NoError(t, err)

	span := spanNamed(recorder.Ended(), "Repository.Load")
	require.NotNil(t, span)
	assert.Contains(t, span.Attributes(), attribute.String("entity.id", "test-id"))
}
