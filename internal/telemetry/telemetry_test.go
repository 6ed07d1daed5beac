package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInit_InstallsProviders(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()

	shutdown, err := Init(ctx, Config{ServiceName: "sourced-test", MetricReaders: []sdkmetric.Reader{reader}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	counter, err := otel.Meter("telemetry-test").Int64Counter("test.calls")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "test.calls", rm.ScopeMetrics[0].Metrics[0].Name)

	_, span := otel.Tracer("telemetry-test").Start(ctx, "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestInit_Stdout(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{UseStdout: true})
	require.NoError(t, err)

	assert.NoError(t, shutdown(context.Background()))
}
