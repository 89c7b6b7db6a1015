package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/BaSui01/swarmflow/agent/events"
)

func setupInMemory(t *testing.T) (*sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	saveAndRestoreGlobalProviders(t)
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	spans := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	return reader, spans
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
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
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestEventObserver_Observe(t *testing.T) {
	reader, spans := setupInMemory(t)
	o, err := NewEventObserver()
	require.NoError(t, err)

	o.Observe(events.New(events.SwarmStarted, "s-1", nil))
	o.Observe(events.New(events.DecisionMade, "s-1", map[string]any{
		"topic":    "approach",
		"decision": "incremental",
		"round_id": "r-1",
	}))
	o.Observe(events.New(events.DecisionFailed, "s-1", map[string]any{"topic": "rollout"}))

	assert.Equal(t, int64(3), counterTotal(t, reader, "swarmflow.swarm.events"))
	assert.Equal(t, int64(2), counterTotal(t, reader, "swarmflow.swarm.decisions"))

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "swarm.decision", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("decision.decision", "incremental"))
	assert.Contains(t, ended[1].Attributes(), attribute.Bool("decision.reached", false))
}

func TestEventObserver_Attach(t *testing.T) {
	reader, _ := setupInMemory(t)
	o, err := NewEventObserver()
	require.NoError(t, err)

	bus := events.NewBus(16, nil)
	defer bus.Close()
	detach := o.Attach(bus)

	bus.Publish(events.New(events.TaskCreated, "s-1", nil))
	require.Eventually(t, func() bool {
		return counterTotal(t, reader, "swarmflow.swarm.events") == 1
	}, 2*time.Second, 10*time.Millisecond)

	detach()
	bus.Publish(events.New(events.TaskCreated, "s-1", nil))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), counterTotal(t, reader, "swarmflow.swarm.events"))
}
