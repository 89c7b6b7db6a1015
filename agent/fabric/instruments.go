package fabric

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/swarmflow/agent/fabric"

// instruments OpenTelemetry 追踪与指标
type instruments struct {
	tracer trace.Tracer

	messages      metric.Int64Counter
	rounds        metric.Int64Counter
	roundDuration metric.Float64Histogram
	online        metric.Int64ObservableGauge

	onlineValue atomic.Int64
}

func newInstruments(logger *zap.Logger) *instruments {
	meter := otel.Meter(instrumentationName)
	inst := &instruments{tracer: otel.Tracer(instrumentationName)}

	var err error
	if inst.messages, err = meter.Int64Counter("swarm.fabric.messages",
		metric.WithDescription("Messages handled by the fabric"),
		metric.WithUnit("{message}")); err != nil {
		logger.Warn("fabric messages counter unavailable", zap.Error(err))
		inst.messages, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	if inst.rounds, err = meter.Int64Counter("swarm.fabric.consensus.rounds",
		metric.WithDescription("Completed consensus rounds"),
		metric.WithUnit("{round}")); err != nil {
		logger.Warn("fabric rounds counter unavailable", zap.Error(err))
		inst.rounds, _ = noop.NewMeterProvider().Meter("").Int64Counter("")
	}
	if inst.roundDuration, err = meter.Float64Histogram("swarm.fabric.consensus.duration",
		metric.WithDescription("Consensus round duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30)); err != nil {
		logger.Warn("fabric duration histogram unavailable", zap.Error(err))
		inst.roundDuration, _ = noop.NewMeterProvider().Meter("").Float64Histogram("")
	}
	inst.online, err = meter.Int64ObservableGauge("swarm.fabric.participants.online",
		metric.WithDescription("Participants currently online"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(inst.onlineValue.Load())
			return nil
		}))
	if err != nil {
		logger.Warn("fabric online gauge unavailable", zap.Error(err))
	}
	return inst
}

func (i *instruments) message(ctx context.Context, protocol Protocol, outcome string) {
	i.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("protocol", string(protocol)),
		attribute.String("outcome", outcome)))
}

func (i *instruments) round(ctx context.Context, alg Algorithm, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("algorithm", string(alg)),
		attribute.String("outcome", outcome))
	i.rounds.Add(ctx, 1, attrs)
	i.roundDuration.Record(ctx, d.Seconds(), attrs)
}

func (i *instruments) setOnline(n int) {
	i.onlineValue.Store(int64(n))
}
