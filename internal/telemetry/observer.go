package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/swarmflow/agent/events"
)

const instrumentationName = "github.com/BaSui01/swarmflow/swarm"

// EventObserver 将蜂群事件转换为 OTel 计数器与决策 span。
// 使用全局 provider，遥测关闭时为 noop。
type EventObserver struct {
	tracer    trace.Tracer
	events    metric.Int64Counter
	decisions metric.Int64Counter
}

// NewEventObserver 创建观察器
func NewEventObserver() (*EventObserver, error) {
	meter := otel.Meter(instrumentationName)
	evCounter, err := meter.Int64Counter("swarmflow.swarm.events",
		metric.WithDescription("Swarm lifecycle events by type"))
	if err != nil {
		return nil, fmt.Errorf("create event counter: %w", err)
	}
	decCounter, err := meter.Int64Counter("swarmflow.swarm.decisions",
		metric.WithDescription("Consensus decisions by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create decision counter: %w", err)
	}
	return &EventObserver{
		tracer:    otel.Tracer(instrumentationName),
		events:    evCounter,
		decisions: decCounter,
	}, nil
}

// Attach 订阅实例的事件总线，返回取消订阅函数
func (o *EventObserver) Attach(bus *events.Bus) func() {
	id := bus.SubscribeFunc(o.Observe)
	return func() { bus.Unsubscribe(id) }
}

// Observe 记录一条事件
func (o *EventObserver) Observe(ev events.Event) {
	ctx := context.Background()
	o.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", string(ev.Type)),
	))

	switch ev.Type {
	case events.DecisionMade, events.DecisionFailed:
		reached := ev.Type == events.DecisionMade
		o.decisions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("decision.reached", reached)))

		attrs := []attribute.KeyValue{
			attribute.String("swarm.id", ev.SwarmID),
			attribute.Bool("decision.reached", reached),
		}
		for _, key := range []string{"topic", "decision", "round_id"} {
			if v, ok := ev.Data[key].(string); ok {
				attrs = append(attrs, attribute.String("decision."+key, v))
			}
		}
		_, span := o.tracer.Start(ctx, "swarm.decision",
			trace.WithTimestamp(ev.Timestamp),
			trace.WithAttributes(attrs...))
		span.End(trace.WithTimestamp(ev.Timestamp))
	}
}
