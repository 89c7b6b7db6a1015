package fabric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/types"
)

// MulticastResult 组播结果
type MulticastResult struct {
	GroupID string           `json:"group_id"`
	Acked   []string         `json:"acked"`
	Failed  map[string]error `json:"-"`
}

func (f *Fabric) newEnvelope(from, to string, msgType MessageType, protocol Protocol, payload any) *Envelope {
	return &Envelope{
		ID:        newEnvelopeID(),
		From:      from,
		To:        to,
		Type:      msgType,
		Protocol:  protocol,
		Payload:   payload,
		Timestamp: f.now(),
	}
}

func (f *Fabric) lookupOnline(id string) (*participant, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.participants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	if p.status != StatusOnline {
		return nil, fmt.Errorf("%w: %s", ErrParticipantOffline, id)
	}
	return p, nil
}

// Send 直连发送并等待确认，超时返回 COMMUNICATION_DELIVERY 错误。
// 同一发送方到同一接收方的消息按发送顺序投递。
func (f *Fabric) Send(ctx context.Context, from, to string, msgType MessageType, payload any) error {
	ctx, span := f.inst.tracer.Start(ctx, "fabric.send", trace.WithAttributes(
		attribute.String("fabric.from", from),
		attribute.String("fabric.to", to),
		attribute.String("fabric.type", string(msgType))))
	defer span.End()

	f.touch(from)
	env := f.newEnvelope(from, to, msgType, ProtocolDirect, payload)
	err := f.deliverReliable(ctx, env.copyFor(to, true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.inst.message(ctx, ProtocolDirect, "failed")
		return err
	}
	f.inst.message(ctx, ProtocolDirect, "acked")
	return nil
}

// Multicast 组播并逐个等待确认。部分失败时返回合并错误，结果中列出成功者。
func (f *Fabric) Multicast(ctx context.Context, from string, to []string, msgType MessageType, payload any) (*MulticastResult, error) {
	f.touch(from)
	base := f.newEnvelope(from, "", msgType, ProtocolMulticast, payload)
	base.GroupID = uuid.NewString()

	res := &MulticastResult{GroupID: base.GroupID, Failed: make(map[string]error)}
	var mu sync.Mutex
	var wg conc.WaitGroup
	for _, id := range to {
		wg.Go(func() {
			err := f.deliverReliable(ctx, base.copyFor(id, true))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[id] = err
				return
			}
			res.Acked = append(res.Acked, id)
		})
	}
	wg.Wait()

	if len(res.Failed) == 0 {
		f.inst.message(ctx, ProtocolMulticast, "acked")
		return res, nil
	}
	f.inst.message(ctx, ProtocolMulticast, "partial")
	errs := make([]error, 0, len(res.Failed))
	for _, id := range to {
		if err, ok := res.Failed[id]; ok {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

// Broadcast 尽力投递给所有在线参与者（不含发送方），返回成功入队数量
func (f *Fabric) Broadcast(from string, msgType MessageType, payload any) int {
	f.touch(from)
	base := f.newEnvelope(from, ToAll, msgType, ProtocolBroadcast, payload)

	f.mu.RLock()
	targets := f.sortedLocked(func(p *participant) bool {
		return p.status == StatusOnline && p.id != from
	})
	f.mu.RUnlock()

	delivered := 0
	for _, p := range targets {
		if f.tryEnqueue(p, base.copyFor(ToAll, false)) {
			delivered++
		}
	}
	outcome := "delivered"
	if delivered < len(targets) {
		outcome = "partial"
	}
	f.inst.message(context.Background(), ProtocolBroadcast, outcome)
	return delivered
}

func (f *Fabric) tryEnqueue(p *participant, env *Envelope) bool {
	select {
	case p.mailbox <- env:
		return true
	default:
		f.logger.Debug("mailbox full, dropping best-effort message",
			zap.String("participant_id", p.id),
			zap.String("protocol", string(env.Protocol)))
		return false
	}
}

// deliverReliable 入队并等待确认，入队与确认共享同一个超时
func (f *Fabric) deliverReliable(ctx context.Context, env *Envelope) error {
	p, err := f.lookupOnline(env.To)
	if err != nil {
		return types.NewDeliveryError(fmt.Sprintf("cannot deliver %s to %s", env.Type, env.To)).WithCause(err)
	}

	timer := time.NewTimer(f.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case p.mailbox <- env:
	case <-timer.C:
		return types.NewDeliveryError(fmt.Sprintf("mailbox of %s full", env.To))
	case <-ctx.Done():
		return types.NewDeliveryError("send cancelled").WithCause(ctx.Err())
	case <-f.done:
		return types.NewDeliveryError("send aborted").WithCause(ErrFabricClosed)
	}

	select {
	case <-env.ack:
		f.touch(env.To)
		return nil
	case <-timer.C:
		return types.NewDeliveryError(fmt.Sprintf("no ack from %s within %s", env.To, f.cfg.AckTimeout))
	case <-ctx.Done():
		return types.NewDeliveryError("send cancelled").WithCause(ctx.Err())
	case <-f.done:
		return types.NewDeliveryError("send aborted").WithCause(ErrFabricClosed)
	}
}
