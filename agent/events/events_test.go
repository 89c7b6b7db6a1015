package events

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBus_OrderedDelivery(t *testing.T) {
	bus := NewBus(10, nil)
	defer bus.Close()

	_, ch := bus.Subscribe(16)
	bus.Publish(New(TaskCreated, "s1", map[string]any{"n": 1}))
	bus.Publish(New(TaskAssigned, "s1", map[string]any{"n": 2}))
	bus.Publish(New(TaskCompleted, "s1", map[string]any{"n": 3}))

	assert.Equal(t, TaskCreated, recv(t, ch).Type)
	assert.Equal(t, TaskAssigned, recv(t, ch).Type)
	assert.Equal(t, TaskCompleted, recv(t, ch).Type)
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus(10, nil)
	defer bus.Close()

	_, ch := bus.Subscribe(4, DecisionFailed)
	bus.Publish(New(TaskCreated, "s1", nil))
	bus.Publish(New(DecisionFailed, "s1", nil))

	assert.Equal(t, DecisionFailed, recv(t, ch).Type)
}

func TestBus_SubscribeFunc(t *testing.T) {
	bus := NewBus(10, nil)
	defer bus.Close()

	var calls atomic.Int32
	bus.SubscribeFunc(func(Event) { calls.Add(1) }, WorkerOffline)
	bus.Publish(New(WorkerOffline, "s1", nil))
	bus.Publish(New(TaskCreated, "s1", nil))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestBus_SubscribeFuncPreservesOrder(t *testing.T) {
	bus := NewBus(512, nil)

	const n = 200
	var got []int
	bus.SubscribeFunc(func(ev Event) {
		got = append(got, ev.Data["i"].(int))
	})
	for i := 0; i < n; i++ {
		bus.Publish(New(TaskCreated, "s1", map[string]any{"i": i}))
	}
	// Close 等待回调处理完已排队的事件
	bus.Close()

	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v, "handler saw events out of order")
	}
}

func TestBus_SubscribeFuncSerialCalls(t *testing.T) {
	bus := NewBus(64, nil)
	defer bus.Close()

	var active, overlaps, calls atomic.Int32
	bus.SubscribeFunc(func(Event) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		calls.Add(1)
	})
	for i := 0; i < 20; i++ {
		bus.Publish(New(TaskAssigned, "s1", nil))
	}

	assert.Eventually(t, func() bool { return calls.Load() == 20 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, overlaps.Load())
}

func TestBus_SubscribeFuncAfterClose(t *testing.T) {
	bus := NewBus(8, nil)
	bus.Close()

	var calls atomic.Int32
	bus.SubscribeFunc(func(Event) { calls.Add(1) })
	bus.Publish(New(TaskCreated, "s1", nil))
	assert.Zero(t, calls.Load())
}

func TestBus_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(8, nil)

	var calls atomic.Int32
	bus.SubscribeFunc(func(ev Event) {
		calls.Add(1)
		if ev.Type == TaskFailed {
			panic("boom")
		}
	})
	bus.Publish(New(TaskFailed, "s1", nil))
	bus.Publish(New(TaskCreated, "s1", nil))
	bus.Close()

	assert.Equal(t, int32(2), calls.Load())
}

func TestBus_HistoryBounded(t *testing.T) {
	bus := NewBus(2, nil)
	_, ch := bus.Subscribe(8)
	for i := 0; i < 3; i++ {
		bus.Publish(New(TaskCreated, "s1", map[string]any{"i": i}))
	}
	for i := 0; i < 3; i++ {
		recv(t, ch)
	}
	hist := bus.History()
	require.Len(t, hist, 2)
	assert.Equal(t, 1, hist[0].Data["i"])
	bus.Close()
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(10, nil)
	defer bus.Close()

	id, ch := bus.Subscribe(1)
	bus.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBus_CloseIdempotent(t *testing.T) {
	bus := NewBus(10, nil)
	_, ch := bus.Subscribe(1)
	bus.Close()
	bus.Close()
	bus.Publish(New(TaskCreated, "s1", nil))
	_, ok := <-ch
	assert.False(t, ok)
}
