package events

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora/engine/internal/infrastructure/monitoring"
	"github.com/mentora/engine/internal/infrastructure/tracing"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus(4, nil)
	a := bus.Subscribe("a")
	b := bus.Subscribe("b")
	defer a.Close()
	defer b.Close()

	bus.Publish(Event{Type: InstanceCompleted, InstanceID: "inst_1"})

	for _, sub := range []Subscription{a, b} {
		select {
		case e := <-sub.Events:
			assert.Equal(t, InstanceCompleted, e.Type)
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBusDropsOldestWhenFull(t *testing.T) {
	metrics := monitoring.NewMetrics()
	bus := NewBus(2, nil).WithMetrics(metrics)
	sub := bus.Subscribe("slow")

	for _, id := range []string{"1", "2", "3"} {
		bus.Publish(Event{ID: id, Type: InstanceMissed})
	}

	assert.Equal(t, "2", (<-sub.Events).ID)
	assert.Equal(t, "3", (<-sub.Events).ID)
}

func TestBusSubscriptionClose(t *testing.T) {
	bus := NewBus(1, nil)
	sub := bus.Subscribe("x")
	assert.Equal(t, 1, bus.Subscribers())

	sub.Close()
	sub.Close()
	_, ok := <-sub.Events
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Subscribers())

	bus.Publish(Event{Type: InstanceMissed})
}

func TestBusClose(t *testing.T) {
	bus := NewBus(1, nil)
	sub := bus.Subscribe("x")
	bus.Close()

	_, ok := <-sub.Events
	assert.False(t, ok)

	late := bus.Subscribe("late")
	_, ok = <-late.Events
	assert.False(t, ok)
	bus.Publish(Event{Type: InstanceMissed})
}

func testWebhookConfig(url string) WebhookConfig {
	cfg := DefaultWebhookConfig(url)
	cfg.MinWait = time.Millisecond
	cfg.MaxWait = 5 * time.Millisecond
	return cfg
}

func TestWebhookDeliver(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		got     Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		headers = r.Header.Clone()
		_ = sonic.ConfigStd.Unmarshal(body, &got)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook := NewWebhook(testWebhookConfig(srv.URL), nil)
	e := Event{ID: "evt_1", Type: InstanceRescheduled, InstanceID: "inst_9", Data: map[string]any{"reason": "missed"}}
	ctx := tracing.WithTraceID(context.Background(), "trace-1")

	require.NoError(t, hook.Deliver(ctx, e))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "instanceRescheduled", headers.Get(HeaderEventType))
	assert.Equal(t, IdempotencyKey(e), headers.Get(HeaderIdempotencyKey))
	assert.Equal(t, "trace-1", headers.Get(tracing.HeaderTraceID))
	assert.Equal(t, "inst_9", got.InstanceID)
	assert.Equal(t, "missed", got.Data["reason"])
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewWebhook(testWebhookConfig(srv.URL), nil)
	require.NoError(t, hook.Deliver(context.Background(), Event{ID: "evt_2", Type: InstanceMissed}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookRejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	hook := NewWebhook(testWebhookConfig(srv.URL), nil)
	for i := 0; i < 6; i++ {
		err := hook.Deliver(context.Background(), Event{ID: "evt_3", Type: InstanceMissed})
		assert.ErrorIs(t, err, ErrRejected)
	}
	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, "closed", hook.Breaker().State().String())
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	a := IdempotencyKey(Event{ID: "evt_1"})
	assert.Equal(t, a, IdempotencyKey(Event{ID: "evt_1"}))
	assert.NotEqual(t, a, IdempotencyKey(Event{ID: "evt_2"}))
}

func TestWebhookRunDrainsSubscription(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	bus := NewBus(8, nil)
	hook := NewWebhook(testWebhookConfig(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	sub := bus.Subscribe("webhook")
	go func() { done <- hook.Run(ctx, sub) }()

	bus.Publish(Event{Type: InstanceCompleted})
	bus.Publish(Event{Type: InstanceMissed})

	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
