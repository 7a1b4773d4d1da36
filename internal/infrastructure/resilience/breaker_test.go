package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDelivery = errors.New("delivery failed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func call(b *Breaker, ok bool) error {
	return b.Execute(context.Background(), func(context.Context) error {
		if ok {
			return nil
		}
		return errDelivery
	})
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{MaxRequests: 1, Timeout: time.Minute},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				Timeout: time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 3
				},
			},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name: "success resets the failure streak",
			settings: Settings{
				Timeout: time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 2
				},
			},
			requests:      []bool{false, true, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("webhook", tt.settings)
			for _, ok := range tt.requests {
				_ = call(breaker, ok)
			}
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
	var transitions []string
	b := New("webhook", Settings{
		Timeout:     30 * time.Second,
		Now:         clock.Now,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	require.ErrorIs(t, call(b, false), errDelivery)
	assert.ErrorIs(t, call(b, true), ErrCircuitOpen)

	clock.Advance(31 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, call(b, true))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
	b := New("webhook", Settings{
		Timeout:     time.Second,
		Now:         clock.Now,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	_ = call(b, false)
	clock.Advance(2 * time.Second)
	_ = call(b, false)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	permanent := errors.New("rejected by receiver")
	b := New("webhook", Settings{
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		IsFailure:   func(err error) bool { return !errors.Is(err, permanent) },
	})

	err := b.Execute(context.Background(), func(context.Context) error { return permanent })
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(1), b.Counts().TotalSuccesses)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
	b := New("webhook", Settings{Interval: time.Minute, Now: clock.Now})

	_ = call(b, false)
	assert.Equal(t, uint32(1), b.Counts().TotalFailures)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(0), b.Counts().TotalFailures)
}

func TestBreakerRecoversPanics(t *testing.T) {
	b := New("webhook", Settings{ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})

	assert.Panics(t, func() {
		_ = b.Execute(context.Background(), func(context.Context) error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}
