package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/shared/clock"
)

var errBoom = errors.New("failed")

func call(b *Breaker, success bool) error {
	return b.Execute(context.Background(), func(context.Context) error {
		if success {
			return nil
		}
		return errBoom
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
			settings:      Settings{MaxRequests: 1},
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			settings:      Settings{ReadyToTrip: ConsecutiveFailures(3)},
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets the failure streak",
			settings:      Settings{ReadyToTrip: ConsecutiveFailures(2)},
			requests:      []bool{false, true, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.settings.Clock = clock.NewFake()
			breaker := New("test", tt.settings)
			for _, success := range tt.requests {
				_ = call(breaker, success)
			}
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{Clock: clock.NewFake()})

	require.NoError(t, call(breaker, true))
	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)

	assert.ErrorIs(t, call(breaker, false), errBoom)
	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clk := clock.NewFake()
	breaker := New("test", Settings{Interval: time.Minute, Clock: clk, ReadyToTrip: ConsecutiveFailures(2)})

	_ = call(breaker, false)
	clk.Advance(2 * time.Minute)
	_ = call(breaker, false)

	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
}

func TestBreakerOpenRejectsWithoutCalling(t *testing.T) {
	breaker := New("test", Settings{Clock: clock.NewFake(), ReadyToTrip: ConsecutiveFailures(2)})
	_ = call(breaker, false)
	_ = call(breaker, false)
	require.Equal(t, StateOpen, breaker.State())

	called := false
	err := breaker.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpen(t *testing.T) {
	clk := clock.NewFake()
	breaker := New("test", Settings{
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		Clock:       clk,
		ReadyToTrip: ConsecutiveFailures(2),
	})
	_ = call(breaker, false)
	_ = call(breaker, false)
	require.Equal(t, StateOpen, breaker.State())

	clk.Advance(30 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	require.NoError(t, call(breaker, true))
	assert.Equal(t, StateHalfOpen, breaker.State())
	require.NoError(t, call(breaker, true))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clk := clock.NewFake()
	breaker := New("test", Settings{Timeout: time.Second, Clock: clk, ReadyToTrip: ConsecutiveFailures(1)})
	_ = call(breaker, false)
	clk.Advance(time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = call(breaker, false)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	errRejected := errors.New("rejected")
	breaker := New("test", Settings{
		Clock:       clock.NewFake(),
		ReadyToTrip: ConsecutiveFailures(1),
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, errRejected)
		},
	})

	err := breaker.Execute(context.Background(), func(context.Context) error { return errRejected })
	assert.ErrorIs(t, err, errRejected)
	assert.Equal(t, StateClosed, breaker.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, breaker.Execute(ctx, func(context.Context) error { return nil }), context.Canceled)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerCallbacks(t *testing.T) {
	clk := clock.NewFake()
	var transitions []string

	breaker := New("test", Settings{
		Timeout:     10 * time.Millisecond,
		Clock:       clk,
		ReadyToTrip: ConsecutiveFailures(2),
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = call(breaker, false)
	_ = call(breaker, false)
	clk.Advance(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())
	require.NoError(t, call(breaker, true))

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}
