package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/chaos"
	"github.com/xkilldash9x/spicy-cat/internal/mocks"
)

// transportFunc adapts a function to schemas.DecoyTransport.
type transportFunc func(ctx context.Context, ev schemas.TelemetryEvent) error

func (f transportFunc) Emit(ctx context.Context, ev schemas.TelemetryEvent) error { return f(ctx, ev) }

func newScheduler(t *testing.T, transport schemas.DecoyTransport, opts Options) *Scheduler {
	t.Helper()
	planner, err := NewPlanner(PlannerConfig{Interval: 20 * time.Millisecond, JitterFraction: 0.4, DNSChaff: true}, 7)
	require.NoError(t, err)
	return NewScheduler(chaos.New(7), transport, planner, opts, zaptest.NewLogger(t))
}

func TestSchedulerLifecycle(t *testing.T) {
	t.Run("should emit one decoy per tick and stop cleanly", func(t *testing.T) {
		transport := new(mocks.MockTransport)
		transport.On("Emit", mock.Anything, mock.Anything).Return(nil)

		var ticks atomic.Int32
		s := newScheduler(t, transport, Options{
			EmitDecoys: true,
			OnTick: func(e *chaos.Engine, ev schemas.TelemetryEvent, err error) {
				assert.NotNil(t, e)
				assert.NoError(t, err)
				ticks.Add(1)
			},
		})

		require.NoError(t, s.StartBackground(context.Background(), 0))
		assert.True(t, s.Running())
		assert.Error(t, s.StartBackground(context.Background(), 0), "a scheduler starts once")

		require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

		require.NoError(t, s.Stop(time.Second))
		assert.False(t, s.Running())

		emits := len(transport.Calls)
		assert.GreaterOrEqual(t, emits, 3)
		time.Sleep(60 * time.Millisecond)
		assert.Equal(t, emits, len(transport.Calls), "no emissions after stop")
	})

	t.Run("should swallow transport errors and keep ticking", func(t *testing.T) {
		var calls atomic.Int32
		transport := transportFunc(func(ctx context.Context, ev schemas.TelemetryEvent) error {
			calls.Add(1)
			return &schemas.TransportError{Method: ev.Method, Target: ev.Target, Err: errors.New("connection refused")}
		})

		var sawErr atomic.Bool
		s := newScheduler(t, transport, Options{
			EmitDecoys: true,
			OnTick: func(_ *chaos.Engine, _ schemas.TelemetryEvent, err error) {
				var tErr *schemas.TransportError
				if errors.As(err, &tErr) {
					sawErr.Store(true)
				}
			},
		})
		require.NoError(t, s.StartBackground(context.Background(), 0))
		require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, s.Stop(time.Second))
		assert.True(t, sawErr.Load())
	})

	t.Run("should tick without emitting in heartbeat mode", func(t *testing.T) {
		transport := new(mocks.MockTransport)
		var ticks atomic.Int32
		s := newScheduler(t, transport, Options{
			EmitDecoys: false,
			OnTick:     func(*chaos.Engine, schemas.TelemetryEvent, error) { ticks.Add(1) },
		})
		require.NoError(t, s.StartBackground(context.Background(), 0))
		require.Eventually(t, func() bool { return ticks.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, s.Stop(time.Second))
		transport.AssertNotCalled(t, "Emit", mock.Anything, mock.Anything)
	})

	t.Run("should bound stop when the transport hangs", func(t *testing.T) {
		entered := make(chan struct{}, 1)
		transport := transportFunc(func(ctx context.Context, ev schemas.TelemetryEvent) error {
			select {
			case entered <- struct{}{}:
			default:
			}
			// Ignores ctx on purpose.
			time.Sleep(10 * time.Second)
			return nil
		})

		s := newScheduler(t, transport, Options{EmitDecoys: true, EmitTimeout: 20 * time.Second})
		require.NoError(t, s.StartBackground(context.Background(), 0))

		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("transport never called")
		}

		start := time.Now()
		err := s.Stop(200 * time.Millisecond)
		elapsed := time.Since(start)

		var timeoutErr *schemas.SchedulerTimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)
		assert.Less(t, elapsed, time.Second)
	})
}

func TestSchedulerSubmit(t *testing.T) {
	t.Run("should run submitted work on the owner goroutine", func(t *testing.T) {
		s := newScheduler(t, nil, Options{})
		require.NoError(t, s.StartBackground(context.Background(), time.Hour))

		got := make(chan uint64, 1)
		require.NoError(t, s.Submit(context.Background(), func(e *chaos.Engine) {
			got <- e.Seed()
		}))

		select {
		case seed := <-got:
			assert.Equal(t, uint64(7), seed)
		case <-time.After(time.Second):
			t.Fatal("submitted work never ran")
		}
		require.NoError(t, s.Stop(time.Second))
	})

	t.Run("should refuse work when not running", func(t *testing.T) {
		s := newScheduler(t, nil, Options{})
		assert.ErrorIs(t, s.Submit(context.Background(), func(*chaos.Engine) {}), schemas.ErrSchedulerStopped)

		require.NoError(t, s.StartBackground(context.Background(), time.Hour))
		require.NoError(t, s.Stop(time.Second))
		assert.ErrorIs(t, s.Submit(context.Background(), func(*chaos.Engine) {}), schemas.ErrSchedulerStopped)
	})

	t.Run("stop before start is a no-op", func(t *testing.T) {
		s := newScheduler(t, nil, Options{})
		assert.NoError(t, s.Stop(time.Millisecond))
	})
}
