// Package telemetry runs the background loop that emits jittered decoy traffic.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/chaos"
	"github.com/xkilldash9x/spicy-cat/internal/observability"
)

// DefaultEmitTimeout bounds a single decoy emission.
const DefaultEmitTimeout = 5 * time.Second

// TickFunc runs on the scheduler goroutine after every tick, with exclusive
// access to the engine. emitErr is the transport error, if any.
type TickFunc func(e *chaos.Engine, ev schemas.TelemetryEvent, emitErr error)

// Options configures a Scheduler.
type Options struct {
	// EmitDecoys turns decoy emission on. Without it the loop still ticks,
	// which keeps status and scheduled rotation alive.
	EmitDecoys  bool
	EmitTimeout time.Duration
	Profile     func() *schemas.FingerprintProfile
	OnTick      TickFunc
	Now         func() time.Time
}

type request struct {
	fn func(*chaos.Engine)
}

// Scheduler owns the engine while it runs. Anything else that needs a draw
// must go through Submit.
type Scheduler struct {
	engine    *chaos.Engine
	transport schemas.DecoyTransport
	planner   *Planner
	opts      Options
	logger    *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	requests chan request
	running  atomic.Bool
}

// NewScheduler wires a scheduler. transport may be nil when decoys are disabled.
func NewScheduler(engine *chaos.Engine, transport schemas.DecoyTransport, planner *Planner, opts Options, logger *zap.Logger) *Scheduler {
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = DefaultEmitTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if transport == nil {
		opts.EmitDecoys = false
	}
	return &Scheduler{
		engine:    engine,
		transport: transport,
		planner:   planner,
		opts:      opts,
		logger:    logger.With(zap.String("component", "telemetry_scheduler")),
		requests:  make(chan request),
	}
}

// StartBackground launches the loop. interval overrides the planner's nominal
// interval when positive.
func (s *Scheduler) StartBackground(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return errors.New("scheduler already started")
	}
	if interval > 0 {
		s.planner.cfg.Interval = interval
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	s.logger.Info("Starting telemetry scheduler",
		zap.Duration("interval", s.planner.Interval()),
		zap.Bool("emit_decoys", s.opts.EmitDecoys))

	go s.loop(loopCtx, s.done)
	return nil
}

// Running reports whether the loop goroutine is still alive.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Stop cancels the loop and waits up to timeout for it to exit. On timeout the
// goroutine is abandoned and a *schemas.SchedulerTimeoutError is returned; it
// exits on its own once the in-flight emission returns.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		s.logger.Info("Telemetry scheduler stopped.")
		return nil
	case <-timer.C:
		observability.SchedulerStopTimeouts.Inc()
		return &schemas.SchedulerTimeoutError{Timeout: timeout}
	}
}

// Submit runs fn on the scheduler goroutine between ticks. It returns once fn
// has been handed over; fn itself may finish after ctx expires, so it must
// publish its own results.
func (s *Scheduler) Submit(ctx context.Context, fn func(*chaos.Engine)) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil || !s.running.Load() {
		return schemas.ErrSchedulerStopped
	}

	select {
	case s.requests <- request{fn: fn}:
		return nil
	case <-done:
		return schemas.ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)

	next := s.plan()
	timer := time.NewTimer(s.until(next.ScheduledAt))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-s.requests:
			req.fn(s.engine)

		case <-timer.C:
			emitErr := s.emit(ctx, next)
			// Once cancelled, the engine may already belong to someone else.
			if ctx.Err() != nil {
				return
			}
			if s.opts.OnTick != nil {
				s.opts.OnTick(s.engine, next, emitErr)
			}
			next = s.plan()
			timer.Reset(s.until(next.ScheduledAt))
		}
	}
}

func (s *Scheduler) plan() schemas.TelemetryEvent {
	var profile *schemas.FingerprintProfile
	if s.opts.Profile != nil {
		profile = s.opts.Profile()
	}
	return s.planner.Plan(s.engine, s.opts.Now(), profile)
}

func (s *Scheduler) until(t time.Time) time.Duration {
	d := t.Sub(s.opts.Now())
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) emit(ctx context.Context, ev schemas.TelemetryEvent) error {
	if !s.opts.EmitDecoys {
		return nil
	}

	emitCtx, cancel := context.WithTimeout(ctx, s.opts.EmitTimeout)
	defer cancel()

	logger := s.logger.With(zap.String("method", string(ev.Method)), zap.String("target", ev.Target))
	if err := s.transport.Emit(emitCtx, ev); err != nil {
		// Decoys are disposable; a failure is noted and never retried.
		logger.Warn("Decoy emission failed", zap.Error(err))
		observability.DecoyEvents.WithLabelValues(string(ev.Method), "error").Inc()
		return err
	}
	logger.Debug("Decoy emitted", zap.Int64("jitter_ms", ev.JitterMs), zap.String("phantom", ev.Phantom))
	observability.DecoyEvents.WithLabelValues(string(ev.Method), "ok").Inc()
	return nil
}
