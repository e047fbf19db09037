package enforce

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/observability"
)

// DispatcherConfig sizes the enforcement worker pool.
type DispatcherConfig struct {
	Workers      int
	QueueSize    int
	ApplyTimeout time.Duration
}

// Dispatcher runs enforcement requests on a small worker pool so that slow or
// hung privileged commands never block the caller.
type Dispatcher struct {
	adapter schemas.EnforcementAdapter
	cfg     DispatcherConfig
	logger  *zap.Logger

	queue  chan schemas.EnforcementRequest
	wg     sync.WaitGroup
	mu     sync.RWMutex // guards closed against concurrent sends
	closed bool

	seq    atomic.Uint64
	latest atomic.Uint64
	last   atomic.Pointer[schemas.EnforcementResult]
}

// NewDispatcher creates a dispatcher around adapter. Call Start before Submit.
func NewDispatcher(adapter schemas.EnforcementAdapter, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 30 * time.Second // Sensible default.
	}
	return &Dispatcher{
		adapter: adapter,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "enforcement_dispatcher")),
		queue:   make(chan schemas.EnforcementRequest, cfg.QueueSize),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting enforcement workers", zap.Int("workers", d.cfg.Workers))
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.runWorker(ctx, i+1)
	}
}

// Submit queues req without blocking. It returns false if the request was
// dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Submit(req schemas.EnforcementRequest) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Debug("Dispatcher closed, discarding enforcement request", zap.String("profile_id", req.ProfileID))
		return false
	}

	req.Seq = d.seq.Add(1)

	select {
	case d.queue <- req:
		d.markLatest(req.Seq)
		return true
	default:
		d.logger.Warn("Enforcement queue full, dropping request", zap.String("profile_id", req.ProfileID))
		observability.EnforcementRequests.WithLabelValues("dropped").Inc()
		return false
	}
}

// markLatest raises the newest queued sequence number, never lowering it.
func (d *Dispatcher) markLatest(seq uint64) {
	for {
		cur := d.latest.Load()
		if seq <= cur || d.latest.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// LastResult returns the most recent enforcement outcome, if any.
func (d *Dispatcher) LastResult() (schemas.EnforcementResult, bool) {
	r := d.last.Load()
	if r == nil {
		return schemas.EnforcementResult{}, false
	}
	return *r, true
}

// Close stops accepting requests, lets workers drain the queue and waits for
// them until ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Enforcement workers stopped.")
		return nil
	case <-ctx.Done():
		d.logger.Warn("Timed out waiting for enforcement workers", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, workerID int) {
	defer d.wg.Done()
	logger := d.logger.With(zap.Int("worker_id", workerID))

	for req := range d.queue {
		d.process(ctx, req, logger)
	}
	logger.Debug("Enforcement queue drained, worker exiting.")
}

func (d *Dispatcher) process(ctx context.Context, req schemas.EnforcementRequest, logger *zap.Logger) {
	logger = logger.With(zap.String("profile_id", req.ProfileID), zap.Uint64("seq", req.Seq))

	// A newer profile has been submitted; applying this one would only be undone.
	if req.Seq < d.latest.Load() {
		logger.Debug("Skipping stale enforcement request")
		observability.EnforcementRequests.WithLabelValues("skipped").Inc()
		d.last.Store(&schemas.EnforcementResult{ProfileID: req.ProfileID, Skipped: true, Finished: time.Now().UTC()})
		return
	}

	applyCtx, cancel := context.WithTimeout(ctx, d.cfg.ApplyTimeout)
	defer cancel()

	result := d.adapter.Apply(applyCtx, req)
	if result.ProfileID == "" {
		result.ProfileID = req.ProfileID
	}
	if result.Finished.IsZero() {
		result.Finished = time.Now().UTC()
	}
	d.last.Store(&result)

	if err := result.Err(); err != nil {
		logger.Warn("Enforcement applied with failures",
			zap.Strings("applied", result.Applied),
			zap.Int("failed", len(result.Failed)),
			zap.Error(err))
		observability.EnforcementRequests.WithLabelValues("failed").Inc()
		return
	}
	logger.Info("Enforcement applied", zap.Strings("applied", result.Applied))
	observability.EnforcementRequests.WithLabelValues("applied").Inc()
}
