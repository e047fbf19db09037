// Package agent implements the protection agent: it owns the chaos engine,
// rotates fingerprint profiles, drives the telemetry scheduler and publishes
// status snapshots.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/chaos"
	"github.com/xkilldash9x/spicy-cat/internal/enforce"
	"github.com/xkilldash9x/spicy-cat/internal/observability"
	"github.com/xkilldash9x/spicy-cat/internal/profile"
	"github.com/xkilldash9x/spicy-cat/internal/telemetry"
)

const (
	DefaultStopTimeout    = 3 * time.Second
	DefaultJournalTimeout = 5 * time.Second
	defaultRotateEvery    = time.Second
	defaultRotateBurst    = 5
)

// RotationMode selects who may replace the active profile.
type RotationMode string

const (
	// RotateManual allows only explicit Rotate calls.
	RotateManual RotationMode = "manual"
	// RotateScheduled allows only timed and threat-driven rotations.
	RotateScheduled RotationMode = "scheduled"
	// RotateBoth allows both.
	RotateBoth RotationMode = "both"
)

func (m RotationMode) automatic() bool { return m == RotateScheduled || m == RotateBoth }
func (m RotationMode) manual() bool    { return m == RotateManual || m == RotateBoth }

// Enforcer accepts enforcement requests without blocking. enforce.Dispatcher
// is the production implementation.
type Enforcer interface {
	Submit(req schemas.EnforcementRequest) bool
}

// Options configures an Agent.
type Options struct {
	Seed             uint64
	Tables           profile.Tables
	TelemetryEnabled bool
	Planner          telemetry.PlannerConfig
	EmitTimeout      time.Duration
	StopTimeout      time.Duration

	RotationMode     RotationMode
	RotationInterval time.Duration
	// AutoRotateThreshold rotates on the next tick once the threat level
	// reaches it. Zero disables threat rotation.
	AutoRotateThreshold int
	// RotateEvery and RotateBurst throttle manual rotations.
	RotateEvery time.Duration
	RotateBurst int

	Threat         ThreatConfig
	BlockLeakPorts bool
	JournalTimeout time.Duration
	Now            func() time.Time
}

// Deps are the agent's collaborators. Any of them may be nil.
type Deps struct {
	Transport schemas.DecoyTransport
	Enforcer  Enforcer
	Sink      schemas.StatusSink
	Journal   schemas.RotationJournal
}

// active is the profile in force. It is replaced whole on every rotation.
type active struct {
	profile      schemas.FingerprintProfile
	rotatedAt    time.Time
	nextRotation time.Time
}

// Agent is the protection agent. All exported methods are safe for concurrent use.
type Agent struct {
	id      string
	opts    Options
	deps    Deps
	gen     *profile.Generator
	engine  *chaos.Engine
	limiter *rate.Limiter
	logger  *zap.Logger

	// lifecycle serializes Start, Stop and Rotate. While no scheduler runs it
	// also guards the engine.
	lifecycle sync.Mutex
	state     schemas.AgentState
	sched     *telemetry.Scheduler

	current   atomic.Pointer[active]
	bonus     atomic.Int64
	rotations atomic.Uint64
	decoys    atomic.Uint64

	pubMu  sync.Mutex
	status atomic.Pointer[schemas.AgentStatus]

	journalWG sync.WaitGroup
}

// New validates opts and builds a stopped agent.
func New(opts Options, deps Deps, logger *zap.Logger) (*Agent, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.JournalTimeout <= 0 {
		opts.JournalTimeout = DefaultJournalTimeout
	}
	if opts.RotationMode == "" {
		opts.RotationMode = RotateBoth
	}
	if opts.Threat == (ThreatConfig{}) {
		opts.Threat = DefaultThreatConfig()
	}
	if opts.Tables.Platforms == nil {
		opts.Tables = profile.DefaultTables()
	}
	if opts.RotateEvery <= 0 {
		opts.RotateEvery = defaultRotateEvery
	}
	if opts.RotateBurst <= 0 {
		opts.RotateBurst = defaultRotateBurst
	}

	switch opts.RotationMode {
	case RotateManual, RotateScheduled, RotateBoth:
	default:
		return nil, &schemas.ConfigError{Field: "rotation.mode", Reason: fmt.Sprintf("unknown mode %q", opts.RotationMode)}
	}
	if opts.RotationMode.automatic() && opts.RotationInterval <= 0 {
		return nil, &schemas.ConfigError{Field: "rotation.interval", Reason: "must be positive when scheduled rotation is enabled"}
	}
	if opts.AutoRotateThreshold < 0 || opts.AutoRotateThreshold > maxThreat {
		return nil, &schemas.ConfigError{Field: "rotation.auto_rotate_threshold", Reason: "must be within 0-100"}
	}
	if err := opts.Threat.validate(); err != nil {
		return nil, err
	}
	if opts.AutoRotateThreshold > 0 && opts.AutoRotateThreshold <= opts.Threat.Baseline {
		return nil, &schemas.ConfigError{Field: "rotation.auto_rotate_threshold", Reason: "must exceed the threat baseline"}
	}

	gen, err := profile.NewGenerator(opts.Tables, profile.WithClock(opts.Now))
	if err != nil {
		return nil, err
	}

	a := &Agent{
		id:      uuid.NewString(),
		opts:    opts,
		deps:    deps,
		gen:     gen,
		engine:  chaos.New(opts.Seed),
		limiter: rate.NewLimiter(rate.Every(opts.RotateEvery), opts.RotateBurst),
		state:   schemas.StateStopped,
	}
	a.logger = logger.Named("agent").With(zap.String("agent_id", a.id))
	a.status.Store(&schemas.AgentStatus{
		AgentID:          a.id,
		State:            schemas.StateStopped,
		TelemetryEnabled: opts.TelemetryEnabled,
		UpdatedAt:        opts.Now().UTC(),
	})
	return a, nil
}

// ID returns the agent instance ID.
func (a *Agent) ID() string { return a.id }

// Seed returns the seed the engine was built from.
func (a *Agent) Seed() uint64 { return a.opts.Seed }

// Status returns the last published snapshot. It never blocks.
func (a *Agent) Status() schemas.AgentStatus {
	return *a.status.Load()
}

// Profile returns the active profile, if any.
func (a *Agent) Profile() (schemas.FingerprintProfile, bool) {
	cur := a.current.Load()
	if cur == nil {
		return schemas.FingerprintProfile{}, false
	}
	return cur.profile, true
}

func (a *Agent) profilePtr() *schemas.FingerprintProfile {
	cur := a.current.Load()
	if cur == nil {
		return nil
	}
	p := cur.profile
	return &p
}

// Start generates the first profile, submits it for enforcement and launches
// the scheduler. It is valid only from Stopped. A configuration error leaves
// the agent Stopped.
func (a *Agent) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.state != schemas.StateStopped {
		return fmt.Errorf("%w: cannot start from %s", schemas.ErrInvalidState, a.state)
	}
	a.setState(schemas.StateStarting)

	planner, err := telemetry.NewPlanner(a.opts.Planner, a.engine.Seed())
	if err != nil {
		a.setState(schemas.StateStopped)
		return err
	}
	if _, err := a.rotateWith(a.engine, schemas.TriggerStart); err != nil {
		a.setState(schemas.StateStopped)
		return err
	}

	sched := telemetry.NewScheduler(a.engine, a.deps.Transport, planner, telemetry.Options{
		EmitDecoys:  a.opts.TelemetryEnabled,
		EmitTimeout: a.opts.EmitTimeout,
		Profile:     a.profilePtr,
		OnTick:      a.onTick,
		Now:         a.opts.Now,
	}, a.logger)

	// The loop lives until Stop, not until the caller's context ends.
	if err := sched.StartBackground(context.WithoutCancel(ctx), 0); err != nil {
		a.setState(schemas.StateStopped)
		return err
	}
	a.sched = sched
	a.setState(schemas.StateRunning)
	observability.AgentRunning.Set(1)

	a.logger.Info("Agent running",
		zap.Uint64("seed", a.engine.Seed()),
		zap.Bool("telemetry", a.opts.TelemetryEnabled),
		zap.String("rotation_mode", string(a.opts.RotationMode)))
	return nil
}

// Stop cancels the scheduler and waits up to StopTimeout for it. The agent
// reaches Stopped even when the scheduler has to be abandoned. Stopping a
// stopped agent is a no-op.
func (a *Agent) Stop() error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.state == schemas.StateStopped {
		return nil
	}
	a.setState(schemas.StateStopping)

	if a.sched != nil {
		err := a.sched.Stop(a.opts.StopTimeout)
		var timeoutErr *schemas.SchedulerTimeoutError
		switch {
		case errors.As(err, &timeoutErr):
			a.logger.Warn("Scheduler did not stop in time, abandoning it", zap.Error(err))
		case err != nil:
			a.logger.Warn("Scheduler stop failed", zap.Error(err))
		}
		a.sched = nil
	}

	if !waitTimeout(&a.journalWG, a.opts.JournalTimeout) {
		a.logger.Warn("Journal writes still pending at stop", zap.Duration("waited", a.opts.JournalTimeout))
	}

	a.setState(schemas.StateStopped)
	observability.AgentRunning.Set(0)
	a.logger.Info("Agent stopped")
	return nil
}

// Rotate replaces the active profile. It is valid only while Running, and is
// throttled by a token bucket.
func (a *Agent) Rotate(ctx context.Context) (schemas.FingerprintProfile, error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.state != schemas.StateRunning {
		return schemas.FingerprintProfile{}, fmt.Errorf("%w: cannot rotate from %s", schemas.ErrInvalidState, a.state)
	}
	if !a.opts.RotationMode.manual() {
		return schemas.FingerprintProfile{}, fmt.Errorf("%w: manual rotation disabled in %s mode", schemas.ErrInvalidState, a.opts.RotationMode)
	}
	// The token is only spent once the rotation reaches the scheduler.
	reservation := a.limiter.Reserve()
	if !reservation.OK() || reservation.Delay() > 0 {
		reservation.Cancel()
		return schemas.FingerprintProfile{}, schemas.ErrRotationThrottled
	}

	type outcome struct {
		p   schemas.FingerprintProfile
		err error
	}
	result := make(chan outcome, 1)
	err := a.sched.Submit(ctx, func(e *chaos.Engine) {
		p, err := a.rotateWith(e, schemas.TriggerManual)
		result <- outcome{p, err}
	})
	if err != nil {
		reservation.Cancel()
		return schemas.FingerprintProfile{}, fmt.Errorf("submit rotation: %w", err)
	}

	select {
	case out := <-result:
		return out.p, out.err
	case <-ctx.Done():
		// The rotation still happens; the caller just stops waiting for it.
		return schemas.FingerprintProfile{}, ctx.Err()
	}
}

// ReportSignal raises the threat level until the next rotation.
func (a *Agent) ReportSignal(sig schemas.ThreatSignal) {
	if sig.ObservedAt.IsZero() {
		sig.ObservedAt = a.opts.Now().UTC()
	}
	points := signalPoints(sig)
	a.bonus.Add(points)
	a.logger.Info("Threat signal",
		zap.String("kind", string(sig.Kind)),
		zap.String("source", sig.Source),
		zap.Float64("confidence", sig.Confidence),
		zap.Int64("points", points))
	a.publish(nil)
}

// CheckDomain reports a signal when domain is a known tracker.
func (a *Agent) CheckDomain(domain string) (schemas.ThreatSignal, bool) {
	sig, ok := MatchDomain(domain)
	if ok {
		a.ReportSignal(sig)
	}
	return sig, ok
}

// CheckURL reports a signal when rawURL looks like a tracking beacon.
func (a *Agent) CheckURL(rawURL string) (schemas.ThreatSignal, bool) {
	sig, ok := MatchURL(rawURL)
	if ok {
		a.ReportSignal(sig)
	}
	return sig, ok
}

// CheckScript reports every fingerprinting pattern found in a script body.
func (a *Agent) CheckScript(source, content string) []schemas.ThreatSignal {
	sigs := MatchScript(source, content)
	for _, sig := range sigs {
		a.ReportSignal(sig)
	}
	return sigs
}

// ThreatLevel computes the current level without publishing it.
func (a *Agent) ThreatLevel() int {
	return a.threatAt(a.opts.Now())
}

func (a *Agent) threatAt(now time.Time) int {
	cur := a.current.Load()
	if cur == nil {
		return a.opts.Threat.level(0, a.bonus.Load())
	}
	return a.opts.Threat.level(now.Sub(cur.rotatedAt), a.bonus.Load())
}

// rotateWith must run on the engine's owner: the scheduler goroutine, or the
// caller holding lifecycle while no scheduler runs.
func (a *Agent) rotateWith(e *chaos.Engine, trigger schemas.RotationTrigger) (schemas.FingerprintProfile, error) {
	now := a.opts.Now()
	threatBefore := a.threatAt(now)

	p, err := a.gen.Generate(e)
	if err != nil {
		return schemas.FingerprintProfile{}, err
	}

	next := &active{profile: p, rotatedAt: now}
	if a.opts.RotationMode.automatic() {
		scale := 0.7 + 0.6*e.NextScalar()
		next.nextRotation = now.Add(time.Duration(float64(a.opts.RotationInterval) * scale))
	}
	a.current.Store(next)
	a.bonus.Store(0)
	a.rotations.Add(1)

	if a.deps.Enforcer != nil && !a.deps.Enforcer.Submit(enforce.RequestFor(p, a.opts.BlockLeakPorts)) {
		a.logger.Warn("Enforcement request dropped", zap.String("profile_id", p.ProfileID))
	}
	a.record(schemas.RotationRecord{
		ID:           uuid.NewString(),
		AgentID:      a.id,
		ProfileID:    p.ProfileID,
		Platform:     p.Platform,
		TTL:          p.TCPTTL,
		Timezone:     p.TimezoneName,
		Trigger:      trigger,
		ThreatBefore: threatBefore,
		RotatedAt:    now.UTC(),
	})

	observability.Rotations.WithLabelValues(string(trigger)).Inc()
	a.logger.Info("Profile rotated",
		zap.String("trigger", string(trigger)),
		zap.String("profile_id", p.ProfileID),
		zap.String("platform", string(p.Platform)),
		zap.Int("ttl", p.TCPTTL),
		zap.String("timezone", p.TimezoneName),
		zap.Int("threat_before", threatBefore))

	a.publish(nil)
	return p, nil
}

// onTick runs on the scheduler goroutine after every decoy slot.
func (a *Agent) onTick(e *chaos.Engine, ev schemas.TelemetryEvent, emitErr error) {
	if a.opts.TelemetryEnabled && emitErr == nil {
		a.decoys.Add(1)
	}

	now := a.opts.Now()
	level := a.threatAt(now)
	observability.ThreatLevel.Set(float64(level))

	if a.opts.RotationMode.automatic() {
		var trigger schemas.RotationTrigger
		cur := a.current.Load()
		switch {
		case a.opts.AutoRotateThreshold > 0 && level >= a.opts.AutoRotateThreshold:
			trigger = schemas.TriggerThreat
		case cur != nil && !now.Before(cur.nextRotation):
			trigger = schemas.TriggerScheduled
		}
		if trigger != "" {
			if _, err := a.rotateWith(e, trigger); err != nil {
				a.logger.Error("Automatic rotation failed", zap.String("trigger", string(trigger)), zap.Error(err))
			}
			return
		}
	}
	a.publish(nil)
}

func (a *Agent) setState(s schemas.AgentState) {
	a.state = s
	a.publish(func(st *schemas.AgentStatus) { st.State = s })
}

// publish builds a fresh snapshot from the live counters and swaps it in.
// Writers are serialized so versions are strictly increasing.
func (a *Agent) publish(mutate func(*schemas.AgentStatus)) {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()

	now := a.opts.Now()
	next := *a.status.Load()
	if mutate != nil {
		mutate(&next)
	}
	if cur := a.current.Load(); cur != nil {
		next.CurrentProfileID = cur.profile.ProfileID
		next.Platform = cur.profile.Platform
		next.Timezone = cur.profile.TimezoneName
		next.TTL = cur.profile.TCPTTL
		next.LastRotationTime = cur.rotatedAt.UTC()
	}
	next.ThreatLevel = a.threatAt(now)
	next.Rotations = a.rotations.Load()
	next.DecoyEvents = a.decoys.Load()
	next.UpdatedAt = now.UTC()
	next.Version++
	a.status.Store(&next)

	if a.deps.Sink == nil {
		return
	}
	if err := a.deps.Sink.Publish(next); err != nil {
		observability.StatusWriteFailures.Inc()
		a.logger.Warn("Status publish failed", zap.Error(err))
	}
}

// record writes a journal row in the background with its own timeout.
func (a *Agent) record(rec schemas.RotationRecord) {
	if a.deps.Journal == nil {
		return
	}
	a.journalWG.Add(1)
	go func() {
		defer a.journalWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.JournalTimeout)
		defer cancel()
		if err := a.deps.Journal.RecordRotation(ctx, rec); err != nil {
			a.logger.Warn("Journal write failed", zap.String("profile_id", rec.ProfileID), zap.Error(err))
		}
	}()
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
