package telemetry

import (
	"fmt"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/chaos"
)

const (
	// DefaultJitterFraction bounds jitter to +/-40% of the nominal interval.
	DefaultJitterFraction = 0.4
	// MinJitterFraction keeps ticks from ever settling into a fixed period.
	MinJitterFraction = 0.05
	maxJitterFraction = 0.9

	defaultMinPadding = 50 * time.Millisecond
	defaultMaxPadding = 1500 * time.Millisecond

	phantomChance = 0.35

	// Perlin parameters: smoothness, frequency scaling, octaves.
	noiseAlpha   = 2.0
	noiseBeta    = 2.0
	noiseOctaves = 3
	noiseStep    = 0.137
)

type weightedMethod struct {
	method schemas.DecoyMethod
	weight float64
}

// PlannerConfig controls how decoy events are drawn.
type PlannerConfig struct {
	Interval       time.Duration
	JitterFraction float64
	DNSChaff       bool
	PhantomSwarm   bool
	MinPadding     time.Duration
	MaxPadding     time.Duration
}

// Planner turns engine draws into decoy events. It must only be used from the
// goroutine that owns the engine.
type Planner struct {
	cfg     PlannerConfig
	methods []weightedMethod
	total   float64
	noise   *perlin.Perlin
	ticks   uint64
}

// NewPlanner validates cfg and builds a planner whose padding noise is seeded from seed.
func NewPlanner(cfg PlannerConfig, seed uint64) (*Planner, error) {
	if cfg.Interval <= 0 {
		return nil, &schemas.ConfigError{Field: "telemetry.interval", Reason: "must be positive"}
	}
	if cfg.JitterFraction == 0 {
		cfg.JitterFraction = DefaultJitterFraction
	}
	if cfg.JitterFraction < MinJitterFraction || cfg.JitterFraction > maxJitterFraction {
		return nil, &schemas.ConfigError{
			Field:  "telemetry.jitter_fraction",
			Reason: fmt.Sprintf("must be within [%.2f, %.1f]", MinJitterFraction, maxJitterFraction),
		}
	}
	if cfg.MinPadding <= 0 {
		cfg.MinPadding = defaultMinPadding
	}
	if cfg.MaxPadding <= cfg.MinPadding {
		cfg.MaxPadding = defaultMaxPadding
		if cfg.MaxPadding <= cfg.MinPadding {
			cfg.MaxPadding = cfg.MinPadding * 2
		}
	}

	methods := []weightedMethod{{schemas.MethodHeadProbe, 0.4}}
	if cfg.DNSChaff {
		methods = append(methods, weightedMethod{schemas.MethodDNSLookup, 0.4})
	}
	methods = append(methods, weightedMethod{schemas.MethodPaddingDelay, 0.2})

	total := 0.0
	for _, m := range methods {
		total += m.weight
	}

	return &Planner{
		cfg:     cfg,
		methods: methods,
		total:   total,
		noise:   perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, int64(seed)),
	}, nil
}

// Interval returns the nominal tick interval.
func (p *Planner) Interval() time.Duration { return p.cfg.Interval }

// NextGap draws the jittered delay until the next tick.
func (p *Planner) NextGap(e *chaos.Engine) (gap, jitter time.Duration) {
	u := e.NextScalar()
	jitter = time.Duration(float64((u - 0.5) * 2 * p.cfg.JitterFraction * float64(p.cfg.Interval)))
	return p.cfg.Interval + jitter, jitter
}

// Plan draws the next event relative to now. profile may be nil before the
// first profile exists, in which case probes carry no user agent.
func (p *Planner) Plan(e *chaos.Engine, now time.Time, profile *schemas.FingerprintProfile) schemas.TelemetryEvent {
	p.ticks++
	gap, jitter := p.NextGap(e)

	ev := schemas.TelemetryEvent{
		Method:      p.pickMethod(e),
		ScheduledAt: now.Add(gap),
		JitterMs:    jitter.Milliseconds(),
	}

	if ev.Method == schemas.MethodPaddingDelay {
		ev.Padding = p.padding(e)
		return ev
	}

	if p.cfg.PhantomSwarm && e.NextScalar() < phantomChance {
		device := phantomDevices[e.Intn(len(phantomDevices))]
		ev.Phantom = device.Hostname
		ev.UserAgent = device.UserAgent
		ev.Target = device.Domains[e.Intn(len(device.Domains))]
		if ev.Method == schemas.MethodHeadProbe {
			ev.Target = subdomain("www", ev.Target)
		}
		return ev
	}

	if profile != nil {
		ev.UserAgent = profile.UserAgent
		ev.Browser = profile.Browser
	}
	domain := chaffDomains[e.Intn(len(chaffDomains))]
	switch ev.Method {
	case schemas.MethodHeadProbe:
		ev.Target = subdomain("www", domain)
	case schemas.MethodDNSLookup:
		ev.Target = subdomain(subdomainPrefixes[e.Intn(len(subdomainPrefixes))], domain)
	}
	return ev
}

func (p *Planner) pickMethod(e *chaos.Engine) schemas.DecoyMethod {
	target := e.NextScalar() * p.total
	acc := 0.0
	for _, m := range p.methods {
		acc += m.weight
		if target < acc {
			return m.method
		}
	}
	return p.methods[len(p.methods)-1].method
}

// padding blends smooth Perlin drift with a fresh chaos draw so consecutive
// delays wander rather than jump.
func (p *Planner) padding(e *chaos.Engine) time.Duration {
	n := (p.noise.Noise1D(float64(p.ticks)*noiseStep) + 1) / 2
	if n < 0 {
		n = 0
	} else if n > 1 {
		n = 1
	}
	mix := 0.5*n + 0.5*e.NextScalar()
	span := float64(p.cfg.MaxPadding - p.cfg.MinPadding)
	return p.cfg.MinPadding + time.Duration(mix*span)
}
