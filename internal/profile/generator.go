// Package profile derives fingerprint profiles from chaos draws and frozen weighted tables.
package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/chaos"
)

// Generator turns engine draws into profiles. It holds no engine state of its
// own, so one Generator may serve any number of engines.
type Generator struct {
	tables Tables
	now    func() time.Time
	seq    atomic.Uint64
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the clock used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator validates the tables and returns a Generator. Malformed tables
// yield a *schemas.ConfigError.
func NewGenerator(tables Tables, opts ...Option) (*Generator, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{tables: tables, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate draws a complete profile from e. Platform comes first; TTL, window
// size and user agent are drawn from that platform's tables so the result is
// always a sanctioned combination.
func (g *Generator) Generate(e *chaos.Engine) (schemas.FingerprintProfile, error) {
	platform := pick(e, g.tables.Platforms)
	pt, ok := g.tables.PerPlatform[platform]
	if !ok {
		return schemas.FingerprintProfile{}, &schemas.ConfigError{
			Field:  "platforms",
			Reason: fmt.Sprintf("no table for platform %q", platform),
		}
	}

	ttl := pick(e, pt.TTL)
	window := pick(e, pt.WindowSize)
	ua := pick(e, pt.UserAgents)
	language := pick(e, g.tables.Languages)
	timezone := pick(e, g.tables.Timezones)

	created := g.now().UTC()
	seq := g.seq.Add(1)

	return schemas.FingerprintProfile{
		ProfileID:     profileID(e.Seed(), platform, ttl, created, seq, e.Draws()),
		Platform:      platform,
		TCPTTL:        ttl,
		TCPWindowSize: window,
		UserAgent:     ua.String,
		Browser:       ua.Browser,
		Language:      language,
		TimezoneName:  timezone,
		CreatedAt:     created,
	}, nil
}

// profileID hashes the identifying inputs into a short hex key. The draw
// counter and sequence keep IDs distinct even when two profiles share a clock tick.
func profileID(seed uint64, p schemas.Platform, ttl int, created time.Time, seq, draws uint64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%d|%d|%d|%d", seed, p, ttl, created.UnixNano(), seq, draws)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// pick performs one weighted draw. Tables are validated up front, so the
// trailing fallback only absorbs floating point rounding in the cumulative sum.
func pick[T any](e *chaos.Engine, items []Weighted[T]) T {
	total := 0.0
	for _, it := range items {
		total += it.Weight
	}
	target := e.NextScalar() * total

	var last T
	acc := 0.0
	for _, it := range items {
		if it.Weight <= 0 {
			continue
		}
		acc += it.Weight
		last = it.Value
		if target < acc {
			return it.Value
		}
	}
	return last
}
