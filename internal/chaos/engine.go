// Package chaos provides a deterministic chaotic number source built from a
// logistic map and a Lorenz attractor. Identical seeds produce bit-identical
// sequences on every platform.
package chaos

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"time"
)

const (
	logisticR = 3.9999
	burnIn    = 100

	// Outputs closer than edgeEpsilon to 0 or 1, or moving less than
	// stallEpsilon in one step, are treated as degenerate and re-perturbed.
	edgeEpsilon  = 1e-9
	stallEpsilon = 1e-12

	lorenzSigma  = 10.0
	lorenzRho    = 28.0
	lorenzBeta   = 8.0 / 3.0
	lorenzDt     = 0.01
	lorenzWarmup = 1000

	// Envelope the attractor state is clamped into.
	envXY = 30.0
	envZ  = 60.0
)

// Engine is a single-owner chaotic generator. It is not safe for concurrent use.
type Engine struct {
	seed          uint64
	x             float64
	lx, ly, lz    float64
	draws         uint64
	perturbations uint64
}

// New returns an engine seeded with seed and fully warmed up.
func New(seed uint64) *Engine {
	e := &Engine{}
	e.Reset(seed)
	return e
}

// Reset reseeds the engine. The sequence that follows is identical to that of New(seed).
func (e *Engine) Reset(seed uint64) {
	e.seed = seed
	e.draws = 0
	e.perturbations = 0
	e.x = unitInterval(splitmix64(seed), 0.1, 0.9)

	for i := 0; i < burnIn; i++ {
		e.stepLogistic()
	}

	e.lx = float64((e.stepLogistic() - 0.5) * envXY)
	e.ly = float64((e.stepLogistic() - 0.5) * envXY)
	e.lz = float64(e.stepLogistic() * 50)
	for i := 0; i < lorenzWarmup; i++ {
		e.stepLorenz()
	}
}

// Seed returns the seed the engine was last reset with.
func (e *Engine) Seed() uint64 { return e.seed }

// Draws returns how many values have been drawn since the last reset.
func (e *Engine) Draws() uint64 { return e.draws }

// Perturbations returns how many times the logistic state had to be re-seeded.
func (e *Engine) Perturbations() uint64 { return e.perturbations }

// NextScalar returns a value strictly inside (0, 1).
func (e *Engine) NextScalar() float64 {
	x := e.stepLogistic()
	e.stepLorenz()
	e.draws++

	m := x + float64((e.lx+envXY)/(2*envXY))
	m -= math.Floor(m)
	if !(m > 0 && m < 1) {
		return x
	}
	return m
}

// NextVector advances the attractor one step and returns its position normalized into [0,1]^3.
func (e *Engine) NextVector() (float64, float64, float64) {
	e.stepLorenz()
	e.draws++
	return (e.lx + envXY) / (2 * envXY), (e.ly + envXY) / (2 * envXY), e.lz / envZ
}

// Intn returns a value in [0, n). It panics if n <= 0.
func (e *Engine) Intn(n int) int {
	if n <= 0 {
		panic("chaos: Intn called with non-positive n")
	}
	i := int(e.NextScalar() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Between returns a value in (lo, hi).
func (e *Engine) Between(lo, hi float64) float64 {
	return lo + float64(e.NextScalar()*(hi-lo))
}

func (e *Engine) stepLogistic() float64 {
	prev := e.x
	// The explicit conversion rounds the product so it cannot be fused into an FMA.
	next := float64(logisticR*prev) * (1 - prev)

	if !(next > edgeEpsilon && next < 1-edgeEpsilon) || math.Abs(next-prev) < stallEpsilon {
		next = e.perturb()
	}
	e.x = next
	return next
}

// perturb derives a fresh state from the seed so recovery stays deterministic.
func (e *Engine) perturb() float64 {
	e.perturbations++
	return unitInterval(splitmix64(e.seed^(e.perturbations*0x9E3779B97F4A7C15)), 0.1, 0.9)
}

func lorenzDeriv(x, y, z float64) (float64, float64, float64) {
	dx := float64(lorenzSigma * (y - x))
	dy := float64(x*(lorenzRho-z)) - y
	dz := float64(x*y) - float64(lorenzBeta*z)
	return dx, dy, dz
}

// stepLorenz advances the attractor by one RK4 step and clamps it into the envelope.
func (e *Engine) stepLorenz() {
	const h = lorenzDt
	x, y, z := e.lx, e.ly, e.lz

	k1x, k1y, k1z := lorenzDeriv(x, y, z)
	k2x, k2y, k2z := lorenzDeriv(x+float64(h/2*k1x), y+float64(h/2*k1y), z+float64(h/2*k1z))
	k3x, k3y, k3z := lorenzDeriv(x+float64(h/2*k2x), y+float64(h/2*k2y), z+float64(h/2*k2z))
	k4x, k4y, k4z := lorenzDeriv(x+float64(h*k3x), y+float64(h*k3y), z+float64(h*k3z))

	x += float64(h / 6 * (k1x + float64(2*k2x) + float64(2*k3x) + k4x))
	y += float64(h / 6 * (k1y + float64(2*k2y) + float64(2*k3y) + k4y))
	z += float64(h / 6 * (k1z + float64(2*k2z) + float64(2*k3z) + k4z))

	if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) {
		x = float64((e.perturb() - 0.5) * envXY)
		y = float64((e.perturb() - 0.5) * envXY)
		z = float64(e.perturb() * 50)
	}

	e.lx = clamp(x, -envXY, envXY)
	e.ly = clamp(y, -envXY, envXY)
	e.lz = clamp(z, 0, envZ)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// splitmix64 is the SplitMix64 finalizer, used to spread seed bits.
func splitmix64(v uint64) uint64 {
	v += 0x9E3779B97F4A7C15
	v = (v ^ (v >> 30)) * 0xBF58476D1CE4E5B9
	v = (v ^ (v >> 27)) * 0x94D049BB133111EB
	return v ^ (v >> 31)
}

// unitInterval maps the top 53 bits of b onto [lo, hi).
func unitInterval(b uint64, lo, hi float64) float64 {
	u := float64(b>>11) / (1 << 53)
	return lo + float64(u*(hi-lo))
}

// SeedFromString derives a seed from an arbitrary string, such as a persona name.
func SeedFromString(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

// RandomSeed returns a seed from the OS entropy source.
func RandomSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:])
}
