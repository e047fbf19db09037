package agent

import (
	"math"
	"time"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

const maxThreat = 100

// ThreatConfig shapes the age-based threat heuristic.
type ThreatConfig struct {
	// Baseline is the level right after a rotation.
	Baseline int
	// Staleness is how long a profile stays at baseline.
	Staleness time.Duration
	// Ramp is how long the level takes to climb from baseline to 100 once stale.
	Ramp time.Duration
}

// DefaultThreatConfig returns the stock heuristic.
func DefaultThreatConfig() ThreatConfig {
	return ThreatConfig{Baseline: 5, Staleness: 30 * time.Minute, Ramp: 2 * time.Hour}
}

func (c ThreatConfig) validate() error {
	switch {
	case c.Baseline < 0 || c.Baseline > maxThreat:
		return &schemas.ConfigError{Field: "agent.threat_baseline", Reason: "must be within 0-100"}
	case c.Staleness < 0:
		return &schemas.ConfigError{Field: "agent.threat_staleness", Reason: "must not be negative"}
	case c.Ramp <= 0:
		return &schemas.ConfigError{Field: "agent.threat_ramp", Reason: "must be positive"}
	}
	return nil
}

// level computes the threat for a profile of the given age plus the signal
// bonus accumulated since the last rotation. It never decreases as age or
// bonus grow.
func (c ThreatConfig) level(age time.Duration, bonus int64) int {
	lvl := float64(c.Baseline)
	if over := age - c.Staleness; over > 0 {
		frac := math.Min(float64(over)/float64(c.Ramp), 1)
		lvl += frac * float64(maxThreat-c.Baseline)
	}
	lvl += float64(bonus)
	if lvl > maxThreat {
		return maxThreat
	}
	return int(lvl)
}

// severity weights each signal kind by how directly it targets the host.
var severity = map[schemas.SignalKind]float64{
	schemas.SignalCanvasFingerprint: 3.0,
	schemas.SignalWebGLEnum:         2.5,
	schemas.SignalFontProbe:         2.0,
	schemas.SignalAudioFingerprint:  3.0,
	schemas.SignalWebRTCLeak:        4.0,
	schemas.SignalTrackerDomain:     1.0,
	schemas.SignalTelemetryBeacon:   1.5,
	schemas.SignalCookieSync:        2.0,
	schemas.SignalPluginEnum:        2.0,
	schemas.SignalTLSFingerprint:    2.5,
}

// pointsPerSeverity scales severity*confidence onto the 0-100 threat scale.
const pointsPerSeverity = 5.0

// signalPoints is the threat bonus one signal contributes. Unknown kinds count
// as severity 1 and confidence is clamped to [0,1].
func signalPoints(sig schemas.ThreatSignal) int64 {
	sev, ok := severity[sig.Kind]
	if !ok {
		sev = 1.0
	}
	conf := sig.Confidence
	if math.IsNaN(conf) || conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return int64(math.Round(sev * conf * pointsPerSeverity))
}
