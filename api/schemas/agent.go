package schemas

import "time"

// AgentState is a position in the agent lifecycle.
type AgentState string

const (
	StateStopped  AgentState = "stopped"
	StateStarting AgentState = "starting"
	StateRunning  AgentState = "running"
	StateStopping AgentState = "stopping"
)

// AgentStatus is the published, read-only view of the agent. A new value is
// built for every change and swapped in whole.
type AgentStatus struct {
	AgentID          string     `json:"agent_id"`
	State            AgentState `json:"state"`
	CurrentProfileID string     `json:"current_profile_id"`
	ThreatLevel      int        `json:"threat_level"`
	LastRotationTime time.Time  `json:"last_rotation_time"`
	TelemetryEnabled bool       `json:"telemetry_enabled"`
	Platform         Platform   `json:"platform,omitempty"`
	Timezone         string     `json:"timezone,omitempty"`
	TTL              int        `json:"ttl,omitempty"`
	Rotations        uint64     `json:"rotations"`
	DecoyEvents      uint64     `json:"decoy_events"`
	UpdatedAt        time.Time  `json:"updated_at"`
	// Version increases with every publish so writers can drop stale snapshots.
	Version uint64 `json:"version"`
}

// ThreatBand buckets a numeric threat level for display.
type ThreatBand string

const (
	ThreatCalm     ThreatBand = "calm"
	ThreatElevated ThreatBand = "elevated"
	ThreatHigh     ThreatBand = "high"
	ThreatCritical ThreatBand = "critical"
)

// BandFor maps a 0-100 threat level onto its band.
func BandFor(level int) ThreatBand {
	switch {
	case level >= 85:
		return ThreatCritical
	case level >= 60:
		return ThreatHigh
	case level >= 30:
		return ThreatElevated
	default:
		return ThreatCalm
	}
}

// SignalKind names a class of tracking or fingerprinting activity.
type SignalKind string

const (
	SignalCanvasFingerprint SignalKind = "canvas_fingerprint"
	SignalWebGLEnum         SignalKind = "webgl_enumeration"
	SignalFontProbe         SignalKind = "font_measurement_probe"
	SignalAudioFingerprint  SignalKind = "audio_fingerprint"
	SignalWebRTCLeak        SignalKind = "webrtc_stun_request"
	SignalTrackerDomain     SignalKind = "known_tracker_domain"
	SignalTelemetryBeacon   SignalKind = "telemetry_beacon"
	SignalCookieSync        SignalKind = "cookie_sync_pixel"
	SignalPluginEnum        SignalKind = "plugin_enumeration"
	SignalTLSFingerprint    SignalKind = "tls_fingerprint_probe"
)

// ThreatSignal is one observation that raises the threat level until the next rotation.
type ThreatSignal struct {
	Kind       SignalKind `json:"kind"`
	Source     string     `json:"source"`
	Confidence float64    `json:"confidence"`
	ObservedAt time.Time  `json:"observed_at"`
}

// RotationTrigger records why a profile was replaced.
type RotationTrigger string

const (
	TriggerStart     RotationTrigger = "start"
	TriggerManual    RotationTrigger = "manual"
	TriggerScheduled RotationTrigger = "scheduled"
	TriggerThreat    RotationTrigger = "threat"
)

// RotationRecord is the journal entry written for each new profile.
type RotationRecord struct {
	ID           string          `json:"id"`
	AgentID      string          `json:"agent_id"`
	ProfileID    string          `json:"profile_id"`
	Platform     Platform        `json:"platform"`
	TTL          int             `json:"ttl"`
	Timezone     string          `json:"timezone"`
	Trigger      RotationTrigger `json:"trigger"`
	ThreatBefore int             `json:"threat_before"`
	RotatedAt    time.Time       `json:"rotated_at"`
}
