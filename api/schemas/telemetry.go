package schemas

import "time"

// DecoyMethod names the kind of cover traffic a tick emits.
type DecoyMethod string

const (
	MethodHeadProbe    DecoyMethod = "head_probe"
	MethodDNSLookup    DecoyMethod = "dns_lookup"
	MethodPaddingDelay DecoyMethod = "padding_delay"
)

// TelemetryEvent describes one planned decoy emission. It lives for a single tick.
type TelemetryEvent struct {
	Method      DecoyMethod   `json:"method"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	JitterMs    int64         `json:"jitter_ms"`
	Target      string        `json:"target,omitempty"`
	UserAgent   string        `json:"user_agent,omitempty"`
	Browser     Browser       `json:"browser,omitempty"`
	Padding     time.Duration `json:"padding,omitempty"`
	// Phantom is the hostname of the fake device the event impersonates, if any.
	Phantom string `json:"phantom,omitempty"`
}
