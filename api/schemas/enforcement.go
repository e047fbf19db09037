package schemas

import (
	"errors"
	"time"
)

// EnforcementRequest is everything the OS layer needs to make the host match a profile.
type EnforcementRequest struct {
	DefaultTTL       int      `json:"default_ttl"`
	TCPWindowScaling bool     `json:"tcp_window_scaling"`
	PlatformHint     Platform `json:"platform_hint"`
	WindowSize       int      `json:"window_size"`
	Timezone         string   `json:"timezone,omitempty"`
	BlockLeakPorts   bool     `json:"block_leak_ports"`
	ProfileID        string   `json:"profile_id"`
	// Seq orders requests; an adapter may skip anything older than the newest seen.
	Seq uint64 `json:"seq"`
}

// EnforcementStep is the outcome of a single privileged operation.
type EnforcementStep struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// EnforcementResult is a best-effort report. It is logged and surfaced in
// status output but never aborts the caller.
type EnforcementResult struct {
	ProfileID string            `json:"profile_id"`
	Applied   []string          `json:"applied"`
	Failed    []EnforcementStep `json:"failed,omitempty"`
	Skipped   bool              `json:"skipped,omitempty"`
	Finished  time.Time         `json:"finished"`
}

// OK reports whether every step succeeded.
func (r EnforcementResult) OK() bool {
	return len(r.Failed) == 0
}

// Err joins the failed steps into a single error, or returns nil.
func (r EnforcementResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, &EnforcementError{Step: f.Name, Err: f.Err})
	}
	return errors.Join(errs...)
}
