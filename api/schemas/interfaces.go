package schemas

import "context"

// -- Collaborator Contracts --

// DecoyTransport emits cover traffic. Implementations should honour ctx and
// return a *TransportError on failure; callers never retry.
type DecoyTransport interface {
	Emit(ctx context.Context, event TelemetryEvent) error
}

// EnforcementAdapter applies a profile to the host network stack.
// It reports failures in the result rather than as an error.
type EnforcementAdapter interface {
	Apply(ctx context.Context, req EnforcementRequest) EnforcementResult
}

// StatusSink receives every published status snapshot.
type StatusSink interface {
	Publish(status AgentStatus) error
}

// RotationJournal persists rotation history.
type RotationJournal interface {
	RecordRotation(ctx context.Context, rec RotationRecord) error
}
