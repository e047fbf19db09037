// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

// -- Decoy Transport Mock --

// MockTransport mocks the schemas.DecoyTransport interface.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Emit(ctx context.Context, event schemas.TelemetryEvent) error {
	return m.Called(ctx, event).Error(0)
}

// -- Enforcement Adapter Mock --

// MockEnforcementAdapter mocks the schemas.EnforcementAdapter interface.
type MockEnforcementAdapter struct {
	mock.Mock
}

func (m *MockEnforcementAdapter) Apply(ctx context.Context, req schemas.EnforcementRequest) schemas.EnforcementResult {
	args := m.Called(ctx, req)
	if r, ok := args.Get(0).(schemas.EnforcementResult); ok {
		return r
	}
	return schemas.EnforcementResult{ProfileID: req.ProfileID}
}

// -- Status Sink Mock --

// MockStatusSink mocks the schemas.StatusSink interface.
type MockStatusSink struct {
	mock.Mock
}

func (m *MockStatusSink) Publish(status schemas.AgentStatus) error {
	return m.Called(status).Error(0)
}

// -- Rotation Journal Mock --

// MockJournal mocks the schemas.RotationJournal interface.
type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) RecordRotation(ctx context.Context, rec schemas.RotationRecord) error {
	return m.Called(ctx, rec).Error(0)
}

// -- Command Runner Mock --

// MockRunner mocks the enforce.Runner and health command runners.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ret := m.Called(ctx, name, args)
	var out []byte
	if b, ok := ret.Get(0).([]byte); ok {
		out = b
	}
	return out, ret.Error(1)
}
