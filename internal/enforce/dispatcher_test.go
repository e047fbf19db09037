package enforce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/mocks"
)

func reqFor(id string) schemas.EnforcementRequest {
	return schemas.EnforcementRequest{ProfileID: id, DefaultTTL: 64, PlatformHint: schemas.PlatformLinux}
}

func TestDispatcher(t *testing.T) {
	t.Run("should apply submitted requests with a deadline", func(t *testing.T) {
		adapter := new(mocks.MockEnforcementAdapter)
		applied := make(chan struct{})
		adapter.On("Apply", mock.Anything, mock.MatchedBy(func(r schemas.EnforcementRequest) bool { return r.ProfileID == "p1" })).
			Run(func(args mock.Arguments) {
				ctx := args.Get(0).(context.Context)
				_, hasDeadline := ctx.Deadline()
				assert.True(t, hasDeadline)
				close(applied)
			}).
			Return(schemas.EnforcementResult{Applied: []string{"sysctl_ttl"}})

		d := NewDispatcher(adapter, DispatcherConfig{Workers: 1, QueueSize: 2, ApplyTimeout: time.Second}, zaptest.NewLogger(t))
		d.Start(context.Background())

		require.True(t, d.Submit(reqFor("p1")))

		select {
		case <-applied:
		case <-time.After(2 * time.Second):
			t.Fatal("request was never applied")
		}
		require.NoError(t, d.Close(context.Background()))

		last, ok := d.LastResult()
		require.True(t, ok)
		assert.Equal(t, "p1", last.ProfileID)
		assert.True(t, last.OK())
		adapter.AssertExpectations(t)
	})

	t.Run("should skip stale requests and drop when full", func(t *testing.T) {
		adapter := new(mocks.MockEnforcementAdapter)
		started := make(chan struct{})
		release := make(chan struct{})

		adapter.On("Apply", mock.Anything, mock.MatchedBy(func(r schemas.EnforcementRequest) bool { return r.ProfileID == "first" })).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return(schemas.EnforcementResult{}).Once()
		adapter.On("Apply", mock.Anything, mock.MatchedBy(func(r schemas.EnforcementRequest) bool { return r.ProfileID == "third" })).
			Return(schemas.EnforcementResult{Applied: []string{"sysctl_ttl"}}).Once()

		d := NewDispatcher(adapter, DispatcherConfig{Workers: 1, QueueSize: 2, ApplyTimeout: time.Second}, zaptest.NewLogger(t))
		d.Start(context.Background())

		require.True(t, d.Submit(reqFor("first")))
		<-started

		require.True(t, d.Submit(reqFor("second")))
		require.True(t, d.Submit(reqFor("third")))
		assert.False(t, d.Submit(reqFor("fourth")), "queue of two is already full")

		close(release)
		require.NoError(t, d.Close(context.Background()))

		last, ok := d.LastResult()
		require.True(t, ok)
		assert.Equal(t, "third", last.ProfileID)
		adapter.AssertExpectations(t)
		adapter.AssertNotCalled(t, "Apply", mock.Anything, mock.MatchedBy(func(r schemas.EnforcementRequest) bool { return r.ProfileID == "second" }))
	})

	t.Run("should refuse work after close", func(t *testing.T) {
		d := NewDispatcher(new(mocks.MockEnforcementAdapter), DispatcherConfig{}, zaptest.NewLogger(t))
		d.Start(context.Background())
		require.NoError(t, d.Close(context.Background()))
		assert.False(t, d.Submit(reqFor("late")))
		// A second close is harmless.
		require.NoError(t, d.Close(context.Background()))
	})

	t.Run("should give up waiting when the close deadline passes", func(t *testing.T) {
		adapter := new(mocks.MockEnforcementAdapter)
		release := make(chan struct{})
		started := make(chan struct{})
		adapter.On("Apply", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			close(started)
			<-release
		}).Return(schemas.EnforcementResult{})

		d := NewDispatcher(adapter, DispatcherConfig{Workers: 1}, zaptest.NewLogger(t))
		d.Start(context.Background())
		require.True(t, d.Submit(reqFor("slow")))
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
		close(release)
	})
}
