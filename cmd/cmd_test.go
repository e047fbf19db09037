package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/agent"
	"github.com/xkilldash9x/spicy-cat/internal/chaos"
	"github.com/xkilldash9x/spicy-cat/internal/config"
	"github.com/xkilldash9x/spicy-cat/internal/enforce"
	"github.com/xkilldash9x/spicy-cat/internal/health"
	"github.com/xkilldash9x/spicy-cat/internal/profile"
	"github.com/xkilldash9x/spicy-cat/internal/store"
	"github.com/xkilldash9x/spicy-cat/internal/telemetry"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 2, ExitCode(fmt.Errorf("wrapped: %w", &exitError{code: 2})))
}

func TestResolveSeed(t *testing.T) {
	logger := zap.NewNop()

	t.Run("explicit seed wins", func(t *testing.T) {
		seed, err := resolveSeed(config.AgentConfig{Seed: 42, SeedPhrase: "ignored"}, logger)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), seed)
	})

	t.Run("phrase derives a stable seed", func(t *testing.T) {
		seed, err := resolveSeed(config.AgentConfig{SeedPhrase: "purr"}, logger)
		require.NoError(t, err)
		assert.Equal(t, chaos.SeedFromString("purr"), seed)
	})

	t.Run("random seed is persisted and reused", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "seed")
		first, err := resolveSeed(config.AgentConfig{SeedFile: path}, logger)
		require.NoError(t, err)

		saved, ok, err := store.LoadSeed(path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first, saved)

		second, err := resolveSeed(config.AgentConfig{SeedFile: path}, logger)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestPreviewProfilesMatchRotations(t *testing.T) {
	gen, err := profile.NewGenerator(profile.DefaultTables())
	require.NoError(t, err)

	previews, err := previewProfiles(gen, 42, 3, true)
	require.NoError(t, err)
	require.Len(t, previews, 3)

	ids := map[string]bool{}
	for _, p := range previews {
		assert.True(t, schemas.IsSanctioned(p.Profile.Platform, p.Profile.TCPTTL))
		assert.Equal(t, p.Profile.TCPTTL, p.Enforcement.DefaultTTL)
		assert.Equal(t, p.Profile.ProfileID, p.Enforcement.ProfileID)
		ids[p.Profile.ProfileID] = true
	}
	assert.Len(t, ids, 3, "consecutive profiles have distinct ids")

	again, err := previewProfiles(gen, 42, 3, true)
	require.NoError(t, err)
	for i := range previews {
		assert.Equal(t, previews[i].Profile.UserAgent, again[i].Profile.UserAgent)
		assert.Equal(t, previews[i].Profile.Platform, again[i].Profile.Platform)
	}
}

func TestAgentOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telemetry.ChaosEnabled = true
	cfg.Telemetry.IntervalSeconds = 2.5
	cfg.Telemetry.JitterFraction = 0.3
	cfg.Rotation.Mode = "scheduled"
	cfg.Rotation.Interval = time.Hour
	cfg.Rotation.AutoRotateThreshold = 80
	cfg.Agent.ThreatBaseline = 7

	opts := agentOptions(cfg, 9, profile.DefaultTables())
	assert.Equal(t, uint64(9), opts.Seed)
	assert.True(t, opts.TelemetryEnabled)
	assert.Equal(t, 2500*time.Millisecond, opts.Planner.Interval)
	assert.Equal(t, 0.3, opts.Planner.JitterFraction)
	assert.Equal(t, agent.RotateScheduled, opts.RotationMode)
	assert.Equal(t, time.Hour, opts.RotationInterval)
	assert.Equal(t, 80, opts.AutoRotateThreshold)
	assert.Equal(t, 7, opts.Threat.Baseline)
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printReport(cmd, health.Report{
		Results: []health.Result{
			{Name: health.CheckProcess, OK: true},
			{Name: health.CheckTTL, OK: false, Detail: "no ttl rule"},
		},
		Failed: 1,
	})

	out := buf.String()
	assert.Contains(t, out, "[ok  ] process")
	assert.Contains(t, out, "no ttl rule")
	assert.Contains(t, out, "1/2 checks failed: healthy")
}

func TestSignalRotateWaitOutlastsEmission(t *testing.T) {
	cfg := &config.Config{}
	assert.Greater(t, signalRotateWait(cfg), telemetry.DefaultEmitTimeout)

	cfg.Telemetry.EmitTimeout = 20 * time.Second
	assert.Greater(t, signalRotateWait(cfg), 20*time.Second)
}

func TestFactoryDrainsEnforcementAfterCancel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Agent.Seed = 42
	cfg.Status.Path = filepath.Join(t.TempDir(), "status.json")
	cfg.Rotation.Mode = "manual"
	cfg.Enforcement.Enabled = true
	cfg.Enforcement.DryRun = true
	cfg.Enforcement.Workers = 1
	cfg.Enforcement.QueueSize = 4
	cfg.Enforcement.ApplyTimeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	components, err := NewComponentFactory(zap.NewNop()).Create(ctx, cfg)
	require.NoError(t, err)

	// Shutdown happens after the command context is gone.
	cancel()

	gen, err := profile.NewGenerator(profile.DefaultTables())
	require.NoError(t, err)
	p, err := gen.Generate(chaos.New(42))
	require.NoError(t, err)
	require.True(t, components.Dispatcher.Submit(enforce.RequestFor(p, true)))

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	components.Shutdown(shutdownCtx, zap.NewNop())

	result, ok := components.Dispatcher.LastResult()
	require.True(t, ok)
	assert.True(t, result.OK(), "queued request applied with a dead context: %v", result.Err())
	assert.Equal(t, p.ProfileID, result.ProfileID)
}
