package status

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

func snapshot(version uint64, state schemas.AgentState) schemas.AgentStatus {
	return schemas.AgentStatus{
		AgentID:          "a1",
		State:            state,
		CurrentProfileID: "0123456789abcdef",
		ThreatLevel:      5,
		TelemetryEnabled: true,
		Platform:         schemas.PlatformLinux,
		Timezone:         "Europe/Berlin",
		TTL:              64,
		UpdatedAt:        time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC),
		Version:          version,
	}
}

func TestWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run", "status.json")
	w, err := NewWriter(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("should round trip a snapshot", func(t *testing.T) {
		want := snapshot(1, schemas.StateRunning)
		require.NoError(t, w.Publish(want))

		got, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("should write the documented keys", func(t *testing.T) {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		for _, key := range []string{"state", "current_profile_id", "threat_level", "platform", "timezone", "ttl", "telemetry_enabled"} {
			assert.Contains(t, string(raw), `"`+key+`"`)
		}
	})

	t.Run("should ignore older snapshots", func(t *testing.T) {
		require.NoError(t, w.Publish(snapshot(5, schemas.StateRunning)))
		require.NoError(t, w.Publish(snapshot(3, schemas.StateStopped)))

		got, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), got.Version)
		assert.Equal(t, schemas.StateRunning, got.State)
	})

	t.Run("should leave no temp files behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "status.json", entries[0].Name())
	})

	t.Run("should survive concurrent publishers", func(t *testing.T) {
		var wg sync.WaitGroup
		for v := uint64(10); v < 60; v++ {
			wg.Add(1)
			go func(v uint64) {
				defer wg.Done()
				assert.NoError(t, w.Publish(snapshot(v, schemas.StateRunning)))
			}(v)
		}
		wg.Wait()

		got, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, uint64(59), got.Version)
	})
}

func TestWriterErrors(t *testing.T) {
	_, err := NewWriter("", zaptest.NewLogger(t))
	var cfgErr *schemas.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = Read(bad)
	assert.Error(t, err)
}

func TestStale(t *testing.T) {
	st := snapshot(1, schemas.StateRunning)
	now := st.UpdatedAt.Add(time.Minute)

	assert.Empty(t, Stale(st, now, DefaultMaxAge, true))
	assert.Contains(t, Stale(st, st.UpdatedAt.Add(301*time.Second), DefaultMaxAge, true), "old")

	st.State = schemas.StateStopped
	assert.Contains(t, Stale(st, now, 0, true), "state is stopped")
	assert.Empty(t, Stale(st, now, 0, false))
}
