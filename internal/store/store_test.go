package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func sampleRecord() schemas.RotationRecord {
	return schemas.RotationRecord{
		ID:           uuid.NewString(),
		AgentID:      uuid.NewString(),
		ProfileID:    "9f86d081884c7d65",
		Platform:     schemas.PlatformWindows,
		TTL:          128,
		Timezone:     "America/Chicago",
		Trigger:      schemas.TriggerScheduled,
		ThreatBefore: 41,
		RotatedAt:    time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC),
	}
}

func TestNewStore(t *testing.T) {
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t)
	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS rotations")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordRotation(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert the row and update the agent in one transaction", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		rec := sampleRecord()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO rotations")).
			WithArgs(rec.ID, rec.AgentID, rec.ProfileID, "windows", 128, rec.Timezone, "scheduled", 41, rec.RotatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO agents")).
			WithArgs(rec.AgentID, rec.ProfileID, rec.RotatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		require.NoError(t, s.RecordRotation(ctx, rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should skip the summary update for a replayed record", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		rec := sampleRecord()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO rotations")).
			WithArgs(rec.ID, rec.AgentID, rec.ProfileID, pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mockPool.ExpectRollback()

		require.NoError(t, s.RecordRotation(ctx, rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := s.RecordRotation(ctx, sampleRecord())
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if the insert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t)
		insertErr := errors.New("unique violation")

		rec := sampleRecord()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO rotations")).
			WithArgs(rec.ID, rec.AgentID, rec.ProfileID, pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.RecordRotation(ctx, rec)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecentRotations(t *testing.T) {
	s, mockPool := newMockStore(t)
	rec := sampleRecord()

	columns := []string{"id", "agent_id", "profile_id", "platform", "ttl", "timezone", "trigger", "threat_before", "rotated_at"}
	rows := pgxmock.NewRows(columns).
		AddRow(rec.ID, rec.AgentID, rec.ProfileID, "windows", 128, rec.Timezone, "scheduled", 41, rec.RotatedAt)

	mockPool.ExpectQuery(regexp.QuoteMeta("FROM rotations")).
		WithArgs("", DefaultListLimit).
		WillReturnRows(rows)

	got, err := s.RecentRotations(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "seed")

	_, ok, err := LoadSeed(path)
	require.NoError(t, err)
	assert.False(t, ok, "a missing seed file is not an error")

	require.NoError(t, SaveSeed(path, 18446744073709551557))
	seed, ok, err := LoadSeed(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(18446744073709551557), seed)

	require.NoError(t, SaveSeed(path, 0))
	seed, ok, err = LoadSeed(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, seed)
}

func TestSeedFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, SaveSeed(path, 1))
	require.NoError(t, writeRaw(path, "not-a-number"))

	_, _, err := LoadSeed(path)
	var cfgErr *schemas.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "agent.seed_file", cfgErr.Field)
}

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
