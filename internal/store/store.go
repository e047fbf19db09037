// Package store persists the rotation journal in PostgreSQL and the engine
// seed on local disk.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DefaultListLimit caps RecentRotations when the caller passes no limit.
const DefaultListLimit = 50

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rotations (
    id            UUID PRIMARY KEY,
    agent_id      UUID NOT NULL,
    profile_id    TEXT NOT NULL,
    platform      TEXT NOT NULL,
    ttl           INTEGER NOT NULL,
    timezone      TEXT NOT NULL,
    trigger       TEXT NOT NULL,
    threat_before INTEGER NOT NULL,
    rotated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rotations_rotated_at_idx ON rotations (rotated_at DESC);
CREATE TABLE IF NOT EXISTS agents (
    id              UUID PRIMARY KEY,
    last_profile_id TEXT NOT NULL,
    rotations       BIGINT NOT NULL DEFAULT 0,
    last_seen       TIMESTAMPTZ NOT NULL
);`

const insertRotationSQL = `
INSERT INTO rotations (id, agent_id, profile_id, platform, ttl, timezone, trigger, threat_before, rotated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING;`

const upsertAgentSQL = `
INSERT INTO agents (id, last_profile_id, rotations, last_seen)
VALUES ($1, $2, 1, $3)
ON CONFLICT (id) DO UPDATE SET
    last_profile_id = EXCLUDED.last_profile_id,
    rotations = agents.rotations + 1,
    last_seen = EXCLUDED.last_seen;`

const recentRotationsSQL = `
SELECT id, agent_id, profile_id, platform, ttl, timezone, trigger, threat_before, rotated_at
FROM rotations
WHERE ($1 = '' OR agent_id::text = $1)
ORDER BY rotated_at DESC
LIMIT $2;`

// Store is the PostgreSQL rotation journal. It implements schemas.RotationJournal.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// EnsureSchema creates the journal tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// RecordRotation inserts one journal row and bumps the agent's summary in a
// single transaction. Replaying the same record is harmless.
func (s *Store) RecordRotation(ctx context.Context, rec schemas.RotationRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	tag, err := tx.Exec(ctx, insertRotationSQL,
		rec.ID, rec.AgentID, rec.ProfileID, string(rec.Platform), rec.TTL,
		rec.Timezone, string(rec.Trigger), rec.ThreatBefore, rec.RotatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rotation %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Rotation already journaled", zap.String("id", rec.ID))
		return nil
	}

	if _, err := tx.Exec(ctx, upsertAgentSQL, rec.AgentID, rec.ProfileID, rec.RotatedAt); err != nil {
		return fmt.Errorf("failed to update agent %s: %w", rec.AgentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecentRotations lists the newest rotations, optionally for one agent.
func (s *Store) RecentRotations(ctx context.Context, agentID string, limit int) ([]schemas.RotationRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.pool.Query(ctx, recentRotationsSQL, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotations: %w", err)
	}
	defer rows.Close()

	var out []schemas.RotationRecord
	for rows.Next() {
		var rec schemas.RotationRecord
		var platform, trigger string
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.ProfileID, &platform, &rec.TTL,
			&rec.Timezone, &trigger, &rec.ThreatBefore, &rec.RotatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rotation row: %w", err)
		}
		rec.Platform = schemas.Platform(platform)
		rec.Trigger = schemas.RotationTrigger(trigger)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
