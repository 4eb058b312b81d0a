package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager stores and loads full-state snapshots for warm restarts.
// The snapshot payload is the dispatcher's serialized state: every house
// aggregate, the sequence counters, the hash chain head, and the recent
// idempotency keys for LRU warming. The manager treats it as opaque JSON;
// the orchestrator owns the encoding.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically; a later integrity check flips the verified flag.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, sequence int64, stateHash []byte, data []byte) error {
	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded dispatcher state

	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, sequence, data, stateHash, formatVersion, len(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. A nil result
// with a nil error means cold start: no snapshot exists yet.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (int64, []byte, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT sequence, data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var sequence int64
	var data []byte
	if err := row.Scan(&sequence, &data); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil, nil // No snapshot — cold start
		}
		return 0, nil, fmt.Errorf("load snapshot: %w", err)
	}

	return sequence, data, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay: warm
// restarts replay from snapshot.sequence+1, cold restarts from zero.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, house_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.HouseID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}
