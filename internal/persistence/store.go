package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"TimeMarket/internal/core"
)

// Store is the Postgres side of the event log: the append-only events and
// journal tables, the snapshot table and the durable duplicate lookup.
type Store struct {
	db           *sql.DB
	dedupTimeout time.Duration
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, dedupTimeout: 500 * time.Millisecond}
}

// Append writes the events and journals of outputs in one transaction and
// returns how many journal rows it carried.
func (s *Store) Append(ctx context.Context, outputs []core.CoreOutput) (int, error) {
	events := make([][]any, 0, len(outputs))
	var journals [][]any
	for _, out := range outputs {
		ev, js, err := RowsFromOutput(out)
		if err != nil {
			return 0, err
		}
		events = append(events, ev.values())
		for _, j := range js {
			journals = append(journals, j.values())
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &stageError{"tx_begin", err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := execBulk(ctx, tx, eventInsert, events); err != nil {
		return 0, &stageError{"write_events", err}
	}
	if err := execBulk(ctx, tx, journalInsert, journals); err != nil {
		return 0, &stageError{"write_journals", err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &stageError{"tx_commit", err}
	}
	return len(journals), nil
}

func execBulk(ctx context.Context, tx *sql.Tx, ins bulkInsert, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	queries, args := ins.statements(rows)
	for i, q := range queries {
		if _, err := tx.ExecContext(ctx, q, args[i]...); err != nil {
			return err
		}
	}
	return nil
}

// stageError names the step of Append that failed, for metrics.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failedStage(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return "encode"
}

// EventsFrom returns up to limit events starting at from, in order.
func (s *Store) EventsFrom(ctx context.Context, from int64, limit int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, partition_key, payload, records,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence
		LIMIT $2`, from, limit)
	if err != nil {
		return nil, fmt.Errorf("query events from %d: %w", from, err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.Sequence, &r.EventType, &r.IdempotencyKey, &r.Partition, &r.Payload,
			&r.Records, &r.StateHash, &r.PrevHash, &r.Timestamp, &r.SourceSequence); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastSequence is the highest logged sequence, -1 for an empty log.
func (s *Store) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// IsDuplicate reports whether the operation is already logged. It backs the
// core's in-memory dedup window for keys that fell out of it.
func (s *Store) IsDuplicate(eventType, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.dedupTimeout)
	defer cancel()

	var found bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM event_log.events WHERE event_type = $1 AND idempotency_key = $2
		)`, eventType, idempotencyKey).Scan(&found)
	return found, err
}
