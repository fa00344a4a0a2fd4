package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"TimeMarket/internal/core"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// SnapshotFormatCBOR tags rows holding Core Deterministic CBOR.
const SnapshotFormatCBOR int32 = 2

var (
	snapEnc cbor.EncMode
	snapDec cbor.DecMode
)

func init() {
	enc := cbor.CoreDetEncOptions()
	enc.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	if snapEnc, err = enc.EncMode(); err != nil {
		panic(fmt.Sprintf("snapshot encoder: %v", err))
	}
	if snapDec, err = (cbor.DecOptions{TextUnmarshaler: cbor.TextUnmarshalerTextString}).DecMode(); err != nil {
		panic(fmt.Sprintf("snapshot decoder: %v", err))
	}
}

// SnapshotData is what a snapshot row stores: the full core state (ledger
// balances, platform, profiles, slots with their bid books and refund
// queues, partition versions, recent dedup keys, chain tip).
type SnapshotData struct {
	State     *core.SnapshotState `cbor:"state"`
	CreatedAt time.Time           `cbor:"created_at"`
}

// EncodeSnapshot is deterministic: equal states encode to equal bytes.
func EncodeSnapshot(snap *SnapshotData) ([]byte, error) {
	return snapEnc.Marshal(snap)
}

func DecodeSnapshot(data []byte) (*SnapshotData, error) {
	snap := new(SnapshotData)
	if err := snapDec.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	if snap.State == nil {
		return nil, errors.New("snapshot carries no state")
	}
	return snap, nil
}

// SaveSnapshot stores snap unverified and returns its encoded size. A row
// only becomes eligible for recovery once VerifySnapshots has matched it
// against the event log.
func (s *Store) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	st := snap.State
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE
			SET data = EXCLUDED.data, state_hash = EXCLUDED.state_hash,
			    size_bytes = EXCLUDED.size_bytes, verified = FALSE`,
		uuid.New(), st.Sequence, data, st.StateHash[:], SnapshotFormatCBOR, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot seq %d: %w", st.Sequence, err)
	}
	return len(data), nil
}

// VerifySnapshots marks every pending snapshot whose state hash equals the
// hash logged at its sequence. Snapshots taken ahead of the persistence
// worker stay pending until their event is durable. It returns the highest
// verified sequence, or -1 if none is.
func (s *Store) VerifySnapshots(ctx context.Context) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE event_log.snapshots AS s
		SET verified = TRUE
		FROM event_log.events AS e
		WHERE NOT s.verified
		  AND e.sequence = s.sequence
		  AND e.state_hash = s.state_hash`); err != nil {
		return -1, fmt.Errorf("verify snapshots: %w", err)
	}
	var top sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.snapshots WHERE verified`).Scan(&top); err != nil {
		return -1, err
	}
	if !top.Valid {
		return -1, nil
	}
	return top.Int64, nil
}

// PruneSnapshots deletes all but the newest keep verified snapshots, plus
// any pending snapshot older than the oldest one kept.
func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM event_log.snapshots
		WHERE sequence < (
			SELECT MIN(sequence) FROM (
				SELECT sequence FROM event_log.snapshots
				WHERE verified ORDER BY sequence DESC LIMIT $1
			) AS newest
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// LatestSnapshot returns the newest verified snapshot, nil on a cold start.
func (s *Store) LatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1`, SnapshotFormatCBOR).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
