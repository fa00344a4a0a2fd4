// Package recovery rebuilds the core's in-memory state from the latest
// verified snapshot and the event log tail.
package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"TimeMarket/internal/core"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ingestion"
	"TimeMarket/internal/observability"
	"TimeMarket/internal/persistence"
)

const replayBatch = 1000

var ErrHashMismatch = errors.New("state hash mismatch")

// EventSource reads the event log in sequence order.
type EventSource interface {
	EventsFrom(ctx context.Context, from int64, limit int) ([]persistence.EventRow, error)
}

// SnapshotSource yields the latest verified snapshot, or nil on cold start.
type SnapshotSource interface {
	EventSource
	LatestSnapshot(ctx context.Context) (*persistence.SnapshotData, error)
}

// Replay re-applies logged operations to c from its current sequence on. Every
// operation must land on the sequence it was logged at and reproduce the
// logged state hash; anything else means the log and the code disagree and
// startup must stop.
func Replay(ctx context.Context, src EventSource, c *core.DeterministicCore) (int64, error) {
	var n int64
	for {
		rows, err := src.EventsFrom(ctx, c.GetSequence(), replayBatch)
		if err != nil {
			return n, fmt.Errorf("load events from seq %d: %w", c.GetSequence(), err)
		}
		if len(rows) == 0 {
			return n, nil
		}
		for _, row := range rows {
			if err := replayOne(c, row); err != nil {
				return n, err
			}
			n++
		}
	}
}

func replayOne(c *core.DeterministicCore, row persistence.EventRow) error {
	if row.Sequence != c.GetSequence() {
		return fmt.Errorf("event log gap: expected seq %d, found %d", c.GetSequence(), row.Sequence)
	}
	et, ok := event.ParseEventType(row.EventType)
	if !ok {
		return fmt.Errorf("seq %d: unknown event type %q", row.Sequence, row.EventType)
	}
	evt, err := ingestion.Parse(et, row.Payload)
	if err != nil {
		return fmt.Errorf("seq %d: %w", row.Sequence, err)
	}
	receipt, err := c.ProcessEvent(evt)
	if err != nil {
		return fmt.Errorf("seq %d %s rejected on replay: %w", row.Sequence, row.EventType, err)
	}
	if !bytes.Equal(receipt.StateHash[:], row.StateHash) {
		return fmt.Errorf("%w at seq %d: log %x, replay %x", ErrHashMismatch, row.Sequence, row.StateHash, receipt.StateHash)
	}
	return nil
}

// Recover restores the latest snapshot into a scratch core and replays the
// log tail on top. The scratch core has no output channels and no database
// dedup, so replayed operations are neither re-persisted nor mistaken for
// duplicates. The returned state seeds the live core.
func Recover(ctx context.Context, src SnapshotSource, cfg core.Config, metrics *observability.Metrics) (*core.SnapshotState, int64, error) {
	logger := observability.NewLogger("recovery")
	start := time.Now()

	scratch := core.NewDeterministicCore(0, nil, nil, nil, nil, cfg)

	snap, err := src.LatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("snapshot unusable, replaying the full log")
		snap = nil
	}
	if snap != nil {
		scratch.RestoreFromSnapshot(snap.State)
		logger.Info().Int64("seq", snap.State.Sequence).Msg("snapshot restored")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	n, err := Replay(ctx, src, scratch)
	if err != nil {
		return nil, n, err
	}
	if err := scratch.ValidateLedger(); err != nil {
		return nil, n, fmt.Errorf("ledger invariant after replay: %w", err)
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(n))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	logger.Info().Int64("replayed", n).Int64("next_seq", scratch.GetSequence()).
		Str("state_hash", fmt.Sprintf("%x", scratch.GetStateHash())).Msg("recovery complete")
	return scratch.CreateSnapshotState(), n, nil
}

// Outputs replays the whole log through a core that emits every applied
// operation on out, then closes out. Used to rebuild read models.
func Outputs(ctx context.Context, src EventSource, cfg core.Config, out chan<- core.CoreOutput) (int64, error) {
	defer close(out)
	c := core.NewDeterministicCore(0, out, nil, nil, nil, cfg)
	return Replay(ctx, src, c)
}
