package main

import (
	"context"
	"time"

	"TimeMarket/internal/core"
	"TimeMarket/internal/errs"
	"TimeMarket/internal/ingestion"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// coreLoop is the only goroutine that touches the core once it is running.
// Snapshots are captured here too and handed to a saver, so nothing reads
// core state concurrently.
type coreLoop struct {
	core          *core.DeterministicCore
	submissions   <-chan ingestion.Submission
	inbound       <-chan ingestion.InboundOp
	snapshots     chan<- *core.SnapshotState
	snapshotEvery int64
	lastSnapshot  int64
	ingestLatency *prometheus.HistogramVec
	logger        zerolog.Logger
}

func (l *coreLoop) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-l.submissions:
			l.handleSubmission(sub)
		case op := <-l.inbound:
			l.handleInbound(op)
		}
		l.maybeSnapshot()
	}
}

func (l *coreLoop) handleSubmission(sub ingestion.Submission) {
	receipt, err := l.core.ProcessEvent(sub.Event)
	if err != nil {
		l.logger.Debug().Err(err).Str("type", sub.Event.EventType().String()).
			Dur("queued", time.Since(sub.EnqueuedAt)).Msg("operation rejected")
	} else if l.ingestLatency != nil {
		l.ingestLatency.WithLabelValues(sub.Event.EventType().String()).Observe(time.Since(sub.EnqueuedAt).Seconds())
	}
	if sub.Reply != nil {
		sub.Reply <- ingestion.SubmitResult{Receipt: receipt, Err: err}
	}
}

// handleInbound applies one JetStream delivery. The ops stream carries
// trusted internal producers, which stamp their own operation time; an
// unstamped one takes its delivery time. Operations that cannot parse are
// terminated and rejected ones acked, since redelivery would fail the same
// way. Failures outside the domain taxonomy, such as the dedup store being
// unreachable, are redelivered with backoff.
func (l *coreLoop) handleInbound(op ingestion.InboundOp) {
	evt, err := ingestion.ParseOp(op.OpType, op.Data)
	if err != nil {
		l.logger.Warn().Err(err).Str("subject", op.Subject).Msg("discarding malformed operation")
		op.Discard(err.Error())
		return
	}
	if meta := evt.Header(); meta.Time == 0 {
		meta.Time = op.Received.UnixMicro()
	}

	if _, err := l.core.ProcessEvent(evt); err != nil {
		if _, domain := errs.As(err); !domain {
			l.logger.Error().Err(err).Str("subject", op.Subject).Uint64("attempt", op.Attempt).
				Msg("operation failed, requesting redelivery")
			op.Retry()
			return
		}
		l.logger.Info().Str("code", errs.Code(err)).Str("subject", op.Subject).Msg("operation rejected")
	}
	if l.ingestLatency != nil {
		l.ingestLatency.WithLabelValues(op.OpType).Observe(time.Since(op.Received).Seconds())
	}
	op.Done()
}

func (l *coreLoop) maybeSnapshot() {
	last := l.core.GetSequence() - 1
	if l.snapshotEvery <= 0 || last-l.lastSnapshot < l.snapshotEvery {
		return
	}
	if len(l.snapshots) == cap(l.snapshots) {
		// Saver still busy with the previous one.
		return
	}
	l.snapshots <- l.core.CreateSnapshotState()
	l.lastSnapshot = last
}
