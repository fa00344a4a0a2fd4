package persistence

import (
	"context"
	"time"

	"TimeMarket/internal/core"
	"TimeMarket/internal/observability"

	"github.com/rs/zerolog"
)

// Appender is the write side of the event log.
type Appender interface {
	Append(ctx context.Context, outputs []core.CoreOutput) (int, error)
}

// PersistenceWorker groups core outputs into batches and appends them to the
// event log. The core sends to it with a blocking send, so a slow database
// backs up into the core instead of losing operations.
type PersistenceWorker struct {
	log       Appender
	input     <-chan core.CoreOutput
	maxBatch  int
	linger    time.Duration
	backoff   backoff
	metrics   *observability.Metrics
	logger    zerolog.Logger
	onFlushed func([]core.CoreOutput)
}

func NewPersistenceWorker(
	log Appender,
	input <-chan core.CoreOutput,
	maxBatch int,
	linger time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		log:      log,
		input:    input,
		maxBatch: max(1, maxBatch),
		linger:   linger,
		backoff:  backoff{initial: 100 * time.Millisecond, limit: 30 * time.Second},
		metrics:  metrics,
		logger:   observability.NewLogger("persistence-worker"),
	}
}

// OnFlushed registers fn to see each batch once it is committed. Anything
// announced to the outside world hangs off this hook.
func (pw *PersistenceWorker) OnFlushed(fn func([]core.CoreOutput)) {
	pw.onFlushed = fn
}

// Run collects outputs until the batch is full or linger has passed since
// its first output, then appends. It returns after the input channel closes
// and the final batch is durable, or when ctx ends.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	pending := make([]core.CoreOutput, 0, pw.maxBatch)
	var deadline <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			pw.commit(context.WithoutCancel(ctx), pending)
			return ctx.Err()

		case <-deadline:
			pw.commit(ctx, pending)
			pending, deadline = pending[:0], nil

		case out, ok := <-pw.input:
			if !ok {
				pw.commit(context.WithoutCancel(ctx), pending)
				return nil
			}
			if len(pending) == 0 {
				deadline = time.After(pw.linger)
			}
			pending = append(pending, out)
			if len(pending) == pw.maxBatch {
				pw.commit(ctx, pending)
				pending, deadline = pending[:0], nil
			}
		}
	}
}

// commit appends outputs, retrying until it succeeds. A cancelled ctx gets
// exactly one more attempt on a detached context.
func (pw *PersistenceWorker) commit(ctx context.Context, outputs []core.CoreOutput) {
	if len(outputs) == 0 {
		return
	}
	first := outputs[0].Envelope.Sequence
	last := outputs[len(outputs)-1].Envelope.Sequence

	for attempt := 0; ; attempt++ {
		started := time.Now()
		journals, err := pw.log.Append(ctx, outputs)
		if err == nil {
			pw.observe(outputs, journals, last, time.Since(started))
			if attempt > 0 {
				pw.logger.Info().Int("attempts", attempt+1).Int64("first_seq", first).Msg("append recovered")
			}
			if pw.onFlushed != nil {
				pw.onFlushed(outputs)
			}
			return
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues(failedStage(err)).Inc()
		}
		wait := pw.backoff.after(attempt)
		pw.logger.Error().Err(err).Int64("first_seq", first).Int64("last_seq", last).
			Int("attempt", attempt+1).Dur("retry_in", wait).Msg("append failed")

		if ctx.Err() != nil {
			n, err := pw.log.Append(context.WithoutCancel(ctx), outputs)
			if err != nil {
				pw.logger.Error().Err(err).Int64("first_seq", first).Msg("final append on shutdown failed")
				return
			}
			pw.observe(outputs, n, last, 0)
			if pw.onFlushed != nil {
				pw.onFlushed(outputs)
			}
			return
		}
		if pw.metrics != nil {
			pw.metrics.PersistRetry.Inc()
		}
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
}

func (pw *PersistenceWorker) observe(outputs []core.CoreOutput, journals int, last int64, took time.Duration) {
	if pw.metrics == nil {
		return
	}
	if took > 0 {
		pw.metrics.PersistBatchDur.Observe(took.Seconds())
	}
	pw.metrics.PersistBatchSize.Observe(float64(len(outputs)))
	pw.metrics.PersistEventsWritten.Add(float64(len(outputs)))
	pw.metrics.PersistJournalsWritten.Add(float64(journals))
	pw.metrics.PersistLastSequence.Set(float64(last))
}

// backoff doubles from initial up to limit.
type backoff struct {
	initial, limit time.Duration
}

func (b backoff) after(attempt int) time.Duration {
	d := b.initial
	for range attempt {
		d *= 2
		if d >= b.limit {
			return b.limit
		}
	}
	return d
}
