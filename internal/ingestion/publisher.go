package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"TimeMarket/internal/core"
	"TimeMarket/internal/event"
	"TimeMarket/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Applied operations are mirrored to tm.ledger.events.{op_type}.{partition}
// for downstream readers. The stream dedups on the sequence.
const (
	FeedStream     = "TM_LEDGER_EVENTS"
	FeedSubjectPfx = "tm.ledger.events"

	publishAttempts = 3
)

// FeedEvent is the outbound form of one applied operation.
type FeedEvent struct {
	Sequence       int64          `json:"sequence"`
	EventType      string         `json:"event_type"`
	IdempotencyKey string         `json:"idempotency_key"`
	Partition      string         `json:"partition"`
	Records        []event.Record `json:"records"`
	StateHash      string         `json:"state_hash"`
	TimestampUs    int64          `json:"timestamp_us"`
}

func NewFeedEvent(env *event.EventEnvelope) FeedEvent {
	return FeedEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		Records:        env.Records,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		TimestampUs:    env.Timestamp,
	}
}

// Subject turns the partition's colons into subject tokens, so consumers can
// filter on e.g. tm.ledger.events.*.slot.>.
func (e FeedEvent) Subject() string {
	return FeedSubjectPfx + "." + e.EventType + "." + strings.ReplaceAll(e.Partition, ":", ".")
}

// FeedPublisher mirrors durable outputs to JetStream. It never blocks the
// persistence path: a full queue drops, and readers fall back to the log.
type FeedPublisher struct {
	js      jetstream.JetStream
	queue   chan FeedEvent
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewFeedPublisher(js jetstream.JetStream, buffer int, metrics *observability.Metrics) *FeedPublisher {
	return &FeedPublisher{
		js:      js,
		queue:   make(chan FeedEvent, buffer),
		metrics: metrics,
		logger:  observability.NewLogger("feed-publisher"),
	}
}

// Enqueue takes outputs that are already durable.
func (p *FeedPublisher) Enqueue(outputs []core.CoreOutput) {
	for _, out := range outputs {
		if out.Envelope == nil {
			continue
		}
		select {
		case p.queue <- NewFeedEvent(out.Envelope):
		default:
			if p.metrics != nil {
				p.metrics.PublishDrops.Inc()
			}
		}
	}
}

// Run publishes until ctx ends.
func (p *FeedPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.queue:
			if err := p.publish(ctx, ev); err != nil {
				p.logger.Warn().Err(err).Int64("seq", ev.Sequence).Msg("feed publish gave up")
			}
		}
	}
}

func (p *FeedPublisher) publish(ctx context.Context, ev FeedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode seq %d: %w", ev.Sequence, err)
	}
	msg := nats.NewMsg(ev.Subject())
	msg.Data = body
	msg.Header.Set("Tm-Sequence", strconv.FormatInt(ev.Sequence, 10))
	msg.Header.Set("Tm-Event-Type", ev.EventType)

	for attempt := 1; ; attempt++ {
		_, err = p.js.PublishMsg(ctx, msg, jetstream.WithMsgID("tm-"+strconv.FormatInt(ev.Sequence, 10)))
		if err == nil || attempt == publishAttempts || ctx.Err() != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
}

// EnsureFeedStream creates or updates the outbound stream.
func EnsureFeedStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       FeedStream,
		Subjects:   []string{FeedSubjectPfx + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("stream %s: %w", FeedStream, err)
	}
	return nil
}
