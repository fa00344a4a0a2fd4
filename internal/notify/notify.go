// Package notify forwards collectible mint grants and tips to RabbitMQ for
// the off-ledger services that act on them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TimeMarket/internal/core"
	"TimeMarket/internal/event"
	"TimeMarket/internal/observability"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	QueueCollectibleMint = "collectible.mint"
	QueueTips            = "tips.notify"
)

// MintMessage asks the collectible service to mint one token.
type MintMessage struct {
	SlotID    uuid.UUID `json:"slot_id"`
	Mint      uuid.UUID `json:"mint"`
	Recipient uuid.UUID `json:"recipient"`
	Authority uuid.UUID `json:"authority"`
	IssuedAt  int64     `json:"issued_at_us"`
	Sequence  int64     `json:"sequence"`
}

// TipMessage tells a creator about a tip.
type TipMessage struct {
	ProfileID   uuid.UUID  `json:"profile_id"`
	SlotID      *uuid.UUID `json:"slot_id,omitempty"`
	Tipper      uuid.UUID  `json:"tipper"`
	Amount      int64      `json:"amount"`
	MessageHash string     `json:"message_hash,omitempty"`
	Timestamp   int64      `json:"timestamp_us"`
	Sequence    int64      `json:"sequence"`
}

// Message is one outbound delivery.
type Message struct {
	Queue string
	ID    string
	Body  any
}

// Messages derives the deliveries for one applied operation. IDs depend only
// on the sequence, so a consumer can deduplicate redeliveries.
func Messages(out core.CoreOutput) []Message {
	if out.Envelope == nil {
		return nil
	}
	seq := out.Envelope.Sequence
	var msgs []Message
	for i, g := range out.Mints {
		msgs = append(msgs, Message{
			Queue: QueueCollectibleMint,
			ID:    fmt.Sprintf("mint-%d-%d", seq, i),
			Body: MintMessage{
				SlotID:    g.SlotID(),
				Mint:      g.Mint(),
				Recipient: g.Recipient(),
				Authority: g.Authority(),
				IssuedAt:  g.IssuedAt(),
				Sequence:  seq,
			},
		})
	}
	for i, r := range out.Envelope.Records {
		if r.Kind != event.RecordTip && r.Kind != event.RecordSessionTip {
			continue
		}
		m := TipMessage{
			ProfileID: r.ProfileID,
			Tipper:    r.Actor,
			Amount:    r.Amount,
			Timestamp: r.Timestamp,
			Sequence:  seq,
		}
		if r.Kind == event.RecordSessionTip {
			id := r.SlotID
			m.SlotID = &id
		}
		if r.MessageHash != nil {
			m.MessageHash = fmt.Sprintf("%x", r.MessageHash[:])
		}
		msgs = append(msgs, Message{Queue: QueueTips, ID: fmt.Sprintf("tip-%d-%d", seq, i), Body: m})
	}
	return msgs
}

// Channel is the part of *amqp.Channel the notifier uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Notifier publishes messages for durable outputs. Enqueue never blocks the
// persistence worker: when the buffer is full the message is dropped and
// counted; grants and tips stay queryable from the event log.
type Notifier struct {
	ch      Channel
	queue   chan Message
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewNotifier(ch Channel, buffer int, metrics *observability.Metrics) *Notifier {
	return &Notifier{
		ch:      ch,
		queue:   make(chan Message, buffer),
		metrics: metrics,
		logger:  observability.NewLogger("notifier"),
	}
}

// Declare creates the durable queues.
func (n *Notifier) Declare() error {
	for _, q := range []string{QueueCollectibleMint, QueueTips} {
		if _, err := n.ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", q, err)
		}
	}
	return nil
}

// Enqueue schedules the messages of each output.
func (n *Notifier) Enqueue(outputs []core.CoreOutput) {
	for _, out := range outputs {
		for _, m := range Messages(out) {
			select {
			case n.queue <- m:
			default:
				n.countError(m.Queue)
				n.logger.Warn().Str("queue", m.Queue).Str("id", m.ID).Msg("notification buffer full, dropped")
			}
		}
	}
}

// Run publishes queued messages until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-n.queue:
			if err := n.publish(ctx, m); err != nil {
				n.countError(m.Queue)
				n.logger.Error().Err(err).Str("queue", m.Queue).Str("id", m.ID).Msg("notification publish failed")
				continue
			}
			if n.metrics != nil {
				n.metrics.NotificationsSent.WithLabelValues(m.Queue).Inc()
			}
		}
	}
}

func (n *Notifier) publish(ctx context.Context, m Message) error {
	body, err := json.Marshal(m.Body)
	if err != nil {
		return err
	}
	return n.ch.PublishWithContext(ctx, "", m.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (n *Notifier) countError(queue string) {
	if n.metrics != nil {
		n.metrics.NotificationErrors.WithLabelValues(queue).Inc()
	}
}

// Dial opens a connection and channel to the broker.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}
	return conn, ch, nil
}
