package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"TimeMarket/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Operations arrive on tm.ops.{domain}.{op_type}.{routing key}. The domain
// picks the durable consumer; the op type picks the parser.
const (
	OpsStream     = "TM_OPS"
	OpsSubjectPfx = "tm.ops"

	maxDeliver = 5
)

// Acker settles a delivered message. jetstream.Msg satisfies it.
type Acker interface {
	Ack() error
	NakWithDelay(delay time.Duration) error
	TermWithReason(reason string) error
}

// InboundOp is one delivered operation awaiting the core.
type InboundOp struct {
	Subject  string
	OpType   string
	Data     []byte
	Received time.Time
	Attempt  uint64 // 1 on first delivery
	msg      Acker
}

// NewInboundOp wraps a message that did not come from JetStream, as in tests.
func NewInboundOp(subject string, data []byte, msg Acker) InboundOp {
	return InboundOp{Subject: subject, OpType: OpTypeFromSubject(subject), Data: data, Received: time.Now(), Attempt: 1, msg: msg}
}

// Done acknowledges the operation: applied, duplicate or rejected by a
// market rule. Redelivery would give the same answer.
func (op InboundOp) Done() { _ = op.msg.Ack() }

// Discard stops redelivery of an operation that can never parse.
func (op InboundOp) Discard(reason string) { _ = op.msg.TermWithReason(reason) }

// Retry asks for redelivery after a delay that grows with each attempt.
func (op InboundOp) Retry() {
	delay := time.Duration(1<<min(op.Attempt, 5)) * 500 * time.Millisecond
	_ = op.msg.NakWithDelay(delay)
}

// domainConsumers keeps a slow slot backlog from holding up profile and
// wallet administration.
var domainConsumers = []struct{ domain, durable string }{
	{"platform", "market-platform"},
	{"wallet", "market-wallets"},
	{"profile", "market-profiles"},
	{"slot", "market-slots"},
}

// SubjectFor is where producers publish an operation.
func SubjectFor(opType, key string) string {
	if key == "" {
		key = "_"
	}
	return strings.Join([]string{OpsSubjectPfx, domainOf(opType), opType, key}, ".")
}

// OpTypeFromSubject returns the op type token of a subject built by
// SubjectFor, or "" for anything else.
func OpTypeFromSubject(subject string) string {
	rest, ok := strings.CutPrefix(subject, OpsSubjectPfx+".")
	if !ok {
		return ""
	}
	tokens := strings.SplitN(rest, ".", 3)
	if len(tokens) < 2 {
		return ""
	}
	return tokens[1]
}

func domainOf(opType string) string {
	switch opType {
	case "init_platform":
		return "platform"
	case "fund_wallet":
		return "wallet"
	case "init_creator_profile", "update_creator_profile", "tip_creator":
		return "profile"
	default:
		return "slot"
	}
}

// OpsConsumer feeds JetStream deliveries to the core loop.
type OpsConsumer struct {
	js      jetstream.JetStream
	out     chan<- InboundOp
	running []jetstream.ConsumeContext
	logger  zerolog.Logger
}

func NewOpsConsumer(js jetstream.JetStream, out chan<- InboundOp) *OpsConsumer {
	return &OpsConsumer{js: js, out: out, logger: observability.NewLogger("ops-consumer")}
}

// Start creates or updates one durable consumer per domain and begins
// delivery. One message in flight per consumer keeps each domain in stream
// order, which is what per-slot bid ordering relies on.
func (c *OpsConsumer) Start(ctx context.Context) error {
	for _, dc := range domainConsumers {
		cons, err := c.js.CreateOrUpdateConsumer(ctx, OpsStream, jetstream.ConsumerConfig{
			Durable:       dc.durable,
			FilterSubject: OpsSubjectPfx + "." + dc.domain + ".>",
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    maxDeliver,
			MaxAckPending: 1,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("consumer %s: %w", dc.durable, err)
		}
		cc, err := cons.Consume(func(msg jetstream.Msg) { c.deliver(ctx, msg) })
		if err != nil {
			return fmt.Errorf("consume %s: %w", dc.durable, err)
		}
		c.running = append(c.running, cc)
		c.logger.Info().Str("domain", dc.domain).Str("durable", dc.durable).Msg("consuming")
	}
	return nil
}

func (c *OpsConsumer) deliver(ctx context.Context, msg jetstream.Msg) {
	op := InboundOp{
		Subject:  msg.Subject(),
		OpType:   OpTypeFromSubject(msg.Subject()),
		Data:     msg.Data(),
		Received: time.Now(),
		Attempt:  1,
		msg:      msg,
	}
	if md, err := msg.Metadata(); err == nil {
		op.Attempt = md.NumDelivered
	}
	select {
	case c.out <- op:
	case <-ctx.Done():
		_ = msg.Nak()
	}
}

// Stop halts delivery. Messages already handed to the core loop still settle.
func (c *OpsConsumer) Stop() {
	for _, cc := range c.running {
		cc.Stop()
	}
	c.logger.Info().Int("consumers", len(c.running)).Msg("consumers stopped")
}

// EnsureStreams creates or updates the inbound operations stream.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      OpsStream,
		Subjects:  []string{OpsSubjectPfx + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("stream %s: %w", OpsStream, err)
	}
	return nil
}

// ConnectNATS dials NATS with unlimited reconnects and opens JetStream.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("timemarketd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
