package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TimeMarket/internal/core"
	"TimeMarket/internal/event"

	"github.com/google/uuid"
)

// ErrCallerMismatch is returned when a payload names a caller other than the
// authenticated identity.
var ErrCallerMismatch = errors.New("payload caller does not match authenticated caller")

// ErrMalformed marks a payload that could not be decoded into an operation.
var ErrMalformed = errors.New("malformed operation")

// Submission is one operation on its way to the core loop. Reply is nil for
// fire-and-forget sources such as JetStream.
type Submission struct {
	Event      event.Event
	Reply      chan<- SubmitResult
	EnqueuedAt time.Time
}

// SubmitResult is what the core loop answers a Submission with.
type SubmitResult struct {
	Receipt *core.Receipt
	Err     error
}

// GRPCIngestService submits operations from the interactive surface and waits
// for the core's receipt. NATS remains the bulk path.
type GRPCIngestService struct {
	submitChan chan<- Submission
	now        func() time.Time
}

func NewGRPCIngestService(submitChan chan<- Submission) *GRPCIngestService {
	return &GRPCIngestService{submitChan: submitChan, now: time.Now}
}

// Submit parses payload as opType, binds it to caller and blocks until the
// core has applied or rejected it. The operation time is always the gateway
// clock: the core gates deadlines on it, so a client cannot choose it. A
// missing op_id is rejected by the parser.
func (s *GRPCIngestService) Submit(ctx context.Context, opType string, payload []byte, caller uuid.UUID) (*core.Receipt, error) {
	evt, err := ParseOp(opType, payload)
	if err != nil {
		return nil, err
	}

	meta := evt.Header()
	if caller != uuid.Nil {
		if meta.Caller != uuid.Nil && meta.Caller != caller {
			return nil, ErrCallerMismatch
		}
		meta.Caller = caller
	}
	if meta.Caller == uuid.Nil {
		return nil, fmt.Errorf("%w: caller is required", ErrMalformed)
	}
	meta.Time = s.now().UnixMicro()

	return s.Apply(ctx, evt)
}

// Apply hands a typed operation to the core loop and waits for the result.
func (s *GRPCIngestService) Apply(ctx context.Context, evt event.Event) (*core.Receipt, error) {
	reply := make(chan SubmitResult, 1)
	sub := Submission{Event: evt, Reply: reply, EnqueuedAt: s.now()}

	select {
	case s.submitChan <- sub:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.Receipt, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
