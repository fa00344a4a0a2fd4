package ingestion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"TimeMarket/internal/core"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ingestion"

	"github.com/google/uuid"
)

// answerOnce plays the core loop for a single submission.
func answerOnce(ch <-chan ingestion.Submission, got chan<- event.Event) {
	sub := <-ch
	got <- sub.Event
	sub.Reply <- ingestion.SubmitResult{Receipt: &core.Receipt{Sequence: 3}}
}

func TestSubmitBindsAuthenticatedCaller(t *testing.T) {
	ch := make(chan ingestion.Submission)
	got := make(chan event.Event, 1)
	go answerOnce(ch, got)

	svc := ingestion.NewGRPCIngestService(ch)
	who := uuid.MustParse(caller)
	payload := []byte(`{"op_id":"` + opID + `","slot_id":"` + slotID + `","amount":100}`)

	receipt, err := svc.Submit(context.Background(), "stable_reserve", payload, who)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.Sequence != 3 {
		t.Errorf("sequence: got %d, want 3", receipt.Sequence)
	}

	evt := <-got
	if evt.Actor() != who {
		t.Errorf("caller: got %s, want %s", evt.Actor(), who)
	}
	if evt.Timestamp() == 0 {
		t.Error("expected gateway to stamp the operation time")
	}
}

func TestSubmitIgnoresClientTimestamp(t *testing.T) {
	ch := make(chan ingestion.Submission)
	got := make(chan event.Event, 1)
	go answerOnce(ch, got)

	svc := ingestion.NewGRPCIngestService(ch)
	payload := []byte(`{"op_id":"` + opID + `","slot_id":"` + slotID + `","timestamp_us":1000000}`)

	before := time.Now().UnixMicro()
	if _, err := svc.Submit(context.Background(), "stable_cancel", payload, uuid.MustParse(caller)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	after := time.Now().UnixMicro()

	ts := (<-got).Timestamp()
	if ts == 1_000_000 {
		t.Fatal("core received the client-chosen timestamp")
	}
	if ts < before || ts > after {
		t.Errorf("timestamp %d outside gateway clock window [%d, %d]", ts, before, after)
	}
}

func TestSubmitRejectsForeignCaller(t *testing.T) {
	svc := ingestion.NewGRPCIngestService(make(chan ingestion.Submission))
	payload := []byte(`{"op_id":"` + opID + `","caller":"` + caller + `","slot_id":"` + slotID + `"}`)

	_, err := svc.Submit(context.Background(), "close_slot", payload, uuid.New())
	if !errors.Is(err, ingestion.ErrCallerMismatch) {
		t.Errorf("expected ErrCallerMismatch, got %v", err)
	}
}

func TestSubmitRequiresCaller(t *testing.T) {
	svc := ingestion.NewGRPCIngestService(make(chan ingestion.Submission))
	payload := []byte(`{"op_id":"` + opID + `","slot_id":"` + slotID + `"}`)

	if _, err := svc.Submit(context.Background(), "close_slot", payload, uuid.Nil); !errors.Is(err, ingestion.ErrMalformed) {
		t.Errorf("expected ErrMalformed for anonymous submission, got %v", err)
	}
}

func TestApplyHonoursContext(t *testing.T) {
	svc := ingestion.NewGRPCIngestService(make(chan ingestion.Submission))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	evt := &event.CloseSlot{Meta: event.Meta{OpID: uuid.New(), Caller: uuid.New(), Sequence: event.Unsequenced}}
	if _, err := svc.Apply(ctx, evt); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
