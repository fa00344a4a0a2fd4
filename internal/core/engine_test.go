package core_test

import (
	"errors"
	"math"
	"testing"

	"TimeMarket/internal/core"
	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"

	"github.com/google/uuid"
)

func TestEngine_DuplicateReturnsReceiptWithoutOutput(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	drainOutputs(m.persist)

	evt := &event.FundWallet{Meta: m.meta(m.admin, 0), Owner: buyer, Asset: "USDC", Amount: 100}
	first := m.apply(evt)
	second := m.apply(evt)

	if first.Duplicate || !second.Duplicate {
		t.Fatalf("duplicate flags = %v/%v", first.Duplicate, second.Duplicate)
	}
	if second.Sequence != first.Sequence || second.StateHash != first.StateHash {
		t.Errorf("duplicate receipt %d/%x, want %d/%x", second.Sequence, second.StateHash, first.Sequence, first.StateHash)
	}
	if got := len(drainOutputs(m.persist)); got != 1 {
		t.Errorf("outputs = %d, want 1", got)
	}
	if m.wallet(buyer) != 100 {
		t.Errorf("wallet = %d, want 100", m.wallet(buyer))
	}
}

func TestEngine_RejectedOperationIsNotMarkedProcessed(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	id := m.createSlot(stableParams(100))

	evt := &event.StableReserve{Meta: m.meta(buyer, 10), SlotRef: event.SlotRef{SlotID: id}, Amount: 100}
	m.expectErr(evt, errs.ErrInsufficientFunds)

	m.fund(buyer, 100)
	if r := m.apply(evt); r.Duplicate {
		t.Fatal("resubmission after a rejection was treated as a duplicate")
	}
}

func TestEngine_PartitionSequence(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fund(buyer, 1_000)
	id := m.createSlot(stableParams(100))

	reserve := func(seq int64) *event.StableReserve {
		meta := m.meta(buyer, 10)
		meta.Sequence = seq
		return &event.StableReserve{Meta: meta, SlotRef: event.SlotRef{SlotID: id}, Amount: 100}
	}

	m.expectErr(reserve(2), errs.ErrSequenceGap)
	m.expectErr(reserve(0), errs.ErrSequenceStale)
	m.apply(reserve(1))

	cancel := &event.StableCancel{Meta: m.meta(buyer, 20), SlotRef: event.SlotRef{SlotID: id}}
	cancel.Sequence = 1
	m.expectErr(cancel, errs.ErrSequenceStale)
	cancel.Sequence = 2
	m.apply(cancel)
}

func TestEngine_FailedOperationLeavesNoTrace(t *testing.T) {
	m := newMarket(t, 500)
	alice, bob := uuid.New(), uuid.New()
	m.fund(alice, 1_000)
	m.fund(bob, 50)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.startAuction(id)
	m.bid(alice, id, 200, 100, nil)
	drainOutputs(m.persist)

	seq, hash := m.core.GetSequence(), m.core.GetStateHash()
	before := m.slot(id)

	// Passes the minimum but bob cannot fund it.
	m.expectErr(&event.BidPlace{Meta: m.meta(bob, 210), SlotRef: event.SlotRef{SlotID: id}, Amount: 200}, errs.ErrInsufficientFunds)

	if m.core.GetSequence() != seq || m.core.GetStateHash() != hash {
		t.Error("sequence or state hash moved")
	}
	after := m.slot(id)
	if !after.Book.IsLeader(alice) || after.Book.HighestBid != before.Book.HighestBid || after.Book.BidCount != before.Book.BidCount {
		t.Errorf("book changed: %+v", after.Book)
	}
	if after.Escrow.AmountLocked != 100 || m.wallet(bob) != 50 {
		t.Errorf("locked %d bob %d", after.Escrow.AmountLocked, m.wallet(bob))
	}
	if got := len(drainOutputs(m.persist)); got != 0 {
		t.Errorf("outputs = %d, want 0", got)
	}
}

func TestEngine_HashChain(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.reservedStableSlot(buyer, 1_000)

	outputs := drainOutputs(m.persist)
	if len(outputs) < 4 {
		t.Fatalf("outputs = %d", len(outputs))
	}
	for i, o := range outputs {
		if o.Envelope.Sequence != int64(i) {
			t.Errorf("envelope %d has sequence %d", i, o.Envelope.Sequence)
		}
		if i > 0 && o.Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("envelope %d does not chain to its predecessor", i)
		}
	}
	if last := outputs[len(outputs)-1].Envelope.StateHash; last != m.core.GetStateHash() {
		t.Error("core hash differs from last envelope")
	}
}

func TestEngine_DeterministicStateHash(t *testing.T) {
	admin, creator, payout, buyer := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	run := func() [32]byte {
		m := newMarketFor(t, 500, core.DefaultConfig(), admin, creator, payout)
		id := m.reservedStableSlot(buyer, 1_000)
		m.apply(&event.StableSettle{Meta: m.meta(buyer, sessionStart), SlotRef: event.SlotRef{SlotID: id}})
		return m.core.GetStateHash()
	}

	if a, b := run(), run(); a != b {
		t.Errorf("same operations produced %x and %x", a, b)
	}
}

func TestEngine_SnapshotRestoreContinuesChain(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fund(buyer, 2_000)
	id := m.createSlot(stableParams(1_000))
	reserve := &event.StableReserve{Meta: m.meta(buyer, 10), SlotRef: event.SlotRef{SlotID: id}, Amount: 1_000}
	m.apply(reserve)

	snap := m.core.CreateSnapshotState()

	restored := *m
	restored.persist = make(chan core.CoreOutput, 64)
	restored.core = core.NewDeterministicCore(0, restored.persist, nil, nil, nil, core.DefaultConfig())
	restored.core.RestoreFromSnapshot(snap)

	if restored.core.GetSequence() != m.core.GetSequence() || restored.core.GetStateHash() != m.core.GetStateHash() {
		t.Fatal("restored core does not match")
	}
	if err := restored.core.ValidateLedger(); err != nil {
		t.Fatalf("restored ledger: %v", err)
	}
	if r := restored.apply(reserve); !r.Duplicate {
		t.Error("idempotency keys not restored")
	}

	settle := &event.StableSettle{Meta: m.meta(buyer, sessionStart), SlotRef: event.SlotRef{SlotID: id}}
	a := m.apply(settle)
	b := restored.apply(settle)
	if a.Sequence != b.Sequence || a.StateHash != b.StateHash {
		t.Errorf("diverged after restore: %d/%x vs %d/%x", a.Sequence, a.StateHash, b.Sequence, b.StateHash)
	}
}

func TestEngine_ProjectionChannelNeverBlocks(t *testing.T) {
	projection := make(chan core.CoreOutput, 1)
	c := core.NewDeterministicCore(0, nil, projection, nil, nil, core.DefaultConfig())
	admin := uuid.New()

	for i := 0; i < 3; i++ {
		evt := &event.FundWallet{
			Meta:   event.Meta{OpID: uuid.New(), Caller: admin, Sequence: event.Unsequenced},
			Owner:  uuid.New(),
			Asset:  "USDC",
			Amount: 10,
		}
		if i == 0 {
			setup := &event.InitPlatform{Meta: event.Meta{OpID: uuid.New(), Caller: admin, Sequence: event.Unsequenced}, FeeBps: 100, Asset: "USDC"}
			if _, err := c.ProcessEvent(setup); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := c.ProcessEvent(evt); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(projection); got != 1 {
		t.Errorf("projection channel holds %d, want 1", got)
	}
	if c.GetSequence() != 4 {
		t.Errorf("sequence = %d, want 4", c.GetSequence())
	}
}

type stubLog struct {
	seen map[string]bool
	err  error
}

func (s *stubLog) IsDuplicate(eventType, key string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.seen[eventType+":"+key], nil
}

func TestEngine_DurableLookupCatchesEvictedKeys(t *testing.T) {
	log := &stubLog{seen: map[string]bool{}}
	c := core.NewDeterministicCore(0, nil, nil, log, nil, core.DefaultConfig())
	admin := uuid.New()
	op := &event.InitPlatform{
		Meta:   event.Meta{OpID: uuid.New(), Caller: admin, Sequence: event.Unsequenced},
		FeeBps: 100,
		Asset:  "USDC",
	}
	log.seen["init_platform:"+op.IdempotencyKey()] = true

	r, err := c.ProcessEvent(op)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Duplicate {
		t.Fatal("operation already in the event log was applied again")
	}
	if c.GetSequence() != 0 {
		t.Errorf("sequence = %d, want 0", c.GetSequence())
	}
}

func TestEngine_DurableLookupFailureRefusesOperation(t *testing.T) {
	outage := errors.New("connection refused")
	c := core.NewDeterministicCore(0, nil, nil, &stubLog{err: outage}, nil, core.DefaultConfig())
	op := &event.InitPlatform{
		Meta:   event.Meta{OpID: uuid.New(), Caller: uuid.New(), Sequence: event.Unsequenced},
		FeeBps: 100,
		Asset:  "USDC",
	}

	_, err := c.ProcessEvent(op)
	if !errors.Is(err, core.ErrDedupUnavailable) || !errors.Is(err, outage) {
		t.Fatalf("err = %v, want ErrDedupUnavailable wrapping the outage", err)
	}
	if c.GetSequence() != 0 {
		t.Errorf("sequence advanced to %d on a refused operation", c.GetSequence())
	}
}

func TestEngine_BalanceOverflowIsRejectedNotFatal(t *testing.T) {
	m := newMarket(t, 500)
	alice, bob := uuid.New(), uuid.New()
	m.fund(alice, math.MaxInt64)
	before := m.core.GetSequence()

	m.expectErr(&event.FundWallet{Meta: m.meta(m.admin, 0), Owner: bob, Asset: "USDC", Amount: math.MaxInt64}, errs.ErrOverflow)
	m.expectErr(&event.FundWallet{Meta: m.meta(m.admin, 0), Owner: alice, Asset: "USDC", Amount: 1}, errs.ErrOverflow)

	if m.core.GetSequence() != before || m.wallet(bob) != 0 {
		t.Errorf("rejected funding left a trace: seq %d bob %d", m.core.GetSequence(), m.wallet(bob))
	}
	m.checkLedger()
}
