package core_test

import (
	"testing"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

func (m *market) reservedStableSlot(buyer uuid.UUID, price int64) uuid.UUID {
	m.t.Helper()
	m.fund(buyer, price)
	id := m.createSlot(stableParams(price))
	m.apply(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: price})
	return id
}

func TestDispute_FreezeBlocksSettlement(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	id := m.reservedStableSlot(buyer, 1_000)

	m.expectErr(&event.RaiseDispute{Meta: m.meta(uuid.New(), 200), SlotRef: event.SlotRef{SlotID: id}, ReasonCode: 3}, errs.ErrUnauthorized)

	r := m.apply(&event.RaiseDispute{Meta: m.meta(buyer, 200), SlotRef: event.SlotRef{SlotID: id}, ReasonCode: 3})
	assertKinds(t, r, event.RecordDisputeRaised)
	if r.Records[0].Value != 3 {
		t.Errorf("reason = %d, want 3", r.Records[0].Value)
	}
	rec := m.slot(id)
	if !rec.Slot.Frozen || rec.Slot.DisputeReason != 3 {
		t.Fatalf("frozen %v reason %d", rec.Slot.Frozen, rec.Slot.DisputeReason)
	}

	ref := event.SlotRef{SlotID: id}
	m.expectErr(&event.StableSettle{Meta: m.meta(buyer, sessionStart), SlotRef: ref}, errs.ErrFrozen)
	m.expectErr(&event.StableCancel{Meta: m.meta(buyer, 300), SlotRef: ref}, errs.ErrFrozen)
	m.expectErr(&event.StableCheckin{Meta: m.meta(buyer, sessionStart), SlotRef: ref}, errs.ErrFrozen)
	m.expectErr(&event.CloseSlot{Meta: m.meta(m.creator, 300), SlotRef: ref}, errs.ErrFrozen)
	m.expectErr(&event.RaiseDispute{Meta: m.meta(m.creator, 300), SlotRef: ref}, errs.ErrFrozen)
}

func TestDispute_ResolveSplitsEscrow(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	id := m.reservedStableSlot(buyer, 1_000)
	ref := event.SlotRef{SlotID: id}
	m.apply(&event.RaiseDispute{Meta: m.meta(m.creator, 200), SlotRef: ref, ReasonCode: 1})

	m.expectErr(&event.ResolveDispute{Meta: m.meta(m.creator, 300), SlotRef: ref, SplitBpsToCreator: 2_500}, errs.ErrUnauthorized)
	m.expectErr(&event.ResolveDispute{Meta: m.meta(m.admin, 300), SlotRef: ref, SplitBpsToCreator: 10_001}, errs.ErrInvalidBps)

	r := m.apply(&event.ResolveDispute{Meta: m.meta(m.admin, 300), SlotRef: ref, SplitBpsToCreator: 2_500})
	assertKinds(t, r, event.RecordDisputeResolved)
	if r.Records[0].Amount != 250 || r.Records[0].Retained != 750 {
		t.Errorf("split = %d/%d, want 250/750", r.Records[0].Amount, r.Records[0].Retained)
	}

	if m.wallet(m.payout) != 250 || m.wallet(buyer) != 750 {
		t.Errorf("payout %d buyer %d", m.wallet(m.payout), m.wallet(buyer))
	}
	if m.feeVault(usdcID) != 0 {
		t.Errorf("fee vault = %d, disputes pay no fee", m.feeVault(usdcID))
	}
	rec := m.slot(id)
	if rec.Slot.State != state.SlotStateSettled || rec.Slot.Frozen {
		t.Errorf("state %s frozen %v", rec.Slot.State, rec.Slot.Frozen)
	}
	if rec.Escrow.AmountLocked != 0 || m.escrow(id) != 0 {
		t.Errorf("escrow left %d", rec.Escrow.AmountLocked)
	}
	m.checkLedger()
}

func TestDispute_FullRefundToBuyer(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	id := m.reservedStableSlot(buyer, 1_000)
	ref := event.SlotRef{SlotID: id}
	m.apply(&event.StableSettle{Meta: m.meta(buyer, sessionStart), SlotRef: ref})
	m.apply(&event.RaiseDispute{Meta: m.meta(buyer, sessionStart+1), SlotRef: ref})

	m.apply(&event.ResolveDispute{Meta: m.meta(m.admin, sessionStart+2), SlotRef: ref, SplitBpsToCreator: 0})

	if got := m.slot(id).Slot.State; got != state.SlotStateRefunded {
		t.Errorf("state = %s, want Refunded", got)
	}
	// T0 was already paid; the remaining half goes back.
	if m.wallet(buyer) != 500 {
		t.Errorf("buyer wallet = %d, want 500", m.wallet(buyer))
	}
	m.checkLedger()
}

func TestDispute_ResolveRequiresFreeze(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	id := m.reservedStableSlot(buyer, 1_000)

	m.expectErr(&event.ResolveDispute{Meta: m.meta(m.admin, 300), SlotRef: event.SlotRef{SlotID: id}, SplitBpsToCreator: 5_000}, errs.ErrNotFrozen)

	open := m.createSlot(stableParams(500))
	m.expectErr(&event.RaiseDispute{Meta: m.meta(m.creator, 300), SlotRef: event.SlotRef{SlotID: open}}, errs.ErrInvalidState)
}

func TestDispute_KeepsQueuedRefunds(t *testing.T) {
	m := newMarket(t, 500)
	alice, bob := uuid.New(), uuid.New()
	m.fund(alice, 1_000)
	m.fund(bob, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	ref := event.SlotRef{SlotID: id}
	m.startAuction(id)
	m.bid(alice, id, 200, 100, nil)
	m.bid(bob, id, 210, 200, nil)
	m.apply(&event.AuctionEnd{Meta: m.meta(m.admin, auctionClose), SlotRef: ref})

	m.apply(&event.RaiseDispute{Meta: m.meta(bob, auctionClose+1), SlotRef: ref})
	m.apply(&event.ResolveDispute{Meta: m.meta(m.admin, auctionClose+2), SlotRef: ref, SplitBpsToCreator: 5_000})

	rec := m.slot(id)
	if rec.Refunds.Outstanding() != 100 || rec.Escrow.AmountLocked != 100 {
		t.Errorf("outstanding %d locked %d, want 100/100", rec.Refunds.Outstanding(), rec.Escrow.AmountLocked)
	}
	m.apply(&event.BidOutbidRefund{Meta: m.meta(alice, auctionClose+3), SlotRef: ref})
	if m.wallet(alice) != 1_000 {
		t.Errorf("alice wallet = %d", m.wallet(alice))
	}
	m.checkLedger()
}
