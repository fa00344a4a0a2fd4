package core_test

import (
	"testing"

	"TimeMarket/internal/core"
	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

func (m *market) startAuction(id uuid.UUID) {
	m.t.Helper()
	m.apply(&event.AuctionStart{Meta: m.meta(m.creator, auctionOpen), SlotRef: event.SlotRef{SlotID: id}})
}

func (m *market) bid(bidder, id uuid.UUID, now, amount int64, maxAuto *int64) *core.Receipt {
	m.t.Helper()
	return m.apply(&event.BidPlace{Meta: m.meta(bidder, now), SlotRef: event.SlotRef{SlotID: id}, Amount: amount, MaxAutoBid: maxAuto})
}

func ptr(v int64) *int64 { return &v }

func TestAuction_StartGuards(t *testing.T) {
	m := newMarket(t, 500)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))

	m.expectErr(&event.AuctionStart{Meta: m.meta(uuid.New(), auctionOpen), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrUnauthorized)
	m.expectErr(&event.AuctionStart{Meta: m.meta(m.creator, auctionOpen-1), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrTooEarly)

	m.startAuction(id)
	if got := m.slot(id).Slot.State; got != state.SlotStateAuctionLive {
		t.Errorf("state = %s, want AuctionLive", got)
	}
}

func TestAuction_BidValidation(t *testing.T) {
	m := newMarket(t, 500)
	alice, bob := uuid.New(), uuid.New()
	m.fund(alice, 1_000)
	m.fund(bob, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.startAuction(id)

	m.expectErr(&event.BidPlace{Meta: m.meta(alice, 200), SlotRef: event.SlotRef{SlotID: id}, Amount: 99}, errs.ErrBidTooLow)
	m.expectErr(&event.BidPlace{Meta: m.meta(m.creator, 200), SlotRef: event.SlotRef{SlotID: id}, Amount: 100}, errs.ErrUnauthorized)
	m.expectErr(&event.BidPlace{Meta: m.meta(alice, 200), SlotRef: event.SlotRef{SlotID: id}, Amount: 100, MaxAutoBid: ptr(50)}, errs.ErrInvalidAutoBid)
	m.expectErr(&event.BidPlace{Meta: m.meta(alice, auctionClose), SlotRef: event.SlotRef{SlotID: id}, Amount: 100}, errs.ErrTooLate)

	// The reserve price itself is a valid opening bid.
	m.bid(alice, id, 200, 100, nil)
	// 10% of 100
	m.expectErr(&event.BidPlace{Meta: m.meta(bob, 210), SlotRef: event.SlotRef{SlotID: id}, Amount: 109}, errs.ErrBidTooLow)
	m.bid(bob, id, 210, 110, nil)

	rec := m.slot(id)
	if !rec.Book.IsLeader(bob) || rec.Book.HighestBid != 110 {
		t.Errorf("leader %v at %d, want bob at 110", rec.Book.HighestBidder, rec.Book.HighestBid)
	}
	if rec.Book.NextMinBid != 121 {
		t.Errorf("next min = %d, want 121", rec.Book.NextMinBid)
	}
	if rec.Escrow.AmountLocked != 210 || rec.Refunds.Outstanding() != 100 {
		t.Errorf("locked %d outstanding %d, want 210/100", rec.Escrow.AmountLocked, rec.Refunds.Outstanding())
	}
	m.checkLedger()
}

func TestAuction_OpeningBidAtReservePrice(t *testing.T) {
	m := newMarket(t, 500)
	alice := uuid.New()
	m.fund(alice, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.startAuction(id)

	if rec := m.slot(id); rec.Book.NextMinBid != 100 {
		t.Fatalf("opening minimum = %d, want the price 100", rec.Book.NextMinBid)
	}
	m.expectErr(&event.BidPlace{Meta: m.meta(alice, 200), SlotRef: event.SlotRef{SlotID: id}, Amount: 99}, errs.ErrBidTooLow)
	m.bid(alice, id, 200, 100, nil)

	rec := m.slot(id)
	if !rec.Book.IsLeader(alice) || rec.Book.HighestBid != 100 {
		t.Errorf("leader %v at %d, want alice at 100", rec.Book.HighestBidder, rec.Book.HighestBid)
	}
	if rec.Escrow.AmountLocked != 100 || rec.Refunds.Outstanding() != 0 {
		t.Errorf("locked %d outstanding %d, want 100/0", rec.Escrow.AmountLocked, rec.Refunds.Outstanding())
	}
	m.checkLedger()
}

func TestAuction_RefundQueueIsFIFO(t *testing.T) {
	m := newMarket(t, 500)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	for _, p := range []uuid.UUID{alice, bob, carol} {
		m.fund(p, 1_000)
	}
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.startAuction(id)

	m.bid(alice, id, 200, 100, nil)
	m.bid(bob, id, 210, 110, nil)
	m.bid(carol, id, 220, 121, nil)

	claim := func(who uuid.UUID) *event.BidOutbidRefund {
		return &event.BidOutbidRefund{Meta: m.meta(who, 230), SlotRef: event.SlotRef{SlotID: id}}
	}

	m.expectErr(claim(bob), errs.ErrRefundsPending)
	m.expectErr(claim(carol), errs.ErrUnauthorized)

	r := m.apply(claim(alice))
	assertKinds(t, r, event.RecordOutbidRefunded)
	if r.Records[0].Amount != 100 {
		t.Errorf("refund = %d, want 100", r.Records[0].Amount)
	}
	m.apply(claim(bob))
	m.expectErr(claim(bob), errs.ErrNothingToRefund)

	if m.wallet(alice) != 1_000 || m.wallet(bob) != 1_000 {
		t.Errorf("wallets alice=%d bob=%d, want 1000 each", m.wallet(alice), m.wallet(bob))
	}
	rec := m.slot(id)
	if rec.Refunds.Head != 2 || rec.Escrow.AmountLocked != 121 {
		t.Errorf("cursor %d locked %d, want 2/121", rec.Refunds.Head, rec.Escrow.AmountLocked)
	}
	m.checkLedger()
}

func TestAuction_AntiSnipeExtendsOnce(t *testing.T) {
	m := newMarket(t, 500)
	alice := uuid.New()
	m.fund(alice, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 60))
	m.startAuction(id)

	r := m.bid(alice, id, auctionClose-60, 100, nil)
	assertKinds(t, r, event.RecordBidPlaced, event.RecordAuctionExtended)
	if r.Records[1].Value != auctionClose+60 {
		t.Errorf("new end = %d, want %d", r.Records[1].Value, auctionClose+60)
	}

	r = m.bid(alice, id, auctionClose-50, 110, nil)
	assertKinds(t, r, event.RecordBidPlaced)
}

func TestAuction_ProxyBidOutbidsManualBid(t *testing.T) {
	m := newMarket(t, 500)
	alice, bob := uuid.New(), uuid.New()
	m.fund(alice, 1_000)
	m.fund(bob, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.startAuction(id)

	m.bid(alice, id, 200, 100, ptr(300))
	if got := m.wallet(alice); got != 700 {
		t.Fatalf("alice wallet = %d, want 700 (ceiling deposited)", got)
	}

	r := m.bid(bob, id, 210, 150, nil)
	assertKinds(t, r, event.RecordBidPlaced, event.RecordBidPlaced)
	if !r.Records[1].Proxy || r.Records[1].Actor != alice || r.Records[1].Amount != 165 {
		t.Errorf("proxy record = %+v", r.Records[1])
	}

	rec := m.slot(id)
	if !rec.Book.IsLeader(alice) || rec.Book.HighestBid != 165 || rec.Book.LeaderDeposit != 300 {
		t.Errorf("book = %+v", rec.Book)
	}
	if head, ok := rec.Refunds.Peek(); !ok || head.Bidder != bob || head.Amount != 150 {
		t.Errorf("queue head = %+v", head)
	}
	m.checkLedger()
}

func TestAuction_ProxyWarSettlesJustAboveLosingCeiling(t *testing.T) {
	m := newMarket(t, 500)
	alice, bob := uuid.New(), uuid.New()
	m.fund(alice, 1_000)
	m.fund(bob, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.startAuction(id)

	m.bid(alice, id, 200, 100, ptr(300))
	r := m.bid(bob, id, 210, 120, ptr(200))

	// 183 is the least bid whose next minimum (183+18) is out of bob's reach.
	assertKinds(t, r, event.RecordBidPlaced, event.RecordBidPlaced)
	if r.Records[0].Amount != 120 || r.Records[0].Proxy {
		t.Errorf("manual record = %+v", r.Records[0])
	}
	if !r.Records[1].Proxy || r.Records[1].Actor != alice || r.Records[1].Amount != 183 {
		t.Errorf("proxy record = %+v", r.Records[1])
	}

	rec := m.slot(id)
	if !rec.Book.IsLeader(alice) || rec.Book.HighestBid != 183 || rec.Book.NextMinBid != 201 {
		t.Fatalf("book = %+v", rec.Book)
	}
	if _, ok := rec.AutoBids.Get(bob); ok {
		t.Error("outbid auto-bidder still registered")
	}
	if rec.Refunds.Outstanding() != 200 {
		t.Errorf("outstanding = %d, want 200", rec.Refunds.Outstanding())
	}

	r = m.apply(&event.AuctionEnd{Meta: m.meta(m.admin, auctionClose), SlotRef: event.SlotRef{SlotID: id}})
	assertKinds(t, r, event.RecordAuctionEnded, event.RecordSettledT0)
	if got := m.wallet(alice); got != 1_000-183 {
		t.Errorf("alice wallet = %d, want excess refunded", got)
	}

	rec = m.slot(id)
	if rec.Slot.State != state.SlotStateLocked || !rec.Escrow.IsBuyer(alice) {
		t.Errorf("state %s buyer %v", rec.Slot.State, rec.Escrow.Buyer)
	}

	m.apply(&event.AuctionCheckin{Meta: m.meta(alice, sessionStart), SlotRef: event.SlotRef{SlotID: id}})
	m.apply(&event.AuctionSettle{Meta: m.meta(alice, sessionEnd), SlotRef: event.SlotRef{SlotID: id}})

	total := m.wallet(m.payout) + m.feeVault(usdcID) + m.disputeVault(usdcID)
	if total != 183 {
		t.Errorf("released %d, want 183", total)
	}
	// Bob's queued refund is untouched by settlement.
	if got := m.slot(id).Escrow.AmountLocked; got != 200 {
		t.Errorf("remaining escrow = %d, want 200", got)
	}
	m.apply(&event.BidOutbidRefund{Meta: m.meta(bob, sessionEnd), SlotRef: event.SlotRef{SlotID: id}})
	if m.wallet(bob) != 1_000 {
		t.Errorf("bob wallet = %d", m.wallet(bob))
	}
	m.checkLedger()
}

func TestAuction_LeaderAutoBidAnswersWeakerChallenger(t *testing.T) {
	m := newMarket(t, 500)
	alice, bob := uuid.New(), uuid.New()
	m.fund(alice, 1_000)
	m.fund(bob, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.startAuction(id)

	m.bid(alice, id, 200, 120, ptr(200))
	// bob leads with the higher ceiling; alice answers from hers and loses.
	r := m.bid(bob, id, 210, 132, ptr(300))

	assertKinds(t, r, event.RecordBidPlaced, event.RecordBidPlaced)
	if !r.Records[1].Proxy || r.Records[1].Actor != bob || r.Records[1].Amount != 183 {
		t.Errorf("answer record = %+v", r.Records[1])
	}
	rec := m.slot(id)
	if !rec.Book.IsLeader(bob) || rec.Book.HighestBid != 183 || rec.Book.LeaderDeposit != 300 {
		t.Errorf("book = %+v", rec.Book)
	}
	if head, ok := rec.Refunds.Peek(); !ok || head.Bidder != alice || head.Amount != 200 {
		t.Errorf("queue head = %+v", head)
	}
	m.checkLedger()
}

func TestAuction_EqualCeilingsFavourEarlierAutoBid(t *testing.T) {
	m := newMarket(t, 500)
	alice, bob := uuid.New(), uuid.New()
	m.fund(alice, 1_000)
	m.fund(bob, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.startAuction(id)

	m.bid(alice, id, 200, 100, ptr(300))
	r := m.bid(bob, id, 210, 150, ptr(300))

	// 274 is the least bid whose next minimum (274+27) passes 300.
	assertKinds(t, r, event.RecordBidPlaced, event.RecordBidPlaced)
	if last := r.Records[1]; !last.Proxy || last.Actor != alice || last.Amount != 274 {
		t.Errorf("proxy record = %+v", last)
	}
	if rec := m.slot(id); !rec.Book.IsLeader(alice) || rec.Book.HighestBid != 274 {
		t.Errorf("book = %+v", rec.Book)
	}
	m.checkLedger()
}

// The contest is settled in one round however far apart the ceilings are.
func TestAuction_ProxyResolutionIgnoresCeilingGap(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.MaxProxyRounds = 1
	m := newMarketWithConfig(t, 500, cfg)
	alice, bob := uuid.New(), uuid.New()
	m.fund(alice, 100_000)
	m.fund(bob, 100_000)
	id := m.createSlot(englishParams(100, 0, 0, 0))
	m.startAuction(id)

	m.bid(alice, id, 200, 100, ptr(50_000))
	r := m.bid(bob, id, 210, 101, ptr(40_000))

	assertKinds(t, r, event.RecordBidPlaced, event.RecordBidPlaced)
	rec := m.slot(id)
	if !rec.Book.IsLeader(alice) || rec.Book.HighestBid != 40_000 || rec.Book.NextMinBid != 40_001 {
		t.Fatalf("book = %+v", rec.Book)
	}
	if rec.Refunds.Outstanding() != 40_000 {
		t.Errorf("outstanding = %d, want 40000", rec.Refunds.Outstanding())
	}
	if got := m.wallet(alice); got != 50_000 {
		t.Errorf("alice wallet = %d, want ceiling held", got)
	}
	m.checkLedger()
}

func TestAuction_EndGuards(t *testing.T) {
	m := newMarket(t, 500)
	alice := uuid.New()
	m.fund(alice, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.startAuction(id)

	end := func(who uuid.UUID, now int64) *event.AuctionEnd {
		return &event.AuctionEnd{Meta: m.meta(who, now), SlotRef: event.SlotRef{SlotID: id}}
	}
	m.expectErr(end(m.admin, auctionClose), errs.ErrNoBids)

	m.bid(alice, id, 200, 100, nil)
	m.expectErr(end(m.admin, auctionClose-1), errs.ErrTooEarly)
	m.expectErr(end(m.creator, auctionClose), errs.ErrUnauthorized)
	m.apply(end(m.admin, auctionClose))
	m.expectErr(end(m.admin, auctionClose), errs.ErrInvalidState)
}

func TestAuction_BuyNowClosesImmediately(t *testing.T) {
	m := newMarket(t, 500)
	alice, carol := uuid.New(), uuid.New()
	m.fund(alice, 1_000)
	m.fund(carol, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 500, 0))
	m.startAuction(id)
	m.bid(alice, id, 200, 100, ptr(200))

	r := m.apply(&event.BuyNow{Meta: m.meta(carol, 300), SlotRef: event.SlotRef{SlotID: id}})
	assertKinds(t, r, event.RecordReserved, event.RecordAuctionEnded, event.RecordSettledT0)

	rec := m.slot(id)
	if rec.Slot.State != state.SlotStateLocked || !rec.Escrow.IsBuyer(carol) {
		t.Errorf("state %s buyer %v", rec.Slot.State, rec.Escrow.Buyer)
	}
	if rec.Book.HighestBid != 500 || len(rec.AutoBids.Entries) != 0 {
		t.Errorf("book %+v autobids %d", rec.Book, len(rec.AutoBids.Entries))
	}
	if head, _ := rec.Refunds.Peek(); head.Bidder != alice || head.Amount != 200 {
		t.Errorf("queue head = %+v", head)
	}
	m.checkLedger()
}

func TestAuction_BuyNowUnavailable(t *testing.T) {
	m := newMarket(t, 500)
	alice := uuid.New()
	m.fund(alice, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.expectErr(&event.BuyNow{Meta: m.meta(alice, 50), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrBuyNowUnavailable)
}

func TestAuction_UpdateEnd(t *testing.T) {
	m := newMarket(t, 500)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))

	update := func(who uuid.UUID, end int64) *event.AuctionUpdateEnd {
		return &event.AuctionUpdateEnd{Meta: m.meta(who, auctionOpen), SlotRef: event.SlotRef{SlotID: id}, NewEndTs: end}
	}

	m.expectErr(update(m.creator, auctionOpen), errs.ErrInvalidTimes)
	m.apply(update(m.creator, 800))
	m.startAuction(id)

	m.expectErr(update(uuid.New(), 900), errs.ErrUnauthorized)
	m.expectErr(update(m.creator, 700), errs.ErrInvalidTimes)

	r := m.apply(update(m.creator, 900))
	assertKinds(t, r, event.RecordAuctionExtended)
	if got := m.slot(id).Slot.AuctionEndTs; got != 900 {
		t.Errorf("end = %d, want 900", got)
	}
}

func TestAuction_CloseLiveQueuesLeader(t *testing.T) {
	m := newMarket(t, 500)
	alice := uuid.New()
	m.fund(alice, 1_000)
	id := m.createSlot(englishParams(100, 1_000, 0, 0))
	m.startAuction(id)
	m.bid(alice, id, 200, 100, ptr(250))

	m.apply(&event.CloseSlot{Meta: m.meta(m.creator, 300), SlotRef: event.SlotRef{SlotID: id}})
	if got := m.slot(id).Slot.State; got != state.SlotStateClosed {
		t.Fatalf("state = %s, want Closed", got)
	}

	m.apply(&event.BidOutbidRefund{Meta: m.meta(alice, 400), SlotRef: event.SlotRef{SlotID: id}})
	if m.wallet(alice) != 1_000 {
		t.Errorf("alice wallet = %d, want 1000", m.wallet(alice))
	}
	m.checkLedger()
}
