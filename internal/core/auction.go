package core

import (
	"fmt"
	"math"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	fpmath "TimeMarket/internal/math"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

// handleAuctionStart opens bidding for English and sealed-bid slots.
func (ctx *opContext) handleAuctionStart(e *event.AuctionStart) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpAuctionStart); err != nil {
		return err
	}
	if err := ctx.requireCreator(rec); err != nil {
		return err
	}
	if ctx.now < rec.Slot.AuctionStartTs {
		return fmt.Errorf("now %d, auction start %d: %w", ctx.now, rec.Slot.AuctionStartTs, errs.ErrTooEarly)
	}
	if err := state.Advance(&rec.Slot, state.OpAuctionStart, state.SlotStateAuctionLive); err != nil {
		return err
	}

	ctx.emit(event.Record{
		Kind:      event.RecordAuctionStarted,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Amount:    rec.Slot.Price,
		Value:     rec.Slot.AuctionEndTs,
	})
	return nil
}

// parkedDeposits holds deposits displaced while one bid resolves. Order is
// the order of displacement, which is also the order refunds are queued in.
type parkedDeposits struct {
	entries []state.RefundEntry
}

func (p *parkedDeposits) add(bidder uuid.UUID, amount int64) {
	for i := range p.entries {
		if p.entries[i].Bidder == bidder {
			p.entries[i].Amount += amount
			return
		}
	}
	p.entries = append(p.entries, state.RefundEntry{Bidder: bidder, Amount: amount})
}

func (p *parkedDeposits) get(bidder uuid.UUID) int64 {
	for _, e := range p.entries {
		if e.Bidder == bidder {
			return e.Amount
		}
	}
	return 0
}

func (p *parkedDeposits) take(bidder uuid.UUID) int64 {
	for i, e := range p.entries {
		if e.Bidder == bidder {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return e.Amount
		}
	}
	return 0
}

// handleBidPlace accepts a bid, applies anti-sniping and resolves proxy
// bidding. Auto-bidders back their whole ceiling up front, so synthetic bids
// never move new funds.
func (ctx *opContext) handleBidPlace(e *event.BidPlace) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpBidPlace); err != nil {
		return err
	}
	bidder := ctx.caller()
	if ctx.isCreator(rec) {
		return fmt.Errorf("creator cannot bid: %w", errs.ErrUnauthorized)
	}
	if ctx.now >= rec.Slot.AuctionEndTs {
		return fmt.Errorf("now %d, auction end %d: %w", ctx.now, rec.Slot.AuctionEndTs, errs.ErrTooLate)
	}
	if e.Amount <= 0 {
		return errs.ErrInvalidAmount
	}

	book := &rec.Book
	minBid, err := state.NextMinimumBid(rec.Slot.Price, book.HighestBid, rec.Slot.MinIncrementBps)
	if err != nil {
		return err
	}
	if e.Amount < minBid {
		return fmt.Errorf("bid %d below minimum %d: %w", e.Amount, minBid, errs.ErrBidTooLow)
	}
	required := e.Amount
	if e.MaxAutoBid != nil {
		if *e.MaxAutoBid < e.Amount {
			return fmt.Errorf("max auto bid %d below bid %d: %w", *e.MaxAutoBid, e.Amount, errs.ErrInvalidAutoBid)
		}
		required = *e.MaxAutoBid
	}

	// Only the current leader already has backing in escrow.
	var parked parkedDeposits
	var held int64
	if book.IsLeader(bidder) {
		held = book.LeaderDeposit
	} else if book.HighestBidder != nil {
		parked.add(*book.HighestBidder, book.LeaderDeposit)
	}
	if topUp := required - held; topUp > 0 {
		if err := ctx.deposit(rec, bidder, topUp, ledger.JournalTypeBidDeposit); err != nil {
			return err
		}
	}

	if err := book.SetLeader(bidder, e.Amount, fpmath.Max(held, required), rec.Slot.MinIncrementBps, ctx.now); err != nil {
		return err
	}
	ctx.emit(event.Record{
		Kind:      event.RecordBidPlaced,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Amount:    e.Amount,
	})

	if ext := rec.Slot.AntiSnipingSec; ext > 0 && rec.Slot.AuctionEndTs-ctx.now <= ext {
		newEnd, err := fpmath.CheckedAdd(rec.Slot.AuctionEndTs, ext)
		if err != nil {
			return err
		}
		rec.Slot.AuctionEndTs = newEnd
		ctx.emit(event.Record{
			Kind:      event.RecordAuctionExtended,
			SlotID:    rec.Slot.ID,
			ProfileID: rec.Slot.ProfileID,
			Value:     newEnd,
		})
	}

	if e.MaxAutoBid != nil {
		if err := rec.AutoBids.Upsert(bidder, *e.MaxAutoBid); err != nil {
			return fmt.Errorf("auto bid for %s: %w", bidder, err)
		}
	}

	rounds, err := ctx.resolveProxyBids(rec, &parked)
	ctx.proxyRounds = rounds
	if err != nil {
		return err
	}

	for _, p := range parked.entries {
		if err := ctx.queueRefund(rec, p.Bidder, p.Amount); err != nil {
			return err
		}
		rec.AutoBids.Remove(p.Bidder)
	}
	return nil
}

// resolveProxyBids settles each contest between the leader and the best
// funded auto-bidder in one step. The winner bids the least amount whose next
// minimum the loser's funded ceiling cannot reach, so a contest costs one
// round however far apart the ceilings are. Equal ceilings go to the earlier
// registration.
func (ctx *opContext) resolveProxyBids(rec *state.SlotRecord, parked *parkedDeposits) (int, error) {
	book := &rec.Book
	inc := rec.Slot.MinIncrementBps
	limit := ctx.core.cfg.MaxProxyRounds

	for rounds := 0; ; rounds++ {
		cand, ok := nextProxyBidder(rec, parked)
		if !ok {
			return rounds, nil
		}
		if rounds >= limit {
			return rounds, fmt.Errorf("after %d rounds: %w", rounds, errs.ErrProxyRoundsExceeded)
		}

		leader := *book.HighestBidder
		reach, leaderReg := leaderReach(rec)
		if cand.ceiling > reach || (cand.ceiling == reach && cand.RegisteredAt < leaderReg) {
			amount, err := leastUntoppable(book.NextMinBid, cand.ceiling, reach, inc)
			if err != nil {
				return rounds, err
			}
			holding := parked.take(cand.Bidder)
			parked.add(leader, book.LeaderDeposit)
			if err := book.SetLeader(cand.Bidder, amount, holding, inc, ctx.now); err != nil {
				return rounds, err
			}
			ctx.emitProxyBid(rec, cand.Bidder, amount)
			continue
		}

		// The leader answers from its own ceiling and the candidate drops out.
		amount, err := leastUntoppable(book.HighestBid, cand.ceiling, cand.ceiling, inc)
		if err != nil {
			return rounds, err
		}
		if err := book.SetLeader(leader, amount, book.LeaderDeposit, inc, ctx.now); err != nil {
			return rounds, err
		}
		ctx.emitProxyBid(rec, leader, amount)
	}
}

func (ctx *opContext) emitProxyBid(rec *state.SlotRecord, bidder uuid.UUID, amount int64) {
	ctx.emit(event.Record{
		Kind:      event.RecordBidPlaced,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Actor:     bidder,
		Amount:    amount,
		Proxy:     true,
	})
}

// leaderReach is the highest bid the leader can make without new funds, and
// the leader's auto-bid registration. A leader without an auto-bid cannot
// respond and reaches only its standing bid.
func leaderReach(rec *state.SlotRecord) (int64, uint64) {
	book := &rec.Book
	a, ok := rec.AutoBids.Get(*book.HighestBidder)
	if !ok {
		return book.HighestBid, math.MaxUint64
	}
	return fpmath.Max(book.HighestBid, fpmath.Min(a.MaxBid, book.LeaderDeposit)), a.RegisteredAt
}

// leastUntoppable returns the smallest bid in [lo, hi] whose next minimum
// exceeds rival. hi must qualify, which holds whenever hi >= rival.
func leastUntoppable(lo, hi, rival, incrementBps int64) (int64, error) {
	for lo < hi {
		mid := lo + (hi-lo)/2
		next, err := state.NextMinimumBid(mid, mid, incrementBps)
		if err != nil {
			return 0, err
		}
		if next > rival {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return hi, nil
}

type proxyCandidate struct {
	state.AutoBid
	ceiling int64
}

// nextProxyBidder picks the non-leading auto-bidder with the highest funded
// ceiling that clears the next minimum; earliest registration wins ties.
func nextProxyBidder(rec *state.SlotRecord, parked *parkedDeposits) (proxyCandidate, bool) {
	var best proxyCandidate
	found := false

	for _, a := range rec.AutoBids.Entries {
		if rec.Book.IsLeader(a.Bidder) {
			continue
		}
		holding := parked.get(a.Bidder)
		if holding <= 0 {
			continue
		}
		ceiling := fpmath.Min(a.MaxBid, holding)
		if ceiling < rec.Book.NextMinBid {
			continue
		}
		if !found || ceiling > best.ceiling || (ceiling == best.ceiling && a.RegisteredAt < best.RegisteredAt) {
			best, found = proxyCandidate{AutoBid: a, ceiling: ceiling}, true
		}
	}
	return best, found
}

// handleAuctionUpdateEnd moves the close of bidding. A live auction can only
// be extended.
func (ctx *opContext) handleAuctionUpdateEnd(e *event.AuctionUpdateEnd) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpAuctionUpdateEnd); err != nil {
		return err
	}
	if err := ctx.requireCreator(rec); err != nil {
		return err
	}

	switch rec.Slot.State {
	case state.SlotStateOpen:
		if e.NewEndTs <= rec.Slot.AuctionStartTs {
			return fmt.Errorf("new end %d not after start %d: %w", e.NewEndTs, rec.Slot.AuctionStartTs, errs.ErrInvalidTimes)
		}
	case state.SlotStateAuctionLive:
		if e.NewEndTs < rec.Slot.AuctionEndTs {
			return fmt.Errorf("new end %d shortens %d: %w", e.NewEndTs, rec.Slot.AuctionEndTs, errs.ErrInvalidTimes)
		}
	}

	extended := e.NewEndTs > rec.Slot.AuctionEndTs
	rec.Slot.AuctionEndTs = e.NewEndTs
	if extended {
		ctx.emit(event.Record{
			Kind:      event.RecordAuctionExtended,
			SlotID:    rec.Slot.ID,
			ProfileID: rec.Slot.ProfileID,
			Value:     e.NewEndTs,
		})
	}
	return nil
}

// handleBuyNow closes the auction at the buy-now price and releases T0 at once.
func (ctx *opContext) handleBuyNow(e *event.BuyNow) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpBuyNow); err != nil {
		return err
	}
	price := rec.Slot.BuyNow
	if price <= 0 {
		return errs.ErrBuyNowUnavailable
	}
	if ctx.isCreator(rec) {
		return fmt.Errorf("creator cannot buy: %w", errs.ErrUnauthorized)
	}
	if rec.Slot.State == state.SlotStateAuctionLive && ctx.now >= rec.Slot.AuctionEndTs {
		return fmt.Errorf("now %d, auction end %d: %w", ctx.now, rec.Slot.AuctionEndTs, errs.ErrTooLate)
	}
	book := &rec.Book
	if book.HighestBid >= price {
		return fmt.Errorf("highest bid %d reached buy now %d: %w", book.HighestBid, price, errs.ErrBuyNowUnavailable)
	}

	buyer := ctx.caller()
	if err := ctx.deposit(rec, buyer, price, ledger.JournalTypeReserve); err != nil {
		return err
	}
	if leader := book.HighestBidder; leader != nil {
		if err := ctx.queueRefund(rec, *leader, book.LeaderDeposit); err != nil {
			return err
		}
	}
	rec.AutoBids.Clear()
	if err := book.SetLeader(buyer, price, price, rec.Slot.MinIncrementBps, ctx.now); err != nil {
		return err
	}
	rec.Escrow.BindBuyer(buyer)
	if rec.Settleable() != price {
		return fmt.Errorf("settleable %d, buy now %d: %w", rec.Settleable(), price, errs.ErrInvalidEscrowBalance)
	}

	ctx.emit(event.Record{
		Kind:      event.RecordReserved,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Amount:    price,
	})
	ctx.emit(event.Record{
		Kind:         event.RecordAuctionEnded,
		SlotID:       rec.Slot.ID,
		ProfileID:    rec.Slot.ProfileID,
		Counterparty: buyer,
		Amount:       price,
	})
	if _, err := ctx.payT0(rec, price, fpmath.T0BpsAuction); err != nil {
		return err
	}
	return state.Advance(&rec.Slot, state.OpBuyNow, state.SlotStateLocked)
}

// handleAuctionEnd binds the leader as buyer, refunds their unused auto-bid
// backing and releases T0.
func (ctx *opContext) handleAuctionEnd(e *event.AuctionEnd) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpAuctionEnd); err != nil {
		return err
	}
	platform, err := ctx.platformRecord()
	if err != nil {
		return err
	}
	if err := ctx.requireAdmin(platform); err != nil {
		return err
	}
	if ctx.now < rec.Slot.AuctionEndTs {
		return fmt.Errorf("now %d, auction end %d: %w", ctx.now, rec.Slot.AuctionEndTs, errs.ErrTooEarly)
	}
	book := &rec.Book
	if book.HighestBid <= 0 || book.HighestBidder == nil {
		return errs.ErrNoBids
	}
	winner := *book.HighestBidder

	if excess := book.LeaderDeposit - book.HighestBid; excess > 0 {
		if err := ctx.releaseToWallet(rec, winner, excess, ledger.JournalTypeExcessRefund); err != nil {
			return err
		}
		book.LeaderDeposit = book.HighestBid
	}
	rec.Escrow.BindBuyer(winner)
	if rec.Settleable() != book.HighestBid {
		return fmt.Errorf("settleable %d, winning bid %d: %w", rec.Settleable(), book.HighestBid, errs.ErrInvalidEscrowBalance)
	}
	rec.AutoBids.Clear()

	ctx.emit(event.Record{
		Kind:         event.RecordAuctionEnded,
		SlotID:       rec.Slot.ID,
		ProfileID:    rec.Slot.ProfileID,
		Counterparty: winner,
		Amount:       book.HighestBid,
	})
	if _, err := ctx.payT0(rec, book.HighestBid, fpmath.T0BpsAuction); err != nil {
		return err
	}
	return state.Advance(&rec.Slot, state.OpAuctionEnd, state.SlotStateLocked)
}

// handleAuctionSettle releases T1 over the winning bid for English and
// sealed-bid slots.
func (ctx *opContext) handleAuctionSettle(slotID uuid.UUID, op state.Operation) error {
	rec, err := ctx.slot(slotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, op); err != nil {
		return err
	}
	if !rec.Escrow.HasBuyer() {
		return errs.ErrNotReserved
	}
	if _, err := ctx.payT1(rec, rec.Book.HighestBid, fpmath.T0BpsAuction); err != nil {
		return err
	}
	return state.Advance(&rec.Slot, op, state.SlotStateSettled)
}

// handleBidOutbidRefund pays the head of the refund queue to its bidder.
func (ctx *opContext) handleBidOutbidRefund(e *event.BidOutbidRefund) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpBidOutbidRefund); err != nil {
		return err
	}
	head, ok := rec.Refunds.Peek()
	if !ok {
		return errs.ErrNothingToRefund
	}
	caller := ctx.caller()
	if head.Bidder != caller {
		if rec.Refunds.Owes(caller) {
			return errs.ErrRefundsPending
		}
		return errs.ErrUnauthorized
	}

	if err := ctx.releaseToWallet(rec, caller, head.Amount, ledger.JournalTypeOutbidRefund); err != nil {
		return err
	}
	rec.Refunds.Pop()

	ctx.emit(event.Record{
		Kind:      event.RecordOutbidRefunded,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Amount:    head.Amount,
		Value:     int64(rec.Refunds.Head),
	})
	return nil
}
