package core

import (
	"fmt"

	"TimeMarket/internal/commitment"
	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	fpmath "TimeMarket/internal/math"
	"TimeMarket/internal/state"
)

// handleBidCommit records a sealed bid backed by an escrowed deposit.
func (ctx *opContext) handleBidCommit(e *event.BidCommit) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpBidCommit); err != nil {
		return err
	}
	if ctx.isCreator(rec) {
		return fmt.Errorf("creator cannot bid: %w", errs.ErrUnauthorized)
	}
	if ctx.now >= rec.Slot.AuctionEndTs {
		return fmt.Errorf("now %d, commit phase ended %d: %w", ctx.now, rec.Slot.AuctionEndTs, errs.ErrTooLate)
	}
	if e.Deposit <= 0 {
		return errs.ErrInvalidAmount
	}

	bidder := ctx.caller()
	if err := rec.Commits.Add(bidder, e.Commitment, e.Deposit); err != nil {
		return fmt.Errorf("commit for %s: %w", bidder, err)
	}
	if err := ctx.deposit(rec, bidder, e.Deposit, ledger.JournalTypeCommitDeposit); err != nil {
		return err
	}

	ctx.emit(event.Record{
		Kind:      event.RecordCommitPlaced,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Amount:    e.Deposit,
	})
	return nil
}

// handleBidReveal opens a commitment inside the reveal window.
func (ctx *opContext) handleBidReveal(e *event.BidReveal) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpBidReveal); err != nil {
		return err
	}
	if ctx.now < rec.Slot.AuctionEndTs {
		return fmt.Errorf("reveal opens at %d: %w", rec.Slot.AuctionEndTs, errs.ErrTooEarly)
	}
	if ctx.now >= rec.Slot.RevealDeadline() {
		return fmt.Errorf("reveal closed at %d: %w", rec.Slot.RevealDeadline(), errs.ErrTooLate)
	}

	bidder := ctx.caller()
	idx, ok := rec.Commits.Find(bidder)
	if !ok {
		return errs.ErrNotCommitted
	}
	c := &rec.Commits.Entries[idx]
	if c.Revealed {
		return errs.ErrAlreadyRevealed
	}
	if !commitment.Verify(ctx.core.cfg.CommitHasher, c.Hash, e.Amount, e.Salt, bidder) {
		return errs.ErrRevealMismatch
	}
	if e.Amount > c.Deposit {
		return fmt.Errorf("reveal %d, deposit %d: %w", e.Amount, c.Deposit, errs.ErrRevealExceedsDeposit)
	}
	if e.Amount <= 0 || e.Amount < rec.Slot.Price {
		return fmt.Errorf("reveal %d, reserve %d: %w", e.Amount, rec.Slot.Price, errs.ErrBidTooLow)
	}

	c.Revealed = true
	c.BidAmount = e.Amount

	ctx.emit(event.Record{
		Kind:      event.RecordRevealAccepted,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Amount:    e.Amount,
	})
	return nil
}

// handleSealedAuctionEnd picks the winner after the reveal window, queues
// every other deposit and releases T0 on the winning bid.
func (ctx *opContext) handleSealedAuctionEnd(e *event.SealedAuctionEnd) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpSealedAuctionEnd); err != nil {
		return err
	}
	platform, err := ctx.platformRecord()
	if err != nil {
		return err
	}
	if err := ctx.requireAdmin(platform); err != nil {
		return err
	}
	if ctx.now < rec.Slot.RevealDeadline() {
		return fmt.Errorf("reveal open until %d: %w", rec.Slot.RevealDeadline(), errs.ErrTooEarly)
	}

	idx, ok := rec.Commits.Winner()
	if !ok {
		return errs.ErrNoBids
	}
	win := rec.Commits.Entries[idx]

	for i, c := range rec.Commits.Entries {
		if i == idx {
			continue
		}
		if err := ctx.queueRefund(rec, c.Bidder, c.Deposit); err != nil {
			return err
		}
	}
	if excess := win.Deposit - win.BidAmount; excess > 0 {
		if err := ctx.releaseToWallet(rec, win.Bidder, excess, ledger.JournalTypeExcessRefund); err != nil {
			return err
		}
	}

	if err := rec.Book.SetLeader(win.Bidder, win.BidAmount, win.BidAmount, rec.Slot.MinIncrementBps, ctx.now); err != nil {
		return err
	}
	rec.Escrow.BindBuyer(win.Bidder)
	if rec.Settleable() != win.BidAmount {
		return fmt.Errorf("settleable %d, winning bid %d: %w", rec.Settleable(), win.BidAmount, errs.ErrInvalidEscrowBalance)
	}

	ctx.emit(event.Record{
		Kind:         event.RecordAuctionEnded,
		SlotID:       rec.Slot.ID,
		ProfileID:    rec.Slot.ProfileID,
		Counterparty: win.Bidder,
		Amount:       win.BidAmount,
	})
	if _, err := ctx.payT0(rec, win.BidAmount, fpmath.T0BpsAuction); err != nil {
		return err
	}
	return state.Advance(&rec.Slot, state.OpSealedAuctionEnd, state.SlotStateLocked)
}
