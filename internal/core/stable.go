package core

import (
	"fmt"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	fpmath "TimeMarket/internal/math"
	"TimeMarket/internal/state"
)

func (ctx *opContext) handleStableReserve(e *event.StableReserve) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpStableReserve); err != nil {
		return err
	}
	if e.Amount != rec.Slot.Price {
		return fmt.Errorf("amount %d != price %d: %w", e.Amount, rec.Slot.Price, errs.ErrInvalidPrice)
	}
	if rec.Slot.CapacitySold >= rec.Slot.CapacityTotal {
		return errs.ErrCapacityExhausted
	}

	buyer := ctx.caller()
	if err := ctx.deposit(rec, buyer, e.Amount, ledger.JournalTypeReserve); err != nil {
		return err
	}
	rec.Escrow.BindBuyer(buyer)
	if err := state.Advance(&rec.Slot, state.OpStableReserve, state.SlotStateReserved); err != nil {
		return err
	}

	ctx.emit(event.Record{
		Kind:      event.RecordReserved,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Amount:    e.Amount,
	})
	return nil
}

// handleStableCancel refunds the buyer in full before T0.
func (ctx *opContext) handleStableCancel(e *event.StableCancel) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpStableCancel); err != nil {
		return err
	}
	if ctx.now >= rec.Slot.T0Timestamp() {
		return fmt.Errorf("now %d, t0 %d: %w", ctx.now, rec.Slot.T0Timestamp(), errs.ErrTooLate)
	}
	if !rec.Escrow.IsBuyer(ctx.caller()) {
		return errs.ErrUnauthorizedBuyer
	}
	amount := rec.Escrow.AmountLocked
	if amount <= 0 {
		return errs.ErrNothingToRefund
	}

	if err := ctx.releaseToWallet(rec, ctx.caller(), amount, ledger.JournalTypeRefund); err != nil {
		return err
	}
	rec.Escrow.ClearBuyer()
	if err := state.Advance(&rec.Slot, state.OpStableCancel, state.SlotStateOpen); err != nil {
		return err
	}

	ctx.emit(event.Record{
		Kind:      event.RecordRefunded,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Amount:    amount,
	})
	return nil
}

// handleStableSettle releases T0 from Reserved and T1 from Completed.
func (ctx *opContext) handleStableSettle(e *event.StableSettle) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpStableSettle); err != nil {
		return err
	}
	price := rec.Slot.Price

	switch rec.Slot.State {
	case state.SlotStateReserved:
		if ctx.now < rec.Slot.T0Timestamp() {
			return fmt.Errorf("now %d, t0 %d: %w", ctx.now, rec.Slot.T0Timestamp(), errs.ErrTooEarly)
		}
		if rec.Escrow.AmountLocked != price {
			return fmt.Errorf("locked %d, price %d: %w", rec.Escrow.AmountLocked, price, errs.ErrInvalidEscrowBalance)
		}
		if _, err := ctx.payT0(rec, price, fpmath.T0BpsStable); err != nil {
			return err
		}
		return state.Advance(&rec.Slot, state.OpStableSettle, state.SlotStateLocked)

	case state.SlotStateCompleted:
		// A buyer checked in straight from Reserved still has T0 in escrow,
		// and it stays there until the T0 time.
		if rec.Escrow.AmountLocked == price {
			if ctx.now < rec.Slot.T0Timestamp() {
				return fmt.Errorf("now %d, t0 %d: %w", ctx.now, rec.Slot.T0Timestamp(), errs.ErrTooEarly)
			}
			if _, err := ctx.payT0(rec, price, fpmath.T0BpsStable); err != nil {
				return err
			}
		}
		if _, err := ctx.payT1(rec, price, fpmath.T0BpsStable); err != nil {
			return err
		}
		return state.Advance(&rec.Slot, state.OpStableSettle, state.SlotStateSettled)
	}
	return errs.ErrInvalidState
}
