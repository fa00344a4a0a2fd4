package core

import (
	"fmt"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	fpmath "TimeMarket/internal/math"
	"TimeMarket/internal/state"
)

// handleRaiseDispute freezes a slot with a bound buyer.
func (ctx *opContext) handleRaiseDispute(e *event.RaiseDispute) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpRaiseDispute); err != nil {
		return err
	}
	if !rec.Escrow.HasBuyer() {
		return errs.ErrNotReserved
	}
	if err := ctx.requireBuyerOrCreator(rec); err != nil {
		return err
	}

	rec.Slot.Frozen = true
	rec.Slot.DisputeReason = e.ReasonCode

	ctx.emit(event.Record{
		Kind:      event.RecordDisputeRaised,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Value:     int64(e.ReasonCode),
	})
	return nil
}

// handleResolveDispute splits the settleable escrow between creator and
// buyer without fees. Queued outbid refunds stay in escrow for their owners.
func (ctx *opContext) handleResolveDispute(e *event.ResolveDispute) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	platform, err := ctx.platformRecord()
	if err != nil {
		return err
	}
	if err := ctx.requireAdmin(platform); err != nil {
		return err
	}
	if err := fpmath.ValidateBps(e.SplitBpsToCreator); err != nil {
		return fmt.Errorf("split %d: %w", e.SplitBpsToCreator, err)
	}
	if err := state.CheckTransition(&rec.Slot, state.OpResolveDispute); err != nil {
		return err
	}
	if !rec.Escrow.HasBuyer() {
		return errs.ErrNotReserved
	}
	profile, err := ctx.lookupProfile(rec.Slot.ProfileID)
	if err != nil {
		return err
	}

	settleable := rec.Settleable()
	toCreator, err := fpmath.MulBps(settleable, e.SplitBpsToCreator)
	if err != nil {
		return err
	}
	toBuyer, err := fpmath.CheckedSub(settleable, toCreator)
	if err != nil {
		return err
	}
	buyer := *rec.Escrow.Buyer

	asset := rec.Escrow.Account.AssetID
	if err := ctx.release(rec, ledger.WalletKey(profile.PayoutWallet, asset), toCreator, ledger.JournalTypeDisputeCreator); err != nil {
		return err
	}
	if err := ctx.releaseToWallet(rec, buyer, toBuyer, ledger.JournalTypeDisputeBuyer); err != nil {
		return err
	}

	rec.Slot.Frozen = false
	next := state.SlotStateRefunded
	if toCreator > 0 {
		next = state.SlotStateSettled
	}
	if err := state.Advance(&rec.Slot, state.OpResolveDispute, next); err != nil {
		return err
	}

	ctx.emit(event.Record{
		Kind:         event.RecordDisputeResolved,
		SlotID:       rec.Slot.ID,
		ProfileID:    rec.Slot.ProfileID,
		Counterparty: buyer,
		Amount:       toCreator,
		Retained:     toBuyer,
		Value:        e.SplitBpsToCreator,
	})
	return nil
}
