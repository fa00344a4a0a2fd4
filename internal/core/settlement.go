package core

import (
	"fmt"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	fpmath "TimeMarket/internal/math"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

// settlementParties resolves who a slot's milestones pay.
func (ctx *opContext) settlementParties(rec *state.SlotRecord) (*state.Platform, *state.CreatorProfile, error) {
	platform, err := ctx.platformRecord()
	if err != nil {
		return nil, nil, err
	}
	profile, err := ctx.lookupProfile(rec.Slot.ProfileID)
	if err != nil {
		return nil, nil, err
	}
	return platform, profile, nil
}

// payT0 releases the first milestone of price: the creator's share to the
// payout wallet and the fee share to the fee vault.
func (ctx *opContext) payT0(rec *state.SlotRecord, price, t0Bps int64) (fpmath.T0Split, error) {
	platform, profile, err := ctx.settlementParties(rec)
	if err != nil {
		return fpmath.T0Split{}, err
	}
	split, err := fpmath.SplitT0(price, state.EffectiveFeeBps(platform, profile), t0Bps)
	if err != nil {
		return split, fmt.Errorf("t0 split of %d: %w", price, err)
	}

	asset := rec.Escrow.Account.AssetID
	if err := ctx.release(rec, ledger.WalletKey(profile.PayoutWallet, asset), split.Creator, ledger.JournalTypeT0Creator); err != nil {
		return split, err
	}
	if err := ctx.release(rec, platform.FeeVault(asset), split.Fee, ledger.JournalTypeT0Fee); err != nil {
		return split, err
	}

	ctx.emit(event.Record{
		Kind:         event.RecordSettledT0,
		SlotID:       rec.Slot.ID,
		ProfileID:    rec.Slot.ProfileID,
		Counterparty: profile.PayoutWallet,
		Amount:       split.Creator,
		Fee:          split.Fee,
	})
	return split, nil
}

// payT1 releases the final milestone of price. The withheld tail goes to the
// dispute vault.
func (ctx *opContext) payT1(rec *state.SlotRecord, price, t0Bps int64) (fpmath.T1Split, error) {
	platform, profile, err := ctx.settlementParties(rec)
	if err != nil {
		return fpmath.T1Split{}, err
	}
	feeBps := state.EffectiveFeeBps(platform, profile)

	t0, err := fpmath.SplitT0(price, feeBps, t0Bps)
	if err != nil {
		return fpmath.T1Split{}, fmt.Errorf("t0 split of %d: %w", price, err)
	}
	split, err := fpmath.SplitT1(price, t0.Base, feeBps)
	if err != nil {
		return split, fmt.Errorf("t1 split of %d: %w", price, err)
	}
	totalOut, err := split.TotalOut()
	if err != nil {
		return split, err
	}
	if rec.Settleable() < totalOut {
		return split, fmt.Errorf("settleable %d below t1 total %d: %w",
			rec.Settleable(), totalOut, errs.ErrInvalidEscrowBalance)
	}

	asset := rec.Escrow.Account.AssetID
	if err := ctx.release(rec, ledger.WalletKey(profile.PayoutWallet, asset), split.Creator, ledger.JournalTypeT1Creator); err != nil {
		return split, err
	}
	if err := ctx.release(rec, platform.FeeVault(asset), split.Fee, ledger.JournalTypeT1Fee); err != nil {
		return split, err
	}
	if err := ctx.release(rec, platform.DisputeVault(asset), split.Withhold, ledger.JournalTypeT1Withhold); err != nil {
		return split, err
	}

	ctx.emit(event.Record{
		Kind:         event.RecordSettledT1,
		SlotID:       rec.Slot.ID,
		ProfileID:    rec.Slot.ProfileID,
		Counterparty: profile.PayoutWallet,
		Amount:       split.Creator,
		Fee:          split.Fee,
		Retained:     split.Withhold,
	})
	return split, nil
}

// handleCheckin records attendance for Stable and auction slots and issues
// the collectible grant when the slot carries a mint.
func (ctx *opContext) handleCheckin(slotID uuid.UUID, op state.Operation) error {
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
	if err := ctx.requireBuyerOrCreator(rec); err != nil {
		return err
	}

	rec.Slot.MarkCheckedIn()
	if err := state.Advance(&rec.Slot, op, state.SlotStateCompleted); err != nil {
		return err
	}

	buyer := *rec.Escrow.Buyer
	ctx.emit(event.Record{
		Kind:         event.RecordCheckedIn,
		SlotID:       rec.Slot.ID,
		ProfileID:    rec.Slot.ProfileID,
		Counterparty: buyer,
		Value:        int64(rec.Slot.CapacitySold),
	})
	if rec.Slot.NFTMint != nil {
		ctx.grantCollectible(rec, buyer)
	}
	return nil
}
