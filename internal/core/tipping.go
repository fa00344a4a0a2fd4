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

// payTip moves a tip from the caller's wallet to the creator's payout wallet
// and updates the profile statistics. No escrow, no fee.
func (ctx *opContext) payTip(profileID uuid.UUID, amount int64, rail state.Rail) (*state.CreatorProfile, error) {
	if amount <= 0 {
		return nil, errs.ErrInvalidAmount
	}
	platform, err := ctx.platformRecord()
	if err != nil {
		return nil, err
	}
	profile, err := ctx.profile(profileID)
	if err != nil {
		return nil, err
	}
	if profile.PayoutWallet == ctx.caller() {
		return nil, fmt.Errorf("payout wallet cannot tip itself: %w", errs.ErrUnauthorized)
	}

	assetID := platform.AssetID
	if rail == state.RailNative {
		assetID, _ = ledger.GetAssetID(ledger.NativeAsset)
	}

	total, err := fpmath.CheckedAdd(profile.TotalTipsReceived, amount)
	if err != nil {
		return nil, err
	}
	if profile.TipCount == math.MaxUint64 {
		return nil, errs.ErrOverflow
	}
	to := ledger.WalletKey(profile.PayoutWallet, assetID)
	if _, err := fpmath.CheckedAdd(ctx.transfers.Balance(to), amount); err != nil {
		return nil, err
	}
	if err := ctx.transfers.Transfer(ledger.WalletKey(ctx.caller(), assetID), to, amount, ledger.JournalTypeTip); err != nil {
		return nil, err
	}

	profile.TotalTipsReceived = total
	profile.TipCount++
	return profile, nil
}

func (ctx *opContext) handleTipCreator(e *event.TipCreator) error {
	profile, err := ctx.payTip(e.ProfileID, e.Amount, e.Rail)
	if err != nil {
		return err
	}
	ctx.emit(event.Record{
		Kind:         event.RecordTip,
		ProfileID:    profile.ID,
		Counterparty: profile.PayoutWallet,
		Amount:       e.Amount,
		Value:        int64(e.Rail),
		MessageHash:  e.MessageHash,
	})
	return nil
}

// handleTipForSession tips a creator for one of their slots. Freeze and
// terminal states do not block it.
func (ctx *opContext) handleTipForSession(e *event.TipForSession) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpTipForSession); err != nil {
		return err
	}
	if rec.Slot.ProfileID != e.ProfileID {
		return fmt.Errorf("slot %s does not belong to profile %s: %w", rec.Slot.ID, e.ProfileID, errs.ErrUnauthorized)
	}

	slotTotal, err := fpmath.CheckedAdd(rec.Slot.TotalTipsReceived, e.Amount)
	if err != nil {
		return err
	}
	profile, err := ctx.payTip(e.ProfileID, e.Amount, e.Rail)
	if err != nil {
		return err
	}
	rec.Slot.TotalTipsReceived = slotTotal

	ctx.emit(event.Record{
		Kind:         event.RecordTip,
		ProfileID:    profile.ID,
		Counterparty: profile.PayoutWallet,
		Amount:       e.Amount,
		Value:        int64(e.Rail),
		MessageHash:  e.MessageHash,
	})
	ctx.emit(event.Record{
		Kind:        event.RecordSessionTip,
		SlotID:      rec.Slot.ID,
		ProfileID:   profile.ID,
		Amount:      e.Amount,
		Value:       slotTotal,
		MessageHash: e.MessageHash,
	})
	return nil
}
