package core

import (
	"fmt"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	fpmath "TimeMarket/internal/math"
	"TimeMarket/internal/state"
)

func (ctx *opContext) handleInitPlatform(e *event.InitPlatform) error {
	if _, err := ctx.core.registry.Platform(); err == nil {
		return fmt.Errorf("platform: %w", errs.ErrAlreadyExists)
	}
	if err := fpmath.ValidateBps(e.FeeBps); err != nil {
		return fmt.Errorf("fee_bps %d: %w", e.FeeBps, err)
	}
	assetID, ok := ledger.GetAssetID(e.Asset)
	if !ok || e.Asset == ledger.NativeAsset {
		return fmt.Errorf("platform asset %q: %w", e.Asset, errs.ErrUnknownAsset)
	}

	ctx.platform = &state.Platform{
		ID:      state.PlatformKey(),
		Admin:   ctx.caller(),
		FeeBps:  e.FeeBps,
		AssetID: assetID,
	}
	ctx.emit(event.Record{
		Kind:  event.RecordPlatformInitialized,
		Value: e.FeeBps,
	})
	return nil
}

func (ctx *opContext) handleInitCreatorProfile(e *event.InitCreatorProfile) error {
	platform, err := ctx.platformRecord()
	if err != nil {
		return err
	}
	if e.FeeBpsOverride != nil {
		if err := fpmath.ValidateBps(*e.FeeBpsOverride); err != nil {
			return fmt.Errorf("fee override %d: %w", *e.FeeBpsOverride, err)
		}
	}

	id := state.ProfileKey(platform.ID, ctx.caller())
	if ctx.core.registry.HasProfile(id) {
		return fmt.Errorf("profile %s: %w", id, errs.ErrAlreadyExists)
	}

	p := &state.CreatorProfile{
		ID:           id,
		Authority:    ctx.caller(),
		PayoutWallet: e.PayoutWallet,
		PlatformID:   platform.ID,
	}
	if e.FeeBpsOverride != nil {
		v := *e.FeeBpsOverride
		p.FeeBpsOverride = &v
	}
	ctx.addProfile(p)

	ctx.emit(event.Record{
		Kind:         event.RecordProfileUpdated,
		ProfileID:    id,
		Counterparty: p.PayoutWallet,
		Value:        state.EffectiveFeeBps(platform, p),
	})
	return nil
}

func (ctx *opContext) handleUpdateCreatorProfile(e *event.UpdateCreatorProfile) error {
	platform, err := ctx.platformRecord()
	if err != nil {
		return err
	}
	p, err := ctx.profile(e.ProfileID)
	if err != nil {
		return err
	}
	if p.Authority != ctx.caller() {
		return fmt.Errorf("profile %s: %w", p.ID, errs.ErrUnauthorized)
	}

	if e.PayoutWallet != nil {
		p.PayoutWallet = *e.PayoutWallet
	}
	switch {
	case e.ClearFeeOverride:
		p.FeeBpsOverride = nil
	case e.SetFeeOverride != nil:
		if err := fpmath.ValidateBps(*e.SetFeeOverride); err != nil {
			return fmt.Errorf("fee override %d: %w", *e.SetFeeOverride, err)
		}
		v := *e.SetFeeOverride
		p.FeeBpsOverride = &v
	}

	ctx.emit(event.Record{
		Kind:         event.RecordProfileUpdated,
		ProfileID:    p.ID,
		Counterparty: p.PayoutWallet,
		Value:        state.EffectiveFeeBps(platform, p),
	})
	return nil
}

// handleFundWallet credits a wallet from the external funding boundary.
func (ctx *opContext) handleFundWallet(e *event.FundWallet) error {
	platform, err := ctx.platformRecord()
	if err != nil {
		return err
	}
	if err := ctx.requireAdmin(platform); err != nil {
		return err
	}
	if e.Amount <= 0 {
		return errs.ErrInvalidAmount
	}
	assetID, ok := ledger.GetAssetID(e.Asset)
	if !ok {
		return fmt.Errorf("asset %q: %w", e.Asset, errs.ErrUnknownAsset)
	}

	to := ledger.WalletKey(e.Owner, assetID)
	if _, err := fpmath.CheckedAdd(ctx.transfers.Balance(to), e.Amount); err != nil {
		return err
	}
	if err := ctx.transfers.Transfer(ledger.ExternalFundingKey(assetID), to, e.Amount, ledger.JournalTypeFund); err != nil {
		return err
	}

	ctx.emit(event.Record{
		Kind:         event.RecordWalletFunded,
		Counterparty: e.Owner,
		Amount:       e.Amount,
		Value:        int64(assetID),
	})
	return nil
}
