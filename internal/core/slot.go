package core

import (
	"fmt"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	"TimeMarket/internal/state"
)

// handleCreateTimeSlot lists a slot with its escrow and the bid records of its mode.
func (ctx *opContext) handleCreateTimeSlot(e *event.CreateTimeSlot) error {
	platform, err := ctx.platformRecord()
	if err != nil {
		return err
	}
	profile, err := ctx.lookupProfile(e.ProfileID)
	if err != nil {
		return err
	}
	if profile.Authority != ctx.caller() {
		return fmt.Errorf("profile %s: %w", profile.ID, errs.ErrUnauthorized)
	}

	p := e.Params
	if err := p.Validate(); err != nil {
		return fmt.Errorf("slot params: %w", err)
	}

	id := state.SlotKey(profile.ID, p.Nonce)
	if ctx.core.registry.HasSlot(id) {
		return fmt.Errorf("slot %s: %w", id, errs.ErrAlreadyExists)
	}

	rec := &state.SlotRecord{
		Slot: state.TimeSlot{
			ID:              id,
			ProfileID:       profile.ID,
			Creator:         profile.Authority,
			PlatformID:      platform.ID,
			Nonce:           p.Nonce,
			Rail:            p.Rail,
			StartTs:         p.StartTs,
			EndTs:           p.EndTs,
			TzOffsetMin:     p.TzOffsetMin,
			SubjectHash:     p.SubjectHash,
			VenueHash:       p.VenueHash,
			Mode:            p.Mode,
			State:           state.SlotStateOpen,
			CapacityTotal:   p.CapacityTotal,
			Price:           p.Price,
			MinIncrementBps: p.MinIncrementBps,
			BuyNow:          p.BuyNow,
			AuctionStartTs:  p.AuctionStartTs,
			AuctionEndTs:    p.AuctionEndTs,
			AntiSnipingSec:  p.AntiSnipingSec,
			RevealWindowSec: p.RevealWindowSec,
		},
		Escrow: state.Escrow{SlotID: id},
	}
	if p.NFTMint != nil {
		m := *p.NFTMint
		rec.Slot.NFTMint = &m
	}

	if p.Rail == state.RailNative {
		rec.Escrow.Account = ledger.EscrowNativeKey(id)
	} else {
		rec.Escrow.Account = ledger.EscrowVaultKey(id, platform.AssetID)
	}

	cfg := ctx.core.cfg
	switch p.Mode {
	case state.ModeEnglishAuction:
		rec.Book.NextMinBid = p.Price
		rec.Refunds.Capacity = cfg.RefundQueueCapacity
		rec.AutoBids.Capacity = cfg.AutoBidCapacity
	case state.ModeSealedBid:
		rec.Book.NextMinBid = p.Price
		rec.Commits.MaxEntries = int(p.MaxCommits)
		// Every losing commit can be queued at close.
		rec.Refunds.Capacity = max(cfg.RefundQueueCapacity, int(p.MaxCommits))
	}

	ctx.addSlot(rec)
	ctx.emit(event.Record{
		Kind:      event.RecordSlotCreated,
		SlotID:    id,
		ProfileID: profile.ID,
		Amount:    p.Price,
		Value:     int64(p.Mode),
	})
	return nil
}

// handleCloseSlot withdraws a slot. A bound buyer is refunded their
// settleable escrow; live bids are queued for refund.
func (ctx *opContext) handleCloseSlot(e *event.CloseSlot) error {
	rec, err := ctx.slot(e.SlotID)
	if err != nil {
		return err
	}
	if err := state.CheckTransition(&rec.Slot, state.OpCloseSlot); err != nil {
		return err
	}
	if !ctx.isCreator(rec) {
		platform, err := ctx.platformRecord()
		if err != nil {
			return err
		}
		if err := ctx.requireAdmin(platform); err != nil {
			return err
		}
	}

	var refunded int64
	next := state.SlotStateClosed

	switch rec.Slot.State {
	case state.SlotStateReserved, state.SlotStateLocked:
		if !rec.Escrow.HasBuyer() {
			return errs.ErrNotReserved
		}
		buyer := *rec.Escrow.Buyer
		refunded = rec.Settleable()
		if err := ctx.releaseToWallet(rec, buyer, refunded, ledger.JournalTypeRefund); err != nil {
			return err
		}
		next = state.SlotStateRefunded
		ctx.emit(event.Record{
			Kind:         event.RecordRefunded,
			SlotID:       rec.Slot.ID,
			ProfileID:    rec.Slot.ProfileID,
			Counterparty: buyer,
			Amount:       refunded,
		})

	case state.SlotStateAuctionLive:
		switch rec.Slot.Mode {
		case state.ModeEnglishAuction:
			if leader := rec.Book.HighestBidder; leader != nil {
				if err := ctx.queueRefund(rec, *leader, rec.Book.LeaderDeposit); err != nil {
					return err
				}
				rec.Book.LeaderDeposit = 0
			}
			rec.AutoBids.Clear()
		case state.ModeSealedBid:
			for _, c := range rec.Commits.Entries {
				if err := ctx.queueRefund(rec, c.Bidder, c.Deposit); err != nil {
					return err
				}
			}
		}
	}

	if err := state.Advance(&rec.Slot, state.OpCloseSlot, next); err != nil {
		return err
	}
	ctx.emit(event.Record{
		Kind:      event.RecordSlotClosed,
		SlotID:    rec.Slot.ID,
		ProfileID: rec.Slot.ProfileID,
		Amount:    refunded,
		Value:     int64(next),
	})
	return nil
}
