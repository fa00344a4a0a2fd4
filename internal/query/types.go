package query

import (
	"TimeMarket/internal/ledger"
	fpmath "TimeMarket/internal/math"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

// SlotView is the read model of a time slot. Amounts are minor units with a
// display string alongside. AsOfSequence is the core sequence the view
// reflects.
type SlotView struct {
	SlotID         uuid.UUID  `json:"slot_id"`
	ProfileID      uuid.UUID  `json:"profile_id"`
	Creator        uuid.UUID  `json:"creator"`
	Mode           string     `json:"mode"`
	State          string     `json:"state"`
	Rail           string     `json:"rail"`
	Frozen         bool       `json:"frozen"`
	StartTs        int64      `json:"start_ts"`
	EndTs          int64      `json:"end_ts"`
	Price          int64      `json:"price"`
	PriceDisplay   string     `json:"price_display"`
	CapacityTotal  uint32     `json:"capacity_total"`
	CapacitySold   uint32     `json:"capacity_sold"`
	AuctionEndTs   int64      `json:"auction_end_ts,omitempty"`
	HighestBid     int64      `json:"highest_bid,omitempty"`
	HighestBidder  *uuid.UUID `json:"highest_bidder,omitempty"`
	Buyer          *uuid.UUID `json:"buyer,omitempty"`
	AmountLocked   int64      `json:"amount_locked"`
	LockedDisplay  string     `json:"amount_locked_display"`
	RefundsPending int        `json:"refunds_pending"`
	TipsReceived   int64      `json:"tips_received"`
	Version        int64      `json:"version"`
	AsOfSequence   int64      `json:"as_of_sequence"`
}

// ProfileView is the read model of a creator profile.
type ProfileView struct {
	ProfileID      uuid.UUID `json:"profile_id"`
	Authority      uuid.UUID `json:"authority"`
	PayoutWallet   uuid.UUID `json:"payout_wallet"`
	FeeBpsOverride *int64    `json:"fee_bps_override,omitempty"`
	TotalTips      int64     `json:"total_tips"`
	TipCount       uint64    `json:"tip_count"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// BalanceView is a participant wallet balance.
type BalanceView struct {
	Owner        uuid.UUID `json:"owner"`
	Asset        string    `json:"asset"`
	Balance      int64     `json:"balance"`
	Display      string    `json:"display"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// NewSlotView builds the read model from a committed slot record. Amounts
// are denominated in the escrow account's asset.
func NewSlotView(rec *state.SlotRecord, seq int64) SlotView {
	s := &rec.Slot
	decimals := ledger.AssetDecimals(rec.Escrow.Account.AssetID)
	v := SlotView{
		SlotID:         s.ID,
		ProfileID:      s.ProfileID,
		Creator:        s.Creator,
		Mode:           s.Mode.String(),
		State:          s.State.String(),
		Rail:           s.Rail.String(),
		Frozen:         s.Frozen,
		StartTs:        s.StartTs,
		EndTs:          s.EndTs,
		Price:          s.Price,
		PriceDisplay:   fpmath.FormatAmount(s.Price, decimals),
		CapacityTotal:  s.CapacityTotal,
		CapacitySold:   s.CapacitySold,
		AuctionEndTs:   s.AuctionEndTs,
		HighestBid:     rec.Book.HighestBid,
		AmountLocked:   rec.Escrow.AmountLocked,
		LockedDisplay:  fpmath.FormatAmount(rec.Escrow.AmountLocked, decimals),
		RefundsPending: len(rec.Refunds.Pending),
		TipsReceived:   s.TotalTipsReceived,
		Version:        rec.Version,
		AsOfSequence:   seq,
	}
	if rec.Book.HighestBidder != nil {
		id := *rec.Book.HighestBidder
		v.HighestBidder = &id
	}
	if rec.Escrow.Buyer != nil {
		id := *rec.Escrow.Buyer
		v.Buyer = &id
	}
	return v
}

// NewProfileView builds the read model from a committed profile.
func NewProfileView(p *state.CreatorProfile, seq int64) ProfileView {
	v := ProfileView{
		ProfileID:    p.ID,
		Authority:    p.Authority,
		PayoutWallet: p.PayoutWallet,
		TotalTips:    p.TotalTipsReceived,
		TipCount:     p.TipCount,
		AsOfSequence: seq,
	}
	if p.FeeBpsOverride != nil {
		fee := *p.FeeBpsOverride
		v.FeeBpsOverride = &fee
	}
	return v
}
