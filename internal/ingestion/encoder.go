package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"TimeMarket/internal/event"
)

// EncodeEvent renders an operation in the JSON wire form Parse accepts. The
// core stores it as the event log payload so replay goes through the same
// parser as live traffic.
func EncodeEvent(evt event.Event) ([]byte, error) {
	var v any
	switch e := evt.(type) {
	case *event.InitPlatform:
		v = initPlatformJSON{headerJSON: headerOf(&e.Meta), FeeBps: e.FeeBps, Asset: e.Asset}
	case *event.InitCreatorProfile:
		v = initCreatorProfileJSON{headerJSON: headerOf(&e.Meta), PayoutWallet: e.PayoutWallet.String(), FeeBpsOverride: e.FeeBpsOverride}
	case *event.UpdateCreatorProfile:
		j := updateCreatorProfileJSON{
			headerJSON:       headerOf(&e.Meta),
			ProfileID:        e.ProfileID.String(),
			SetFeeOverride:   e.SetFeeOverride,
			ClearFeeOverride: e.ClearFeeOverride,
		}
		if e.PayoutWallet != nil {
			s := e.PayoutWallet.String()
			j.PayoutWallet = &s
		}
		v = j
	case *event.FundWallet:
		v = fundWalletJSON{headerJSON: headerOf(&e.Meta), Owner: e.Owner.String(), Asset: e.Asset, Amount: e.Amount}
	case *event.CreateTimeSlot:
		v = encodeCreateTimeSlot(e)
	case *event.StableReserve:
		v = amountOpJSON{slotOpJSON: slotOpOf(&e.Meta, e.SlotRef), Amount: e.Amount}
	case *event.BidPlace:
		v = bidPlaceJSON{slotOpJSON: slotOpOf(&e.Meta, e.SlotRef), Amount: e.Amount, MaxAutoBid: e.MaxAutoBid}
	case *event.AuctionUpdateEnd:
		v = updateEndJSON{slotOpJSON: slotOpOf(&e.Meta, e.SlotRef), NewEndTs: e.NewEndTs}
	case *event.BidCommit:
		v = bidCommitJSON{slotOpJSON: slotOpOf(&e.Meta, e.SlotRef), Commitment: hex.EncodeToString(e.Commitment[:]), Deposit: e.Deposit}
	case *event.BidReveal:
		v = bidRevealJSON{slotOpJSON: slotOpOf(&e.Meta, e.SlotRef), Amount: e.Amount, Salt: hex.EncodeToString(e.Salt[:])}
	case *event.RaiseDispute:
		v = raiseDisputeJSON{slotOpJSON: slotOpOf(&e.Meta, e.SlotRef), ReasonCode: e.ReasonCode}
	case *event.ResolveDispute:
		v = resolveDisputeJSON{slotOpJSON: slotOpOf(&e.Meta, e.SlotRef), SplitBpsToCreator: e.SplitBpsToCreator}
	case *event.TipCreator:
		v = tipJSON{
			headerJSON:  headerOf(&e.Meta),
			ProfileID:   e.ProfileID.String(),
			Amount:      e.Amount,
			Rail:        e.Rail.String(),
			MessageHash: optionalHex(e.MessageHash),
		}
	case *event.TipForSession:
		v = tipJSON{
			headerJSON:  headerOf(&e.Meta),
			SlotID:      e.SlotID.String(),
			ProfileID:   e.ProfileID.String(),
			Amount:      e.Amount,
			Rail:        e.Rail.String(),
			MessageHash: optionalHex(e.MessageHash),
		}
	case *event.CloseSlot:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.StableCancel:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.StableCheckin:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.StableSettle:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.AuctionStart:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.BuyNow:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.AuctionEnd:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.AuctionCheckin:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.AuctionSettle:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.BidOutbidRefund:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.SealedAuctionEnd:
		v = slotOpOf(&e.Meta, e.SlotRef)
	case *event.SealedAuctionSettle:
		v = slotOpOf(&e.Meta, e.SlotRef)
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", evt)
	}
	return json.Marshal(v)
}

func encodeCreateTimeSlot(e *event.CreateTimeSlot) createTimeSlotJSON {
	p := e.Params
	j := createTimeSlotJSON{
		headerJSON: headerOf(&e.Meta),
		ProfileID:  e.ProfileID.String(),
		slotParamsJSON: slotParamsJSON{
			Nonce:           p.Nonce,
			Rail:            p.Rail.String(),
			StartTs:         p.StartTs,
			EndTs:           p.EndTs,
			TzOffsetMin:     p.TzOffsetMin,
			SubjectHash:     hex.EncodeToString(p.SubjectHash[:]),
			VenueHash:       hex.EncodeToString(p.VenueHash[:]),
			Mode:            modeNames[p.Mode],
			CapacityTotal:   p.CapacityTotal,
			Price:           p.Price,
			MinIncrementBps: p.MinIncrementBps,
			BuyNow:          p.BuyNow,
			AuctionStartTs:  p.AuctionStartTs,
			AuctionEndTs:    p.AuctionEndTs,
			AntiSnipingSec:  p.AntiSnipingSec,
			RevealWindowSec: p.RevealWindowSec,
			MaxCommits:      p.MaxCommits,
		},
	}
	if p.NFTMint != nil {
		s := p.NFTMint.String()
		j.NFTMint = &s
	}
	return j
}

func optionalHex(h *[32]byte) string {
	if h == nil {
		return ""
	}
	return hex.EncodeToString(h[:])
}
