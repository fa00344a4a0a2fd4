package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"TimeMarket/internal/event"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

// ParseOp resolves the operation name and decodes its JSON payload. Every
// transport goes through here before anything reaches the core.
func ParseOp(opType string, data []byte) (event.Event, error) {
	et, ok := event.ParseEventType(opType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrMalformed, opType)
	}
	return Parse(et, data)
}

// Parse decodes the JSON wire form of one operation.
func Parse(et event.EventType, data []byte) (event.Event, error) {
	decode, ok := decoders[et]
	if !ok {
		return nil, fmt.Errorf("%w: unknown event type %d", ErrMalformed, et)
	}
	evt, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrMalformed, et, err)
	}
	return evt, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Every operation
// carries the header fields; an omitted sequence means unsequenced.

type headerJSON struct {
	OpID        string `json:"op_id"`
	Caller      string `json:"caller"`
	Sequence    *int64 `json:"sequence,omitempty"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (h headerJSON) meta() (event.Meta, error) {
	opID, err := uuid.Parse(h.OpID)
	if err != nil {
		return event.Meta{}, fmt.Errorf("parse op_id: %w", err)
	}
	// An empty caller is filled in by the authenticated transport.
	var caller uuid.UUID
	if h.Caller != "" {
		if caller, err = uuid.Parse(h.Caller); err != nil {
			return event.Meta{}, fmt.Errorf("parse caller: %w", err)
		}
	}
	seq := event.Unsequenced
	if h.Sequence != nil {
		if *h.Sequence < 0 {
			return event.Meta{}, fmt.Errorf("negative sequence %d", *h.Sequence)
		}
		seq = *h.Sequence
	}
	return event.Meta{OpID: opID, Caller: caller, Sequence: seq, Time: h.TimestampUs}, nil
}

func headerOf(m *event.Meta) headerJSON {
	h := headerJSON{OpID: m.OpID.String(), Caller: m.Caller.String(), TimestampUs: m.Time}
	if m.Sequence != event.Unsequenced {
		seq := m.Sequence
		h.Sequence = &seq
	}
	return h
}

type slotOpJSON struct {
	headerJSON
	SlotID string `json:"slot_id"`
}

func (s slotOpJSON) decode() (event.Meta, event.SlotRef, error) {
	meta, err := s.meta()
	if err != nil {
		return meta, event.SlotRef{}, err
	}
	id, err := uuid.Parse(s.SlotID)
	if err != nil {
		return meta, event.SlotRef{}, fmt.Errorf("parse slot_id: %w", err)
	}
	return meta, event.SlotRef{SlotID: id}, nil
}

func slotOpOf(m *event.Meta, ref event.SlotRef) slotOpJSON {
	return slotOpJSON{headerJSON: headerOf(m), SlotID: ref.SlotID.String()}
}

type initPlatformJSON struct {
	headerJSON
	FeeBps int64  `json:"fee_bps"`
	Asset  string `json:"asset"`
}

type initCreatorProfileJSON struct {
	headerJSON
	PayoutWallet   string `json:"payout_wallet"`
	FeeBpsOverride *int64 `json:"fee_bps_override,omitempty"`
}

type updateCreatorProfileJSON struct {
	headerJSON
	ProfileID        string  `json:"profile_id"`
	PayoutWallet     *string `json:"payout_wallet,omitempty"`
	SetFeeOverride   *int64  `json:"set_fee_override,omitempty"`
	ClearFeeOverride bool    `json:"clear_fee_override,omitempty"`
}

type fundWalletJSON struct {
	headerJSON
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type slotParamsJSON struct {
	Nonce           uint64  `json:"nonce"`
	Rail            string  `json:"rail,omitempty"`
	StartTs         int64   `json:"start_ts"`
	EndTs           int64   `json:"end_ts"`
	TzOffsetMin     int16   `json:"tz_offset_min,omitempty"`
	SubjectHash     string  `json:"subject_hash,omitempty"`
	VenueHash       string  `json:"venue_hash,omitempty"`
	Mode            string  `json:"mode"`
	CapacityTotal   uint32  `json:"capacity_total"`
	NFTMint         *string `json:"nft_mint,omitempty"`
	Price           int64   `json:"price"`
	MinIncrementBps int64   `json:"min_increment_bps,omitempty"`
	BuyNow          int64   `json:"buy_now,omitempty"`
	AuctionStartTs  int64   `json:"auction_start_ts,omitempty"`
	AuctionEndTs    int64   `json:"auction_end_ts,omitempty"`
	AntiSnipingSec  int64   `json:"anti_sniping_sec,omitempty"`
	RevealWindowSec int64   `json:"reveal_window_sec,omitempty"`
	MaxCommits      uint32  `json:"max_commits,omitempty"`
}

type createTimeSlotJSON struct {
	headerJSON
	ProfileID string `json:"profile_id"`
	slotParamsJSON
}

type amountOpJSON struct {
	slotOpJSON
	Amount int64 `json:"amount"`
}

type bidPlaceJSON struct {
	slotOpJSON
	Amount     int64  `json:"amount"`
	MaxAutoBid *int64 `json:"max_auto_bid,omitempty"`
}

type updateEndJSON struct {
	slotOpJSON
	NewEndTs int64 `json:"new_end_ts"`
}

type bidCommitJSON struct {
	slotOpJSON
	Commitment string `json:"commitment"`
	Deposit    int64  `json:"deposit"`
}

type bidRevealJSON struct {
	slotOpJSON
	Amount int64  `json:"amount"`
	Salt   string `json:"salt"`
}

type raiseDisputeJSON struct {
	slotOpJSON
	ReasonCode uint16 `json:"reason_code"`
}

type resolveDisputeJSON struct {
	slotOpJSON
	SplitBpsToCreator int64 `json:"split_bps_to_creator"`
}

type tipJSON struct {
	headerJSON
	SlotID      string `json:"slot_id,omitempty"`
	ProfileID   string `json:"profile_id"`
	Amount      int64  `json:"amount"`
	Rail        string `json:"rail,omitempty"`
	MessageHash string `json:"message_hash,omitempty"`
}

var modeNames = map[state.Mode]string{
	state.ModeStable:         "stable",
	state.ModeEnglishAuction: "english_auction",
	state.ModeSealedBid:      "sealed_bid",
}

// --- Decoders ---

type decodeFunc func([]byte) (event.Event, error)

var decoders = map[event.EventType]decodeFunc{
	event.EventTypeInitPlatform:         parseInitPlatform,
	event.EventTypeInitCreatorProfile:   parseInitCreatorProfile,
	event.EventTypeUpdateCreatorProfile: parseUpdateCreatorProfile,
	event.EventTypeFundWallet:           parseFundWallet,
	event.EventTypeCreateTimeSlot:       parseCreateTimeSlot,
	event.EventTypeCloseSlot:            slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.CloseSlot{Meta: m, SlotRef: r} }),
	event.EventTypeStableReserve:        parseStableReserve,
	event.EventTypeStableCancel:         slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.StableCancel{Meta: m, SlotRef: r} }),
	event.EventTypeStableCheckin:        slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.StableCheckin{Meta: m, SlotRef: r} }),
	event.EventTypeStableSettle:         slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.StableSettle{Meta: m, SlotRef: r} }),
	event.EventTypeAuctionStart:         slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.AuctionStart{Meta: m, SlotRef: r} }),
	event.EventTypeBidPlace:             parseBidPlace,
	event.EventTypeAuctionUpdateEnd:     parseAuctionUpdateEnd,
	event.EventTypeBuyNow:               slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.BuyNow{Meta: m, SlotRef: r} }),
	event.EventTypeAuctionEnd:           slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.AuctionEnd{Meta: m, SlotRef: r} }),
	event.EventTypeAuctionCheckin:       slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.AuctionCheckin{Meta: m, SlotRef: r} }),
	event.EventTypeAuctionSettle:        slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.AuctionSettle{Meta: m, SlotRef: r} }),
	event.EventTypeBidOutbidRefund:      slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.BidOutbidRefund{Meta: m, SlotRef: r} }),
	event.EventTypeBidCommit:            parseBidCommit,
	event.EventTypeBidReveal:            parseBidReveal,
	event.EventTypeSealedAuctionEnd:     slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.SealedAuctionEnd{Meta: m, SlotRef: r} }),
	event.EventTypeSealedAuctionSettle:  slotOnly(func(m event.Meta, r event.SlotRef) event.Event { return &event.SealedAuctionSettle{Meta: m, SlotRef: r} }),
	event.EventTypeRaiseDispute:         parseRaiseDispute,
	event.EventTypeResolveDispute:       parseResolveDispute,
	event.EventTypeTipCreator:           parseTipCreator,
	event.EventTypeTipForSession:        parseTipForSession,
}

func slotOnly(build func(event.Meta, event.SlotRef) event.Event) decodeFunc {
	return func(data []byte) (event.Event, error) {
		var j slotOpJSON
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, err
		}
		meta, ref, err := j.decode()
		if err != nil {
			return nil, err
		}
		return build(meta, ref), nil
	}
}

func parseInitPlatform(data []byte) (event.Event, error) {
	var j initPlatformJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	return &event.InitPlatform{Meta: meta, FeeBps: j.FeeBps, Asset: j.Asset}, nil
}

func parseInitCreatorProfile(data []byte) (event.Event, error) {
	var j initCreatorProfileJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	payout, err := uuid.Parse(j.PayoutWallet)
	if err != nil {
		return nil, fmt.Errorf("parse payout_wallet: %w", err)
	}
	return &event.InitCreatorProfile{Meta: meta, PayoutWallet: payout, FeeBpsOverride: j.FeeBpsOverride}, nil
}

func parseUpdateCreatorProfile(data []byte) (event.Event, error) {
	var j updateCreatorProfileJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	profileID, err := uuid.Parse(j.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("parse profile_id: %w", err)
	}
	payout, err := parseOptionalID(j.PayoutWallet)
	if err != nil {
		return nil, fmt.Errorf("parse payout_wallet: %w", err)
	}
	return &event.UpdateCreatorProfile{
		Meta:             meta,
		ProfileID:        profileID,
		PayoutWallet:     payout,
		SetFeeOverride:   j.SetFeeOverride,
		ClearFeeOverride: j.ClearFeeOverride,
	}, nil
}

func parseFundWallet(data []byte) (event.Event, error) {
	var j fundWalletJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return &event.FundWallet{Meta: meta, Owner: owner, Asset: j.Asset, Amount: j.Amount}, nil
}

func parseCreateTimeSlot(data []byte) (event.Event, error) {
	var j createTimeSlotJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	profileID, err := uuid.Parse(j.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("parse profile_id: %w", err)
	}

	p := j.slotParamsJSON
	mode, ok := state.ParseMode(p.Mode)
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", p.Mode)
	}
	rail, ok := state.ParseRail(p.Rail)
	if !ok {
		return nil, fmt.Errorf("unknown rail %q", p.Rail)
	}
	subject, err := parseHash32(p.SubjectHash)
	if err != nil {
		return nil, fmt.Errorf("parse subject_hash: %w", err)
	}
	venue, err := parseHash32(p.VenueHash)
	if err != nil {
		return nil, fmt.Errorf("parse venue_hash: %w", err)
	}
	mint, err := parseOptionalID(p.NFTMint)
	if err != nil {
		return nil, fmt.Errorf("parse nft_mint: %w", err)
	}

	return &event.CreateTimeSlot{
		Meta:      meta,
		ProfileID: profileID,
		Params: state.SlotParams{
			Nonce:           p.Nonce,
			Rail:            rail,
			StartTs:         p.StartTs,
			EndTs:           p.EndTs,
			TzOffsetMin:     p.TzOffsetMin,
			SubjectHash:     subject,
			VenueHash:       venue,
			Mode:            mode,
			CapacityTotal:   p.CapacityTotal,
			NFTMint:         mint,
			Price:           p.Price,
			MinIncrementBps: p.MinIncrementBps,
			BuyNow:          p.BuyNow,
			AuctionStartTs:  p.AuctionStartTs,
			AuctionEndTs:    p.AuctionEndTs,
			AntiSnipingSec:  p.AntiSnipingSec,
			RevealWindowSec: p.RevealWindowSec,
			MaxCommits:      p.MaxCommits,
		},
	}, nil
}

func parseStableReserve(data []byte) (event.Event, error) {
	var j amountOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, ref, err := j.decode()
	if err != nil {
		return nil, err
	}
	return &event.StableReserve{Meta: meta, SlotRef: ref, Amount: j.Amount}, nil
}

func parseBidPlace(data []byte) (event.Event, error) {
	var j bidPlaceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, ref, err := j.decode()
	if err != nil {
		return nil, err
	}
	return &event.BidPlace{Meta: meta, SlotRef: ref, Amount: j.Amount, MaxAutoBid: j.MaxAutoBid}, nil
}

func parseAuctionUpdateEnd(data []byte) (event.Event, error) {
	var j updateEndJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, ref, err := j.decode()
	if err != nil {
		return nil, err
	}
	return &event.AuctionUpdateEnd{Meta: meta, SlotRef: ref, NewEndTs: j.NewEndTs}, nil
}

func parseBidCommit(data []byte) (event.Event, error) {
	var j bidCommitJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, ref, err := j.decode()
	if err != nil {
		return nil, err
	}
	commitment, err := parseHash32(j.Commitment)
	if err != nil {
		return nil, fmt.Errorf("parse commitment: %w", err)
	}
	return &event.BidCommit{Meta: meta, SlotRef: ref, Commitment: commitment, Deposit: j.Deposit}, nil
}

func parseBidReveal(data []byte) (event.Event, error) {
	var j bidRevealJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, ref, err := j.decode()
	if err != nil {
		return nil, err
	}
	salt, err := parseHash32(j.Salt)
	if err != nil {
		return nil, fmt.Errorf("parse salt: %w", err)
	}
	return &event.BidReveal{Meta: meta, SlotRef: ref, Amount: j.Amount, Salt: salt}, nil
}

func parseRaiseDispute(data []byte) (event.Event, error) {
	var j raiseDisputeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, ref, err := j.decode()
	if err != nil {
		return nil, err
	}
	return &event.RaiseDispute{Meta: meta, SlotRef: ref, ReasonCode: j.ReasonCode}, nil
}

func parseResolveDispute(data []byte) (event.Event, error) {
	var j resolveDisputeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, ref, err := j.decode()
	if err != nil {
		return nil, err
	}
	return &event.ResolveDispute{Meta: meta, SlotRef: ref, SplitBpsToCreator: j.SplitBpsToCreator}, nil
}

func (j tipJSON) decode() (event.Meta, uuid.UUID, state.Rail, *[32]byte, error) {
	meta, err := j.meta()
	if err != nil {
		return meta, uuid.Nil, 0, nil, err
	}
	profileID, err := uuid.Parse(j.ProfileID)
	if err != nil {
		return meta, uuid.Nil, 0, nil, fmt.Errorf("parse profile_id: %w", err)
	}
	rail, ok := state.ParseRail(j.Rail)
	if !ok {
		return meta, uuid.Nil, 0, nil, fmt.Errorf("unknown rail %q", j.Rail)
	}
	var msg *[32]byte
	if j.MessageHash != "" {
		h, err := parseHash32(j.MessageHash)
		if err != nil {
			return meta, uuid.Nil, 0, nil, fmt.Errorf("parse message_hash: %w", err)
		}
		msg = &h
	}
	return meta, profileID, rail, msg, nil
}

func parseTipCreator(data []byte) (event.Event, error) {
	var j tipJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, profileID, rail, msg, err := j.decode()
	if err != nil {
		return nil, err
	}
	return &event.TipCreator{Meta: meta, ProfileID: profileID, Amount: j.Amount, Rail: rail, MessageHash: msg}, nil
}

func parseTipForSession(data []byte) (event.Event, error) {
	var j tipJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	meta, profileID, rail, msg, err := j.decode()
	if err != nil {
		return nil, err
	}
	slotID, err := uuid.Parse(j.SlotID)
	if err != nil {
		return nil, fmt.Errorf("parse slot_id: %w", err)
	}
	return &event.TipForSession{
		Meta:        meta,
		SlotRef:     event.SlotRef{SlotID: slotID},
		ProfileID:   profileID,
		Amount:      j.Amount,
		Rail:        rail,
		MessageHash: msg,
	}, nil
}

// parseHash32 decodes a hex digest; empty input is the zero digest.
func parseHash32(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func parseOptionalID(s *string) (*uuid.UUID, error) {
	if s == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
