package state

import (
	"fmt"

	"TimeMarket/internal/errs"
)

// Operation names a slot lifecycle operation for the transition table.
type Operation uint8

const (
	OpStableReserve Operation = iota
	OpStableCancel
	OpStableCheckin
	OpStableSettle
	OpAuctionStart
	OpBidPlace
	OpAuctionUpdateEnd
	OpBuyNow
	OpAuctionEnd
	OpAuctionCheckin
	OpAuctionSettle
	OpBidCommit
	OpBidReveal
	OpSealedAuctionEnd
	OpSealedAuctionSettle
	OpBidOutbidRefund
	OpRaiseDispute
	OpResolveDispute
	OpCloseSlot
	OpTipForSession
)

func (op Operation) String() string {
	switch op {
	case OpStableReserve:
		return "stable_reserve"
	case OpStableCancel:
		return "stable_cancel"
	case OpStableCheckin:
		return "stable_checkin"
	case OpStableSettle:
		return "stable_settle"
	case OpAuctionStart:
		return "auction_start"
	case OpBidPlace:
		return "bid_place"
	case OpAuctionUpdateEnd:
		return "auction_update_end"
	case OpBuyNow:
		return "buy_now"
	case OpAuctionEnd:
		return "auction_end"
	case OpAuctionCheckin:
		return "auction_checkin"
	case OpAuctionSettle:
		return "auction_settle"
	case OpBidCommit:
		return "bid_commit"
	case OpBidReveal:
		return "bid_reveal"
	case OpSealedAuctionEnd:
		return "sealed_auction_end"
	case OpSealedAuctionSettle:
		return "sealed_auction_settle"
	case OpBidOutbidRefund:
		return "bid_outbid_refund"
	case OpRaiseDispute:
		return "raise_dispute"
	case OpResolveDispute:
		return "resolve_dispute"
	case OpCloseSlot:
		return "close_slot"
	case OpTipForSession:
		return "tip_for_session"
	default:
		return "unknown"
	}
}

type modeSet uint8

func modes(ms ...Mode) modeSet {
	var s modeSet
	for _, m := range ms {
		s |= 1 << m
	}
	return s
}

func (s modeSet) has(m Mode) bool { return s&(1<<m) != 0 }

var (
	anyMode     = modes(ModeStable, ModeEnglishAuction, ModeSealedBid)
	auctionMode = modes(ModeEnglishAuction, ModeSealedBid)
	allStates   = []SlotState{
		SlotStateDraft, SlotStateOpen, SlotStateReserved, SlotStateAuctionLive, SlotStateLocked,
		SlotStateCompleted, SlotStateSettled, SlotStateRefunded, SlotStateClosed,
	}
)

// frozenPolicy says how an operation interacts with the dispute freeze.
type frozenPolicy uint8

const (
	blockedWhenFrozen frozenPolicy = iota
	requiresFrozen
	ignoresFrozen
)

type transitionRule struct {
	modes  modeSet
	frozen frozenPolicy
	// edges maps each allowed source state to its allowed targets.
	edges map[SlotState][]SlotState
}

func self(states ...SlotState) map[SlotState][]SlotState {
	m := make(map[SlotState][]SlotState, len(states))
	for _, s := range states {
		m[s] = []SlotState{s}
	}
	return m
}

// transitionTable is the single source of truth for the slot lifecycle.
var transitionTable = map[Operation]transitionRule{
	OpStableReserve: {modes(ModeStable), blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateOpen: {SlotStateReserved},
	}},
	OpStableCancel: {modes(ModeStable), blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateReserved: {SlotStateOpen},
	}},
	OpStableCheckin: {modes(ModeStable), blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateReserved: {SlotStateCompleted},
		SlotStateLocked:   {SlotStateCompleted},
	}},
	OpStableSettle: {modes(ModeStable), blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateReserved:  {SlotStateLocked},
		SlotStateCompleted: {SlotStateSettled},
	}},
	OpAuctionStart: {auctionMode, blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateOpen: {SlotStateAuctionLive},
	}},
	OpBidPlace:         {modes(ModeEnglishAuction), blockedWhenFrozen, self(SlotStateAuctionLive)},
	OpAuctionUpdateEnd: {modes(ModeEnglishAuction), blockedWhenFrozen, self(SlotStateOpen, SlotStateAuctionLive)},
	OpBuyNow: {modes(ModeEnglishAuction), blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateOpen:        {SlotStateLocked},
		SlotStateAuctionLive: {SlotStateLocked},
	}},
	OpAuctionEnd: {modes(ModeEnglishAuction), blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateAuctionLive: {SlotStateLocked},
	}},
	OpAuctionCheckin: {auctionMode, blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateLocked: {SlotStateCompleted},
	}},
	OpAuctionSettle: {modes(ModeEnglishAuction), blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateCompleted: {SlotStateSettled},
	}},
	OpBidCommit: {modes(ModeSealedBid), blockedWhenFrozen, self(SlotStateAuctionLive)},
	OpBidReveal: {modes(ModeSealedBid), blockedWhenFrozen, self(SlotStateAuctionLive)},
	OpSealedAuctionEnd: {modes(ModeSealedBid), blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateAuctionLive: {SlotStateLocked},
	}},
	OpSealedAuctionSettle: {modes(ModeSealedBid), blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateCompleted: {SlotStateSettled},
	}},
	OpBidOutbidRefund: {auctionMode, blockedWhenFrozen, self(
		SlotStateAuctionLive, SlotStateLocked, SlotStateCompleted,
		SlotStateSettled, SlotStateRefunded, SlotStateClosed,
	)},
	OpRaiseDispute: {anyMode, blockedWhenFrozen, self(SlotStateReserved, SlotStateLocked, SlotStateCompleted)},
	OpResolveDispute: {anyMode, requiresFrozen, map[SlotState][]SlotState{
		SlotStateReserved:  {SlotStateSettled, SlotStateRefunded},
		SlotStateLocked:    {SlotStateSettled, SlotStateRefunded},
		SlotStateCompleted: {SlotStateSettled, SlotStateRefunded},
	}},
	OpCloseSlot: {anyMode, blockedWhenFrozen, map[SlotState][]SlotState{
		SlotStateOpen:        {SlotStateClosed},
		SlotStateAuctionLive: {SlotStateClosed},
		SlotStateReserved:    {SlotStateRefunded},
		SlotStateLocked:      {SlotStateRefunded},
	}},
	OpTipForSession: {anyMode, ignoresFrozen, self(allStates...)},
}

// CheckTransition validates mode, freeze and source state for op.
func CheckTransition(slot *TimeSlot, op Operation) error {
	rule, ok := transitionTable[op]
	if !ok {
		return fmt.Errorf("%s: no transition rule", op)
	}
	if !rule.modes.has(slot.Mode) {
		return fmt.Errorf("%s on %s slot: %w", op, slot.Mode, errs.ErrWrongMode)
	}
	switch rule.frozen {
	case blockedWhenFrozen:
		if slot.Frozen {
			return fmt.Errorf("%s: %w", op, errs.ErrFrozen)
		}
	case requiresFrozen:
		if !slot.Frozen {
			return fmt.Errorf("%s: %w", op, errs.ErrNotFrozen)
		}
	}
	if _, ok := rule.edges[slot.State]; !ok {
		return fmt.Errorf("%s from %s: %w", op, slot.State, errs.ErrInvalidState)
	}
	return nil
}

// Advance moves slot to next after checking the edge exists. Nothing leaves
// a terminal state, whatever the table says.
func Advance(slot *TimeSlot, op Operation, next SlotState) error {
	if slot.State.IsTerminal() && next != slot.State {
		return fmt.Errorf("%s %s is terminal: %w", op, slot.State, errs.ErrInvalidState)
	}
	rule, ok := transitionTable[op]
	if !ok {
		return fmt.Errorf("%s: no transition rule", op)
	}
	for _, allowed := range rule.edges[slot.State] {
		if allowed == next {
			slot.State = next
			return nil
		}
	}
	return fmt.Errorf("%s %s -> %s: %w", op, slot.State, next, errs.ErrInvalidState)
}

// CanTransition reports whether op may move a slot from one state to another.
func CanTransition(op Operation, from, to SlotState) bool {
	rule, ok := transitionTable[op]
	if !ok {
		return false
	}
	for _, allowed := range rule.edges[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
