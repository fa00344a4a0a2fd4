package state

import (
	"TimeMarket/internal/errs"
	fpmath "TimeMarket/internal/math"

	"github.com/google/uuid"
)

// Mode selects how a slot is sold.
type Mode uint8

const (
	ModeStable Mode = iota
	ModeEnglishAuction
	ModeSealedBid
)

func (m Mode) String() string {
	switch m {
	case ModeStable:
		return "Stable"
	case ModeEnglishAuction:
		return "EnglishAuction"
	case ModeSealedBid:
		return "SealedBid"
	default:
		return "Unknown"
	}
}

// ParseMode accepts the wire names of each mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "stable", "Stable":
		return ModeStable, true
	case "english", "english_auction", "EnglishAuction":
		return ModeEnglishAuction, true
	case "sealed", "sealed_bid", "SealedBid":
		return ModeSealedBid, true
	}
	return 0, false
}

// IsAuction reports whether the mode sells through bidding.
func (m Mode) IsAuction() bool {
	return m == ModeEnglishAuction || m == ModeSealedBid
}

// SlotState is the lifecycle position of a slot.
type SlotState uint8

const (
	SlotStateDraft SlotState = iota
	SlotStateOpen
	SlotStateReserved
	SlotStateAuctionLive
	SlotStateLocked
	SlotStateCompleted
	SlotStateSettled
	SlotStateRefunded
	SlotStateClosed
)

func (s SlotState) String() string {
	switch s {
	case SlotStateDraft:
		return "Draft"
	case SlotStateOpen:
		return "Open"
	case SlotStateReserved:
		return "Reserved"
	case SlotStateAuctionLive:
		return "AuctionLive"
	case SlotStateLocked:
		return "Locked"
	case SlotStateCompleted:
		return "Completed"
	case SlotStateSettled:
		return "Settled"
	case SlotStateRefunded:
		return "Refunded"
	case SlotStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no state transition leaves s.
func (s SlotState) IsTerminal() bool {
	return s == SlotStateSettled || s == SlotStateRefunded || s == SlotStateClosed
}

// Rail selects how escrowed value moves.
type Rail uint8

const (
	// RailToken moves value through the token transfer primitive into a vault.
	RailToken Rail = iota
	// RailNative debits and credits the escrow record's own native balance.
	RailNative
)

func (r Rail) String() string {
	if r == RailNative {
		return "native"
	}
	return "token"
}

// ParseRail accepts "token" (default when empty) and "native".
func ParseRail(s string) (Rail, bool) {
	switch s {
	case "", "token":
		return RailToken, true
	case "native":
		return RailNative, true
	}
	return 0, false
}

// TimeSlot is a sellable block of a creator's time.
type TimeSlot struct {
	ID                uuid.UUID
	ProfileID         uuid.UUID
	Creator           uuid.UUID
	PlatformID        uuid.UUID
	Nonce             uint64
	Rail              Rail
	StartTs           int64
	EndTs             int64
	TzOffsetMin       int16
	SubjectHash       [32]byte
	VenueHash         [32]byte
	Mode              Mode
	State             SlotState
	Frozen            bool
	BuyerCheckedIn    bool
	CapacityTotal     uint32
	CapacitySold      uint32
	NFTMint           *uuid.UUID
	Price             int64
	MinIncrementBps   int64
	BuyNow            int64
	AuctionStartTs    int64
	AuctionEndTs      int64
	AntiSnipingSec    int64
	RevealWindowSec   int64
	TotalTipsReceived int64
	DisputeReason     uint16
}

// SlotParams are the creator-supplied fields of a new slot.
type SlotParams struct {
	Nonce           uint64
	Rail            Rail
	StartTs         int64
	EndTs           int64
	TzOffsetMin     int16
	SubjectHash     [32]byte
	VenueHash       [32]byte
	Mode            Mode
	CapacityTotal   uint32
	NFTMint         *uuid.UUID
	Price           int64
	MinIncrementBps int64
	BuyNow          int64
	AuctionStartTs  int64
	AuctionEndTs    int64
	AntiSnipingSec  int64
	RevealWindowSec int64
	MaxCommits      uint32
}

// Validate checks params before any record is created. All slot times are
// unix seconds.
func (p SlotParams) Validate() error {
	if p.StartTs >= p.EndTs {
		return errs.ErrInvalidTimes
	}
	if p.CapacityTotal == 0 {
		return errs.ErrInvalidCapacity
	}
	if err := fpmath.ValidateBps(p.MinIncrementBps); err != nil {
		return err
	}
	if p.BuyNow < 0 || p.Price < 0 || p.AntiSnipingSec < 0 || p.RevealWindowSec < 0 {
		return errs.ErrInvalidPrice
	}

	switch p.Mode {
	case ModeStable:
		if p.Price <= 0 {
			return errs.ErrInvalidPrice
		}
	case ModeEnglishAuction, ModeSealedBid:
		if p.CapacityTotal != 1 {
			return errs.ErrInvalidCapacity
		}
		if p.AuctionStartTs == 0 || p.AuctionEndTs == 0 {
			return errs.ErrMissingAuctionWindow
		}
		if p.AuctionStartTs >= p.AuctionEndTs {
			return errs.ErrInvalidTimes
		}
		if p.BuyNow > 0 && p.BuyNow < p.Price {
			return errs.ErrInvalidPrice
		}
		if p.Mode == ModeSealedBid {
			if p.RevealWindowSec <= 0 {
				return errs.ErrInvalidTimes
			}
			if p.MaxCommits == 0 {
				return errs.ErrInvalidCapacity
			}
			if p.BuyNow > 0 {
				return errs.ErrBuyNowUnavailable
			}
		}
	default:
		return errs.ErrWrongMode
	}
	return nil
}

// T0Timestamp is when the first milestone becomes releasable: the session
// start for Stable slots and the close of bidding for auctions.
func (s *TimeSlot) T0Timestamp() int64 {
	if s.Mode.IsAuction() && s.AuctionEndTs != 0 {
		return s.AuctionEndTs
	}
	return s.StartTs
}

// RevealDeadline is the end of a sealed auction's reveal window.
func (s *TimeSlot) RevealDeadline() int64 {
	return s.AuctionEndTs + s.RevealWindowSec
}

// MarkCheckedIn records attendance and consumes one unit of capacity.
func (s *TimeSlot) MarkCheckedIn() {
	s.BuyerCheckedIn = true
	if s.CapacitySold < s.CapacityTotal {
		s.CapacitySold++
	}
}
