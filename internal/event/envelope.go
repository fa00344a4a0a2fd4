package event

import (
	"github.com/google/uuid"
)

// EventType discriminator for operation payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitPlatform
	EventTypeInitCreatorProfile
	EventTypeUpdateCreatorProfile
	EventTypeFundWallet
	EventTypeCreateTimeSlot
	EventTypeCloseSlot
	EventTypeStableReserve
	EventTypeStableCancel
	EventTypeStableCheckin
	EventTypeStableSettle
	EventTypeAuctionStart
	EventTypeBidPlace
	EventTypeAuctionUpdateEnd
	EventTypeBuyNow
	EventTypeAuctionEnd
	EventTypeAuctionCheckin
	EventTypeAuctionSettle
	EventTypeBidOutbidRefund
	EventTypeBidCommit
	EventTypeBidReveal
	EventTypeSealedAuctionEnd
	EventTypeSealedAuctionSettle
	EventTypeRaiseDispute
	EventTypeResolveDispute
	EventTypeTipCreator
	EventTypeTipForSession
)

var eventTypeNames = map[EventType]string{
	EventTypeInitPlatform:         "init_platform",
	EventTypeInitCreatorProfile:   "init_creator_profile",
	EventTypeUpdateCreatorProfile: "update_creator_profile",
	EventTypeFundWallet:           "fund_wallet",
	EventTypeCreateTimeSlot:       "create_time_slot",
	EventTypeCloseSlot:            "close_slot",
	EventTypeStableReserve:        "stable_reserve",
	EventTypeStableCancel:         "stable_cancel",
	EventTypeStableCheckin:        "stable_checkin",
	EventTypeStableSettle:         "stable_settle",
	EventTypeAuctionStart:         "auction_start",
	EventTypeBidPlace:             "bid_place",
	EventTypeAuctionUpdateEnd:     "auction_update_end",
	EventTypeBuyNow:               "buy_now",
	EventTypeAuctionEnd:           "auction_end",
	EventTypeAuctionCheckin:       "auction_checkin",
	EventTypeAuctionSettle:        "auction_settle",
	EventTypeBidOutbidRefund:      "bid_outbid_refund",
	EventTypeBidCommit:            "bid_commit",
	EventTypeBidReveal:            "bid_reveal",
	EventTypeSealedAuctionEnd:     "sealed_auction_end",
	EventTypeSealedAuctionSettle:  "sealed_auction_settle",
	EventTypeRaiseDispute:         "raise_dispute",
	EventTypeResolveDispute:       "resolve_dispute",
	EventTypeTipCreator:           "tip_creator",
	EventTypeTipForSession:        "tip_for_session",
}

var eventTypeByName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventTypeNames))
	for t, n := range eventTypeNames {
		m[n] = t
	}
	return m
}()

func (et EventType) String() string {
	if n, ok := eventTypeNames[et]; ok {
		return n
	}
	return "unknown"
}

// ParseEventType resolves a wire name such as "bid_place".
func ParseEventType(name string) (EventType, bool) {
	et, ok := eventTypeByName[name]
	return et, ok
}

// AllEventTypes lists every known operation type.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypeNames))
	for t := EventTypeInitPlatform; t <= EventTypeTipForSession; t++ {
		out = append(out, t)
	}
	return out
}

// Unsequenced marks an operation that skips the partition ordering check.
const Unsequenced int64 = -1

// Meta carries the fields every operation shares.
type Meta struct {
	// OpID is the stable idempotency key chosen by the submitter.
	OpID uuid.UUID
	// Caller is the acting identity.
	Caller uuid.UUID
	// Sequence is the expected partition version, or Unsequenced.
	Sequence int64
	// Time is the current-time oracle for the operation (epoch microseconds).
	Time int64
}

func (m *Meta) IdempotencyKey() string { return m.OpID.String() }
func (m *Meta) SourceSequence() int64  { return m.Sequence }
func (m *Meta) Timestamp() int64       { return m.Time }
func (m *Meta) Actor() uuid.UUID       { return m.Caller }
func (m *Meta) Header() *Meta          { return m }

// NowSeconds is the operation time in unix seconds, the unit slot times use.
func (m *Meta) NowSeconds() int64 { return m.Time / 1_000_000 }

// Event is the interface all operation payloads implement
type Event interface {
	IdempotencyKey() string
	EventType() EventType
	// Partition is the ordering domain of the operation.
	Partition() string
	SourceSequence() int64
	Timestamp() int64
	Actor() uuid.UUID
	Header() *Meta
}

// SlotRef is embedded by operations addressed to one slot.
type SlotRef struct {
	SlotID uuid.UUID
}

func (s SlotRef) Partition() string { return SlotPartition(s.SlotID) }

func SlotPartition(id uuid.UUID) string    { return "slot:" + id.String() }
func ProfilePartition(id uuid.UUID) string { return "profile:" + id.String() }
func WalletPartition(id uuid.UUID) string  { return "wallet:" + id.String() }

const PlatformPartition = "platform"

// EventEnvelope wraps every applied operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	Partition string

	// Operation timestamp in epoch microseconds (NOT wall-clock at apply time)
	Timestamp int64

	// Submitter's partition sequence, or Unsequenced
	SourceSequence int64

	// JSON wire encoding of the operation, replayable through the parser
	Payload []byte

	// Records emitted by the operation
	Records []Record

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}
