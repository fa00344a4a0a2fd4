package event

import "github.com/google/uuid"

// RecordKind identifies an audit record.
type RecordKind uint8

const (
	RecordPlatformInitialized RecordKind = iota + 1
	RecordProfileUpdated
	RecordWalletFunded
	RecordSlotCreated
	RecordSlotClosed
	RecordReserved
	RecordRefunded
	RecordCheckedIn
	RecordCollectibleGranted
	RecordSettledT0
	RecordSettledT1
	RecordAuctionStarted
	RecordBidPlaced
	RecordAuctionExtended
	RecordOutbidRefunded
	RecordAuctionEnded
	RecordCommitPlaced
	RecordRevealAccepted
	RecordDisputeRaised
	RecordDisputeResolved
	RecordTip
	RecordSessionTip
)

var recordKindNames = map[RecordKind]string{
	RecordPlatformInitialized: "PlatformInitialized",
	RecordProfileUpdated:      "ProfileUpdated",
	RecordWalletFunded:        "WalletFunded",
	RecordSlotCreated:         "SlotCreated",
	RecordSlotClosed:          "SlotClosed",
	RecordReserved:            "Reserved",
	RecordRefunded:            "Refunded",
	RecordCheckedIn:           "CheckedIn",
	RecordCollectibleGranted:  "CollectibleGranted",
	RecordSettledT0:           "SettledT0",
	RecordSettledT1:           "SettledT1",
	RecordAuctionStarted:      "AuctionStarted",
	RecordBidPlaced:           "BidPlaced",
	RecordAuctionExtended:     "AuctionExtended",
	RecordOutbidRefunded:      "OutbidRefunded",
	RecordAuctionEnded:        "AuctionEnded",
	RecordCommitPlaced:        "CommitPlaced",
	RecordRevealAccepted:      "RevealAccepted",
	RecordDisputeRaised:       "DisputeRaised",
	RecordDisputeResolved:     "DisputeResolved",
	RecordTip:                 "Tip",
	RecordSessionTip:          "SessionTip",
}

func (k RecordKind) String() string {
	if n, ok := recordKindNames[k]; ok {
		return n
	}
	return "Unknown"
}

func (k RecordKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *RecordKind) UnmarshalText(b []byte) error {
	for kind, name := range recordKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	*k = 0
	return nil
}

// Record is the audit trail entry of a successful operation. Fields that do
// not apply to a kind are left zero.
type Record struct {
	Kind         RecordKind `json:"kind"`
	SlotID       uuid.UUID  `json:"slot_id"`
	ProfileID    uuid.UUID  `json:"profile_id"`
	Actor        uuid.UUID  `json:"actor"`
	Counterparty uuid.UUID  `json:"counterparty"`
	Amount       int64      `json:"amount,omitempty"`
	Fee          int64      `json:"fee,omitempty"`
	Retained     int64      `json:"retained,omitempty"`
	Proxy        bool       `json:"proxy,omitempty"`
	// Value carries a kind-specific number: new end time, split bps or reason code.
	Value       int64     `json:"value,omitempty"`
	MessageHash *[32]byte `json:"message_hash,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}
