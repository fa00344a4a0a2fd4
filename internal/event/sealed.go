package event

// BidCommit places a sealed commitment backed by Deposit.
type BidCommit struct {
	Meta
	SlotRef
	Commitment [32]byte
	Deposit    int64
}

func (e *BidCommit) EventType() EventType { return EventTypeBidCommit }

type BidReveal struct {
	Meta
	SlotRef
	Amount int64
	Salt   [32]byte
}

func (e *BidReveal) EventType() EventType { return EventTypeBidReveal }

type SealedAuctionEnd struct {
	Meta
	SlotRef
}

func (e *SealedAuctionEnd) EventType() EventType { return EventTypeSealedAuctionEnd }

type SealedAuctionSettle struct {
	Meta
	SlotRef
}

func (e *SealedAuctionSettle) EventType() EventType { return EventTypeSealedAuctionSettle }
