package event

type RaiseDispute struct {
	Meta
	SlotRef
	ReasonCode uint16
}

func (e *RaiseDispute) EventType() EventType { return EventTypeRaiseDispute }

// ResolveDispute splits the escrow: SplitBpsToCreator to the creator, the rest to the buyer.
type ResolveDispute struct {
	Meta
	SlotRef
	SplitBpsToCreator int64
}

func (e *ResolveDispute) EventType() EventType { return EventTypeResolveDispute }
