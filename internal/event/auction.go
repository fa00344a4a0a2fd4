package event

type AuctionStart struct {
	Meta
	SlotRef
}

func (e *AuctionStart) EventType() EventType { return EventTypeAuctionStart }

// BidPlace bids Amount; MaxAutoBid registers a proxy ceiling that is
// deposited up front.
type BidPlace struct {
	Meta
	SlotRef
	Amount     int64
	MaxAutoBid *int64
}

func (e *BidPlace) EventType() EventType { return EventTypeBidPlace }

// AuctionUpdateEnd moves the close of bidding. A live auction can only be extended.
type AuctionUpdateEnd struct {
	Meta
	SlotRef
	NewEndTs int64
}

func (e *AuctionUpdateEnd) EventType() EventType { return EventTypeAuctionUpdateEnd }

type BuyNow struct {
	Meta
	SlotRef
}

func (e *BuyNow) EventType() EventType { return EventTypeBuyNow }

type AuctionEnd struct {
	Meta
	SlotRef
}

func (e *AuctionEnd) EventType() EventType { return EventTypeAuctionEnd }

type AuctionCheckin struct {
	Meta
	SlotRef
}

func (e *AuctionCheckin) EventType() EventType { return EventTypeAuctionCheckin }

type AuctionSettle struct {
	Meta
	SlotRef
}

func (e *AuctionSettle) EventType() EventType { return EventTypeAuctionSettle }

// BidOutbidRefund claims the head of the refund queue.
type BidOutbidRefund struct {
	Meta
	SlotRef
}

func (e *BidOutbidRefund) EventType() EventType { return EventTypeBidOutbidRefund }
