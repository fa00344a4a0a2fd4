package state

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// SlotRecord groups a slot with every record keyed by it. Operations work on
// a Clone and the registry swaps it in only when the whole operation succeeds.
type SlotRecord struct {
	Slot     TimeSlot
	Escrow   Escrow
	Book     BidBook
	Refunds  RefundQueue
	AutoBids AutoBidStore
	Commits  CommitStore
	// Version counts committed operations on the slot.
	Version int64
}

// Clone returns a deep copy.
func (r *SlotRecord) Clone() *SlotRecord {
	c := *r
	if r.Slot.NFTMint != nil {
		m := *r.Slot.NFTMint
		c.Slot.NFTMint = &m
	}
	if r.Escrow.Buyer != nil {
		b := *r.Escrow.Buyer
		c.Escrow.Buyer = &b
	}
	if r.Book.HighestBidder != nil {
		h := *r.Book.HighestBidder
		c.Book.HighestBidder = &h
	}
	c.Refunds.Pending = append([]RefundEntry(nil), r.Refunds.Pending...)
	c.AutoBids.Entries = append([]AutoBid(nil), r.AutoBids.Entries...)
	c.Commits.Entries = append([]Commitment(nil), r.Commits.Entries...)
	return &c
}

// Settleable is the part of escrow owned by the bound buyer or leader rather
// than by queued refunds.
func (r *SlotRecord) Settleable() int64 {
	return r.Escrow.AmountLocked - r.Refunds.Outstanding()
}

// CanonicalBytes returns a deterministic serialization for state hashing.
func (r *SlotRecord) CanonicalBytes() []byte {
	s := &r.Slot
	buf := make([]byte, 0, 256)

	buf = append(buf, s.ID[:]...)
	buf = append(buf, s.ProfileID[:]...)
	buf = append(buf, byte(s.Mode), byte(s.State), byte(s.Rail))
	buf = appendBool(buf, s.Frozen)
	buf = appendBool(buf, s.BuyerCheckedIn)
	buf = binary.LittleEndian.AppendUint32(buf, s.CapacityTotal)
	buf = binary.LittleEndian.AppendUint32(buf, s.CapacitySold)
	buf = appendInt64LE(buf, s.Price)
	buf = appendInt64LE(buf, s.AuctionEndTs)
	buf = appendInt64LE(buf, s.TotalTipsReceived)

	buf = appendInt64LE(buf, r.Escrow.AmountLocked)
	buf = appendOptionalID(buf, r.Escrow.Buyer)

	buf = appendInt64LE(buf, r.Book.HighestBid)
	buf = appendOptionalID(buf, r.Book.HighestBidder)
	buf = appendInt64LE(buf, r.Book.LeaderDeposit)

	buf = binary.LittleEndian.AppendUint64(buf, r.Refunds.Head)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Refunds.Pending)))
	for _, e := range r.Refunds.Pending {
		buf = append(buf, e.Bidder[:]...)
		buf = appendInt64LE(buf, e.Amount)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.AutoBids.Entries)))
	for _, e := range r.AutoBids.Entries {
		buf = append(buf, e.Bidder[:]...)
		buf = appendInt64LE(buf, e.MaxBid)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Commits.Entries)))
	for _, e := range r.Commits.Entries {
		buf = append(buf, e.Bidder[:]...)
		buf = append(buf, e.Hash[:]...)
		buf = appendInt64LE(buf, e.Deposit)
		buf = appendBool(buf, e.Revealed)
		buf = appendInt64LE(buf, e.BidAmount)
	}

	buf = appendInt64LE(buf, r.Version)
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendOptionalID(buf []byte, id *uuid.UUID) []byte {
	if id == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, id[:]...)
}
