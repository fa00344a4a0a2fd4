package state

import (
	"TimeMarket/internal/errs"
	fpmath "TimeMarket/internal/math"

	"github.com/google/uuid"
)

// BidBook tracks the leading position of an auction.
type BidBook struct {
	HighestBid    int64
	HighestBidder *uuid.UUID
	// LeaderDeposit is what the leader holds in escrow, which exceeds
	// HighestBid when the leader pre-funded an auto-bid ceiling.
	LeaderDeposit int64
	NextMinBid    int64
	LastBidTs     int64
	BidCount      uint64
}

// IsLeader reports whether id currently leads.
func (b *BidBook) IsLeader(id uuid.UUID) bool {
	return b.HighestBidder != nil && *b.HighestBidder == id
}

// SetLeader records a new leading bid and recomputes the next minimum.
func (b *BidBook) SetLeader(bidder uuid.UUID, amount, deposit int64, incrementBps int64, ts int64) error {
	l := bidder
	b.HighestBidder = &l
	b.HighestBid = amount
	b.LeaderDeposit = deposit
	b.LastBidTs = ts
	b.BidCount++
	next, err := NextMinimumBid(amount, amount, incrementBps)
	if err != nil {
		return err
	}
	b.NextMinBid = next
	return nil
}

// NextMinimumBid is the reserve price before any bid, then the highest bid
// plus max(1, highest * incrementBps / 10000).
func NextMinimumBid(reservePrice, highestBid, incrementBps int64) (int64, error) {
	if highestBid == 0 {
		return reservePrice, nil
	}
	inc, err := fpmath.MulBps(highestBid, incrementBps)
	if err != nil {
		return 0, err
	}
	return fpmath.CheckedAdd(highestBid, fpmath.Max(1, inc))
}

// RefundEntry is value owed back to a displaced bidder.
type RefundEntry struct {
	Bidder uuid.UUID
	Amount int64
}

// RefundQueue is a bounded FIFO of outstanding refunds with a claim cursor.
type RefundQueue struct {
	Capacity int
	Head     uint64
	Pending  []RefundEntry
}

// Push appends a refund. Zero amounts are ignored.
func (q *RefundQueue) Push(bidder uuid.UUID, amount int64) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return errs.ErrInvalidAmount
	}
	if len(q.Pending) >= q.Capacity {
		return errs.ErrStoreFull
	}
	q.Pending = append(q.Pending, RefundEntry{Bidder: bidder, Amount: amount})
	return nil
}

// Peek returns the head entry.
func (q *RefundQueue) Peek() (RefundEntry, bool) {
	if len(q.Pending) == 0 {
		return RefundEntry{}, false
	}
	return q.Pending[0], true
}

// Pop removes the head entry and advances the cursor.
func (q *RefundQueue) Pop() {
	if len(q.Pending) == 0 {
		return
	}
	q.Pending = q.Pending[1:]
	q.Head++
}

// Outstanding sums all unclaimed refunds.
func (q *RefundQueue) Outstanding() int64 {
	var total int64
	for _, e := range q.Pending {
		total += e.Amount
	}
	return total
}

// Owes reports whether bidder has an unclaimed refund anywhere in the queue.
func (q *RefundQueue) Owes(bidder uuid.UUID) bool {
	for _, e := range q.Pending {
		if e.Bidder == bidder {
			return true
		}
	}
	return false
}

// AutoBid is a proxy bidding ceiling.
type AutoBid struct {
	Bidder       uuid.UUID
	MaxBid       int64
	RegisteredAt uint64
}

// AutoBidStore is a bounded table of proxy bidders.
type AutoBidStore struct {
	Capacity int
	Entries  []AutoBid
	NextReg  uint64
}

// Upsert registers or raises a bidder's ceiling.
func (s *AutoBidStore) Upsert(bidder uuid.UUID, maxBid int64) error {
	for i := range s.Entries {
		if s.Entries[i].Bidder == bidder {
			s.Entries[i].MaxBid = maxBid
			return nil
		}
	}
	if len(s.Entries) >= s.Capacity {
		return errs.ErrStoreFull
	}
	s.NextReg++
	s.Entries = append(s.Entries, AutoBid{Bidder: bidder, MaxBid: maxBid, RegisteredAt: s.NextReg})
	return nil
}

// Get returns the bidder's entry.
func (s *AutoBidStore) Get(bidder uuid.UUID) (AutoBid, bool) {
	for _, e := range s.Entries {
		if e.Bidder == bidder {
			return e, true
		}
	}
	return AutoBid{}, false
}

// Remove drops the bidder's entry if present.
func (s *AutoBidStore) Remove(bidder uuid.UUID) {
	for i := range s.Entries {
		if s.Entries[i].Bidder == bidder {
			s.Entries = append(s.Entries[:i], s.Entries[i+1:]...)
			return
		}
	}
}

// Clear drops every entry.
func (s *AutoBidStore) Clear() {
	s.Entries = nil
}

// Commitment is one sealed bid.
type Commitment struct {
	Bidder    uuid.UUID
	Hash      [32]byte
	Deposit   int64
	Revealed  bool
	BidAmount int64
}

// CommitStore is the bounded table of sealed bids, unique per bidder.
type CommitStore struct {
	MaxEntries int
	Entries    []Commitment
}

// Add records a commitment.
func (s *CommitStore) Add(bidder uuid.UUID, hash [32]byte, deposit int64) error {
	if _, ok := s.Find(bidder); ok {
		return errs.ErrAlreadyCommitted
	}
	if len(s.Entries) >= s.MaxEntries {
		return errs.ErrStoreFull
	}
	s.Entries = append(s.Entries, Commitment{Bidder: bidder, Hash: hash, Deposit: deposit})
	return nil
}

// Find returns the index of bidder's commitment.
func (s *CommitStore) Find(bidder uuid.UUID) (int, bool) {
	for i, e := range s.Entries {
		if e.Bidder == bidder {
			return i, true
		}
	}
	return -1, false
}

// Winner returns the index of the highest revealed bid, earliest commit first on ties.
func (s *CommitStore) Winner() (int, bool) {
	best := -1
	for i, e := range s.Entries {
		if !e.Revealed {
			continue
		}
		if best < 0 || e.BidAmount > s.Entries[best].BidAmount {
			best = i
		}
	}
	return best, best >= 0
}
