package state

import (
	"TimeMarket/internal/ledger"

	"github.com/google/uuid"
)

// Escrow is the neutral holding for one slot.
type Escrow struct {
	SlotID       uuid.UUID
	Account      ledger.AccountKey
	AmountLocked int64
	Buyer        *uuid.UUID
}

// HasBuyer reports whether a buyer or winner is bound.
func (e *Escrow) HasBuyer() bool {
	return e.Buyer != nil
}

// IsBuyer reports whether id is the bound buyer.
func (e *Escrow) IsBuyer(id uuid.UUID) bool {
	return e.Buyer != nil && *e.Buyer == id
}

func (e *Escrow) BindBuyer(id uuid.UUID) {
	b := id
	e.Buyer = &b
}

func (e *Escrow) ClearBuyer() {
	e.Buyer = nil
}
