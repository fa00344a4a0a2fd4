package core

import (
	"TimeMarket/internal/event"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

// MintGrant authorizes minting one collectible for a checked-in buyer under
// the slot's derived mint authority. Only the core issues grants, and at
// most one per check-in.
type MintGrant struct {
	slotID    uuid.UUID
	mint      uuid.UUID
	recipient uuid.UUID
	authority uuid.UUID
	issuedAt  int64
}

func (g MintGrant) SlotID() uuid.UUID    { return g.slotID }
func (g MintGrant) Mint() uuid.UUID      { return g.mint }
func (g MintGrant) Recipient() uuid.UUID { return g.recipient }
func (g MintGrant) Authority() uuid.UUID { return g.authority }

// IssuedAt is the check-in time in epoch microseconds.
func (g MintGrant) IssuedAt() int64 { return g.issuedAt }

func (ctx *opContext) grantCollectible(rec *state.SlotRecord, buyer uuid.UUID) {
	g := MintGrant{
		slotID:    rec.Slot.ID,
		mint:      *rec.Slot.NFTMint,
		recipient: buyer,
		authority: state.MintAuthorityKey(rec.Slot.ID),
		issuedAt:  ctx.meta.Time,
	}
	ctx.mints = append(ctx.mints, g)
	ctx.emit(event.Record{
		Kind:         event.RecordCollectibleGranted,
		SlotID:       rec.Slot.ID,
		ProfileID:    rec.Slot.ProfileID,
		Actor:        g.authority,
		Counterparty: buyer,
	})
}
