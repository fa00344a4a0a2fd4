package event

import (
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

// TipCreator pays a creator directly, outside any escrow.
type TipCreator struct {
	Meta
	ProfileID   uuid.UUID
	Amount      int64
	Rail        state.Rail
	MessageHash *[32]byte
}

func (e *TipCreator) EventType() EventType { return EventTypeTipCreator }
func (e *TipCreator) Partition() string    { return ProfilePartition(e.ProfileID) }

// TipForSession is a tip attributed to one of the creator's slots.
type TipForSession struct {
	Meta
	SlotRef
	ProfileID   uuid.UUID
	Amount      int64
	Rail        state.Rail
	MessageHash *[32]byte
}

func (e *TipForSession) EventType() EventType { return EventTypeTipForSession }
