package event

import (
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

// CreateTimeSlot lists a new slot under a creator profile.
type CreateTimeSlot struct {
	Meta
	ProfileID uuid.UUID
	Params    state.SlotParams
}

func (e *CreateTimeSlot) EventType() EventType { return EventTypeCreateTimeSlot }
func (e *CreateTimeSlot) Partition() string {
	return SlotPartition(state.SlotKey(e.ProfileID, e.Params.Nonce))
}

type CloseSlot struct {
	Meta
	SlotRef
}

func (e *CloseSlot) EventType() EventType { return EventTypeCloseSlot }

type StableReserve struct {
	Meta
	SlotRef
	Amount int64
}

func (e *StableReserve) EventType() EventType { return EventTypeStableReserve }

type StableCancel struct {
	Meta
	SlotRef
}

func (e *StableCancel) EventType() EventType { return EventTypeStableCancel }

type StableCheckin struct {
	Meta
	SlotRef
}

func (e *StableCheckin) EventType() EventType { return EventTypeStableCheckin }

type StableSettle struct {
	Meta
	SlotRef
}

func (e *StableSettle) EventType() EventType { return EventTypeStableSettle }
