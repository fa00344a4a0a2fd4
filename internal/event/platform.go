package event

import "github.com/google/uuid"

// InitPlatform creates the deployment's platform; the caller becomes admin.
type InitPlatform struct {
	Meta
	FeeBps int64
	Asset  string
}

func (e *InitPlatform) EventType() EventType { return EventTypeInitPlatform }
func (e *InitPlatform) Partition() string    { return PlatformPartition }

// InitCreatorProfile registers the caller as a creator.
type InitCreatorProfile struct {
	Meta
	PayoutWallet   uuid.UUID
	FeeBpsOverride *int64
}

func (e *InitCreatorProfile) EventType() EventType { return EventTypeInitCreatorProfile }
func (e *InitCreatorProfile) Partition() string    { return "creator:" + e.Caller.String() }

// UpdateCreatorProfile changes payout wallet and fee override. A nil
// PayoutWallet keeps the current one; ClearFeeOverride wins over SetFeeOverride.
type UpdateCreatorProfile struct {
	Meta
	ProfileID        uuid.UUID
	PayoutWallet     *uuid.UUID
	SetFeeOverride   *int64
	ClearFeeOverride bool
}

func (e *UpdateCreatorProfile) EventType() EventType { return EventTypeUpdateCreatorProfile }
func (e *UpdateCreatorProfile) Partition() string    { return ProfilePartition(e.ProfileID) }

// FundWallet credits a participant wallet from the external boundary.
// Only the platform admin attests deposits.
type FundWallet struct {
	Meta
	Owner  uuid.UUID
	Asset  string
	Amount int64
}

func (e *FundWallet) EventType() EventType { return EventTypeFundWallet }
func (e *FundWallet) Partition() string    { return WalletPartition(e.Owner) }
