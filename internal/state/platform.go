package state

import (
	"TimeMarket/internal/ledger"

	"github.com/google/uuid"
)

// Platform holds deployment-wide fee configuration.
type Platform struct {
	ID      uuid.UUID
	Admin   uuid.UUID
	FeeBps  int64
	AssetID ledger.AssetID
}

// FeeVault is the system account platform fees accrue to.
func (p *Platform) FeeVault(assetID ledger.AssetID) ledger.AccountKey {
	return ledger.FeeVaultKey(p.ID, assetID)
}

// DisputeVault is the system account the final-release withhold accrues to.
func (p *Platform) DisputeVault(assetID ledger.AssetID) ledger.AccountKey {
	return ledger.DisputeVaultKey(p.ID, assetID)
}

// CreatorProfile is a creator's payout configuration and tip statistics.
type CreatorProfile struct {
	ID                uuid.UUID
	Authority         uuid.UUID
	PayoutWallet      uuid.UUID
	FeeBpsOverride    *int64
	PlatformID        uuid.UUID
	TotalTipsReceived int64
	TipCount          uint64
}

func (p *CreatorProfile) Clone() *CreatorProfile {
	c := *p
	if p.FeeBpsOverride != nil {
		v := *p.FeeBpsOverride
		c.FeeBpsOverride = &v
	}
	return &c
}

// EffectiveFeeBps returns the profile override if present, else the platform fee.
func EffectiveFeeBps(platform *Platform, profile *CreatorProfile) int64 {
	if profile != nil && profile.FeeBpsOverride != nil {
		return *profile.FeeBpsOverride
	}
	return platform.FeeBps
}
