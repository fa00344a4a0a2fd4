package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeParticipant AccountScope = iota
	AccountScopeEscrow
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Participant sub-types
	SubTypeWallet AccountSubType = iota

	// Escrow sub-types
	SubTypeEscrowVault
	SubTypeEscrowNative

	// System sub-types (keyed by platform)
	SubTypeFeeVault
	SubTypeDisputeVault

	// External sub-types
	SubTypeExternalFunding
)

// AssetID maps asset strings to numeric IDs
type AssetID uint16

const NativeAsset = "NATIVE"

var (
	assetToID = map[string]AssetID{
		NativeAsset: 1,
		"USDC":      2,
		"USDT":      3,
		"EURC":      4,
	}
	idToAsset = map[AssetID]string{
		1: NativeAsset,
		2: "USDC",
		3: "USDT",
		4: "EURC",
	}
	assetDecimals = map[AssetID]int32{
		1: 9,
		2: 6,
		3: 6,
		4: 6,
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AssetDecimals returns the display precision of an asset.
func AssetDecimals(id AssetID) int32 {
	if d, ok := assetDecimals[id]; ok {
		return d
	}
	return 0
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte
	SubType  AccountSubType
	AssetID  AssetID
}

// WalletKey is a participant's spendable balance.
func WalletKey(owner uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeParticipant,
		EntityID: owner,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// EscrowVaultKey is the token vault holding a slot's escrow.
func EscrowVaultKey(slotID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeEscrow,
		EntityID: slotID,
		SubType:  SubTypeEscrowVault,
		AssetID:  assetID,
	}
}

// EscrowNativeKey is the escrow record's own native balance.
func EscrowNativeKey(slotID uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeEscrow,
		EntityID: slotID,
		SubType:  SubTypeEscrowNative,
		AssetID:  assetToID[NativeAsset],
	}
}

// FeeVaultKey collects platform fees.
func FeeVaultKey(platformID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: platformID,
		SubType:  SubTypeFeeVault,
		AssetID:  assetID,
	}
}

// DisputeVaultKey collects the withheld tail of each final release.
func DisputeVaultKey(platformID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: platformID,
		SubType:  SubTypeDisputeVault,
		AssetID:  assetID,
	}
}

// ExternalFundingKey is the boundary account wallets are funded from.
func ExternalFundingKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalFunding,
		AssetID: assetID,
	}
}

// Constrained reports whether the account must never go negative.
func (k AccountKey) Constrained() bool {
	return k.Scope != AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)
	id := uuid.UUID(k.EntityID)

	switch k.Scope {
	case AccountScopeParticipant:
		return fmt.Sprintf("participant:%s:%s:%s", id, k.subTypeName(), assetName)
	case AccountScopeEscrow:
		return fmt.Sprintf("escrow:%s:%s:%s", id, k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s:%s", id, k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeEscrowVault:
		return "vault"
	case SubTypeEscrowNative:
		return "native"
	case SubTypeFeeVault:
		return "fees"
	case SubTypeDisputeVault:
		return "dispute"
	case SubTypeExternalFunding:
		return "funding"
	default:
		return "unknown"
	}
}
