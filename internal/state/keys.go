package state

import (
	"encoding/binary"

	"github.com/google/uuid"
)

var keyNamespace = uuid.MustParse("b4a7e1f2-5d3c-4c8e-9f61-2a7d0e5c3b19")

// DeriveKey builds a stable record key from a kind and its parent identifiers.
func DeriveKey(kind string, parts ...[]byte) uuid.UUID {
	buf := make([]byte, 0, len(kind)+1+len(parts)*17)
	buf = append(buf, kind...)
	for _, p := range parts {
		buf = append(buf, 0)
		buf = append(buf, p...)
	}
	return uuid.NewSHA1(keyNamespace, buf)
}

// PlatformKey is the single platform record of a deployment.
func PlatformKey() uuid.UUID {
	return DeriveKey("platform")
}

// ProfileKey derives a creator profile key from its platform and authority.
func ProfileKey(platformID, authority uuid.UUID) uuid.UUID {
	return DeriveKey("creator", platformID[:], authority[:])
}

// SlotKey derives a slot key from its profile and a creator-chosen nonce.
// Escrow and bid records share the slot key.
func SlotKey(profileID uuid.UUID, nonce uint64) uuid.UUID {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)
	return DeriveKey("slot", profileID[:], n[:])
}

// MintAuthorityKey is the derived signer allowed to mint a slot's collectible.
func MintAuthorityKey(slotID uuid.UUID) uuid.UUID {
	return DeriveKey("nft_auth", slotID[:])
}
