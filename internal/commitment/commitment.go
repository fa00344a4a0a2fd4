// Package commitment computes sealed-bid commitments. A commitment binds a
// bid amount, a 32-byte salt and the bidder identity:
//
//	H(amount as 8 bytes little-endian || salt || bidder)
package commitment

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Hasher produces commitments. Implementations are stateless.
type Hasher interface {
	Name() string
	Commit(amount int64, salt [32]byte, bidder uuid.UUID) [32]byte
}

type hashFunc struct {
	name string
	new  func() hash.Hash
}

func (h hashFunc) Name() string { return h.name }

func (h hashFunc) Commit(amount int64, salt [32]byte, bidder uuid.UUID) [32]byte {
	w := h.new()
	w.Write(Preimage(amount, salt, bidder))
	var out [32]byte
	copy(out[:], w.Sum(nil))
	return out
}

var (
	SHA256    Hasher = hashFunc{name: "sha256", new: sha256.New}
	Blake3    Hasher = hashFunc{name: "blake3", new: func() hash.Hash { return blake3.New() }}
	Keccak256 Hasher = hashFunc{name: "keccak256", new: sha3.NewLegacyKeccak256}
)

// Default is the hasher used when none is configured.
var Default = SHA256

// Preimage returns the exact bytes a commitment hashes.
func Preimage(amount int64, salt [32]byte, bidder uuid.UUID) []byte {
	buf := make([]byte, 0, 8+32+16)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(amount))
	buf = append(buf, salt[:]...)
	buf = append(buf, bidder[:]...)
	return buf
}

// ByName resolves a configured hasher name. Empty selects Default.
func ByName(name string) (Hasher, error) {
	switch strings.ToLower(name) {
	case "", "sha256":
		return SHA256, nil
	case "blake3":
		return Blake3, nil
	case "keccak256", "keccak":
		return Keccak256, nil
	}
	return nil, fmt.Errorf("unknown commitment hash %q", name)
}

// Verify reports whether amount and salt open commitment for bidder.
func Verify(h Hasher, commitment [32]byte, amount int64, salt [32]byte, bidder uuid.UUID) bool {
	return h.Commit(amount, salt, bidder) == commitment
}
