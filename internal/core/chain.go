package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// chainGenesis seeds the first link so an empty ledger still has a
// well-defined tip.
const chainGenesis = "TimeMarket:genesis:v1"

// hashChain links every applied operation to its predecessor:
//
//	link[n] = SHA-256(link[n-1] || le64(n) || digest[n])
type hashChain struct {
	tip [32]byte
}

func newHashChain() *hashChain {
	return &hashChain{tip: sha256.Sum256([]byte(chainGenesis))}
}

// extend appends the digest of operation seq and returns the new tip.
func (hc *hashChain) extend(seq int64, digest []byte) [32]byte {
	var buf [32 + 8]byte
	copy(buf[:32], hc.tip[:])
	binary.LittleEndian.PutUint64(buf[32:], uint64(seq))

	h := sha256.New()
	h.Write(buf[:])
	h.Write(digest)
	h.Sum(hc.tip[:0])
	return hc.tip
}

func (hc *hashChain) head() [32]byte { return hc.tip }

func (hc *hashChain) resetTo(tip [32]byte) { hc.tip = tip }
