package core

import (
	"maps"
	"sort"

	"TimeMarket/internal/ledger"
	"TimeMarket/internal/state"
)

// BalanceEntry is one ledger balance in a snapshot.
type BalanceEntry struct {
	Account ledger.AccountKey
	Balance int64
}

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        []BalanceEntry
	Platform        *state.Platform
	Profiles        []*state.CreatorProfile
	Slots           []*state.SlotRecord
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
// Records are deep copies, so the snapshot can be encoded off the core goroutine.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	balances := c.book.Export()
	entries := make([]BalanceEntry, 0, len(balances))
	for k, v := range balances {
		entries = append(entries, BalanceEntry{Account: k, Balance: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Account.AccountPath() < entries[j].Account.AccountPath()
	})

	snap := &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.chain.head(),
		Balances:        entries,
		SequenceState:   c.versions.export(),
		IdempotencyKeys: c.dedup.recent.snapshot(),
	}
	if p, err := c.registry.Platform(); err == nil {
		cp := *p
		snap.Platform = &cp
	}
	for _, id := range c.registry.ProfileIDs() {
		p, _ := c.registry.Profile(id)
		snap.Profiles = append(snap.Profiles, p.Clone())
	}
	for _, id := range c.registry.SlotIDs() {
		rec, _ := c.registry.Slot(id)
		snap.Slots = append(snap.Slots, rec.Clone())
	}
	return snap
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// Replay of later events follows.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.chain.resetTo(snap.StateHash)

	balances := make(map[ledger.AccountKey]int64, len(snap.Balances))
	for _, e := range snap.Balances {
		balances[e.Account] = e.Balance
	}
	c.book.Load(balances)

	c.registry = state.NewRegistry()
	if snap.Platform != nil {
		p := *snap.Platform
		c.registry.PutPlatform(&p)
	}
	for _, p := range snap.Profiles {
		c.registry.PutProfile(p.Clone())
	}
	c.escrowLocked = 0
	for _, rec := range snap.Slots {
		c.registry.PutSlot(rec.Clone())
		c.escrowLocked += rec.Escrow.AmountLocked
	}

	c.versions = make(partitionVersions, len(snap.SequenceState))
	maps.Copy(c.versions, snap.SequenceState)
	c.dedup.recent.load(snap.IdempotencyKeys)
}
