package core

import (
	"fmt"
	"maps"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
)

// partitionVersions is the optimistic-concurrency table. Every ordering
// partition (platform, profile, wallet, slot) starts at version 0 and moves
// up by one for each committed operation that touches it. A sequenced
// operation names the version it was built against; unsequenced ones skip
// the check but still bump the version.
type partitionVersions map[string]int64

func (pv partitionVersions) check(partition string, want int64) error {
	if want == event.Unsequenced {
		return nil
	}
	have := pv[partition]
	switch {
	case want < have:
		return fmt.Errorf("partition %s at version %d, operation built on %d: %w", partition, have, want, errs.ErrSequenceStale)
	case want > have:
		return fmt.Errorf("partition %s at version %d, operation built on %d: %w", partition, have, want, errs.ErrSequenceGap)
	}
	return nil
}

func (pv partitionVersions) bump(partition string) { pv[partition]++ }

func (pv partitionVersions) export() map[string]int64 { return maps.Clone(pv) }
