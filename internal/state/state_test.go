package state_test

import (
	"errors"
	"testing"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name  string
		mode  state.Mode
		from  state.SlotState
		froze bool
		op    state.Operation
		want  error
	}{
		{"reserve open stable", state.ModeStable, state.SlotStateOpen, false, state.OpStableReserve, nil},
		{"reserve auction slot", state.ModeEnglishAuction, state.SlotStateOpen, false, state.OpStableReserve, errs.ErrWrongMode},
		{"reserve twice", state.ModeStable, state.SlotStateReserved, false, state.OpStableReserve, errs.ErrInvalidState},
		{"settle frozen", state.ModeStable, state.SlotStateCompleted, true, state.OpStableSettle, errs.ErrFrozen},
		{"auction settle frozen", state.ModeEnglishAuction, state.SlotStateCompleted, true, state.OpAuctionSettle, errs.ErrFrozen},
		{"close frozen", state.ModeStable, state.SlotStateReserved, true, state.OpCloseSlot, errs.ErrFrozen},
		{"resolve unfrozen", state.ModeStable, state.SlotStateLocked, false, state.OpResolveDispute, errs.ErrNotFrozen},
		{"resolve frozen", state.ModeStable, state.SlotStateLocked, true, state.OpResolveDispute, nil},
		{"close completed", state.ModeStable, state.SlotStateCompleted, false, state.OpCloseSlot, errs.ErrInvalidState},
		{"refund after close", state.ModeEnglishAuction, state.SlotStateClosed, false, state.OpBidOutbidRefund, nil},
		{"tip on terminal", state.ModeStable, state.SlotStateSettled, true, state.OpTipForSession, nil},
		{"commit on english", state.ModeEnglishAuction, state.SlotStateAuctionLive, false, state.OpBidCommit, errs.ErrWrongMode},
		{"bid on sealed", state.ModeSealedBid, state.SlotStateAuctionLive, false, state.OpBidPlace, errs.ErrWrongMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := &state.TimeSlot{Mode: tt.mode, State: tt.from, Frozen: tt.froze}
			err := state.CheckTransition(slot, tt.op)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []state.SlotState{
		state.SlotStateDraft, state.SlotStateOpen, state.SlotStateReserved, state.SlotStateAuctionLive,
		state.SlotStateLocked, state.SlotStateCompleted, state.SlotStateSettled, state.SlotStateRefunded, state.SlotStateClosed,
	}
	var terminal []state.SlotState
	for _, s := range all {
		if s.IsTerminal() {
			terminal = append(terminal, s)
		}
	}
	require.Len(t, terminal, 3)

	for op := state.OpStableReserve; op <= state.OpTipForSession; op++ {
		for _, from := range terminal {
			for _, to := range all {
				if to != from && state.CanTransition(op, from, to) {
					t.Errorf("%s allows %s -> %s", op, from, to)
				}
			}
		}
	}
}

func TestAdvance_NeverLeavesTerminalState(t *testing.T) {
	for _, from := range []state.SlotState{state.SlotStateSettled, state.SlotStateRefunded} {
		slot := &state.TimeSlot{Mode: state.ModeEnglishAuction, State: from}
		err := state.Advance(slot, state.OpCloseSlot, state.SlotStateClosed)
		assert.ErrorIs(t, err, errs.ErrInvalidState, "from %s", from)
		assert.Equal(t, from, slot.State)
	}

	// Staying put is how refunds and session tips run on finished slots.
	slot := &state.TimeSlot{Mode: state.ModeEnglishAuction, State: state.SlotStateSettled}
	require.NoError(t, state.Advance(slot, state.OpBidOutbidRefund, state.SlotStateSettled))
}

func TestAdvance_RejectsUnlistedTarget(t *testing.T) {
	slot := &state.TimeSlot{Mode: state.ModeStable, State: state.SlotStateOpen}
	err := state.Advance(slot, state.OpCloseSlot, state.SlotStateRefunded)
	require.ErrorIs(t, err, errs.ErrInvalidState)
	assert.Equal(t, state.SlotStateOpen, slot.State)

	require.NoError(t, state.Advance(slot, state.OpCloseSlot, state.SlotStateClosed))
	assert.Equal(t, state.SlotStateClosed, slot.State)
}

func TestSlotParams_Validate(t *testing.T) {
	base := state.SlotParams{StartTs: 100, EndTs: 200, CapacityTotal: 1, Mode: state.ModeStable, Price: 1000}
	require.NoError(t, base.Validate())

	times := base
	times.EndTs = 100
	assert.ErrorIs(t, times.Validate(), errs.ErrInvalidTimes)

	capZero := base
	capZero.CapacityTotal = 0
	assert.ErrorIs(t, capZero.Validate(), errs.ErrInvalidCapacity)

	bps := base
	bps.MinIncrementBps = 10001
	assert.ErrorIs(t, bps.Validate(), errs.ErrInvalidBps)

	auction := base
	auction.Mode = state.ModeEnglishAuction
	assert.ErrorIs(t, auction.Validate(), errs.ErrMissingAuctionWindow)
	auction.AuctionStartTs, auction.AuctionEndTs = 50, 90
	assert.NoError(t, auction.Validate())
	auction.CapacityTotal = 2
	assert.ErrorIs(t, auction.Validate(), errs.ErrInvalidCapacity)

	sealed := base
	sealed.Mode = state.ModeSealedBid
	sealed.AuctionStartTs, sealed.AuctionEndTs = 50, 90
	sealed.RevealWindowSec = 10
	assert.ErrorIs(t, sealed.Validate(), errs.ErrInvalidCapacity)
	sealed.MaxCommits = 4
	assert.NoError(t, sealed.Validate())
}

func TestT0Timestamp(t *testing.T) {
	stable := &state.TimeSlot{Mode: state.ModeStable, StartTs: 500, AuctionEndTs: 300}
	assert.Equal(t, int64(500), stable.T0Timestamp())

	auction := &state.TimeSlot{Mode: state.ModeEnglishAuction, StartTs: 500, AuctionEndTs: 300}
	assert.Equal(t, int64(300), auction.T0Timestamp())
}

func TestEffectiveFeeBps(t *testing.T) {
	platform := &state.Platform{FeeBps: 500}
	profile := &state.CreatorProfile{}
	assert.Equal(t, int64(500), state.EffectiveFeeBps(platform, profile))

	override := int64(120)
	profile.FeeBpsOverride = &override
	assert.Equal(t, int64(120), state.EffectiveFeeBps(platform, profile))
}

// ============================================================================
// Test: bid records
// ============================================================================

func TestRefundQueue_FIFO(t *testing.T) {
	q := state.RefundQueue{Capacity: 2}
	a, b := uuid.New(), uuid.New()

	require.NoError(t, q.Push(a, 100))
	require.NoError(t, q.Push(b, 150))
	assert.ErrorIs(t, q.Push(a, 1), errs.ErrStoreFull)
	assert.Equal(t, int64(250), q.Outstanding())

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, a, head.Bidder)

	q.Pop()
	assert.Equal(t, uint64(1), q.Head)
	assert.True(t, q.Owes(b))
	assert.False(t, q.Owes(a))
	assert.Equal(t, int64(150), q.Outstanding())
}

func TestNextMinimumBid(t *testing.T) {
	got, err := state.NextMinimumBid(500, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got)

	got, err = state.NextMinimumBid(500, 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), got)

	got, err = state.NextMinimumBid(500, 5, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got, "increment is at least one unit")
}

func TestAutoBidStore(t *testing.T) {
	s := state.AutoBidStore{Capacity: 1}
	a := uuid.New()

	require.NoError(t, s.Upsert(a, 100))
	require.NoError(t, s.Upsert(a, 200))
	assert.ErrorIs(t, s.Upsert(uuid.New(), 50), errs.ErrStoreFull)

	e, ok := s.Get(a)
	require.True(t, ok)
	assert.Equal(t, int64(200), e.MaxBid)

	s.Remove(a)
	_, ok = s.Get(a)
	assert.False(t, ok)
}

func TestCommitStore_WinnerTieBreak(t *testing.T) {
	s := state.CommitStore{MaxEntries: 3}
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, s.Add(a, [32]byte{1}, 100))
	require.NoError(t, s.Add(b, [32]byte{2}, 100))
	require.NoError(t, s.Add(c, [32]byte{3}, 100))
	assert.ErrorIs(t, s.Add(a, [32]byte{4}, 100), errs.ErrAlreadyCommitted)

	_, ok := s.Winner()
	assert.False(t, ok, "no reveals yet")

	s.Entries[1].Revealed, s.Entries[1].BidAmount = true, 80
	s.Entries[2].Revealed, s.Entries[2].BidAmount = true, 80
	idx, ok := s.Winner()
	require.True(t, ok)
	assert.Equal(t, 1, idx, "earliest commit wins a tie")
}

func TestSlotRecord_CloneIsDeep(t *testing.T) {
	buyer := uuid.New()
	rec := &state.SlotRecord{}
	rec.Escrow.BindBuyer(buyer)
	rec.Refunds = state.RefundQueue{Capacity: 4}
	require.NoError(t, rec.Refunds.Push(buyer, 10))

	c := rec.Clone()
	c.Escrow.ClearBuyer()
	c.Refunds.Pop()
	c.Slot.State = state.SlotStateClosed

	assert.True(t, rec.Escrow.IsBuyer(buyer))
	assert.Len(t, rec.Refunds.Pending, 1)
	assert.Equal(t, state.SlotStateDraft, rec.Slot.State)
}

func TestDerivedKeysAreStable(t *testing.T) {
	platform := state.PlatformKey()
	authority := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	assert.Equal(t, state.ProfileKey(platform, authority), state.ProfileKey(platform, authority))
	assert.NotEqual(t, state.SlotKey(authority, 1), state.SlotKey(authority, 2))
}
