package projection_test

import (
	"context"
	"testing"

	"TimeMarket/internal/core"
	"TimeMarket/internal/event"
	"TimeMarket/internal/projection"
	"TimeMarket/internal/query"
	"TimeMarket/internal/state"
	"TimeMarket/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(caller uuid.UUID) event.Meta {
	return event.Meta{OpID: uuid.New(), Caller: caller, Sequence: event.Unsequenced, Time: 1_000_000}
}

func TestProjectionMatchesCore(t *testing.T) {
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	outputs := make(chan core.CoreOutput, 16)
	c := core.NewDeterministicCore(0, nil, outputs, nil, nil, core.DefaultConfig())
	admin, creator, buyer := uuid.New(), uuid.New(), uuid.New()
	profile := state.ProfileKey(state.PlatformKey(), creator)
	slotID := state.SlotKey(profile, 1)

	for _, op := range []event.Event{
		&event.InitPlatform{Meta: meta(admin), FeeBps: 250, Asset: "USDC"},
		&event.InitCreatorProfile{Meta: meta(creator), PayoutWallet: uuid.New()},
		&event.FundWallet{Meta: meta(admin), Owner: buyer, Asset: "USDC", Amount: 2_000_000},
		&event.CreateTimeSlot{Meta: meta(creator), ProfileID: profile, Params: state.SlotParams{
			Nonce: 1, StartTs: 10_000, EndTs: 13_600, Mode: state.ModeStable, CapacityTotal: 1, Price: 1_500_000,
		}},
		&event.StableReserve{Meta: meta(buyer), SlotRef: event.SlotRef{SlotID: slotID}, Amount: 1_500_000},
	} {
		_, err := c.ProcessEvent(op)
		require.NoError(t, err, op.EventType().String())
	}
	close(outputs)

	worker := projection.NewProjectionWorker(db, query.NewSlotCache(nil, 0), nil, nil)
	for out := range outputs {
		require.NoError(t, worker.Apply(ctx, out))
	}

	qs := query.NewQueryService(db, nil, nil)
	slot, err := qs.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, "Reserved", slot.State)
	assert.Equal(t, int64(4), slot.AsOfSequence)
	assert.Equal(t, "1.500000", slot.LockedDisplay)

	bal, err := qs.GetBalance(ctx, buyer, "USDC")
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), bal.Balance)
	assert.Equal(t, "0.500000", bal.Display)

	p, err := qs.GetProfile(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, creator, p.Authority)
}
