package query_test

import (
	"context"
	"encoding/json"
	"testing"

	"TimeMarket/internal/ledger"
	"TimeMarket/internal/query"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSlotViewFormatsInEscrowAsset(t *testing.T) {
	usdc, _ := ledger.GetAssetID("USDC")
	native, _ := ledger.GetAssetID(ledger.NativeAsset)
	buyer := uuid.New()
	slotID := uuid.New()

	rec := &state.SlotRecord{
		Slot: state.TimeSlot{
			ID: slotID, Mode: state.ModeStable, State: state.SlotStateReserved,
			Price: 1_500_000, CapacityTotal: 1, CapacitySold: 1,
		},
		Escrow:  state.Escrow{SlotID: slotID, Account: ledger.EscrowVaultKey(slotID, usdc), AmountLocked: 1_500_000, Buyer: &buyer},
		Version: 3,
	}

	v := query.NewSlotView(rec, 42)
	assert.Equal(t, "1.500000", v.PriceDisplay)
	assert.Equal(t, "1.500000", v.LockedDisplay)
	assert.Equal(t, "Reserved", v.State)
	assert.Equal(t, int64(42), v.AsOfSequence)
	require.NotNil(t, v.Buyer)
	assert.Equal(t, buyer, *v.Buyer)
	assert.Nil(t, v.HighestBidder)

	// The view owns its pointers.
	*v.Buyer = uuid.Nil
	assert.Equal(t, buyer, *rec.Escrow.Buyer)

	rec.Slot.Rail = state.RailNative
	rec.Escrow.Account = ledger.EscrowNativeKey(slotID)
	rec.Slot.Price = 2_000_000_000
	v = query.NewSlotView(rec, 43)
	assert.Equal(t, native, rec.Escrow.Account.AssetID)
	assert.Equal(t, "2.000000000", v.PriceDisplay)
}

func TestSlotViewJSONShape(t *testing.T) {
	v := query.SlotView{SlotID: uuid.New(), Mode: "Stable", AsOfSequence: 9}
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, float64(9), m["as_of_sequence"])
	assert.NotContains(t, m, "highest_bidder")
	assert.NotContains(t, m, "buyer")
}

func TestSlotCacheWithoutRedis(t *testing.T) {
	cache := query.NewSlotCache(nil, 0)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, query.SlotView{SlotID: uuid.New()}))
	_, ok, err := cache.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	var none *query.SlotCache
	_, ok, err = none.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewProfileViewCopiesOverride(t *testing.T) {
	fee := int64(300)
	p := &state.CreatorProfile{ID: uuid.New(), FeeBpsOverride: &fee, TotalTipsReceived: 50, TipCount: 2}

	v := query.NewProfileView(p, 7)
	require.NotNil(t, v.FeeBpsOverride)
	*v.FeeBpsOverride = 1
	assert.Equal(t, int64(300), fee)
	assert.Equal(t, uint64(2), v.TipCount)
}
