package core_test

import (
	"errors"
	"testing"

	"TimeMarket/internal/core"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

var (
	usdcID, _   = ledger.GetAssetID("USDC")
	nativeID, _ = ledger.GetAssetID(ledger.NativeAsset)
)

// market drives a core through whole operations for one platform and one
// creator profile.
type market struct {
	t       *testing.T
	core    *core.DeterministicCore
	persist chan core.CoreOutput

	admin   uuid.UUID
	creator uuid.UUID
	payout  uuid.UUID
	profile uuid.UUID
	nonce   uint64
}

func newMarket(t *testing.T, feeBps int64) *market {
	return newMarketWithConfig(t, feeBps, core.DefaultConfig())
}

func newMarketWithConfig(t *testing.T, feeBps int64, cfg core.Config) *market {
	t.Helper()
	return newMarketFor(t, feeBps, cfg, uuid.New(), uuid.New(), uuid.New())
}

// newMarketFor fixes the platform and creator identities so two markets can
// be compared state for state.
func newMarketFor(t *testing.T, feeBps int64, cfg core.Config, admin, creator, payout uuid.UUID) *market {
	t.Helper()
	persist := make(chan core.CoreOutput, 4096)
	m := &market{
		t:       t,
		core:    core.NewDeterministicCore(0, persist, nil, nil, nil, cfg),
		persist: persist,
		admin:   admin,
		creator: creator,
		payout:  payout,
	}
	m.apply(&event.InitPlatform{Meta: m.meta(m.admin, 0), FeeBps: feeBps, Asset: "USDC"})
	m.apply(&event.InitCreatorProfile{Meta: m.meta(m.creator, 0), PayoutWallet: m.payout})
	m.profile = state.ProfileKey(state.PlatformKey(), m.creator)
	return m
}

// meta builds an unsequenced header for caller at now (unix seconds).
func (m *market) meta(caller uuid.UUID, now int64) event.Meta {
	return event.Meta{
		OpID:     uuid.New(),
		Caller:   caller,
		Sequence: event.Unsequenced,
		Time:     now * 1_000_000,
	}
}

func (m *market) apply(evt event.Event) *core.Receipt {
	m.t.Helper()
	r, err := m.core.ProcessEvent(evt)
	if err != nil {
		m.t.Fatalf("%s failed: %v", evt.EventType(), err)
	}
	return r
}

// expectErr applies evt and requires it to fail with target.
func (m *market) expectErr(evt event.Event, target error) {
	m.t.Helper()
	_, err := m.core.ProcessEvent(evt)
	if err == nil {
		m.t.Fatalf("%s: expected %v, got nil", evt.EventType(), target)
	}
	if !errors.Is(err, target) {
		m.t.Fatalf("%s: expected %v, got %v", evt.EventType(), target, err)
	}
}

func (m *market) fund(owner uuid.UUID, amount int64) {
	m.t.Helper()
	m.apply(&event.FundWallet{Meta: m.meta(m.admin, 0), Owner: owner, Asset: "USDC", Amount: amount})
}

func (m *market) fundNative(owner uuid.UUID, amount int64) {
	m.t.Helper()
	m.apply(&event.FundWallet{Meta: m.meta(m.admin, 0), Owner: owner, Asset: ledger.NativeAsset, Amount: amount})
}

func (m *market) createSlot(p state.SlotParams) uuid.UUID {
	m.t.Helper()
	m.nonce++
	p.Nonce = m.nonce
	m.apply(&event.CreateTimeSlot{Meta: m.meta(m.creator, 0), ProfileID: m.profile, Params: p})
	return state.SlotKey(m.profile, m.nonce)
}

const (
	sessionStart = 10_000
	sessionEnd   = 13_600
	auctionOpen  = 100
	auctionClose = 1_000
)

func stableParams(price int64) state.SlotParams {
	return state.SlotParams{
		StartTs:       sessionStart,
		EndTs:         sessionEnd,
		Mode:          state.ModeStable,
		CapacityTotal: 1,
		Price:         price,
	}
}

func englishParams(price, incBps, buyNow, antiSnipe int64) state.SlotParams {
	return state.SlotParams{
		StartTs:         sessionStart,
		EndTs:           sessionEnd,
		Mode:            state.ModeEnglishAuction,
		CapacityTotal:   1,
		Price:           price,
		MinIncrementBps: incBps,
		BuyNow:          buyNow,
		AuctionStartTs:  auctionOpen,
		AuctionEndTs:    auctionClose,
		AntiSnipingSec:  antiSnipe,
	}
}

func sealedParams(price, revealSec int64, maxCommits uint32) state.SlotParams {
	return state.SlotParams{
		StartTs:         sessionStart,
		EndTs:           sessionEnd,
		Mode:            state.ModeSealedBid,
		CapacityTotal:   1,
		Price:           price,
		AuctionStartTs:  auctionOpen,
		AuctionEndTs:    auctionClose,
		RevealWindowSec: revealSec,
		MaxCommits:      maxCommits,
	}
}

func (m *market) slot(id uuid.UUID) *state.SlotRecord {
	m.t.Helper()
	rec, err := m.core.Slot(id)
	if err != nil {
		m.t.Fatalf("slot %s: %v", id, err)
	}
	return rec
}

func (m *market) wallet(owner uuid.UUID) int64 {
	return m.core.Balance(ledger.WalletKey(owner, usdcID))
}

func (m *market) feeVault(asset ledger.AssetID) int64 {
	return m.core.Balance(ledger.FeeVaultKey(state.PlatformKey(), asset))
}

func (m *market) disputeVault(asset ledger.AssetID) int64 {
	return m.core.Balance(ledger.DisputeVaultKey(state.PlatformKey(), asset))
}

func (m *market) escrow(id uuid.UUID) int64 {
	return m.core.Balance(m.slot(id).Escrow.Account)
}

func (m *market) checkLedger() {
	m.t.Helper()
	if err := m.core.ValidateLedger(); err != nil {
		m.t.Fatalf("ledger invariant: %v", err)
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func recordKinds(r *core.Receipt) []event.RecordKind {
	kinds := make([]event.RecordKind, len(r.Records))
	for i, rec := range r.Records {
		kinds[i] = rec.Kind
	}
	return kinds
}

func assertKinds(t *testing.T, r *core.Receipt, want ...event.RecordKind) {
	t.Helper()
	got := recordKinds(r)
	if len(got) != len(want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("records = %v, want %v", got, want)
		}
	}
}
