package core_test

import (
	"testing"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

func TestStable_FullLifecycleSplits(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fund(buyer, 5_000)
	id := m.createSlot(stableParams(1_000))

	r := m.apply(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: 1_000})
	assertKinds(t, r, event.RecordReserved)
	if got := m.wallet(buyer); got != 4_000 {
		t.Errorf("buyer wallet = %d, want 4000", got)
	}
	if got := m.slot(id).Escrow.AmountLocked; got != 1_000 {
		t.Fatalf("amount_locked = %d, want 1000", got)
	}

	r = m.apply(&event.StableSettle{Meta: m.meta(uuid.New(), sessionStart), SlotRef: event.SlotRef{SlotID: id}})
	assertKinds(t, r, event.RecordSettledT0)
	if r.Records[0].Amount != 475 || r.Records[0].Fee != 25 {
		t.Errorf("T0 = %d/%d, want 475/25", r.Records[0].Amount, r.Records[0].Fee)
	}
	rec := m.slot(id)
	if rec.Slot.State != state.SlotStateLocked {
		t.Errorf("state = %s, want Locked", rec.Slot.State)
	}
	if rec.Escrow.AmountLocked != 500 || m.escrow(id) != 500 {
		t.Errorf("escrow = %d (ledger %d), want 500", rec.Escrow.AmountLocked, m.escrow(id))
	}

	m.apply(&event.StableCheckin{Meta: m.meta(buyer, sessionStart+10), SlotRef: event.SlotRef{SlotID: id}})

	r = m.apply(&event.StableSettle{Meta: m.meta(uuid.New(), sessionEnd), SlotRef: event.SlotRef{SlotID: id}})
	assertKinds(t, r, event.RecordSettledT1)
	t1 := r.Records[0]
	if t1.Amount != 465 || t1.Fee != 25 || t1.Retained != 10 {
		t.Errorf("T1 = %d/%d/%d, want 465/25/10", t1.Amount, t1.Fee, t1.Retained)
	}

	if got := m.wallet(m.payout); got != 940 {
		t.Errorf("creator payout = %d, want 940", got)
	}
	if got := m.feeVault(usdcID); got != 50 {
		t.Errorf("fee vault = %d, want 50", got)
	}
	if got := m.disputeVault(usdcID); got != 10 {
		t.Errorf("dispute vault = %d, want 10", got)
	}
	rec = m.slot(id)
	if rec.Escrow.AmountLocked != 0 || rec.Slot.State != state.SlotStateSettled {
		t.Errorf("final escrow %d state %s, want 0 Settled", rec.Escrow.AmountLocked, rec.Slot.State)
	}
	if rec.Slot.CapacitySold != 1 {
		t.Errorf("capacity_sold = %d, want 1", rec.Slot.CapacitySold)
	}
	m.checkLedger()
}

func TestStable_CheckinBeforeT0PaysBothMilestonesAtT0(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fund(buyer, 1_000)
	id := m.createSlot(stableParams(1_000))

	m.apply(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: 1_000})
	m.apply(&event.StableCheckin{Meta: m.meta(m.creator, 200), SlotRef: event.SlotRef{SlotID: id}})

	// Checking in early does not bring the first release forward.
	m.expectErr(&event.StableSettle{Meta: m.meta(m.creator, 300), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrTooEarly)
	m.expectErr(&event.StableSettle{Meta: m.meta(m.creator, sessionStart-1), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrTooEarly)
	if got := m.slot(id).Escrow.AmountLocked; got != 1_000 || m.wallet(m.payout) != 0 {
		t.Fatalf("early settle moved funds: locked %d payout %d", got, m.wallet(m.payout))
	}

	r := m.apply(&event.StableSettle{Meta: m.meta(buyer, sessionStart), SlotRef: event.SlotRef{SlotID: id}})
	assertKinds(t, r, event.RecordSettledT0, event.RecordSettledT1)

	total := m.wallet(m.payout) + m.feeVault(usdcID) + m.disputeVault(usdcID)
	if total != 1_000 {
		t.Errorf("released %d, want 1000", total)
	}
	if m.slot(id).Escrow.AmountLocked != 0 {
		t.Errorf("escrow not drained")
	}
	m.checkLedger()
}

func TestStable_CancelAfterT0IsTooLate(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fund(buyer, 1_000)
	id := m.createSlot(stableParams(1_000))
	m.apply(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: 1_000})

	m.expectErr(&event.StableCancel{Meta: m.meta(buyer, sessionStart), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrTooLate)

	if got := m.slot(id).Escrow.AmountLocked; got != 1_000 {
		t.Errorf("amount_locked = %d after failed cancel, want 1000", got)
	}
	if got := m.wallet(buyer); got != 0 {
		t.Errorf("buyer wallet = %d after failed cancel, want 0", got)
	}
}

func TestStable_CancelRefundsAndReopens(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fund(buyer, 1_000)
	id := m.createSlot(stableParams(1_000))
	m.apply(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: 1_000})

	m.expectErr(&event.StableCancel{Meta: m.meta(uuid.New(), 200), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrUnauthorizedBuyer)

	r := m.apply(&event.StableCancel{Meta: m.meta(buyer, 200), SlotRef: event.SlotRef{SlotID: id}})
	assertKinds(t, r, event.RecordRefunded)

	rec := m.slot(id)
	if rec.Slot.State != state.SlotStateOpen || rec.Escrow.HasBuyer() {
		t.Errorf("state %s buyer %v, want Open without buyer", rec.Slot.State, rec.Escrow.Buyer)
	}
	if got := m.wallet(buyer); got != 1_000 {
		t.Errorf("buyer wallet = %d, want 1000", got)
	}
	m.checkLedger()
}

func TestStable_ReserveValidation(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fund(buyer, 500)
	id := m.createSlot(stableParams(1_000))

	tests := []struct {
		name   string
		amount int64
		want   error
	}{
		{"wrong amount", 999, errs.ErrInvalidPrice},
		{"insufficient funds", 1_000, errs.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.t = t
			m.expectErr(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: tt.amount}, tt.want)
		})
	}
	m.t = t

	if got := m.slot(id).Slot.State; got != state.SlotStateOpen {
		t.Errorf("state = %s, want Open", got)
	}
}

func TestStable_SettleGuards(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fund(buyer, 1_000)
	id := m.createSlot(stableParams(1_000))

	m.expectErr(&event.StableSettle{Meta: m.meta(buyer, sessionStart), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrInvalidState)

	m.apply(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: 1_000})
	m.expectErr(&event.StableSettle{Meta: m.meta(buyer, sessionStart-1), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrTooEarly)
	m.expectErr(&event.BidPlace{Meta: m.meta(buyer, 200), SlotRef: event.SlotRef{SlotID: id}, Amount: 10}, errs.ErrWrongMode)
}

func TestStable_CheckinRequiresBuyerOrCreator(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fund(buyer, 1_000)
	id := m.createSlot(stableParams(1_000))

	m.expectErr(&event.StableCheckin{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrInvalidState)

	m.apply(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: 1_000})
	m.expectErr(&event.StableCheckin{Meta: m.meta(uuid.New(), 200), SlotRef: event.SlotRef{SlotID: id}}, errs.ErrUnauthorized)

	r := m.apply(&event.StableCheckin{Meta: m.meta(buyer, 200), SlotRef: event.SlotRef{SlotID: id}})
	assertKinds(t, r, event.RecordCheckedIn)
	if len(r.Mints) != 0 {
		t.Errorf("mint grants = %d without a configured mint", len(r.Mints))
	}
}

func TestStable_CheckinIssuesMintGrant(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fund(buyer, 1_000)
	mint := uuid.New()
	p := stableParams(1_000)
	p.NFTMint = &mint
	id := m.createSlot(p)

	m.apply(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: 1_000})
	r := m.apply(&event.StableCheckin{Meta: m.meta(buyer, 200), SlotRef: event.SlotRef{SlotID: id}})

	assertKinds(t, r, event.RecordCheckedIn, event.RecordCollectibleGranted)
	if len(r.Mints) != 1 {
		t.Fatalf("mint grants = %d, want 1", len(r.Mints))
	}
	g := r.Mints[0]
	if g.Recipient() != buyer || g.Mint() != mint || g.SlotID() != id {
		t.Errorf("grant = %+v", g)
	}
	if g.Authority() != state.MintAuthorityKey(id) {
		t.Errorf("authority = %s, want derived key", g.Authority())
	}
	if g.IssuedAt() != 200*1_000_000 {
		t.Errorf("issued at %d", g.IssuedAt())
	}
}

func TestStable_NativeRailMatchesTokenArithmetic(t *testing.T) {
	m := newMarket(t, 500)
	buyer := uuid.New()
	m.fundNative(buyer, 1_000)
	p := stableParams(1_000)
	p.Rail = state.RailNative
	id := m.createSlot(p)

	if acct := m.slot(id).Escrow.Account; acct != ledger.EscrowNativeKey(id) {
		t.Fatalf("escrow account = %s, want native", acct.AccountPath())
	}

	m.apply(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: 1_000})
	m.apply(&event.StableSettle{Meta: m.meta(buyer, sessionStart), SlotRef: event.SlotRef{SlotID: id}})
	m.apply(&event.StableCheckin{Meta: m.meta(buyer, sessionStart), SlotRef: event.SlotRef{SlotID: id}})
	m.apply(&event.StableSettle{Meta: m.meta(buyer, sessionEnd), SlotRef: event.SlotRef{SlotID: id}})

	if got := m.core.Balance(ledger.WalletKey(m.payout, nativeID)); got != 940 {
		t.Errorf("native payout = %d, want 940", got)
	}
	if got := m.feeVault(nativeID); got != 50 {
		t.Errorf("native fee vault = %d, want 50", got)
	}
	if got := m.disputeVault(nativeID); got != 10 {
		t.Errorf("native dispute vault = %d, want 10", got)
	}
	if got := m.wallet(m.payout); got != 0 {
		t.Errorf("token payout = %d, want 0", got)
	}
	m.checkLedger()
}

func TestStable_FeeOverrideApplied(t *testing.T) {
	m := newMarket(t, 500)
	override := int64(1_000)
	m.apply(&event.UpdateCreatorProfile{Meta: m.meta(m.creator, 0), ProfileID: m.profile, SetFeeOverride: &override})

	buyer := uuid.New()
	m.fund(buyer, 1_000)
	id := m.createSlot(stableParams(1_000))
	m.apply(&event.StableReserve{Meta: m.meta(buyer, 100), SlotRef: event.SlotRef{SlotID: id}, Amount: 1_000})

	r := m.apply(&event.StableSettle{Meta: m.meta(buyer, sessionStart), SlotRef: event.SlotRef{SlotID: id}})
	// total fee 100, T0 share 50
	if r.Records[0].Amount != 450 || r.Records[0].Fee != 50 {
		t.Errorf("T0 = %d/%d, want 450/50", r.Records[0].Amount, r.Records[0].Fee)
	}
}
