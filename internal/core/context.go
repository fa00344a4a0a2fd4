package core

import (
	"fmt"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	fpmath "TimeMarket/internal/math"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

// opContext is the working set of one operation. Handlers read records
// through it, mutate clones and accumulate journals; nothing reaches the
// registry or the ledger book unless the whole operation succeeds.
type opContext struct {
	core      *DeterministicCore
	meta      *event.Meta
	now       int64 // unix seconds
	transfers *ledger.TransferSet
	records   []event.Record
	mints     []MintGrant

	slots        map[uuid.UUID]*state.SlotRecord
	slotOrder    []uuid.UUID
	profiles     map[uuid.UUID]*state.CreatorProfile
	profileOrder []uuid.UUID
	platform     *state.Platform

	refundsQueued int
	proxyRounds   int
}

type committedSet struct {
	slots    []*state.SlotRecord
	profiles []*state.CreatorProfile
	platform *state.Platform
}

func newOpContext(c *DeterministicCore, evt event.Event) *opContext {
	meta := evt.Header()
	return &opContext{
		core:        c,
		meta:        meta,
		now:         meta.NowSeconds(),
		transfers:   ledger.NewTransferSet(c.book, evt.IdempotencyKey(), c.sequence, meta.Time),
		slots:       make(map[uuid.UUID]*state.SlotRecord),
		profiles:    make(map[uuid.UUID]*state.CreatorProfile),
		proxyRounds: -1,
	}
}

func (ctx *opContext) caller() uuid.UUID {
	return ctx.meta.Caller
}

// platformRecord returns the platform, including one created by this operation.
func (ctx *opContext) platformRecord() (*state.Platform, error) {
	if ctx.platform != nil {
		return ctx.platform, nil
	}
	return ctx.core.registry.Platform()
}

func (ctx *opContext) requireAdmin(p *state.Platform) error {
	if p.Admin != ctx.caller() {
		return fmt.Errorf("caller %s is not platform admin: %w", ctx.caller(), errs.ErrUnauthorized)
	}
	return nil
}

// slot returns the working copy of a slot, cloning it on first access.
func (ctx *opContext) slot(id uuid.UUID) (*state.SlotRecord, error) {
	if rec, ok := ctx.slots[id]; ok {
		return rec, nil
	}
	stored, err := ctx.core.registry.Slot(id)
	if err != nil {
		return nil, fmt.Errorf("slot %s: %w", id, err)
	}
	rec := stored.Clone()
	ctx.slots[id] = rec
	ctx.slotOrder = append(ctx.slotOrder, id)
	return rec, nil
}

func (ctx *opContext) addSlot(rec *state.SlotRecord) {
	ctx.slots[rec.Slot.ID] = rec
	ctx.slotOrder = append(ctx.slotOrder, rec.Slot.ID)
}

// lookupProfile returns a profile for reading only.
func (ctx *opContext) lookupProfile(id uuid.UUID) (*state.CreatorProfile, error) {
	if p, ok := ctx.profiles[id]; ok {
		return p, nil
	}
	p, err := ctx.core.registry.Profile(id)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	return p, nil
}

// profile returns the working copy of a profile for mutation.
func (ctx *opContext) profile(id uuid.UUID) (*state.CreatorProfile, error) {
	if p, ok := ctx.profiles[id]; ok {
		return p, nil
	}
	stored, err := ctx.core.registry.Profile(id)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	p := stored.Clone()
	ctx.addProfile(p)
	return p, nil
}

func (ctx *opContext) addProfile(p *state.CreatorProfile) {
	ctx.profiles[p.ID] = p
	ctx.profileOrder = append(ctx.profileOrder, p.ID)
}

// emit appends an audit record stamped with the operation time. Actor
// defaults to the caller.
func (ctx *opContext) emit(r event.Record) {
	if r.Actor == uuid.Nil {
		r.Actor = ctx.caller()
	}
	r.Timestamp = ctx.meta.Time
	ctx.records = append(ctx.records, r)
}

// commit swaps the working copies into the registry.
func (ctx *opContext) commit() committedSet {
	reg := ctx.core.registry
	var out committedSet

	for _, id := range ctx.slotOrder {
		rec := ctx.slots[id]
		if old, err := reg.Slot(id); err == nil {
			ctx.core.escrowLocked -= old.Escrow.AmountLocked
		}
		ctx.core.escrowLocked += rec.Escrow.AmountLocked
		rec.Version++
		reg.PutSlot(rec)
		out.slots = append(out.slots, rec)
	}
	for _, id := range ctx.profileOrder {
		p := ctx.profiles[id]
		reg.PutProfile(p)
		out.profiles = append(out.profiles, p)
	}
	if ctx.platform != nil {
		reg.PutPlatform(ctx.platform)
		out.platform = ctx.platform
	}
	return out
}

// --- Escrow rail helpers ---

// deposit moves amount from the payer's wallet into the slot's escrow.
// Both rails fund escrow through the transfer primitive.
func (ctx *opContext) deposit(rec *state.SlotRecord, payer uuid.UUID, amount int64, jt ledger.JournalType) error {
	if amount <= 0 {
		return errs.ErrInvalidAmount
	}
	locked, err := fpmath.CheckedAdd(rec.Escrow.AmountLocked, amount)
	if err != nil {
		return err
	}
	from := ledger.WalletKey(payer, rec.Escrow.Account.AssetID)
	if err := ctx.transfers.Transfer(from, rec.Escrow.Account, amount, jt); err != nil {
		return err
	}
	rec.Escrow.AmountLocked = locked
	return nil
}

// release pays amount out of escrow. Token slots use the transfer primitive;
// native slots debit the escrow account's own balance directly.
func (ctx *opContext) release(rec *state.SlotRecord, to ledger.AccountKey, amount int64, jt ledger.JournalType) error {
	if amount == 0 {
		return nil
	}
	locked, err := fpmath.CheckedSub(rec.Escrow.AmountLocked, amount)
	if err != nil {
		return err
	}
	if locked < 0 {
		return fmt.Errorf("release %d from slot %s holding %d: %w",
			amount, rec.Slot.ID, rec.Escrow.AmountLocked, errs.ErrInvalidEscrowBalance)
	}
	if rec.Slot.Rail == state.RailNative {
		err = ctx.transfers.DirectDebit(rec.Escrow.Account, to, amount, jt)
	} else {
		err = ctx.transfers.Transfer(rec.Escrow.Account, to, amount, jt)
	}
	if err != nil {
		return err
	}
	rec.Escrow.AmountLocked = locked
	return nil
}

// releaseToWallet pays a participant in the slot's asset.
func (ctx *opContext) releaseToWallet(rec *state.SlotRecord, owner uuid.UUID, amount int64, jt ledger.JournalType) error {
	return ctx.release(rec, ledger.WalletKey(owner, rec.Escrow.Account.AssetID), amount, jt)
}

// queueRefund parks value owed to a displaced bidder on the refund queue.
func (ctx *opContext) queueRefund(rec *state.SlotRecord, bidder uuid.UUID, amount int64) error {
	if amount == 0 {
		return nil
	}
	if err := rec.Refunds.Push(bidder, amount); err != nil {
		return fmt.Errorf("queue refund for %s: %w", bidder, err)
	}
	ctx.refundsQueued++
	return nil
}

func (ctx *opContext) isCreator(rec *state.SlotRecord) bool {
	return rec.Slot.Creator == ctx.caller()
}

func (ctx *opContext) requireCreator(rec *state.SlotRecord) error {
	if !ctx.isCreator(rec) {
		return fmt.Errorf("caller %s is not the slot creator: %w", ctx.caller(), errs.ErrUnauthorized)
	}
	return nil
}

func (ctx *opContext) requireBuyerOrCreator(rec *state.SlotRecord) error {
	if rec.Escrow.IsBuyer(ctx.caller()) || ctx.isCreator(rec) {
		return nil
	}
	return fmt.Errorf("caller %s is neither buyer nor creator: %w", ctx.caller(), errs.ErrUnauthorized)
}
