package core

import (
	"fmt"
	"sort"
	"time"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	"TimeMarket/internal/observability"
	"TimeMarket/internal/state"

	"github.com/google/uuid"
)

// DeterministicCore is the single-threaded operation processor
type DeterministicCore struct {
	sequence  int64
	chain     *hashChain
	book      *ledger.Book
	validator *ledger.InvariantValidator
	registry  *state.Registry
	dedup     *dedupGuard
	versions  partitionVersions
	cfg       Config
	metrics   *observability.Metrics

	// escrowLocked is the sum of amount_locked over all slots.
	escrowLocked int64

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need for one applied operation.
// Slots and Profiles point at committed records, which the core never mutates
// again (it clones before every write), so readers may share them.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	// Balances are the post-operation balances of every account the batch touched.
	Balances []BalanceEntry
	Slots    []*state.SlotRecord
	Profiles []*state.CreatorProfile
	Platform *state.Platform
	Mints    []MintGrant
}

// Receipt is returned to the submitter of an applied operation.
type Receipt struct {
	Sequence  int64
	StateHash [32]byte
	Records   []event.Record
	Mints     []MintGrant
	Duplicate bool
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	cfg Config,
) *DeterministicCore {
	cfg = cfg.withDefaults()
	book := ledger.NewBook()

	return &DeterministicCore{
		sequence:       startSequence,
		chain:          newHashChain(),
		book:           book,
		validator:      ledger.NewInvariantValidator(book),
		registry:       state.NewRegistry(),
		dedup:          newDedupGuard(cfg.IdempotencyCapacity, dbChecker, metrics),
		versions:       make(partitionVersions),
		cfg:            cfg,
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// ProcessEvent is the main processing pipeline. A returned error means the
// operation left no trace: no journals, no state change, no records and no
// consumed sequence.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*Receipt, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	dup, err := c.dedup.seen(eventType, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if dup {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return &Receipt{Duplicate: true, Sequence: c.sequence - 1, StateHash: c.chain.head()}, nil
	}

	// Step 2: Partition sequence validation
	partition := evt.Partition()
	if err := c.versions.check(partition, evt.SourceSequence()); err != nil {
		c.recordRejection(eventType, err)
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}

	// Step 3: Dispatch against working copies
	ctx := newOpContext(c, evt)
	if err := ctx.dispatch(evt); err != nil {
		c.recordRejection(eventType, err)
		return nil, fmt.Errorf("%s rejected: %w", eventType, err)
	}
	batch := ctx.transfers.Batch()

	// Step 4: Validate and apply the batch
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
		if err := c.book.Apply(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed: %v", err))
		}
	}

	// Step 5: Post-checks against the applied balances
	if err := c.postCheckInvariants(ctx, batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: Commit working copies and consume the partition version
	committed := ctx.commit()
	c.versions.bump(partition)

	// Step 7: Chain the state hash
	stateDigest := c.computeStateDigest(batch, committed)
	prevHash := c.chain.head()
	stateHash := c.chain.extend(c.sequence, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Partition:      partition,
		Timestamp:      evt.Timestamp(),
		SourceSequence: evt.SourceSequence(),
		Records:        ctx.records,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	if c.cfg.PayloadEncoder != nil {
		payload, err := c.cfg.PayloadEncoder(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: encode payload seq=%d: %v", c.sequence, err))
		}
		envelope.Payload = payload
	}

	output := CoreOutput{
		Envelope: envelope,
		Batch:    batch,
		Balances: c.touchedBalances(batch),
		Slots:    committed.slots,
		Profiles: committed.profiles,
		Platform: committed.platform,
		Mints:    ctx.mints,
	}

	// Step 8: Emit outputs. Persistence uses a blocking send so no applied
	// operation is lost; projections drop on a full channel and rebuild from
	// the event log.
	if c.persistChan != nil {
		c.persistChan <- output
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("all").Inc()
			}
		}
	}

	// Step 9: Mark as processed (add to LRU)
	c.dedup.remember(eventType, idempotencyKey)

	receipt := &Receipt{
		Sequence:  c.sequence,
		StateHash: stateHash,
		Records:   ctx.records,
		Mints:     ctx.mints,
	}
	c.sequence++

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		c.observeDomain(ctx)
	}

	return receipt, nil
}

func (c *DeterministicCore) recordRejection(eventType string, err error) {
	if c.metrics == nil {
		return
	}
	code := errs.Code(err)
	c.metrics.CoreEventsRejected.WithLabelValues(eventType, code).Inc()
	switch code {
	case errs.ErrSequenceGap.Code:
		c.metrics.EventSequenceGap.WithLabelValues(eventType).Inc()
	case errs.ErrSequenceStale.Code:
		c.metrics.EventOutOfOrder.WithLabelValues(eventType).Inc()
	}
}

// observeDomain derives settlement metrics from the records of a committed
// operation.
func (c *DeterministicCore) observeDomain(ctx *opContext) {
	m := c.metrics
	for _, r := range ctx.records {
		switch r.Kind {
		case event.RecordSettledT0, event.RecordSettledT1:
			phase := "t0"
			if r.Kind == event.RecordSettledT1 {
				phase = "t1"
			}
			mode := "unknown"
			if rec, ok := ctx.slots[r.SlotID]; ok {
				mode = rec.Slot.Mode.String()
			}
			m.Settlements.WithLabelValues(phase, mode).Inc()
			m.SettledVolume.WithLabelValues("creator").Add(float64(r.Amount))
			m.SettledVolume.WithLabelValues("fee").Add(float64(r.Fee))
			m.SettledVolume.WithLabelValues("dispute_vault").Add(float64(r.Retained))
		case event.RecordBidPlaced:
			kind := "manual"
			if r.Proxy {
				kind = "proxy"
			}
			m.BidsAccepted.WithLabelValues(kind).Inc()
		case event.RecordCommitPlaced:
			m.BidsAccepted.WithLabelValues("commit").Inc()
		case event.RecordRevealAccepted:
			m.BidsAccepted.WithLabelValues("reveal").Inc()
		case event.RecordOutbidRefunded:
			m.RefundsClaimed.Inc()
		case event.RecordDisputeRaised:
			m.Disputes.WithLabelValues("raised").Inc()
		case event.RecordDisputeResolved:
			m.Disputes.WithLabelValues("resolved").Inc()
		case event.RecordTip:
			m.TipsVolume.WithLabelValues(state.Rail(r.Value).String()).Add(float64(r.Amount))
		case event.RecordCollectibleGranted:
			m.MintGrantsIssued.Inc()
		}
	}
	if ctx.refundsQueued > 0 {
		m.RefundsQueued.Add(float64(ctx.refundsQueued))
	}
	if ctx.proxyRounds >= 0 {
		m.ProxyRounds.Observe(float64(ctx.proxyRounds))
	}
	m.EscrowLockedTotal.Set(float64(c.escrowLocked))
}

// computeStateDigest creates canonical bytes for the state hash: every
// account the batch touched, then every slot, profile and platform record
// the operation wrote.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, committed committedSet) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affectedAccounts[j.DebitAccount] = true
		affectedAccounts[j.CreditAccount] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+len(committed.slots)*256)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.book.Balance(key))
	}

	for _, rec := range committed.slots {
		digest = append(digest, rec.CanonicalBytes()...)
	}
	for _, p := range committed.profiles {
		digest = append(digest, p.ID[:]...)
		digest = append(digest, p.PayoutWallet[:]...)
		override := int64(-1)
		if p.FeeBpsOverride != nil {
			override = *p.FeeBpsOverride
		}
		digest = appendInt64LE(digest, override)
		digest = appendInt64LE(digest, p.TotalTipsReceived)
		digest = appendInt64LE(digest, int64(p.TipCount))
	}
	if p := committed.platform; p != nil {
		digest = append(digest, p.ID[:]...)
		digest = append(digest, p.Admin[:]...)
		digest = appendInt64LE(digest, p.FeeBps)
		digest = append(digest, byte(p.AssetID), byte(p.AssetID>>8))
	}

	return digest
}

// touchedBalances lists the accounts a batch moved, in account path order.
func (c *DeterministicCore) touchedBalances(batch *ledger.Batch) []BalanceEntry {
	if len(batch.Journals) == 0 {
		return nil
	}
	seen := make(map[ledger.AccountKey]bool, len(batch.Journals)*2)
	out := make([]BalanceEntry, 0, len(batch.Journals)*2)
	for _, j := range batch.Journals {
		for _, key := range [2]ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, BalanceEntry{Account: key, Balance: c.book.Balance(key)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.AccountPath() < out[j].Account.AccountPath()
	})
	return out
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application: no
// constrained account went negative and every touched escrow holds exactly
// its amount_locked, which covers every queued refund.
func (c *DeterministicCore) postCheckInvariants(ctx *opContext, batch *ledger.Batch) error {
	if err := c.validator.ValidateTouchedNonNegative(batch); err != nil {
		return err
	}
	for _, id := range ctx.slotOrder {
		rec := ctx.slots[id]
		if err := c.validator.ValidateEscrowMatches(rec.Escrow.Account, rec.Escrow.AmountLocked); err != nil {
			return err
		}
		if rec.Escrow.AmountLocked < rec.Refunds.Outstanding() {
			return fmt.Errorf("slot %s amount_locked %d below queued refunds %d",
				id, rec.Escrow.AmountLocked, rec.Refunds.Outstanding())
		}
		if rec.Slot.State == state.SlotStateAuctionLive && rec.Book.LeaderDeposit < rec.Book.HighestBid {
			return fmt.Errorf("slot %s leader deposit %d below highest bid %d",
				id, rec.Book.LeaderDeposit, rec.Book.HighestBid)
		}
	}
	return nil
}

// dispatch routes an operation to its handler.
func (ctx *opContext) dispatch(evt event.Event) error {
	switch e := evt.(type) {
	case *event.InitPlatform:
		return ctx.handleInitPlatform(e)
	case *event.InitCreatorProfile:
		return ctx.handleInitCreatorProfile(e)
	case *event.UpdateCreatorProfile:
		return ctx.handleUpdateCreatorProfile(e)
	case *event.FundWallet:
		return ctx.handleFundWallet(e)
	case *event.CreateTimeSlot:
		return ctx.handleCreateTimeSlot(e)
	case *event.CloseSlot:
		return ctx.handleCloseSlot(e)
	case *event.StableReserve:
		return ctx.handleStableReserve(e)
	case *event.StableCancel:
		return ctx.handleStableCancel(e)
	case *event.StableCheckin:
		return ctx.handleCheckin(e.SlotID, state.OpStableCheckin)
	case *event.StableSettle:
		return ctx.handleStableSettle(e)
	case *event.AuctionStart:
		return ctx.handleAuctionStart(e)
	case *event.BidPlace:
		return ctx.handleBidPlace(e)
	case *event.AuctionUpdateEnd:
		return ctx.handleAuctionUpdateEnd(e)
	case *event.BuyNow:
		return ctx.handleBuyNow(e)
	case *event.AuctionEnd:
		return ctx.handleAuctionEnd(e)
	case *event.AuctionCheckin:
		return ctx.handleCheckin(e.SlotID, state.OpAuctionCheckin)
	case *event.AuctionSettle:
		return ctx.handleAuctionSettle(e.SlotID, state.OpAuctionSettle)
	case *event.BidOutbidRefund:
		return ctx.handleBidOutbidRefund(e)
	case *event.BidCommit:
		return ctx.handleBidCommit(e)
	case *event.BidReveal:
		return ctx.handleBidReveal(e)
	case *event.SealedAuctionEnd:
		return ctx.handleSealedAuctionEnd(e)
	case *event.SealedAuctionSettle:
		return ctx.handleAuctionSettle(e.SlotID, state.OpSealedAuctionSettle)
	case *event.RaiseDispute:
		return ctx.handleRaiseDispute(e)
	case *event.ResolveDispute:
		return ctx.handleResolveDispute(e)
	case *event.TipCreator:
		return ctx.handleTipCreator(e)
	case *event.TipForSession:
		return ctx.handleTipForSession(e)
	default:
		return fmt.Errorf("unknown operation type: %T", evt)
	}
}

// GetSequence returns the next global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.chain.head()
}

// Balance returns a ledger balance. Only safe on the core goroutine or
// after the core has stopped.
func (c *DeterministicCore) Balance(key ledger.AccountKey) int64 {
	return c.book.Balance(key)
}

// Slot returns a copy of a slot record. Same goroutine rule as Balance.
func (c *DeterministicCore) Slot(id uuid.UUID) (*state.SlotRecord, error) {
	rec, err := c.registry.Slot(id)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Profile returns a copy of a creator profile.
func (c *DeterministicCore) Profile(id uuid.UUID) (*state.CreatorProfile, error) {
	p, err := c.registry.Profile(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// ValidateLedger checks the zero-sum and escrow invariants across all state.
// Used after replay and in tests.
func (c *DeterministicCore) ValidateLedger() error {
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	for _, id := range c.registry.SlotIDs() {
		rec, _ := c.registry.Slot(id)
		if err := c.validator.ValidateEscrowMatches(rec.Escrow.Account, rec.Escrow.AmountLocked); err != nil {
			return err
		}
	}
	return nil
}
