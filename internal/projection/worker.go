package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TimeMarket/internal/core"
	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	"TimeMarket/internal/observability"
	"TimeMarket/internal/query"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProjectionWorker updates the read-model tables and the slot cache from
// applied operations. The projection channel is non-blocking with drop, so
// every write is an absolute upsert guarded by last_sequence: a dropped
// output leaves a row stale until the next touch, never wrong. Tables can be
// rebuilt from the event log with Rebuild.
type ProjectionWorker struct {
	db        *sql.DB
	cache     *query.SlotCache
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, cache *query.SlotCache, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		cache:     cache,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection-worker"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			start := time.Now()
			if err := pw.Apply(ctx, output); err != nil {
				// Projections are eventually consistent; the next touch repairs the row.
				pw.logger.Warn().Err(err).Int64("seq", output.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.Envelope.EventType.String()).Observe(time.Since(start).Seconds())
			}
		}
	}
}

// Apply writes one output to the projection tables, then refreshes the
// cached views of the slots it touched.
func (pw *ProjectionWorker) Apply(ctx context.Context, out core.CoreOutput) error {
	seq := out.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range out.Balances {
		if err := upsertBalance(ctx, tx, b, seq); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	views := make([]query.SlotView, 0, len(out.Slots))
	for _, rec := range out.Slots {
		v := query.NewSlotView(rec, seq)
		if err := upsertSlot(ctx, tx, v, int32(rec.Escrow.Account.AssetID)); err != nil {
			return fmt.Errorf("slot projection: %w", err)
		}
		views = append(views, v)
	}

	for _, p := range out.Profiles {
		if err := upsertProfile(ctx, tx, query.NewProfileView(p, seq)); err != nil {
			return fmt.Errorf("profile projection: %w", err)
		}
	}

	for _, g := range out.Mints {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.mint_grants (slot_id, mint, recipient, authority, issued_at, sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (slot_id) DO NOTHING
		`, g.SlotID(), g.Mint(), g.Recipient(), g.Authority(), g.IssuedAt(), seq); err != nil {
			return fmt.Errorf("mint grant projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $1), updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, v := range views {
		if err := pw.cache.Put(ctx, v); err != nil {
			pw.logger.Warn().Err(err).Str("slot", v.SlotID.String()).Msg("slot cache update failed")
		}
	}
	return nil
}

func upsertBalance(ctx context.Context, tx *sql.Tx, b core.BalanceEntry, seq int64) error {
	var owner *uuid.UUID
	if b.Account.Scope == ledger.AccountScopeParticipant {
		id := uuid.UUID(b.Account.EntityID)
		owner = &id
	}
	asset, _ := ledger.GetAssetName(b.Account.AssetID)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, owner_id, asset, balance, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account_path) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
			WHERE projections.balances.last_sequence < EXCLUDED.last_sequence
	`, b.Account.AccountPath(), owner, asset, b.Balance, seq)
	return err
}

func upsertSlot(ctx context.Context, tx *sql.Tx, v query.SlotView, assetID int32) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.slots (
			slot_id, profile_id, creator, mode, state, rail, asset_id, frozen,
			start_ts, end_ts, price, capacity_total, capacity_sold,
			auction_end_ts, highest_bid, highest_bidder, buyer,
			amount_locked, refunds_pending, tips_received, version, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, NOW())
		ON CONFLICT (slot_id) DO UPDATE SET
			state = EXCLUDED.state, frozen = EXCLUDED.frozen,
			capacity_sold = EXCLUDED.capacity_sold, auction_end_ts = EXCLUDED.auction_end_ts,
			highest_bid = EXCLUDED.highest_bid, highest_bidder = EXCLUDED.highest_bidder,
			buyer = EXCLUDED.buyer, amount_locked = EXCLUDED.amount_locked,
			refunds_pending = EXCLUDED.refunds_pending, tips_received = EXCLUDED.tips_received,
			version = EXCLUDED.version, last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
			WHERE projections.slots.last_sequence < EXCLUDED.last_sequence
	`, v.SlotID, v.ProfileID, v.Creator, v.Mode, v.State, v.Rail, assetID, v.Frozen,
		v.StartTs, v.EndTs, v.Price, int64(v.CapacityTotal), int64(v.CapacitySold),
		v.AuctionEndTs, v.HighestBid, v.HighestBidder, v.Buyer,
		v.AmountLocked, v.RefundsPending, v.TipsReceived, v.Version, v.AsOfSequence)
	return err
}

func upsertProfile(ctx context.Context, tx *sql.Tx, v query.ProfileView) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.profiles
			(profile_id, authority, payout_wallet, fee_bps_override, total_tips, tip_count, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (profile_id) DO UPDATE SET
			payout_wallet = EXCLUDED.payout_wallet, fee_bps_override = EXCLUDED.fee_bps_override,
			total_tips = EXCLUDED.total_tips, tip_count = EXCLUDED.tip_count,
			last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
			WHERE projections.profiles.last_sequence < EXCLUDED.last_sequence
	`, v.ProfileID, v.Authority, v.PayoutWallet, v.FeeBpsOverride, v.TotalTips, int64(v.TipCount), v.AsOfSequence)
	return err
}

// Rebuild truncates the projection tables and replays outputs into them.
// The caller feeds outputs from a core replaying the event log.
func Rebuild(ctx context.Context, db *sql.DB, outputs <-chan core.CoreOutput) error {
	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.slots`,
		`TRUNCATE projections.profiles`,
		`TRUNCATE projections.mint_grants`,
		`DELETE FROM projections.watermark WHERE projection = 'main'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	pw := &ProjectionWorker{db: db, logger: observability.NewLogger("projection-rebuild")}
	n := 0
	for out := range outputs {
		if err := pw.Apply(ctx, out); err != nil {
			return fmt.Errorf("rebuild seq=%d: %w", out.Envelope.Sequence, err)
		}
		n++
	}
	pw.logger.Info().Int("events", n).Msg("projection rebuild complete")
	return nil
}

// Reconcile writes the full recovered state at its sequence. Rows that missed
// a dropped output are older than st.Sequence and get overwritten; current
// rows are left alone by the sequence guard.
func (pw *ProjectionWorker) Reconcile(ctx context.Context, st *core.SnapshotState) error {
	if st == nil || st.Sequence < 0 {
		return nil
	}
	err := pw.Apply(ctx, core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: st.Sequence},
		Balances: st.Balances,
		Slots:    st.Slots,
		Profiles: st.Profiles,
		Platform: st.Platform,
	})
	if err != nil {
		return fmt.Errorf("reconcile projections at seq %d: %w", st.Sequence, err)
	}
	pw.logger.Info().Int64("seq", st.Sequence).Int("slots", len(st.Slots)).Msg("projections reconciled")
	return nil
}
