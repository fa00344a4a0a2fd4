package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"TimeMarket/internal/errs"
	"TimeMarket/internal/ledger"
	fpmath "TimeMarket/internal/math"
	"TimeMarket/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueryService provides read-only access to the projection tables, with
// slot views served from the Redis cache when present. Every response
// carries as_of_sequence: projections trail the core and may skip updates
// under load, so readers see a consistent but possibly stale view.
type QueryService struct {
	db      *sql.DB
	cache   *SlotCache
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewQueryService(db *sql.DB, cache *SlotCache, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, cache: cache, metrics: metrics, logger: observability.NewLogger("query")}
}

func (qs *QueryService) countLookup(result string) {
	if qs.metrics != nil {
		qs.metrics.SlotCacheLookups.WithLabelValues(result).Inc()
	}
}

// GetSlot returns a slot view, reading through the cache.
func (qs *QueryService) GetSlot(ctx context.Context, slotID uuid.UUID) (*SlotView, error) {
	v, ok, err := qs.cache.Get(ctx, slotID)
	switch {
	case err != nil:
		qs.countLookup("error")
		qs.logger.Warn().Err(err).Str("slot", slotID.String()).Msg("slot cache read failed")
	case ok:
		qs.countLookup("hit")
		return &v, nil
	default:
		qs.countLookup("miss")
	}

	var (
		assetID       int32
		bidder, buyer uuid.NullUUID
	)
	v = SlotView{}
	err = qs.db.QueryRowContext(ctx, `
		SELECT s.slot_id, s.profile_id, s.creator, s.mode, s.state, s.rail, s.frozen,
		       s.start_ts, s.end_ts, s.price, s.capacity_total, s.capacity_sold,
		       s.auction_end_ts, s.highest_bid, s.highest_bidder, s.buyer,
		       s.amount_locked, s.refunds_pending, s.tips_received, s.version,
		       s.last_sequence, s.asset_id
		FROM projections.slots s
		WHERE s.slot_id = $1
	`, slotID).Scan(
		&v.SlotID, &v.ProfileID, &v.Creator, &v.Mode, &v.State, &v.Rail, &v.Frozen,
		&v.StartTs, &v.EndTs, &v.Price, &v.CapacityTotal, &v.CapacitySold,
		&v.AuctionEndTs, &v.HighestBid, &bidder, &buyer,
		&v.AmountLocked, &v.RefundsPending, &v.TipsReceived, &v.Version,
		&v.AsOfSequence, &assetID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("slot %s: %w", slotID, errs.ErrUnknownSlot)
	}
	if err != nil {
		return nil, fmt.Errorf("query slot: %w", err)
	}

	if bidder.Valid {
		v.HighestBidder = &bidder.UUID
	}
	if buyer.Valid {
		v.Buyer = &buyer.UUID
	}
	decimals := ledger.AssetDecimals(ledger.AssetID(assetID))
	v.PriceDisplay = fpmath.FormatAmount(v.Price, decimals)
	v.LockedDisplay = fpmath.FormatAmount(v.AmountLocked, decimals)

	if err := qs.cache.Put(ctx, v); err != nil {
		qs.logger.Warn().Err(err).Str("slot", slotID.String()).Msg("slot cache fill failed")
	}
	return &v, nil
}

// GetBalance returns an owner's wallet balance in one asset. Accounts that
// never moved read as zero.
func (qs *QueryService) GetBalance(ctx context.Context, owner uuid.UUID, asset string) (*BalanceView, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, fmt.Errorf("asset %q: %w", asset, errs.ErrUnknownAsset)
	}
	path := ledger.WalletKey(owner, assetID).AccountPath()

	v := &BalanceView{Owner: owner, Asset: asset}
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance, last_sequence FROM projections.balances WHERE account_path = $1
	`, path).Scan(&v.Balance, &v.AsOfSequence)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if v.AsOfSequence, err = qs.Watermark(ctx); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("query balance: %w", err)
	}
	v.Display = fpmath.FormatAmount(v.Balance, ledger.AssetDecimals(assetID))
	return v, nil
}

// GetProfile returns a creator profile.
func (qs *QueryService) GetProfile(ctx context.Context, profileID uuid.UUID) (*ProfileView, error) {
	v := &ProfileView{ProfileID: profileID}
	var override sql.NullInt64
	err := qs.db.QueryRowContext(ctx, `
		SELECT authority, payout_wallet, fee_bps_override, total_tips, tip_count, last_sequence
		FROM projections.profiles
		WHERE profile_id = $1
	`, profileID).Scan(&v.Authority, &v.PayoutWallet, &override, &v.TotalTips, &v.TipCount, &v.AsOfSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", profileID, errs.ErrUnknownProfile)
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	if override.Valid {
		v.FeeBpsOverride = &override.Int64
	}
	return v, nil
}

// watermark is the last sequence the projection worker applied, or -1.
// Watermark is the last sequence the projections have applied, or -1 before any.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	return seq, nil
}
