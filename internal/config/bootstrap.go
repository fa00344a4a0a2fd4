package config

import (
	"bytes"
	"fmt"
	"os"

	"TimeMarket/internal/event"
	"TimeMarket/internal/ledger"
	fpmath "TimeMarket/internal/math"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Bootstrap seeds an empty market: the platform config and opening wallet
// balances. Operation ids are derived from the file contents, so applying the
// same file twice is a no-op.
type Bootstrap struct {
	Admin    string       `yaml:"admin"`
	Platform PlatformSeed `yaml:"platform"`
	Wallets  []WalletSeed `yaml:"wallets"`
}

type PlatformSeed struct {
	FeeBps int64  `yaml:"fee_bps"`
	Asset  string `yaml:"asset"`
}

// WalletSeed funds one wallet. Amount is in display units of the asset,
// e.g. "250.5" USDC.
type WalletSeed struct {
	Owner  string `yaml:"owner"`
	Asset  string `yaml:"asset"`
	Amount string `yaml:"amount"`
}

var bootstrapNamespace = uuid.MustParse("5b0d3a52-7f6e-4c0e-9a4e-54494d454d4b")

// LoadBootstrap parses a bootstrap YAML file. Unknown keys are rejected.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var b Bootstrap
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bootstrap %s: %w", path, err)
	}
	return &b, nil
}

// Events renders the bootstrap as unsequenced operations stamped at nowUs.
func (b *Bootstrap) Events(nowUs int64) ([]event.Event, error) {
	admin, err := uuid.Parse(b.Admin)
	if err != nil {
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	meta := func(key string) event.Meta {
		return event.Meta{
			OpID:     uuid.NewSHA1(bootstrapNamespace, []byte(key)),
			Caller:   admin,
			Sequence: event.Unsequenced,
			Time:     nowUs,
		}
	}

	out := []event.Event{&event.InitPlatform{
		Meta:   meta(fmt.Sprintf("platform/%s/%d", b.Platform.Asset, b.Platform.FeeBps)),
		FeeBps: b.Platform.FeeBps,
		Asset:  b.Platform.Asset,
	}}
	for i, w := range b.Wallets {
		owner, err := uuid.Parse(w.Owner)
		if err != nil {
			return nil, fmt.Errorf("bootstrap wallet %d: %w", i, err)
		}
		assetID, ok := ledger.GetAssetID(w.Asset)
		if !ok {
			return nil, fmt.Errorf("bootstrap wallet %d: unknown asset %q", i, w.Asset)
		}
		amount, err := fpmath.ParseAmount(w.Amount, ledger.AssetDecimals(assetID))
		if err != nil {
			return nil, fmt.Errorf("bootstrap wallet %d: %w", i, err)
		}
		out = append(out, &event.FundWallet{
			Meta:   meta(fmt.Sprintf("wallet/%d/%s/%s/%d", i, owner, w.Asset, amount)),
			Owner:  owner,
			Asset:  w.Asset,
			Amount: amount,
		})
	}
	return out, nil
}
