package ledger

import (
	"fmt"
	"maps"
	"math"

	"TimeMarket/internal/errs"
)

// Book holds the live balance of every account. A batch lands on the book
// entirely or not at all.
type Book struct {
	accounts map[AccountKey]int64
}

func NewBook() *Book {
	return &Book{accounts: make(map[AccountKey]int64)}
}

// Balance is zero for accounts the book has never seen.
func (b *Book) Balance(key AccountKey) int64 {
	return b.accounts[key]
}

// Apply posts every journal of batch. Each entry credits one account and
// debits another; a malformed batch or an int64 overflow on any account
// leaves the book unchanged.
func (b *Book) Apply(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	next := make(map[AccountKey]int64, 2*len(batch.Journals))
	current := func(k AccountKey) int64 {
		if v, ok := next[k]; ok {
			return v
		}
		return b.accounts[k]
	}
	for _, j := range batch.Journals {
		up, err := shift(current(j.DebitAccount), j.Amount)
		if err != nil {
			return fmt.Errorf("journal %s: %s: %w", j.JournalID, j.DebitAccount.AccountPath(), err)
		}
		next[j.DebitAccount] = up
		down, err := shift(current(j.CreditAccount), -j.Amount)
		if err != nil {
			return fmt.Errorf("journal %s: %s: %w", j.JournalID, j.CreditAccount.AccountPath(), err)
		}
		next[j.CreditAccount] = down
	}
	maps.Copy(b.accounts, next)
	return nil
}

// NetByAsset sums all accounts per asset. A closed ledger nets to zero.
func (b *Book) NetByAsset() map[AssetID]int64 {
	net := make(map[AssetID]int64)
	for k, v := range b.accounts {
		net[k.AssetID] += v
	}
	return net
}

// CheckNonNegative fails when a constrained account is overdrawn.
// External counterparty accounts may go negative.
func (b *Book) CheckNonNegative(key AccountKey) error {
	if v := b.accounts[key]; v < 0 && key.Constrained() {
		return fmt.Errorf("account %s overdrawn: %d", key.AccountPath(), v)
	}
	return nil
}

// Export copies the book for snapshots.
func (b *Book) Export() map[AccountKey]int64 {
	return maps.Clone(b.accounts)
}

// Load replaces the book with balances from a snapshot.
func (b *Book) Load(balances map[AccountKey]int64) {
	b.accounts = maps.Clone(balances)
	if b.accounts == nil {
		b.accounts = make(map[AccountKey]int64)
	}
}

// shift adds a signed delta. External accounts run negative, so unlike the
// amount helpers in package math this only guards the int64 range.
func shift(balance, delta int64) (int64, error) {
	if (delta > 0 && balance > math.MaxInt64-delta) || (delta < 0 && balance < math.MinInt64-delta) {
		return 0, errs.ErrOverflow
	}
	return balance + delta, nil
}
