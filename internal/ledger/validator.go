package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	book *Book
}

func NewInvariantValidator(book *Book) *InvariantValidator {
	return &InvariantValidator{
		book: book,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateTouchedNonNegative checks every constrained account a batch touched.
func (v *InvariantValidator) ValidateTouchedNonNegative(batch *Batch) error {
	for _, j := range batch.Journals {
		if err := v.book.CheckNonNegative(j.DebitAccount); err != nil {
			return err
		}
		if err := v.book.CheckNonNegative(j.CreditAccount); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEscrowMatches verifies the escrow account holds exactly amountLocked.
func (v *InvariantValidator) ValidateEscrowMatches(key AccountKey, amountLocked int64) error {
	balance := v.book.Balance(key)
	if balance != amountLocked {
		return fmt.Errorf("escrow %s balance %d != amount_locked %d", key.AccountPath(), balance, amountLocked)
	}
	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.book.NetByAsset()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
