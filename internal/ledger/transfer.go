package ledger

import (
	"encoding/binary"
	"fmt"

	"TimeMarket/internal/errs"
	fpmath "TimeMarket/internal/math"

	"github.com/google/uuid"
)

// TransferSet accumulates the journals of one operation against a projected
// view of balances. Nothing touches the book until the batch is applied.
type TransferSet struct {
	book      *Book
	batch     *Batch
	projected map[AccountKey]int64
}

// NewTransferSet starts an empty batch for the operation identified by eventRef.
func NewTransferSet(book *Book, eventRef string, sequence, timestamp int64) *TransferSet {
	return &TransferSet{
		book: book,
		batch: &Batch{
			BatchID:   BatchIDFor(eventRef),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
		},
		projected: make(map[AccountKey]int64),
	}
}

// Balance returns the projected balance including pending journals.
func (ts *TransferSet) Balance(key AccountKey) int64 {
	if b, ok := ts.projected[key]; ok {
		return b
	}
	return ts.book.Balance(key)
}

// Transfer moves amount from one account to another through the transfer
// primitive. The source must hold the amount, and neither side may leave the
// int64 range, so the batch always applies.
func (ts *TransferSet) Transfer(from, to AccountKey, amount int64, jt JournalType) error {
	if amount < 0 {
		return errs.ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	if from.Constrained() && ts.Balance(from) < amount {
		return fmt.Errorf("%s: %w", from.AccountPath(), errs.ErrInsufficientFunds)
	}
	return ts.append(from, to, amount, jt)
}

// DirectDebit moves amount by debiting the source account's own balance
// with checked subtraction, the way a native-asset record pays out.
func (ts *TransferSet) DirectDebit(from, to AccountKey, amount int64, jt JournalType) error {
	if amount < 0 {
		return errs.ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	if _, err := fpmath.CheckedSub(ts.Balance(from), amount); err != nil {
		return fmt.Errorf("%s: %w", from.AccountPath(), err)
	}
	if to.Constrained() {
		if _, err := fpmath.CheckedAdd(ts.Balance(to), amount); err != nil {
			return fmt.Errorf("%s: %w", to.AccountPath(), err)
		}
	}
	return ts.append(from, to, amount, jt)
}

func (ts *TransferSet) append(from, to AccountKey, amount int64, jt JournalType) error {
	if from == to {
		return fmt.Errorf("self transfer on %s", from.AccountPath())
	}
	if from.AssetID != to.AssetID {
		return fmt.Errorf("transfer %s -> %s crosses assets", from.AccountPath(), to.AccountPath())
	}

	toBal, err := shift(ts.Balance(to), amount)
	if err != nil {
		return fmt.Errorf("%s: %w", to.AccountPath(), err)
	}
	fromBal, err := shift(ts.Balance(from), -amount)
	if err != nil {
		return fmt.Errorf("%s: %w", from.AccountPath(), err)
	}

	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], uint64(len(ts.batch.Journals)))

	ts.batch.Journals = append(ts.batch.Journals, Journal{
		JournalID:     uuid.NewSHA1(ts.batch.BatchID, idx[:]),
		BatchID:       ts.batch.BatchID,
		EventRef:      ts.batch.EventRef,
		Sequence:      ts.batch.Sequence,
		DebitAccount:  to,
		CreditAccount: from,
		AssetID:       from.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     ts.batch.Timestamp,
	})
	ts.projected[to] = toBal
	ts.projected[from] = fromBal
	return nil
}

// Batch returns the accumulated journals.
func (ts *TransferSet) Batch() *Batch {
	return ts.batch
}

// Len returns the number of journals accumulated so far.
func (ts *TransferSet) Len() int {
	return len(ts.batch.Journals)
}
