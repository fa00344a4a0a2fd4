package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeFund JournalType = iota
	JournalTypeReserve
	JournalTypeRefund
	JournalTypeBidDeposit
	JournalTypeCommitDeposit
	JournalTypeOutbidRefund
	JournalTypeExcessRefund
	JournalTypeT0Creator
	JournalTypeT0Fee
	JournalTypeT1Creator
	JournalTypeT1Fee
	JournalTypeT1Withhold
	JournalTypeDisputeCreator
	JournalTypeDisputeBuyer
	JournalTypeTip
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeFund:
		return "fund"
	case JournalTypeReserve:
		return "reserve"
	case JournalTypeRefund:
		return "refund"
	case JournalTypeBidDeposit:
		return "bid_deposit"
	case JournalTypeCommitDeposit:
		return "commit_deposit"
	case JournalTypeOutbidRefund:
		return "outbid_refund"
	case JournalTypeExcessRefund:
		return "excess_refund"
	case JournalTypeT0Creator:
		return "t0_creator"
	case JournalTypeT0Fee:
		return "t0_fee"
	case JournalTypeT1Creator:
		return "t1_creator"
	case JournalTypeT1Fee:
		return "t1_fee"
	case JournalTypeT1Withhold:
		return "t1_withhold"
	case JournalTypeDisputeCreator:
		return "dispute_creator"
	case JournalTypeDisputeBuyer:
		return "dispute_buyer"
	case JournalTypeTip:
		return "tip"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Derived from the batch id and position
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source operation
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Minor units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Operation timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

var batchNamespace = uuid.MustParse("6f1d5b8e-3c0a-4e55-9a2f-0c3b7d9e4a10")

// BatchIDFor derives a stable batch id from the operation reference.
func BatchIDFor(eventRef string) uuid.UUID {
	return uuid.NewSHA1(batchNamespace, []byte(eventRef))
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from its credit account to its debit account, so every entry is
// balanced on its own. Operations that move no value produce an empty batch.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s crosses assets", j.JournalID)
		}
	}

	return nil
}
