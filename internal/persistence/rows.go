package persistence

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"TimeMarket/internal/core"
)

// EventRow is one row of event_log.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Partition      string
	Payload        []byte // operation in its JSON wire form
	Records        []byte // []event.Record as JSON
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

func (r EventRow) values() []any {
	return []any{
		r.Sequence, r.EventType, r.IdempotencyKey, r.Partition, r.Payload,
		r.Records, r.StateHash, r.PrevHash, r.Timestamp, r.SourceSequence,
	}
}

// JournalRow is one row of event_log.journal. Accounts are stored by path.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   string
	Timestamp     int64
}

func (r JournalRow) values() []any {
	return []any{
		r.JournalID, r.BatchID, r.EventRef, r.Sequence, r.DebitAccount,
		r.CreditAccount, int32(r.AssetID), r.Amount, r.JournalType, r.Timestamp,
	}
}

var (
	eventInsert = bulkInsert{
		table:    "event_log.events",
		columns:  []string{"sequence", "event_type", "idempotency_key", "partition_key", "payload", "records", "state_hash", "prev_hash", "timestamp", "source_sequence"},
		conflict: "(sequence)",
	}
	journalInsert = bulkInsert{
		table:    "event_log.journal",
		columns:  []string{"journal_id", "batch_id", "event_ref", "sequence", "debit_account", "credit_account", "asset_id", "amount", "journal_type", "timestamp"},
		conflict: "(journal_id)",
	}
)

// RowsFromOutput flattens one core output into its event and journal rows.
func RowsFromOutput(out core.CoreOutput) (EventRow, []JournalRow, error) {
	env := out.Envelope
	records, err := json.Marshal(env.Records)
	if err != nil {
		return EventRow{}, nil, fmt.Errorf("seq %d: encode records: %w", env.Sequence, err)
	}
	ev := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		Payload:        env.Payload,
		Records:        records,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      time.UnixMicro(env.Timestamp).UTC(),
		SourceSequence: env.SourceSequence,
	}
	if out.Batch == nil {
		return ev, nil, nil
	}

	journals := make([]JournalRow, len(out.Batch.Journals))
	for i, j := range out.Batch.Journals {
		journals[i] = JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint16(j.AssetID),
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		}
	}
	return ev, journals, nil
}

// bulkInsert renders multi-row INSERT ... ON CONFLICT DO NOTHING statements.
// Rows already present are skipped, so a retried batch is harmless.
type bulkInsert struct {
	table    string
	columns  []string
	conflict string
}

// maxParams stays under the Postgres bind parameter limit of 65535.
const maxParams = 65000

// statements splits rows into as few statements as the parameter limit
// allows and returns each query with its arguments.
func (b bulkInsert) statements(rows [][]any) (queries []string, args [][]any) {
	perStmt := max(1, maxParams/len(b.columns))
	for len(rows) > 0 {
		n := min(perStmt, len(rows))
		q, a := b.render(rows[:n])
		queries = append(queries, q)
		args = append(args, a)
		rows = rows[n:]
	}
	return queries, args
}

func (b bulkInsert) render(rows [][]any) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(b.columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(b.columns))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range row {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(len(args) + 1))
			args = append(args, row[c])
		}
		sb.WriteByte(')')
	}
	sb.WriteString(" ON CONFLICT ")
	sb.WriteString(b.conflict)
	sb.WriteString(" DO NOTHING")
	return sb.String(), args
}
