package domain

import (
	"fmt"
	"strings"
	"time"
)

type TransactionType string

const (
	TransactionTypeIn       TransactionType = "IN"
	TransactionTypeOut      TransactionType = "OUT"
	TransactionTypeTransfer TransactionType = "TRANSFER"
)

func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Reason: fmt.Sprintf("unrecognized transaction type %q", s)}
	}
	return t, nil
}

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeIn, TransactionTypeOut, TransactionTypeTransfer:
		return true
	default:
		return false
	}
}

// StockDelta returns the signed change a transaction of this type applies
// to a product's stock. TRANSFER moves goods between locations of the same
// product and leaves the aggregate stock unchanged.
func (t TransactionType) StockDelta(quantity int64) (int64, error) {
	switch t {
	case TransactionTypeIn:
		return quantity, nil
	case TransactionTypeOut:
		return -quantity, nil
	case TransactionTypeTransfer:
		return 0, nil
	default:
		return 0, fmt.Errorf("stock delta: unknown transaction type %q", string(t))
	}
}

type SyncState string

const (
	SyncStatePending SyncState = "PENDING"
	SyncStateSynced  SyncState = "SYNCED"
)

func ParseSyncState(s string) (SyncState, error) {
	st := SyncState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", &ValidationError{Field: "state", Reason: fmt.Sprintf("unrecognized sync state %q", s)}
	}
	return st, nil
}

func (s SyncState) Valid() bool {
	switch s {
	case SyncStatePending, SyncStateSynced:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the one-way PENDING -> SYNCED lifecycle.
func (s SyncState) CanTransitionTo(next SyncState) bool {
	switch s {
	case SyncStatePending:
		return next == SyncStateSynced
	case SyncStateSynced:
		return false
	default:
		return false
	}
}

type Transaction struct {
	ID          string          `db:"id" json:"id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	Type        TransactionType `db:"type" json:"type"`
	Description string          `db:"description" json:"description"`
	User        string          `db:"user_name" json:"user"`
	Timestamp   time.Time       `db:"created_at" json:"timestamp"`
	LedgerHash  *string         `db:"ledger_hash" json:"ledger_hash,omitempty"`
	SyncState   SyncState       `db:"sync_state" json:"sync_state"`
}

func (t Transaction) Synced() bool {
	return t.SyncState == SyncStateSynced
}

type TransactionFilter struct {
	ProductID string
	Type      TransactionType
	User      string
	State     SyncState
	From      time.Time
	To        time.Time
	Limit     int
}

type TransactionStats struct {
	Total    int64 `db:"total" json:"total"`
	Pending  int64 `db:"pending" json:"pending"`
	Synced   int64 `db:"synced" json:"synced"`
	In       int64 `db:"in_count" json:"in"`
	Out      int64 `db:"out_count" json:"out"`
	Transfer int64 `db:"transfer_count" json:"transfer"`
}
