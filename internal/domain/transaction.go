package domain

import "time"

// TxStatus is the reconciliation state of a tracked transaction.
type TxStatus string

const (
	StatusIndexed TxStatus = "indexed"
	StatusFetched TxStatus = "fetched"
	StatusFailed  TxStatus = "failed"
)

// String returns the string representation of TxStatus.
func (s TxStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value.
func (s TxStatus) IsValid() bool {
	return s == StatusIndexed || s == StatusFetched || s == StatusFailed
}

// Direction is the side of a transfer seen from one token account.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// TrackedTransaction is one on-chain signature observed for a tracked mint.
// Corresponds to token_transactions table in PostgreSQL.
type TrackedTransaction struct {
	ID               int64
	Signature        string // unique, immutable
	Mint             string
	Slot             int64
	BlockTime        *int64 // Unix seconds, nil until known
	Status           TxStatus
	Amount           *int64 // smallest units, absolute value
	Decimals         *int
	Direction        *Direction
	FromAddress      *string // owner addresses, best effort
	ToAddress        *string
	FromTokenAccount *string
	ToTokenAccount   *string
	Error            *string // set only when failed
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transfer is the result of parsing one transaction for one mint.
type Transfer struct {
	Signature           string
	Slot                int64
	BlockTime           *int64
	Mint                string
	Amount              int64 // smallest units
	Decimals            int
	Direction           Direction
	From                string
	To                  string
	FromTokenAccount    string
	ToTokenAccount      string
	TrackedTokenAccount string // empty in global mode
}

// ApplyTransfer copies parsed transfer fields onto the row.
// Empty address fields are stored as nil.
func (tx *TrackedTransaction) ApplyTransfer(t *Transfer) {
	amount := t.Amount
	decimals := t.Decimals
	direction := t.Direction
	tx.Amount = &amount
	tx.Decimals = &decimals
	tx.Direction = &direction
	if t.BlockTime != nil {
		bt := *t.BlockTime
		tx.BlockTime = &bt
	}
	if t.Slot != 0 {
		tx.Slot = t.Slot
	}
	tx.FromAddress = optionalString(t.From)
	tx.ToAddress = optionalString(t.To)
	tx.FromTokenAccount = optionalString(t.FromTokenAccount)
	tx.ToTokenAccount = optionalString(t.ToTokenAccount)
	tx.Error = nil
}

// Clone returns a deep copy of the row.
func (tx *TrackedTransaction) Clone() *TrackedTransaction {
	c := *tx
	c.BlockTime = clonePtr(tx.BlockTime)
	c.Amount = clonePtr(tx.Amount)
	c.Decimals = clonePtr(tx.Decimals)
	c.Direction = clonePtr(tx.Direction)
	c.FromAddress = clonePtr(tx.FromAddress)
	c.ToAddress = clonePtr(tx.ToAddress)
	c.FromTokenAccount = clonePtr(tx.FromTokenAccount)
	c.ToTokenAccount = clonePtr(tx.ToTokenAccount)
	c.Error = clonePtr(tx.Error)
	return &c
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
