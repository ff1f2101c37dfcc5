package credit

import "time"

// TxType defines supported credit transaction types.
type TxType string

const (
	TxTypePurchase TxType = "purchase"
	TxTypeUsage    TxType = "usage"
	TxTypeRefund   TxType = "refund"
	TxTypeBonus    TxType = "bonus"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxTypePurchase, TxTypeUsage, TxTypeRefund, TxTypeBonus:
		return true
	}
	return false
}

// Balance is the per-user credit account.
// Balance always equals TotalEarned - TotalSpent.
type Balance struct {
	ID          string    `db:"id" json:"-"`
	UserID      string    `db:"user_id" json:"-"`
	Balance     int       `db:"balance" json:"balance"`
	TotalEarned int       `db:"total_earned" json:"totalEarned"`
	TotalSpent  int       `db:"total_spent" json:"totalSpent"`
	CreatedAt   time.Time `db:"created_at" json:"-"`
	UpdatedAt   time.Time `db:"updated_at" json:"-"`
}

// Transaction is an immutable ledger row.
type Transaction struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"-"`
	Type         TxType    `db:"type" json:"type"`
	Amount       int       `db:"amount" json:"amount"`
	BalanceAfter int       `db:"balance_after" json:"balanceAfter"`
	Description  string    `db:"description" json:"description"`
	ReferenceID  *string   `db:"reference_id" json:"referenceId,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Entry describes a ledger mutation.
type Entry struct {
	UserID      string
	Amount      int
	Type        TxType
	Description string
	ReferenceID string
}

func (e Entry) reference() *string {
	if e.ReferenceID == "" {
		return nil
	}
	ref := e.ReferenceID
	return &ref
}
