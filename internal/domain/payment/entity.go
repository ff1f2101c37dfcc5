package payment

import (
	"database/sql"
	"time"
)

// Status represents payment status
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Payment is one checkout session. It reaches completed at most once.
type Payment struct {
	ID                    string         `db:"id" json:"id"`
	UserID                string         `db:"user_id" json:"-"`
	StripeSessionID       string         `db:"stripe_session_id" json:"stripeSessionId"`
	StripePaymentIntentID sql.NullString `db:"stripe_payment_intent_id" json:"-"`
	Amount                int            `db:"amount" json:"amount"`
	Currency              string         `db:"currency" json:"currency"`
	Status                Status         `db:"status" json:"status"`
	CreditsGranted        int            `db:"credits_granted" json:"creditsGranted"`
	Description           string         `db:"description" json:"description"`
	CreatedAt             time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time      `db:"updated_at" json:"-"`
	CompletedAt           *time.Time     `db:"completed_at" json:"completedAt,omitempty"`
}

// Pack is the single purchasable credit bundle.
type Pack struct {
	PriceID     string
	Name        string
	Credits     int
	AmountCents int
	Currency    string
}

// Metadata keys attached to checkout sessions.
const (
	MetadataUserID  = "userId"
	MetadataCredits = "credits"
)
