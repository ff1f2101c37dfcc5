package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

const paymentColumns = `id, user_id, stripe_session_id, stripe_payment_intent_id, amount, currency,
	status, credits_granted, description, created_at, updated_at, completed_at`

// Repository owns the payments table.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates payment repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// Create inserts a pending payment.
func (r *Repository) Create(ctx context.Context, p *Payment) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}

	err := r.db.GetContext(ctx2, p, `
		INSERT INTO payments (id, user_id, stripe_session_id, amount, currency, status, credits_granted, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+paymentColumns,
		p.ID, p.UserID, p.StripeSessionID, p.Amount, p.Currency, p.Status, p.CreditsGranted, p.Description,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetBySessionID returns nil, nil when no payment exists for the session.
func (r *Repository) GetBySessionID(ctx context.Context, sessionID string) (*Payment, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p Payment
	err := r.db.GetContext(ctx2, &p, `SELECT `+paymentColumns+` FROM payments WHERE stripe_session_id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

// ListByUser returns the newest payments first.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]Payment, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	payments := make([]Payment, 0)
	err := r.db.SelectContext(ctx2, &payments, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// CompleteTx moves a pending or failed payment to completed. completed is false
// when no row changed: the session is unknown or already settled.
func (r *Repository) CompleteTx(ctx context.Context, tx *sqlx.Tx, sessionID, paymentIntentID string) (p *Payment, completed bool, err error) {
	var out Payment
	err = tx.GetContext(ctx, &out, `
		UPDATE payments
		SET status = 'completed',
		    stripe_payment_intent_id = NULLIF($2, ''),
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE stripe_session_id = $1 AND status IN ('pending', 'failed')
		RETURNING `+paymentColumns,
		sessionID, paymentIntentID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("complete payment: %w", err)
	}
	return &out, true, nil
}

// InsertCompletedTx records a completed payment for a session that has no
// local row. inserted is false when a concurrent delivery already created it.
func (r *Repository) InsertCompletedTx(ctx context.Context, tx *sqlx.Tx, p *Payment) (inserted bool, err error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, stripe_session_id, stripe_payment_intent_id, amount, currency,
		                      status, credits_granted, description, completed_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, 'completed', $7, $8, NOW())
		ON CONFLICT (stripe_session_id) DO NOTHING
	`, uuid.NewString(), p.UserID, p.StripeSessionID, p.StripePaymentIntentID.String, p.Amount, p.Currency,
		p.CreditsGranted, p.Description)
	if err != nil {
		return false, fmt.Errorf("insert completed payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkFailed moves a pending payment to failed. Non-pending rows are left alone.
func (r *Repository) MarkFailed(ctx context.Context, sessionID string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE payments SET status = 'failed', updated_at = NOW()
		WHERE stripe_session_id = $1 AND status = 'pending'
	`, sessionID)
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
