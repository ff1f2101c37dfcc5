package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pawtrait/pawtrait-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

const uniqueViolation = "23505"

// Repository owns the credit_balances and credit_transactions tables.
// Every balance mutation is one conditional UPDATE plus one INSERT in the same transaction.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the pool so callers can open a transaction spanning other tables.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

func (r *Repository) ensureBalance(ctx context.Context, q sqlx.ExecerContext, userID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO credit_balances (id, user_id, balance, total_earned, total_spent)
		VALUES ($1, $2, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID)
	if err != nil {
		return fmt.Errorf("%w: ensure balance: %v", ErrInternal, err)
	}
	return nil
}

// GetBalance returns the account, creating a zero account on first access.
func (r *Repository) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := r.ensureBalance(ctx2, r.db, userID); err != nil {
		return nil, err
	}

	var b Balance
	err := r.db.GetContext(ctx2, &b, `
		SELECT id, user_id, balance, total_earned, total_spent, created_at, updated_at
		FROM credit_balances
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: get balance: %v", ErrInternal, err)
	}
	return &b, nil
}

// Use debits entry.Amount if and only if the balance covers it.
// ok is false, with nothing written, when the balance is insufficient.
func (r *Repository) Use(ctx context.Context, entry Entry) (balance int, ok bool, err error) {
	if entry.Amount <= 0 {
		return 0, false, ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err = database.WithTx(ctx2, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx2, &balance, `
			UPDATE credit_balances
			SET balance = balance - $2,
			    total_spent = total_spent + $2,
			    updated_at = NOW()
			WHERE user_id = $1 AND balance >= $2
			RETURNING balance
		`, entry.UserID, entry.Amount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: debit balance: %v", ErrInternal, err)
		}

		ok = true
		return r.insertTransaction(ctx2, tx, entry.UserID, -entry.Amount, balance, TxTypeUsage, entry)
	})
	if err != nil {
		return 0, false, err
	}
	return balance, ok, nil
}

// Add grants credits in its own transaction.
func (r *Repository) Add(ctx context.Context, entry Entry) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int
	err := database.WithTx(ctx2, r.db, func(tx *sqlx.Tx) error {
		var err error
		balance, err = r.AddTx(ctx2, tx, entry)
		return err
	})
	return balance, err
}

// AddTx grants credits inside a caller-owned transaction. It does not commit.
func (r *Repository) AddTx(ctx context.Context, tx *sqlx.Tx, entry Entry) (int, error) {
	if entry.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if entry.Type != TxTypePurchase && entry.Type != TxTypeBonus {
		return 0, ErrInvalidType
	}

	if err := r.ensureBalance(ctx, tx, entry.UserID); err != nil {
		return 0, err
	}

	var balance int
	err := tx.GetContext(ctx, &balance, `
		UPDATE credit_balances
		SET balance = balance + $2,
		    total_earned = total_earned + $2,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING balance
	`, entry.UserID, entry.Amount)
	if err != nil {
		return 0, fmt.Errorf("%w: credit balance: %v", ErrInternal, err)
	}

	if err := r.insertTransaction(ctx, tx, entry.UserID, entry.Amount, balance, entry.Type, entry); err != nil {
		return 0, err
	}
	return balance, nil
}

// Refund grants back a prior usage. The amount is added to earnings so both
// lifetime totals stay monotonic. At most one refund per reference.
func (r *Repository) Refund(ctx context.Context, entry Entry) (int, error) {
	if entry.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if entry.ReferenceID == "" {
		return 0, fmt.Errorf("%w: refund requires a reference", ErrInvalidType)
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var balance int
	err := database.WithTx(ctx2, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx2, &balance, `
			UPDATE credit_balances
			SET balance = balance + $2,
			    total_earned = total_earned + $2,
			    updated_at = NOW()
			WHERE user_id = $1
			RETURNING balance
		`, entry.UserID, entry.Amount)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: no credit account to refund", ErrInvalidAmount)
		}
		if err != nil {
			return fmt.Errorf("%w: refund balance: %v", ErrInternal, err)
		}
		return r.insertTransaction(ctx2, tx, entry.UserID, entry.Amount, balance, TxTypeRefund, entry)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ListTransactions returns the newest transactions first.
func (r *Repository) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, user_id, type, amount, balance_after, description, reference_id, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", ErrInternal, err)
	}
	return transactions, nil
}

func (r *Repository) insertTransaction(ctx context.Context, tx *sqlx.Tx, userID string, amount, balanceAfter int, txType TxType, entry Entry) error {
	description := strings.TrimSpace(entry.Description)
	if description == "" {
		description = "credit balance adjustment"
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, description, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), userID, txType, amount, balanceAfter, description, entry.reference())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrAlreadyRefunded
		}
		return fmt.Errorf("%w: insert transaction: %v", ErrInternal, err)
	}
	return nil
}
