package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS credit_balances (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL UNIQUE,
    balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    total_earned INTEGER NOT NULL DEFAULT 0 CHECK (total_earned >= 0),
    total_spent INTEGER NOT NULL DEFAULT 0 CHECK (total_spent >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT credit_balances_conservation CHECK (balance = total_earned - total_spent)
);

CREATE TABLE IF NOT EXISTS credit_transactions (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL CHECK (type IN ('purchase', 'usage', 'refund', 'bonus')),
    amount INTEGER NOT NULL,
    balance_after INTEGER NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    reference_id TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_created
    ON credit_transactions (user_id, created_at DESC);

CREATE UNIQUE INDEX IF NOT EXISTS uniq_credit_transactions_refund_ref
    ON credit_transactions (reference_id) WHERE type = 'refund';

CREATE TABLE IF NOT EXISTS payments (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    stripe_session_id TEXT NOT NULL UNIQUE,
    stripe_payment_intent_id TEXT,
    amount INTEGER NOT NULL,
    currency TEXT NOT NULL DEFAULT 'usd',
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'failed', 'refunded')),
    credits_granted INTEGER NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_payments_user_created
    ON payments (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS generation_tasks (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    kie_task_id TEXT UNIQUE,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processing', 'success', 'failed')),
    style TEXT NOT NULL,
    prompt TEXT NOT NULL,
    original_image_url TEXT NOT NULL,
    result_image_url TEXT,
    kie_result_url TEXT,
    credits_used INTEGER NOT NULL DEFAULT 20,
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    CONSTRAINT generation_tasks_completed_at CHECK (
        (status IN ('success', 'failed')) = (completed_at IS NOT NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_generation_tasks_user_created
    ON generation_tasks (user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_generation_tasks_open
    ON generation_tasks (created_at) WHERE status IN ('pending', 'processing');
`

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
