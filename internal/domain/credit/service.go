package credit

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Service is the credit ledger. It is the only writer of balances.
type Service struct {
	repo *Repository
}

// NewService creates a new credit service
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// GetBalance returns the spendable balance. Unknown users have a zero balance.
func (s *Service) GetBalance(ctx context.Context, userID string) (int, error) {
	b, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return b.Balance, nil
}

// GetBalanceDetails returns the balance with lifetime totals.
func (s *Service) GetBalanceDetails(ctx context.Context, userID string) (*Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

// AddCredits grants a purchase or bonus.
func (s *Service) AddCredits(ctx context.Context, userID string, amount int, txType TxType, description, referenceID string) error {
	balance, err := s.repo.Add(ctx, Entry{
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		ReferenceID: referenceID,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID).
		Int("amount", amount).
		Str("type", string(txType)).
		Int("balance", balance).
		Msg("credits added")
	return nil
}

// AddCreditsTx grants credits inside tx so the grant commits or rolls back with the caller's writes.
func (s *Service) AddCreditsTx(ctx context.Context, tx *sqlx.Tx, userID string, amount int, txType TxType, description, referenceID string) error {
	_, err := s.repo.AddTx(ctx, tx, Entry{
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		ReferenceID: referenceID,
	})
	return err
}

// UseCredits debits amount when the balance covers it. Insufficient balance
// is reported as false, not as an error.
func (s *Service) UseCredits(ctx context.Context, userID string, amount int, description, referenceID string) (bool, error) {
	balance, ok, err := s.repo.Use(ctx, Entry{
		UserID:      userID,
		Amount:      amount,
		Type:        TxTypeUsage,
		Description: description,
		ReferenceID: referenceID,
	})
	if err != nil {
		return false, err
	}
	if !ok {
		log.Debug().Str("user_id", userID).Int("amount", amount).Msg("insufficient credits")
		return false, nil
	}

	log.Info().
		Str("user_id", userID).
		Int("amount", amount).
		Int("balance", balance).
		Str("reference_id", referenceID).
		Msg("credits used")
	return true, nil
}

// Refund returns credits for a usage that produced nothing. Repeated refunds
// for the same reference are ignored.
func (s *Service) Refund(ctx context.Context, userID string, amount int, description, referenceID string) error {
	balance, err := s.repo.Refund(ctx, Entry{
		UserID:      userID,
		Amount:      amount,
		Type:        TxTypeRefund,
		Description: description,
		ReferenceID: referenceID,
	})
	if errors.Is(err, ErrAlreadyRefunded) {
		log.Warn().Str("user_id", userID).Str("reference_id", referenceID).Msg("refund already recorded")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("user_id", userID).
		Int("amount", amount).
		Int("balance", balance).
		Str("reference_id", referenceID).
		Msg("credits refunded")
	return nil
}

// ListTransactions returns the newest transactions first.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, userID, limit)
}
