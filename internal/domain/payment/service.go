package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/pawtrait/pawtrait-api/internal/domain/credit"
	"github.com/pawtrait/pawtrait-api/internal/pkg/database"
	"github.com/pawtrait/pawtrait-api/internal/pkg/stripecheckout"
)

// CheckoutProvider creates hosted checkout sessions and authenticates webhook events.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, req stripecheckout.SessionRequest) (*stripecheckout.Session, error)
	ParseEvent(payload []byte, signatureHeader string) (*stripecheckout.Event, error)
}

// CreditGranter credits a user inside the webhook transaction.
type CreditGranter interface {
	AddCreditsTx(ctx context.Context, tx *sqlx.Tx, userID string, amount int, txType credit.TxType, description, referenceID string) error
}

// Service orchestrates checkout creation and webhook fulfilment.
type Service struct {
	repo     *Repository
	credits  CreditGranter
	checkout CheckoutProvider
	pack     Pack
}

func NewService(repo *Repository, credits CreditGranter, checkout CheckoutProvider, pack Pack) *Service {
	return &Service{repo: repo, credits: credits, checkout: checkout, pack: pack}
}

// Pack returns the configured credit bundle.
func (s *Service) Pack() Pack {
	return s.pack
}

// CheckoutResult is returned to the client to redirect to the hosted page.
type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckoutSession creates a checkout session for the configured pack and
// records a pending payment keyed by the session id.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, email, priceID, origin string) (*CheckoutResult, error) {
	if priceID == "" || priceID != s.pack.PriceID {
		return nil, ErrInvalidPrice
	}
	origin = strings.TrimRight(origin, "/")

	sess, err := s.checkout.CreateSession(ctx, stripecheckout.SessionRequest{
		PriceID:       priceID,
		CustomerEmail: email,
		SuccessURL:    origin + "/billing?success=true&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     origin + "/pricing?canceled=true",
		Metadata: map[string]string{
			MetadataUserID:  userID,
			MetadataCredits: strconv.Itoa(s.pack.Credits),
		},
	})
	if err != nil {
		return nil, err
	}

	err = s.repo.Create(ctx, &Payment{
		UserID:          userID,
		StripeSessionID: sess.ID,
		Amount:          s.pack.AmountCents,
		Currency:        s.pack.Currency,
		Status:          StatusPending,
		CreditsGranted:  s.pack.Credits,
		Description:     s.pack.Name,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Str("session_id", sess.ID).
		Int("credits", s.pack.Credits).
		Msg("checkout session created")

	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// HandleWebhook verifies and applies a Stripe event. Redelivery of an already
// applied event is a no-op.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.checkout.ParseEvent(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, stripecheckout.ErrInvalidSignature) {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return err
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if event.Session == nil {
			return fmt.Errorf("%w: event %s has no session", ErrInvalidMetadata, event.ID)
		}
		return s.fulfil(ctx, event.Session)
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		if event.Session == nil {
			return nil
		}
		failed, err := s.repo.MarkFailed(ctx, event.Session.ID)
		if err != nil {
			return err
		}
		log.Info().Str("session_id", event.Session.ID).Bool("changed", failed).Str("event", event.Type).Msg("checkout session failed")
		return nil
	case "charge.refunded":
		log.Warn().Str("event_id", event.ID).Msg("charge refunded; credits must be reconciled manually")
		return nil
	default:
		log.Debug().Str("event_id", event.ID).Str("event", event.Type).Msg("unhandled stripe event")
		return nil
	}
}

func (s *Service) fulfil(ctx context.Context, sess *stripecheckout.CheckoutSession) error {
	if sess.PaymentStatus != "" && sess.PaymentStatus != "paid" && sess.PaymentStatus != "no_payment_required" {
		log.Info().Str("session_id", sess.ID).Str("payment_status", sess.PaymentStatus).Msg("checkout completed without payment, waiting")
		return nil
	}

	var granted *Payment
	err := database.WithTx(ctx, s.repo.DB(), func(tx *sqlx.Tx) error {
		p, completed, err := s.repo.CompleteTx(ctx, tx, sess.ID, sess.PaymentIntentID)
		if err != nil {
			return err
		}

		if !completed {
			existing, err := s.repo.GetBySessionID(ctx, sess.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				// already fulfilled by an earlier delivery
				return nil
			}

			p, err = s.paymentFromMetadata(sess)
			if err != nil {
				return err
			}
			inserted, err := s.repo.InsertCompletedTx(ctx, tx, p)
			if err != nil {
				return err
			}
			if !inserted {
				return nil
			}
		}

		description := fmt.Sprintf("Purchased %d credits", p.CreditsGranted)
		if err := s.credits.AddCreditsTx(ctx, tx, p.UserID, p.CreditsGranted, credit.TxTypePurchase, description, sess.ID); err != nil {
			return err
		}
		granted = p
		return nil
	})
	if err != nil {
		return err
	}

	if granted == nil {
		log.Info().Str("session_id", sess.ID).Msg("checkout session already fulfilled")
		return nil
	}
	log.Info().
		Str("session_id", sess.ID).
		Str("user_id", granted.UserID).
		Int("credits", granted.CreditsGranted).
		Msg("checkout session fulfilled")
	return nil
}

func (s *Service) paymentFromMetadata(sess *stripecheckout.CheckoutSession) (*Payment, error) {
	userID := sess.Metadata[MetadataUserID]
	credits, err := strconv.Atoi(sess.Metadata[MetadataCredits])
	if userID == "" || err != nil || credits <= 0 {
		return nil, ErrInvalidMetadata
	}

	amount := int(sess.AmountTotal)
	if amount == 0 {
		amount = s.pack.AmountCents
	}
	currency := sess.Currency
	if currency == "" {
		currency = s.pack.Currency
	}

	return &Payment{
		UserID:                userID,
		StripeSessionID:       sess.ID,
		StripePaymentIntentID: sql.NullString{String: sess.PaymentIntentID, Valid: sess.PaymentIntentID != ""},
		Amount:                amount,
		Currency:              currency,
		CreditsGranted:        credits,
		Description:           s.pack.Name,
	}, nil
}

// ListPayments returns the newest payments first.
func (s *Service) ListPayments(ctx context.Context, userID string, limit int) ([]Payment, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}
