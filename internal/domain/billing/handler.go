package billing

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pawtrait/pawtrait-api/internal/domain/credit"
	"github.com/pawtrait/pawtrait-api/internal/domain/payment"
	"github.com/pawtrait/pawtrait-api/internal/middleware"
	"github.com/pawtrait/pawtrait-api/internal/pkg/errorhandler"
	"github.com/pawtrait/pawtrait-api/internal/pkg/response"
)

const (
	paymentsLimit     = 50
	transactionsLimit = 100
)

type Ledger interface {
	GetBalanceDetails(ctx context.Context, userID string) (*credit.Balance, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]credit.Transaction, error)
}

type Payments interface {
	ListPayments(ctx context.Context, userID string, limit int) ([]payment.Payment, error)
}

// Overview is the payload of GET /billing.
type Overview struct {
	Credits      *credit.Balance      `json:"credits"`
	Payments     []payment.Payment    `json:"payments"`
	Transactions []credit.Transaction `json:"transactions"`
}

// Handler serves the caller's billing overview.
type Handler struct {
	ledger   Ledger
	payments Payments
}

func NewHandler(ledger Ledger, payments Payments) *Handler {
	return &Handler{ledger: ledger, payments: payments}
}

// Get handles GET /billing
// @Summary Credit balance, payments and ledger history
// @Tags Billing
// @Security BearerAuth
// @Success 200 {object} response.Response{data=Overview}
// @Router /billing [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	balance, err := h.ledger.GetBalanceDetails(ctx, userID)
	if err != nil {
		errorhandler.Internal(ctx, w, "load balance failed", err)
		return
	}
	payments, err := h.payments.ListPayments(ctx, userID, paymentsLimit)
	if err != nil {
		errorhandler.Internal(ctx, w, "load payments failed", err)
		return
	}
	transactions, err := h.ledger.ListTransactions(ctx, userID, transactionsLimit)
	if err != nil {
		errorhandler.Internal(ctx, w, "load transactions failed", err)
		return
	}

	if payments == nil {
		payments = []payment.Payment{}
	}
	if transactions == nil {
		transactions = []credit.Transaction{}
	}

	response.OK(w, Overview{Credits: balance, Payments: payments, Transactions: transactions})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.With(authMiddleware).Get("/", h.Get)
	return r
}
