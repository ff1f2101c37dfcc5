package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pawtrait/pawtrait-api/internal/middleware"
	"github.com/pawtrait/pawtrait-api/internal/pkg/errorhandler"
	"github.com/pawtrait/pawtrait-api/internal/pkg/response"
	"github.com/pawtrait/pawtrait-api/internal/pkg/stripecheckout"
	"github.com/pawtrait/pawtrait-api/internal/pkg/validator"
)

const maxWebhookBody = 65536

// Handler handles payment HTTP requests
type Handler struct {
	service        *Service
	baseURL        string
	publishableKey string
}

func NewHandler(service *Service, baseURL, publishableKey string) *Handler {
	return &Handler{service: service, baseURL: baseURL, publishableKey: publishableKey}
}

type CheckoutRequest struct {
	PriceID string `json:"priceId" validate:"required"`
}

// Checkout handles POST /checkout
// @Summary Create a checkout session for the credit pack
// @Tags Payment
// @Security BearerAuth
// @Success 200 {object} response.Response{data=CheckoutResult}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /checkout [post]
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req CheckoutRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.BadRequest(w, "Invalid price ID")
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = h.baseURL
	}

	out, err := h.service.CreateCheckoutSession(r.Context(), userID, middleware.GetEmail(r.Context()), req.PriceID, origin)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPrice):
			response.BadRequest(w, "Invalid price ID")
		case errors.Is(err, stripecheckout.ErrNotConfigured):
			errorhandler.Internal(r.Context(), w, "checkout requested but stripe is not configured", err)
		default:
			errorhandler.Internal(r.Context(), w, "create checkout session failed", err)
		}
		return
	}

	response.OK(w, out)
}

// Webhook handles POST /webhook. The raw body is required for signature verification.
// @Summary Stripe webhook
// @Tags Payment Webhooks
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /webhook [post]
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Invalid body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		response.BadRequest(w, "No signature")
		return
	}

	if err := h.service.HandleWebhook(r.Context(), payload, signature); err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			log.Warn().Err(err).Msg("stripe webhook rejected")
			response.BadRequest(w, "Invalid signature")
			return
		}
		if errors.Is(err, ErrInvalidMetadata) {
			// redelivery cannot fix a session created without our metadata
			log.Error().Err(err).Msg("stripe webhook acknowledged without fulfilment")
			response.OK(w, map[string]bool{"received": true})
			return
		}
		errorhandler.Internal(r.Context(), w, "stripe webhook processing failed", err)
		return
	}

	response.OK(w, map[string]bool{"received": true})
}

// PublicConfig handles GET /config
func (h *Handler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"stripePublishableKey": h.publishableKey,
		"priceId":              h.service.Pack().PriceID,
	})
}

// Routes mounts the authenticated checkout endpoint.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.With(authMiddleware).Post("/", h.Checkout)
	return r
}
