package generation

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pawtrait/pawtrait-api/internal/middleware"
	"github.com/pawtrait/pawtrait-api/internal/pkg/errorhandler"
	"github.com/pawtrait/pawtrait-api/internal/pkg/kie"
	"github.com/pawtrait/pawtrait-api/internal/pkg/response"
	"github.com/pawtrait/pawtrait-api/internal/pkg/validator"
)

const maxCallbackBody = 1 << 20

// Handler handles generation HTTP requests
type Handler struct {
	service       *Service
	callbackToken string
}

func NewHandler(service *Service, callbackToken string) *Handler {
	return &Handler{service: service, callbackToken: callbackToken}
}

type GenerateRequest struct {
	ImageURL string `json:"imageUrl" validate:"required,http_url"`
	Prompt   string `json:"prompt" validate:"required,notblank,max=4000"`
	Style    string `json:"style" validate:"required,notblank,max=100"`
}

// Generate handles POST /generate
// @Summary Start a portrait generation
// @Tags Generation
// @Security BearerAuth
// @Success 200 {object} response.Response{data=GenerateResult}
// @Failure 400 {object} response.Response
// @Failure 402 {object} response.Response{data=InsufficientCreditsError}
// @Router /generate [post]
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req GenerateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	out, err := h.service.Generate(r.Context(), GenerateInput{
		UserID:   userID,
		ImageURL: req.ImageURL,
		Prompt:   req.Prompt,
		Style:    req.Style,
	})
	if err != nil {
		var insufficient *InsufficientCreditsError
		switch {
		case errors.As(err, &insufficient):
			response.PaymentRequired(w, "Insufficient credits", insufficient)
		case errors.Is(err, ErrProviderNotConfigured):
			errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "SERVICE_MISCONFIGURED",
				"Service configuration error. Please contact support.", err)
		case errors.Is(err, ErrProviderSubmit):
			errorhandler.HandleError(r.Context(), w, http.StatusBadGateway, "UPSTREAM_ERROR",
				"Failed to start generation. Your credits have been refunded.", err)
		default:
			errorhandler.Internal(r.Context(), w, "generate failed", err)
		}
		return
	}

	response.OK(w, out)
}

// Status handles GET /tasks/{taskId}/status
// @Summary Get generation status
// @Tags Generation
// @Security BearerAuth
// @Param taskId path string true "Task ID"
// @Success 200 {object} response.Response{data=StatusResponse}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /tasks/{taskId}/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	taskID := chi.URLParam(r, "taskId")

	task, err := h.service.GetStatus(r.Context(), userID, taskID)
	if err != nil {
		switch {
		case errors.Is(err, ErrTaskNotFound):
			response.NotFound(w, "Task not found")
		case errors.Is(err, ErrForbidden):
			response.Forbidden(w, "Access denied")
		default:
			errorhandler.Internal(r.Context(), w, "task status failed", err)
		}
		return
	}

	response.OK(w, StatusResponseFromTask(task))
}

// Creations handles GET /creations
// @Summary List the caller's generations, newest first
// @Tags Generation
// @Security BearerAuth
// @Router /creations [get]
func (h *Handler) Creations(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.ListCreations(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.Internal(r.Context(), w, "list creations failed", err)
		return
	}

	items := make([]CreationResponse, len(tasks))
	for i := range tasks {
		items[i] = CreationResponseFromTask(&tasks[i])
	}

	response.OK(w, map[string]interface{}{"creations": items})
}

// Callback handles POST /callback from the generation provider.
// @Summary Provider job-completion callback
// @Tags Generation Webhooks
// @Router /callback [post]
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.callbackToken != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.callbackToken)) != 1 {
			response.Unauthorized(w, "Invalid callback token")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		response.BadRequest(w, "Invalid body")
		return
	}

	cb, err := kie.ParseCallback(body)
	if err != nil {
		log.Warn().Err(err).Msg("malformed generation callback")
		response.BadRequest(w, "Invalid callback data")
		return
	}
	if cb.Code != http.StatusOK {
		log.Warn().Int("code", cb.Code).Str("msg", cb.Msg).Str("kie_task_id", cb.Status.TaskID).Msg("generation callback reported an error")
		response.BadRequest(w, "Invalid callback data")
		return
	}

	if err := h.service.HandleCallback(r.Context(), cb); err != nil {
		errorhandler.Internal(r.Context(), w, "generation callback processing failed", err)
		return
	}

	response.OK(w, map[string]bool{"received": true})
}

// Routes mounts the generation endpoints. The callback is unauthenticated.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/callback", h.Callback)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/generate", h.Generate)
		r.Get("/tasks/{taskId}/status", h.Status)
		r.Get("/creations", h.Creations)
	})

	return r
}
