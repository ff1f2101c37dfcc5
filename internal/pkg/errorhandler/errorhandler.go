package errorhandler

import (
	"context"
	"net/http"

	"github.com/pawtrait/pawtrait-api/internal/pkg/logger"
	"github.com/pawtrait/pawtrait-api/internal/pkg/response"
)

// HandleError logs err with the request context and answers with a curated
// message. The underlying error is never written to the client.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	event := logger.FromContext(ctx).Error().
		Str("error_code", code).
		Int("status_code", status)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(message)

	response.Error(w, status, code, message)
}

// Internal logs err and answers with the generic 500 payload.
func Internal(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	logger.LogError(ctx, err, msg)
	response.InternalError(w)
}

// LogExternalServiceError logs errors from external service calls
func LogExternalServiceError(ctx context.Context, service string, endpoint string, statusCode int, err error, body string) {
	event := logger.FromContext(ctx).Error().
		Str("external_service", service).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Str("response_body", truncateString(body, 1000))
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("External service error")
}

func truncateString(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "...<truncated>"
	}
	return s
}
