package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
)

type apiError struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"status":  "success",
		"message": message,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:    "error",
		Code:      code,
		Message:   message,
		RequestID: requestIDFromContext(r.Context()),
	})
}

// mapError picks the HTTP status and code for a failed action. The message
// is always the end-user sentence, never the raw error chain.
func mapError(err error) (int, string, string) {
	var (
		validationErr *common.ValidationError
		integrityErr  *common.DataIntegrityError
		apiErr        *common.APIError
		transportErr  *common.TransportError
	)
	msg := common.UserMessage(err)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "VALIDATION_ERROR", msg
	case errors.Is(err, common.ErrBusy), errors.Is(err, common.ErrSubmitInProgress):
		return http.StatusConflict, "BUSY", msg
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", msg
	case errors.Is(err, context.Canceled):
		return http.StatusConflict, "CANCELLED", msg
	case errors.Is(err, common.ErrModelNotReady):
		return http.StatusServiceUnavailable, "MODEL_NOT_READY", msg
	case errors.As(err, &integrityErr):
		return http.StatusBadGateway, "INVALID_DATA", msg
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, "API_ERROR", msg
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, "API_UNREACHABLE", msg
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", msg
	}
}
