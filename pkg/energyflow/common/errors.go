package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrBusy is returned when a forecast is triggered while another one is outstanding.
var ErrBusy = errors.New("a forecast request is already in progress")

// ErrSubmitInProgress is returned when a manual prediction is submitted while
// the previous one is still being calculated.
var ErrSubmitInProgress = errors.New("a prediction is already being calculated")

// ErrModelNotReady is wrapped by model-info lookups when the API reports no loaded model.
var ErrModelNotReady = errors.New("model not loaded")

// TransportError reports that the API could not be reached or its response
// could not be read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx answer from the prediction API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// NewAPIError builds an APIError, falling back to a message keyed by status
// when the response body carried none.
func NewAPIError(status int, message string) *APIError {
	if message == "" {
		message = StatusMessage(status)
	}
	return &APIError{Status: status, Message: message}
}

// StatusMessage is the templated message used for error bodies without detail.
func StatusMessage(status int) string {
	switch {
	case status == http.StatusNotFound:
		return fmt.Sprintf("endpoint not found (%d)", status)
	case status == http.StatusServiceUnavailable:
		return fmt.Sprintf("model is not ready, train it first (%d)", status)
	case status == http.StatusTooManyRequests:
		return fmt.Sprintf("rate limit exceeded (%d)", status)
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return fmt.Sprintf("request rejected by the API (%d)", status)
	case status >= 500:
		return fmt.Sprintf("prediction server error (%d)", status)
	default:
		return fmt.Sprintf("unexpected API response (%d)", status)
	}
}

// ValidationError is raised client-side before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DataIntegrityError means a response was decoded but cannot be displayed.
type DataIntegrityError struct {
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return "invalid forecast data: " + e.Reason
}

// ValidateForecastHours checks the requested horizon against the API bounds.
func ValidateForecastHours(hours int) error {
	if hours < MinForecastHours {
		return &ValidationError{Field: "hours_ahead", Message: fmt.Sprintf("must be at least %d", MinForecastHours)}
	}
	if hours > MaxForecastHours {
		return &ValidationError{Field: "hours_ahead", Message: fmt.Sprintf("cannot exceed %d (7 days)", MaxForecastHours)}
	}
	return nil
}

// UserMessage turns any failure into a single end-user sentence.
func UserMessage(err error) string {
	var (
		validationErr *ValidationError
		apiErr        *APIError
		integrityErr  *DataIntegrityError
		transportErr  *TransportError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "A forecast is already in progress, please wait."
	case errors.Is(err, ErrSubmitInProgress):
		return "A prediction is already being calculated, please wait."
	case errors.Is(err, context.DeadlineExceeded):
		return "The prediction API took too long to answer. Please try again."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.As(err, &validationErr):
		return "Invalid input: " + validationErr.Error()
	case errors.Is(err, ErrModelNotReady):
		return "The model is not loaded yet. Train it and try again."
	case errors.As(err, &apiErr):
		return "Error: " + apiErr.Message
	case errors.As(err, &integrityErr):
		return "The API returned data that cannot be displayed (" + integrityErr.Reason + ")."
	case errors.As(err, &transportErr):
		return "Could not reach the prediction API. Check that it is running."
	default:
		return "Something went wrong. Please try again."
	}
}
