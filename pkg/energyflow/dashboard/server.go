package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/history"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/metrics"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/orchestrator"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/render"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxBodyBytes        = 64 << 10
)

// Controller is what the dashboard drives.
type Controller interface {
	Snapshot() orchestrator.Snapshot
	RequestForecast(ctx context.Context, hours int) (*render.ForecastView, error)
	RequestManualPrediction(ctx context.Context, req api.ManualPredictionRequest) (*render.ManualView, error)
	CancelForecast() bool
}

// HistoryReader lists recorded outcomes.
type HistoryReader interface {
	Recent(ctx context.Context, kind history.Kind, limit int) ([]history.Record, error)
}

// Handler serves the dashboard page and its JSON endpoints.
type Handler struct {
	ctrl           Controller
	history        HistoryReader
	metricsEnabled bool
}

// Option configures a Handler
type Option func(*Handler)

// WithHistory enables GET /api/history
func WithHistory(h HistoryReader) Option {
	return func(handler *Handler) {
		handler.history = h
	}
}

// WithMetrics exposes /metrics
func WithMetrics(enabled bool) Option {
	return func(handler *Handler) {
		handler.metricsEnabled = enabled
	}
}

func NewHandler(ctrl Controller, opts ...Option) *Handler {
	h := &Handler{ctrl: ctrl}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/", handler.page)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeMessage(w, http.StatusOK, "ok") })
	if handler.metricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", handler.status)
		r.Post("/forecast", handler.forecast)
		r.Post("/forecast/cancel", handler.cancelForecast)
		r.Post("/predict", handler.predict)
		r.Get("/notification", handler.notification)
		r.Get("/history", handler.listHistory)
	})
	return r
}

type forecastRequest struct {
	HoursAhead *int `json:"hours_ahead"`
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) forecast(w http.ResponseWriter, r *http.Request) {
	var req forecastRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON like {\"hours_ahead\": 24}")
		return
	}

	hours := h.ctrl.Snapshot().Hours
	if req.HoursAhead != nil {
		hours = *req.HoursAhead
	}

	// A page reload must not abort the forecast. The controller owns its
	// timeout and CancelForecast.
	view, err := h.ctrl.RequestForecast(context.WithoutCancel(r.Context()), hours)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}
	writeSuccess(w, http.StatusOK, view)
}

func (h *Handler) cancelForecast(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]bool{"cancelled": h.ctrl.CancelForecast()})
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	var input api.PredictionInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be a JSON prediction input")
		return
	}

	view, err := h.ctrl.RequestManualPrediction(context.WithoutCancel(r.Context()), input.Request())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, r, status, code, msg)
		return
	}
	writeSuccess(w, http.StatusOK, view)
}

func (h *Handler) notification(w http.ResponseWriter, _ *http.Request) {
	n := h.ctrl.Snapshot().Notification
	if n == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeSuccess(w, http.StatusOK, n)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, r, http.StatusNotFound, "HISTORY_DISABLED", "prediction history is not enabled")
		return
	}

	kind := history.Kind(r.URL.Query().Get("kind"))
	switch kind {
	case "", history.KindForecast, history.KindPrediction:
	default:
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "kind must be forecast or prediction")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	records, err := h.history.Recent(r.Context(), kind, limit)
	if err != nil {
		klog.ErrorS(err, "Failed to list history", "requestID", requestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "could not read prediction history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeSuccess(w, http.StatusOK, records)
}

// decodeBody accepts an empty body as "use defaults".
func decodeBody(r *http.Request, out any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
