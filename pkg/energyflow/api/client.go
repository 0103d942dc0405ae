package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/clock"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/config"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/metrics"
)

const (
	tracerName      = "github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	maxResponseSize = 8 << 20
)

// HTTPClient interface allows mocking http.Client in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CacheInterface stores ready model descriptions keyed by API base URL.
type CacheInterface interface {
	Get(key string) (*ModelInfo, bool)
	Set(key string, info *ModelInfo)
}

// Client handles interactions with the prediction API. It never retries;
// callers decide what to do with a failure.
type Client struct {
	apiConfig  config.APIConfig
	baseURL    string
	httpClient HTTPClient
	cache      CacheInterface
	clock      clock.Clock
	tracer     trace.Tracer
}

// ClientOption allows customizing the client
type ClientOption func(*Client)

// WithHTTPClient allows injecting a custom HTTP client
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithCache adds a model-info cache to the client
func WithCache(cache CacheInterface) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithClock overrides the time source used for health timestamps
func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) {
		c.clock = clk
	}
}

// NewClient creates a new API client
func NewClient(apiCfg config.APIConfig, opts ...ClientOption) *Client {
	client := &Client{
		apiConfig: apiCfg,
		baseURL:   apiCfg.BaseURL(),
		httpClient: &http.Client{
			Timeout: apiCfg.Timeout,
		},
		clock:  clock.Real(),
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// GetURL returns the base URL used for API requests
func (c *Client) GetURL() string {
	return c.baseURL
}

// CheckHealth calls /health. It never fails: an unreachable or erroring API
// yields an unhealthy status.
func (c *Client) CheckHealth(ctx context.Context) HealthStatus {
	status := HealthStatus{CheckedAt: c.clock.Now()}

	var payload healthPayload
	err := c.doJSON(ctx, "health", http.MethodGet, common.PathHealth, nil, &payload)

	var apiErr *common.APIError
	switch {
	case err == nil:
		status.Reachable = true
		status.Status = payload.Status
		status.Healthy = payload.Status == "healthy"
		status.ModelLoaded = payload.ModelLoaded
		status.ModelInfo = payload.ModelInfo
	case errors.As(err, &apiErr):
		status.Reachable = true
		status.Status = fmt.Sprintf("http_%d", apiErr.Status)
	default:
		status.Status = "offline"
	}

	metrics.SetHealth(status.Healthy, status.ModelLoaded)

	if err != nil {
		klog.V(2).InfoS("Prediction API health check failed", "url", c.baseURL, "err", err)
	} else if !status.Healthy {
		klog.V(2).InfoS("Prediction API reachable but model not loaded", "url", c.baseURL, "status", status.Status)
	} else {
		klog.V(4).InfoS("Prediction API is healthy", "url", c.baseURL)
	}

	return status
}

// FetchModelInfo returns the loaded model's description. It distinguishes a
// ready model, a model that is not loaded (error wrapping
// common.ErrModelNotReady) and a transport failure (*common.TransportError).
func (c *Client) FetchModelInfo(ctx context.Context) (*ModelInfo, error) {
	if c.cache != nil {
		if info, ok := c.cache.Get(c.baseURL); ok {
			metrics.ModelInfoCacheLookups.WithLabelValues("hit").Inc()
			klog.V(4).InfoS("Using cached model info", "url", c.baseURL)
			return info, nil
		}
		metrics.ModelInfoCacheLookups.WithLabelValues("miss").Inc()
	}

	var info ModelInfo
	err := c.doJSON(ctx, "model_info", http.MethodGet, common.PathModelInfo, nil, &info)

	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		// Older API versions only embed the model description in /health.
		klog.V(3).InfoS("Model info endpoint missing, falling back to health payload", "url", c.baseURL)
		return c.modelInfoFromHealth(ctx)
	}
	if err != nil {
		return nil, err
	}

	if !info.Ready() {
		msg := info.Message
		if msg == "" {
			msg = "status " + info.Status
		}
		return nil, fmt.Errorf("%w: %s", common.ErrModelNotReady, msg)
	}

	if c.cache != nil {
		c.cache.Set(c.baseURL, &info)
	}
	return &info, nil
}

func (c *Client) modelInfoFromHealth(ctx context.Context) (*ModelInfo, error) {
	var payload healthPayload
	if err := c.doJSON(ctx, "health", http.MethodGet, common.PathHealth, nil, &payload); err != nil {
		return nil, err
	}
	if !payload.ModelLoaded || payload.ModelInfo == nil {
		return nil, fmt.Errorf("%w: health reports status %q", common.ErrModelNotReady, payload.Status)
	}

	raw, err := json.Marshal(payload.ModelInfo)
	if err != nil {
		return nil, &common.TransportError{Op: "model_info", Err: err}
	}
	var info ModelInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &common.TransportError{Op: "model_info", Err: fmt.Errorf("failed to decode embedded model info: %w", err)}
	}
	if info.Status == "" {
		info.Status = "ready"
	}

	if c.cache != nil {
		c.cache.Set(c.baseURL, &info)
	}
	return &info, nil
}

// RequestForecast asks the API for an hourly forecast.
func (c *Client) RequestForecast(ctx context.Context, req ForecastRequest) (*ForecastResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var resp ForecastResponse
	if err := c.doJSON(ctx, "forecast", http.MethodPost, common.PathForecast, req, &resp); err != nil {
		return nil, err
	}

	klog.V(3).InfoS("Received forecast",
		"hoursAhead", req.HoursAhead,
		"points", len(resp.Forecasts),
		"startTime", resp.StartTime,
		"endTime", resp.EndTime)

	return &resp, nil
}

// RequestManualPrediction asks the API for a single-point prediction.
func (c *Client) RequestManualPrediction(ctx context.Context, req ManualPredictionRequest) (*ManualPredictionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var result ManualPredictionResult
	if err := c.doJSON(ctx, "predict", http.MethodPost, common.PathPredict, req, &result); err != nil {
		return nil, err
	}
	if result.Confidence == "" {
		result.Confidence = ConfidenceHigh
	}

	return &result, nil
}

// RequestBatchPrediction sends up to common.MaxBatchSize inputs in one call.
func (c *Client) RequestBatchPrediction(ctx context.Context, reqs []ManualPredictionRequest) (*BatchPredictionResult, error) {
	if len(reqs) == 0 {
		return nil, &common.ValidationError{Field: "data", Message: "at least one input is required"}
	}
	if len(reqs) > common.MaxBatchSize {
		return nil, &common.ValidationError{Field: "data", Message: fmt.Sprintf("at most %d inputs per batch", common.MaxBatchSize)}
	}
	for i, r := range reqs {
		if err := r.Validate(); err != nil {
			var ve *common.ValidationError
			if errors.As(err, &ve) {
				return nil, &common.ValidationError{Field: fmt.Sprintf("data[%d].%s", i, ve.Field), Message: ve.Message}
			}
			return nil, err
		}
	}

	var result BatchPredictionResult
	if err := c.doJSON(ctx, "predict_batch", http.MethodPost, common.PathPredictBatch, batchPayload{Data: reqs}, &result); err != nil {
		return nil, err
	}
	for i := range result.Predictions {
		if result.Predictions[i].Confidence == "" {
			result.Predictions[i].Confidence = ConfidenceHigh
		}
	}

	return &result, nil
}

// FetchStats returns statistics about the model's training data.
func (c *Client) FetchStats(ctx context.Context) (*TrainingStats, error) {
	var stats TrainingStats
	if err := c.doJSON(ctx, "stats", http.MethodGet, common.PathStats, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// doJSON performs one request and decodes a 2xx body into out. Non-2xx
// answers become *common.APIError, everything else *common.TransportError.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "energyflow.api."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	start := time.Now()
	defer func() {
		metrics.ObserveAPIRequest(op, resultLabel(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &common.TransportError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &common.TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	klog.V(4).InfoS("Calling prediction API", "method", method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &common.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &common.TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return common.NewAPIError(resp.StatusCode, extractErrorMessage(data))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &common.TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// extractErrorMessage pulls a human message out of an error body. FastAPI
// sends detail either as a string or as a list of validation errors.
func extractErrorMessage(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &payload) != nil {
		return ""
	}

	if len(payload.Detail) > 0 {
		var detail string
		if json.Unmarshal(payload.Detail, &detail) == nil && detail != "" {
			return detail
		}
		var items []struct {
			Msg string `json:"msg"`
			Loc []any  `json:"loc"`
		}
		if json.Unmarshal(payload.Detail, &items) == nil && len(items) > 0 && items[0].Msg != "" {
			if len(items[0].Loc) > 0 {
				return fmt.Sprintf("%v: %s", items[0].Loc[len(items[0].Loc)-1], items[0].Msg)
			}
			return items[0].Msg
		}
	}

	if payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(payload.Error)
}

func resultLabel(err error) string {
	var apiErr *common.APIError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "transport_error"
	}
}
