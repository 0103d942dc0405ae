package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/clock"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/config"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/history"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/metrics"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/notify"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/render"
)

// State of the forecast request lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

const (
	progressStep = 10
	progressCap  = 90
)

// APIClient is the subset of the prediction API the controller drives.
type APIClient interface {
	CheckHealth(ctx context.Context) api.HealthStatus
	FetchModelInfo(ctx context.Context) (*api.ModelInfo, error)
	RequestForecast(ctx context.Context, req api.ForecastRequest) (*api.ForecastResponse, error)
	RequestManualPrediction(ctx context.Context, req api.ManualPredictionRequest) (*api.ManualPredictionResult, error)
}

// Recorder receives every forecast and prediction outcome.
type Recorder interface {
	Record(ctx context.Context, r history.Record) error
}

// Controller owns the busy flag, the health poller and everything the
// dashboard displays. Several controllers can run side by side.
type Controller struct {
	client   APIClient
	renderer *render.Renderer
	notifier *notify.Notifier
	recorder Recorder
	clock    clock.Clock
	cfg      config.OrchestratorConfig

	busy       atomic.Bool
	submitting atomic.Bool

	mu               sync.Mutex
	state            State
	lastOutcome      State
	progress         int
	lastHours        int
	health           api.HealthStatus
	modelInfo        *api.ModelInfo
	modelErr         string
	view             *render.ForecastView
	manual           *render.ManualView
	errorPanel       string
	manualErrorPanel string
	cancel           context.CancelFunc

	lifecycle sync.Mutex
	stopPoll  context.CancelFunc
	wg        sync.WaitGroup

	// afterPollTick runs after each health poll tick; tests use it to
	// observe skipped ticks.
	afterPollTick func(skipped bool)
}

// Option configures a Controller
type Option func(*Controller)

// WithRecorder records every outcome in the prediction history
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithClock overrides the time source of the poller and progress ticks
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

// New creates an idle Controller. Zero timings fall back to the defaults.
func New(client APIClient, renderer *render.Renderer, notifier *notify.Notifier, cfg config.OrchestratorConfig, opts ...Option) *Controller {
	if cfg.HealthPollInterval <= 0 {
		cfg.HealthPollInterval = common.DefaultHealthPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = common.DefaultRequestTimeout
	}
	if cfg.ProgressTick <= 0 {
		cfg.ProgressTick = common.DefaultProgressTick
	}
	if common.ValidateForecastHours(cfg.DefaultHours) != nil {
		cfg.DefaultHours = common.DefaultForecastHours
	}

	c := &Controller{
		client:    client,
		renderer:  renderer,
		notifier:  notifier,
		cfg:       cfg,
		state:     StateIdle,
		lastHours: cfg.DefaultHours,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = clock.OrReal(c.clock)
	if c.notifier == nil {
		c.notifier = notify.New(0, c.clock)
	}
	return c
}

// Start runs the initial health check and model-info load, then polls
// health every HealthPollInterval until Stop or ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.stopPoll != nil {
		return fmt.Errorf("controller already started")
	}

	c.RefreshHealth(ctx)
	if _, err := c.LoadModelInfo(ctx); err != nil {
		klog.V(2).InfoS("Model info unavailable at startup", "err", err)
	}

	pollCtx, stopPoll := context.WithCancel(ctx)
	ticker := c.clock.NewTicker(c.cfg.HealthPollInterval)
	c.stopPoll = stopPoll

	c.wg.Add(1)
	go c.pollHealth(pollCtx, ticker)

	klog.V(2).InfoS("Started dashboard controller", "healthPollInterval", c.cfg.HealthPollInterval)
	return nil
}

// Stop halts the poller and cancels an outstanding forecast. It is safe to
// call more than once.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.stopPoll == nil {
		return
	}
	c.stopPoll()
	c.CancelForecast()
	c.wg.Wait()
	c.stopPoll = nil

	klog.V(2).InfoS("Stopped dashboard controller")
}

func (c *Controller) pollHealth(ctx context.Context, ticker clock.Ticker) {
	defer c.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			skipped := c.busy.Load()
			if skipped {
				metrics.HealthPollsTotal.WithLabelValues("skipped").Inc()
				klog.V(4).InfoS("Skipping health poll while a forecast is in flight")
			} else {
				metrics.HealthPollsTotal.WithLabelValues("checked").Inc()
				c.RefreshHealth(ctx)
			}
			if c.afterPollTick != nil {
				c.afterPollTick(skipped)
			}
		}
	}
}

// RefreshHealth checks the API now and stores the result.
func (c *Controller) RefreshHealth(ctx context.Context) api.HealthStatus {
	status := c.client.CheckHealth(ctx)

	c.mu.Lock()
	c.health = status
	c.mu.Unlock()

	return status
}

// LoadModelInfo fetches the model description for the info panel.
func (c *Controller) LoadModelInfo(ctx context.Context) (*api.ModelInfo, error) {
	info, err := c.client.FetchModelInfo(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.modelInfo = nil
		c.modelErr = common.UserMessage(err)
		return nil, err
	}
	c.modelInfo = info
	c.modelErr = ""
	return info, nil
}

// RequestForecast runs one forecast through Idle -> Requesting ->
// Succeeded/Failed -> Idle. Invalid hours and a second trigger while busy are
// rejected with a warning and never reach the network.
func (c *Controller) RequestForecast(ctx context.Context, hours int) (*render.ForecastView, error) {
	if err := common.ValidateForecastHours(hours); err != nil {
		metrics.ForecastRequestsTotal.WithLabelValues("invalid").Inc()
		c.notifier.Warning(common.UserMessage(err))
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)

	// busy and state change together under mu so a snapshot never sees one
	// without the other.
	c.mu.Lock()
	if !c.busy.CompareAndSwap(false, true) {
		c.mu.Unlock()
		cancel()
		metrics.ForecastRequestsTotal.WithLabelValues("busy").Inc()
		c.notifier.Warning(common.UserMessage(common.ErrBusy))
		return nil, common.ErrBusy
	}
	metrics.SetInFlight(true)
	c.state = StateRequesting
	c.progress = 0
	c.lastHours = hours
	c.errorPanel = ""
	c.cancel = cancel
	c.mu.Unlock()

	stopProgress := c.startProgress()

	defer func() {
		cancel()
		stopProgress()

		c.mu.Lock()
		c.cancel = nil
		c.state = StateIdle
		c.busy.Store(false)
		c.mu.Unlock()

		metrics.SetInFlight(false)
	}()

	klog.V(2).InfoS("Requesting forecast", "hoursAhead", hours)

	resp, err := c.client.RequestForecast(reqCtx, api.ForecastRequest{HoursAhead: hours})
	var view *render.ForecastView
	if err == nil {
		view, err = c.renderer.RenderForecast(resp)
	}

	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.lastOutcome = StateFailed
		c.progress = 0
		c.errorPanel = render.ErrorPanel(err)
		c.mu.Unlock()

		result := "failed"
		if errors.Is(err, context.Canceled) {
			result = "cancelled"
		}
		metrics.ForecastRequestsTotal.WithLabelValues(result).Inc()
		klog.ErrorS(err, "Forecast request failed", "hoursAhead", hours)
		c.notifier.Error(common.UserMessage(err))
		c.record(ctx, history.ForecastRecord(hours, nil, err))
		return nil, err
	}

	c.mu.Lock()
	c.state = StateSucceeded
	c.lastOutcome = StateSucceeded
	c.progress = 100
	c.view = view
	c.mu.Unlock()

	s := view.Summary.Stats
	metrics.ForecastRequestsTotal.WithLabelValues("success").Inc()
	metrics.RecordForecastStats(s.Points, s.Mean, s.Max, s.Min)
	klog.V(2).InfoS("Forecast rendered",
		"hoursAhead", hours,
		"points", s.Points,
		"mean", s.Mean,
		"trend", view.Summary.Trend)

	c.notifier.Success(fmt.Sprintf("Forecast for the next %d hours is ready", view.Summary.HoursCovered))
	c.record(ctx, history.ForecastRecord(hours, view, nil))
	return view, nil
}

// CancelForecast aborts the outstanding forecast, if any.
func (c *Controller) CancelForecast() bool {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel == nil {
		return false
	}
	klog.V(2).InfoS("Cancelling forecast request")
	cancel()
	return true
}

// RequestManualPrediction submits the manual form. It has its own submit
// guard, independent from the forecast busy flag.
func (c *Controller) RequestManualPrediction(ctx context.Context, req api.ManualPredictionRequest) (*render.ManualView, error) {
	if err := req.Validate(); err != nil {
		metrics.ManualPredictionsTotal.WithLabelValues("invalid").Inc()
		c.notifier.Warning(common.UserMessage(err))
		return nil, err
	}

	if !c.submitting.CompareAndSwap(false, true) {
		metrics.ManualPredictionsTotal.WithLabelValues("busy").Inc()
		c.notifier.Warning(common.UserMessage(common.ErrSubmitInProgress))
		return nil, common.ErrSubmitInProgress
	}
	defer c.submitting.Store(false)

	c.mu.Lock()
	c.manualErrorPanel = ""
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	result, err := c.client.RequestManualPrediction(reqCtx, req)
	var view *render.ManualView
	if err == nil {
		view, err = c.renderer.RenderManual(result)
	}

	if err != nil {
		c.mu.Lock()
		c.manualErrorPanel = render.ErrorPanel(err)
		c.mu.Unlock()

		metrics.ManualPredictionsTotal.WithLabelValues("failed").Inc()
		klog.ErrorS(err, "Manual prediction failed", "hour", req.Hour, "dayOfWeek", req.DayOfWeek)
		c.notifier.Error(common.UserMessage(err))
		c.record(ctx, history.PredictionRecord(req, nil, err))
		return nil, err
	}

	c.mu.Lock()
	c.manual = view
	c.mu.Unlock()

	metrics.ManualPredictionsTotal.WithLabelValues("success").Inc()
	c.notifier.Success(fmt.Sprintf("Predicted %.2f kWh (%s)", view.Value, view.Band.Name))
	c.record(ctx, history.PredictionRecord(req, view, nil))
	return view, nil
}

// startProgress advances the simulated progress bar up to progressCap while
// the request is running. The returned func stops it and waits.
func (c *Controller) startProgress() func() {
	ticker := c.clock.NewTicker(c.cfg.ProgressTick)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				c.mu.Lock()
				if c.state == StateRequesting && c.progress < progressCap {
					c.progress += progressStep
					if c.progress > progressCap {
						c.progress = progressCap
					}
				}
				c.mu.Unlock()
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

func (c *Controller) record(ctx context.Context, r history.Record) {
	if c.recorder == nil {
		return
	}
	// The request context may already be cancelled; history is written anyway.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.recorder.Record(recCtx, r); err != nil {
		metrics.HistoryRecordsTotal.WithLabelValues(string(r.Kind), "error").Inc()
		klog.ErrorS(err, "Failed to record history", "kind", r.Kind)
		return
	}
	metrics.HistoryRecordsTotal.WithLabelValues(string(r.Kind), "success").Inc()
}
