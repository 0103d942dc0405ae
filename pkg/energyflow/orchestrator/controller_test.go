package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/config"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/history"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/notify"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/render"
)

type fakeClient struct {
	healthCalls   atomic.Int32
	forecastCalls atomic.Int32
	predictCalls  atomic.Int32

	mu           sync.Mutex
	health       api.HealthStatus
	modelInfo    *api.ModelInfo
	modelErr     error
	forecastFunc func(ctx context.Context, req api.ForecastRequest) (*api.ForecastResponse, error)
	predictFunc  func(ctx context.Context, req api.ManualPredictionRequest) (*api.ManualPredictionResult, error)
}

func (f *fakeClient) CheckHealth(ctx context.Context) api.HealthStatus {
	f.healthCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeClient) FetchModelInfo(ctx context.Context) (*api.ModelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modelInfo, f.modelErr
}

func (f *fakeClient) RequestForecast(ctx context.Context, req api.ForecastRequest) (*api.ForecastResponse, error) {
	f.forecastCalls.Add(1)
	if f.forecastFunc != nil {
		return f.forecastFunc(ctx, req)
	}
	return threePointForecast(), nil
}

func (f *fakeClient) RequestManualPrediction(ctx context.Context, req api.ManualPredictionRequest) (*api.ManualPredictionResult, error) {
	f.predictCalls.Add(1)
	if f.predictFunc != nil {
		return f.predictFunc(ctx, req)
	}
	return &api.ManualPredictionResult{PredictedConsumptionKwh: 2.5, Confidence: api.ConfidenceHigh}, nil
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []history.Record
}

func (m *memoryRecorder) Record(_ context.Context, r history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memoryRecorder) all() []history.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Record(nil), m.records...)
}

func threePointForecast() *api.ForecastResponse {
	return &api.ForecastResponse{
		Forecasts: []api.ForecastPoint{
			{Timestamp: "2024-03-01T00:00:00", PredictedConsumption: 2.0},
			{Timestamp: "2024-03-01T01:00:00", PredictedConsumption: 3.0},
			{Timestamp: "2024-03-01T02:00:00", PredictedConsumption: 1.0},
		},
		TotalHours: 3,
		StartTime:  "2024-03-01T00:00:00",
		EndTime:    "2024-03-01T02:00:00",
	}
}

// blockingForecast blocks every forecast until release is closed or the
// request context ends. started receives one value per call.
func blockingForecast(started chan<- struct{}, release <-chan struct{}) func(ctx context.Context, req api.ForecastRequest) (*api.ForecastResponse, error) {
	return func(ctx context.Context, req api.ForecastRequest) (*api.ForecastResponse, error) {
		started <- struct{}{}
		select {
		case <-release:
			return threePointForecast(), nil
		case <-ctx.Done():
			return nil, &common.TransportError{Op: "forecast", Err: ctx.Err()}
		}
	}
}

type harness struct {
	client   *fakeClient
	clock    *testclock.FakeClock
	notifier *notify.Notifier
	recorder *memoryRecorder
	ctrl     *Controller
}

func newHarness(t *testing.T, mutate func(cfg *config.OrchestratorConfig)) *harness {
	t.Helper()
	cfg := config.Default().Orchestrator
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		client: &fakeClient{
			health:    api.HealthStatus{Reachable: true, Healthy: true, ModelLoaded: true, Status: "healthy"},
			modelInfo: &api.ModelInfo{Status: "ready", TotalParams: 52000},
		},
		clock:    testclock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		recorder: &memoryRecorder{},
	}
	h.notifier = notify.New(3*time.Second, h.clock)
	h.ctrl = New(h.client, render.New(config.Default().Render), h.notifier, cfg,
		WithClock(h.clock), WithRecorder(h.recorder))
	return h
}

func (h *harness) notification(t *testing.T) notify.Notification {
	t.Helper()
	n, ok := h.notifier.Current()
	require.True(t, ok, "expected a visible notification")
	return n
}

func TestRequestForecastSuccess(t *testing.T) {
	h := newHarness(t, nil)

	view, err := h.ctrl.RequestForecast(context.Background(), 3)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, view.Summary.Stats.Mean, 1e-9)
	assert.Equal(t, 3.0, view.Summary.Stats.Max)
	assert.Equal(t, 1.0, view.Summary.Stats.Min)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, StateSucceeded, snap.LastOutcome)
	assert.False(t, snap.Busy)
	assert.True(t, snap.ControlEnabled)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, view, snap.View)
	assert.Empty(t, snap.ErrorPanel)
	assert.Equal(t, 3, snap.Hours)

	assert.Equal(t, notify.KindSuccess, h.notification(t).Kind)

	records := h.recorder.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, 3, records[0].HoursAhead)
}

func TestBusyGuardMakesNoSecondCall(t *testing.T) {
	h := newHarness(t, nil)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	h.client.forecastFunc = blockingForecast(started, release)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = h.ctrl.RequestForecast(context.Background(), 24)
	}()
	<-started

	snap := h.ctrl.Snapshot()
	assert.True(t, snap.Busy)
	assert.False(t, snap.ControlEnabled)
	assert.Equal(t, StateRequesting, snap.State)

	_, err := h.ctrl.RequestForecast(context.Background(), 24)
	assert.ErrorIs(t, err, common.ErrBusy)
	assert.Equal(t, int32(1), h.client.forecastCalls.Load())
	assert.Equal(t, notify.KindWarning, h.notification(t).Kind)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)

	snap = h.ctrl.Snapshot()
	assert.False(t, snap.Busy)
	assert.True(t, snap.ControlEnabled)

	// The flag is free again.
	h.client.forecastFunc = nil
	_, err = h.ctrl.RequestForecast(context.Background(), 24)
	assert.NoError(t, err)
	assert.Equal(t, int32(2), h.client.forecastCalls.Load())
}

func TestHourBounds(t *testing.T) {
	tests := []struct {
		hours     int
		wantCalls int32
		wantErr   bool
	}{
		{hours: 0, wantErr: true},
		{hours: -1, wantErr: true},
		{hours: 169, wantErr: true},
		{hours: 1, wantCalls: 1},
		{hours: 168, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d hours", tt.hours), func(t *testing.T) {
			h := newHarness(t, nil)

			_, err := h.ctrl.RequestForecast(context.Background(), tt.hours)
			assert.Equal(t, tt.wantCalls, h.client.forecastCalls.Load())

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ve *common.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, notify.KindWarning, h.notification(t).Kind)

			snap := h.ctrl.Snapshot()
			assert.Equal(t, StateIdle, snap.State)
			assert.Empty(t, string(snap.LastOutcome), "rejected input never changes state")
			assert.Empty(t, h.recorder.all())
		})
	}
}

func TestFailureRestoresInteractiveState(t *testing.T) {
	tests := []struct {
		name      string
		response  *api.ForecastResponse
		err       error
		wantPanel string
	}{
		{
			name:      "api error",
			err:       common.NewAPIError(503, ""),
			wantPanel: "⚠ Error: model is not ready, train it first (503)",
		},
		{
			name:      "transport error",
			err:       &common.TransportError{Op: "forecast", Err: errors.New("connection refused")},
			wantPanel: "⚠ Could not reach the prediction API. Check that it is running.",
		},
		{
			name:      "empty forecasts",
			response:  &api.ForecastResponse{TotalHours: 24},
			wantPanel: "⚠ The API returned data that cannot be displayed (forecast contains no points).",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.client.forecastFunc = func(ctx context.Context, req api.ForecastRequest) (*api.ForecastResponse, error) {
				return tt.response, tt.err
			}

			view, err := h.ctrl.RequestForecast(context.Background(), 24)
			require.Error(t, err)
			assert.Nil(t, view)

			snap := h.ctrl.Snapshot()
			assert.Equal(t, StateIdle, snap.State)
			assert.Equal(t, StateFailed, snap.LastOutcome)
			assert.False(t, snap.Busy)
			assert.True(t, snap.ControlEnabled)
			assert.Equal(t, 0, snap.Progress)
			assert.Equal(t, tt.wantPanel, snap.ErrorPanel)
			assert.Nil(t, snap.View)

			n := h.notification(t)
			assert.Equal(t, notify.KindError, n.Kind)
			assert.Equal(t, tt.wantPanel, "⚠ "+n.Message)

			// No automatic retry.
			assert.Equal(t, int32(1), h.client.forecastCalls.Load())

			records := h.recorder.all()
			require.Len(t, records, 1)
			assert.False(t, records[0].Success)
		})
	}
}

func TestFailureKeepsPreviousView(t *testing.T) {
	h := newHarness(t, nil)
	first, err := h.ctrl.RequestForecast(context.Background(), 3)
	require.NoError(t, err)

	h.client.forecastFunc = func(ctx context.Context, req api.ForecastRequest) (*api.ForecastResponse, error) {
		return nil, common.NewAPIError(500, "")
	}
	_, err = h.ctrl.RequestForecast(context.Background(), 3)
	require.Error(t, err)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, first, snap.View)
	assert.NotEmpty(t, snap.ErrorPanel)
}

func TestRequestTimeoutReleasesBusy(t *testing.T) {
	h := newHarness(t, func(cfg *config.OrchestratorConfig) {
		cfg.RequestTimeout = 20 * time.Millisecond
	})
	started := make(chan struct{}, 1)
	h.client.forecastFunc = blockingForecast(started, make(chan struct{}))

	_, err := h.ctrl.RequestForecast(context.Background(), 24)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap := h.ctrl.Snapshot()
	assert.False(t, snap.Busy)
	assert.Equal(t, "The prediction API took too long to answer. Please try again.", h.notification(t).Message)
}

func TestCancelForecast(t *testing.T) {
	h := newHarness(t, nil)
	started := make(chan struct{}, 1)
	h.client.forecastFunc = blockingForecast(started, make(chan struct{}))

	assert.False(t, h.ctrl.CancelForecast(), "nothing to cancel")

	errCh := make(chan error, 1)
	go func() {
		_, err := h.ctrl.RequestForecast(context.Background(), 24)
		errCh <- err
	}()
	<-started

	assert.True(t, h.ctrl.CancelForecast())
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.ctrl.Snapshot().Busy)
}

func TestSnapshotBusyMatchesState(t *testing.T) {
	h := newHarness(t, nil)

	stop := make(chan struct{})
	violations := make(chan Snapshot, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := h.ctrl.Snapshot()
			if (snap.Busy && snap.State == StateIdle) || (!snap.Busy && snap.State == StateRequesting) {
				select {
				case violations <- snap:
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		_, err := h.ctrl.RequestForecast(context.Background(), 24)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	select {
	case snap := <-violations:
		t.Fatalf("snapshot reported busy=%v with state %q", snap.Busy, snap.State)
	default:
	}
}

func TestProgressStopsAtCap(t *testing.T) {
	h := newHarness(t, nil)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	h.client.forecastFunc = blockingForecast(started, release)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.ctrl.RequestForecast(context.Background(), 24)
	}()
	<-started

	tick := config.Default().Orchestrator.ProgressTick
	assert.Eventually(t, func() bool {
		h.clock.Step(tick)
		return h.ctrl.Snapshot().Progress == progressCap
	}, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		h.clock.Step(tick)
	}
	assert.LessOrEqual(t, h.ctrl.Snapshot().Progress, progressCap)

	close(release)
	<-done
	assert.Equal(t, 100, h.ctrl.Snapshot().Progress)
}

func TestHealthPollSkippedWhileBusy(t *testing.T) {
	h := newHarness(t, nil)
	ticks := make(chan bool, 4)
	h.ctrl.afterPollTick = func(skipped bool) { ticks <- skipped }

	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop()
	assert.Equal(t, int32(1), h.client.healthCalls.Load(), "initial check on start")

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	h.client.forecastFunc = blockingForecast(started, release)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.ctrl.RequestForecast(context.Background(), 24)
	}()
	<-started

	h.clock.Step(time.Minute)
	assert.True(t, <-ticks, "tick while busy is skipped")
	assert.Equal(t, int32(1), h.client.healthCalls.Load())

	close(release)
	<-done

	h.clock.Step(time.Minute)
	assert.False(t, <-ticks)
	assert.Equal(t, int32(2), h.client.healthCalls.Load())
}

func TestStartLoadsStatusAndStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Error(t, h.ctrl.Start(context.Background()))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "API Online", snap.HealthLabel)
	require.NotNil(t, snap.ModelInfo)
	assert.Equal(t, int64(52000), snap.ModelInfo.TotalParams)

	h.ctrl.Stop()
	h.ctrl.Stop()

	// Restartable after Stop.
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ctrl.Stop()
}

func TestStartWithModelNotLoaded(t *testing.T) {
	h := newHarness(t, nil)
	h.client.health = api.HealthStatus{Reachable: true, Status: "model_not_loaded"}
	h.client.modelInfo = nil
	h.client.modelErr = common.ErrModelNotReady

	require.NoError(t, h.ctrl.Start(context.Background()))
	defer h.ctrl.Stop()

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "Model not loaded", snap.HealthLabel)
	assert.Nil(t, snap.ModelInfo)
	assert.Equal(t, "The model is not loaded yet. Train it and try again.", snap.ModelError)
}

func TestManualPrediction(t *testing.T) {
	req := api.ManualPredictionRequest{TemperatureCelsius: 28, Hour: 19, DayOfWeek: 2, Month: 1, ConsumptionLag1h: 2.2}

	t.Run("success", func(t *testing.T) {
		h := newHarness(t, nil)

		view, err := h.ctrl.RequestManualPrediction(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "high", view.Band.Name)

		snap := h.ctrl.Snapshot()
		assert.Equal(t, view, snap.Manual)
		assert.True(t, snap.SubmitEnabled)
		assert.Equal(t, "Predicted 2.50 kWh (high)", h.notification(t).Message)

		records := h.recorder.all()
		require.Len(t, records, 1)
		assert.Equal(t, history.KindPrediction, records[0].Kind)
	})

	t.Run("invalid input", func(t *testing.T) {
		h := newHarness(t, nil)
		bad := req
		bad.Month = 13

		_, err := h.ctrl.RequestManualPrediction(context.Background(), bad)
		var ve *common.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, int32(0), h.client.predictCalls.Load())
	})

	t.Run("submit guard is independent from the forecast flag", func(t *testing.T) {
		h := newHarness(t, nil)
		started := make(chan struct{}, 1)
		release := make(chan struct{})
		h.client.predictFunc = func(ctx context.Context, r api.ManualPredictionRequest) (*api.ManualPredictionResult, error) {
			started <- struct{}{}
			<-release
			return &api.ManualPredictionResult{PredictedConsumptionKwh: 0.3}, nil
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = h.ctrl.RequestManualPrediction(context.Background(), req)
		}()
		<-started

		assert.False(t, h.ctrl.Snapshot().SubmitEnabled)
		_, err := h.ctrl.RequestManualPrediction(context.Background(), req)
		assert.ErrorIs(t, err, common.ErrSubmitInProgress)
		assert.Equal(t, int32(1), h.client.predictCalls.Load())

		_, err = h.ctrl.RequestForecast(context.Background(), 3)
		assert.NoError(t, err, "forecast runs while a prediction is pending")

		close(release)
		<-done
		assert.True(t, h.ctrl.Snapshot().SubmitEnabled)
	})

	t.Run("failure sets the inline panel", func(t *testing.T) {
		h := newHarness(t, nil)
		h.client.predictFunc = func(ctx context.Context, r api.ManualPredictionRequest) (*api.ManualPredictionResult, error) {
			return nil, common.NewAPIError(422, "month: out of range")
		}

		_, err := h.ctrl.RequestManualPrediction(context.Background(), req)
		require.Error(t, err)

		snap := h.ctrl.Snapshot()
		assert.Equal(t, "⚠ Error: month: out of range", snap.ManualErrorPanel)
		assert.True(t, snap.SubmitEnabled)
		assert.Equal(t, notify.KindError, h.notification(t).Kind)
	})
}
