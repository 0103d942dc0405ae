package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/common"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/config"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/history"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/notify"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/orchestrator"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/render"
)

// userError hides the error chain behind the end-user sentence.
func userError(err error) error {
	return errors.New(common.UserMessage(err))
}

// newController wires a one-shot controller that prints notifications and
// records into the configured history. The returned func releases it.
func (o *rootOptions) newController(cfg *config.Config) (*orchestrator.Controller, func(), error) {
	renderer, err := newRenderer(cfg)
	if err != nil {
		return nil, nil, err
	}
	rec, err := history.Open(cfg.History, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}

	var opts []orchestrator.Option
	if rec != nil {
		opts = append(opts, orchestrator.WithRecorder(rec))
	}

	notifier := notify.New(cfg.Notify.Duration, nil, printerSink{out: o.out})
	ctrl := orchestrator.New(o.newClient(cfg), renderer, notifier, cfg.Orchestrator, opts...)

	release := func() {
		notifier.Dismiss()
		if rec != nil {
			if err := rec.Close(); err != nil {
				klog.ErrorS(err, "Failed to close history")
			}
		}
	}
	return ctrl, release, nil
}

func newForecastCommand(opts *rootOptions) *cobra.Command {
	var (
		hours int
		chart bool
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Request an hourly consumption forecast",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("hours") {
				hours = cfg.Orchestrator.DefaultHours
			}

			ctrl, release, err := opts.newController(cfg)
			if err != nil {
				return err
			}
			defer release()

			view, err := ctrl.RequestForecast(cmd.Context(), hours)
			if err != nil {
				return userError(err)
			}

			fmt.Fprintln(opts.out, renderPanel(fmt.Sprintf("Forecast: next %d hours", hours), view.Panel))
			if chart {
				fmt.Fprint(opts.out, renderBars(view.Chart))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", common.DefaultForecastHours,
		fmt.Sprintf("hours ahead to forecast (%d-%d)", common.MinForecastHours, common.MaxForecastHours))
	cmd.Flags().BoolVar(&chart, "chart", true, "draw the hourly values as bars")
	return cmd
}

func newPredictCommand(opts *rootOptions) *cobra.Command {
	var (
		input   api.PredictionInput
		weekend bool
		holiday bool
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the consumption of a single hour from its features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("weekend") {
				w := boolFlag(weekend)
				input.IsWeekend = &w
			}
			input.IsHoliday = boolFlag(holiday)

			ctrl, release, err := opts.newController(cfg)
			if err != nil {
				return err
			}
			defer release()

			view, err := ctrl.RequestManualPrediction(cmd.Context(), input.Request())
			if err != nil {
				return userError(err)
			}
			fmt.Fprintln(opts.out, renderPanel("Prediction", view.Panel))
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&input.TemperatureCelsius, "temperature", 20, "outside temperature in °C")
	f.IntVar(&input.Hour, "hour", 12, "hour of day (0-23)")
	f.IntVar(&input.DayOfWeek, "day-of-week", 0, "day of week, 0 is Monday")
	f.IntVar(&input.Month, "month", 1, "month (1-12)")
	f.BoolVar(&weekend, "weekend", false, "weekend flag (derived from --day-of-week when omitted)")
	f.BoolVar(&holiday, "holiday", false, "holiday flag")
	f.Float64Var(&input.ConsumptionLag1h, "lag-1h", 0, "consumption one hour earlier (kWh)")
	f.Float64Var(&input.ConsumptionLag24h, "lag-24h", 0, "consumption 24 hours earlier (kWh)")
	f.Float64Var(&input.ConsumptionLag168h, "lag-168h", 0, "consumption one week earlier (kWh)")
	f.Float64Var(&input.ConsumptionRollingMean24h, "rolling-mean-24h", 0, "mean consumption of the last 24 hours (kWh)")
	f.Float64Var(&input.ConsumptionRollingStd24h, "rolling-std-24h", 0, "standard deviation of the last 24 hours (kWh)")
	return cmd
}

func newBatchCommand(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Predict many hours at once from a JSON or YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			inputs, err := readBatchFile(file)
			if err != nil {
				return err
			}
			reqs := make([]api.ManualPredictionRequest, len(inputs))
			for i, in := range inputs {
				reqs[i] = in.Request()
			}

			res, err := opts.newClient(cfg).RequestBatchPrediction(cmd.Context(), reqs)
			if err != nil {
				return userError(err)
			}

			var b strings.Builder
			for i, p := range res.Predictions {
				band := render.ClassifyBand(p.PredictedConsumptionKwh)
				fmt.Fprintf(&b, "%3d  %6.2f kWh  %-9s  %s\n", i+1, p.PredictedConsumptionKwh, band.Name, strings.ToUpper(string(p.Confidence)))
			}
			fmt.Fprintln(opts.out, renderPanel(fmt.Sprintf("Batch: %d predictions", res.Total), b.String()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "input file with a list of feature records (.json, .yaml or .yml)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readBatchFile decodes a list of records. YAML is chosen by extension,
// anything else is read as JSON.
func readBatchFile(path string) ([]api.PredictionInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var inputs []api.PredictionInput
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &inputs)
	default:
		err = json.Unmarshal(data, &inputs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("batch file %s contains no records", path)
	}
	return inputs, nil
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
