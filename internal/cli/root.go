package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/config"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/pricing"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/render"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	apiURL     string
	timeout    time.Duration
	out        io.Writer
}

// NewRootCommand builds the energyflow command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{out: out}

	cmd := &cobra.Command{
		Use:   "energyflow",
		Short: "Energy consumption forecasts from the EnergyFlow prediction API",
		Long: `energyflow talks to the EnergyFlow prediction API.

It can check the API health, request hourly forecasts and single-point
predictions, and serve the web dashboard.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "prediction API base URL (overrides ENERGYFLOW_API_URL)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "per-request timeout (overrides config)")

	cmd.AddCommand(
		newHealthCommand(opts),
		newModelCommand(opts),
		newStatsCommand(opts),
		newForecastCommand(opts),
		newPredictCommand(opts),
		newBatchCommand(opts),
		newHistoryCommand(opts),
		newServeCommand(opts),
		newVersionCommand(opts),
	)
	return cmd
}

// Execute runs the command tree and prints a failure the way the dashboard
// would show it.
func Execute(out, errOut io.Writer, args []string) error {
	cmd := NewRootCommand(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(errOut, errorStyle.Render(fmt.Sprintf("Error: %v", err)))
	}
	return err
}

// loadConfig applies the flag overrides on top of file and environment.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.apiURL != "" {
		cfg.API.URL = o.apiURL
	}
	if o.timeout > 0 {
		cfg.API.Timeout = o.timeout
		cfg.Orchestrator.RequestTimeout = o.timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	klog.V(3).InfoS("Resolved CLI configuration", "apiURL", cfg.API.BaseURL(), "timeout", cfg.API.Timeout)
	return cfg, nil
}

func (o *rootOptions) newClient(cfg *config.Config, opts ...api.ClientOption) *api.Client {
	return api.NewClient(cfg.API, opts...)
}

func newRenderer(cfg *config.Config) (*render.Renderer, error) {
	tariff, err := pricing.Factory(cfg.Pricing, cfg.Render.CostPerKWh)
	if err != nil {
		return nil, fmt.Errorf("failed to build tariff: %w", err)
	}
	return render.New(cfg.Render, render.WithTariff(tariff)), nil
}
