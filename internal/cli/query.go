package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the prediction API is up and the model is loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			client := opts.newClient(cfg)

			health := client.CheckHealth(cmd.Context())

			var b strings.Builder
			fmt.Fprintf(&b, "URL:          %s\n", client.GetURL())
			fmt.Fprintf(&b, "Reachable:    %t\n", health.Reachable)
			fmt.Fprintf(&b, "Model loaded: %t\n", health.ModelLoaded)
			if health.Status != "" {
				fmt.Fprintf(&b, "Status:       %s\n", health.Status)
			}
			keys := make([]string, 0, len(health.ModelInfo))
			for k := range health.ModelInfo {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "  %s: %v\n", k, health.ModelInfo[k])
			}
			fmt.Fprintln(opts.out, renderPanel(health.Label(), b.String()))

			if !health.Reachable {
				return fmt.Errorf("prediction API at %s is offline", client.GetURL())
			}
			return nil
		},
	}
}

func newModelCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Show information about the loaded model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			info, err := opts.newClient(cfg).FetchModelInfo(cmd.Context())
			if err != nil {
				return userError(err)
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Status:          %s\n", info.Status)
			if info.ModelType != "" {
				fmt.Fprintf(&b, "Type:            %s\n", info.ModelType)
			}
			if info.TotalParams > 0 {
				fmt.Fprintf(&b, "Parameters:      %d\n", info.TotalParams)
			}
			if info.NEstimators > 0 {
				fmt.Fprintf(&b, "Estimators:      %d\n", info.NEstimators)
			}
			if info.NFeatures > 0 {
				fmt.Fprintf(&b, "Features:        %d\n", info.NFeatures)
			}
			if info.SequenceLength > 0 {
				fmt.Fprintf(&b, "Sequence length: %d\n", info.SequenceLength)
			}
			fmt.Fprintln(opts.out, renderPanel("Model", b.String()))
			return nil
		},
	}
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show statistics of the training data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			stats, err := opts.newClient(cfg).FetchStats(cmd.Context())
			if err != nil {
				return userError(err)
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Records:     %d\n", stats.TotalRecords)
			fmt.Fprintf(&b, "Period:      %s to %s\n", stats.DateRange.Start, stats.DateRange.End)
			fmt.Fprintf(&b, "Consumption: mean %.2f, median %.2f, std %.2f, range %.2f to %.2f kWh\n",
				stats.Consumption.Mean, stats.Consumption.Median, stats.Consumption.Std,
				stats.Consumption.Min, stats.Consumption.Max)
			fmt.Fprintf(&b, "Temperature: mean %.1f, range %.1f to %.1f °C\n",
				stats.Temperature.Mean, stats.Temperature.Min, stats.Temperature.Max)
			fmt.Fprintln(opts.out, renderPanel("Training data", b.String()))
			return nil
		},
	}
}
