package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/history"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		kind   string
		limit  int
		prune  bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent forecasts and predictions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			k := history.Kind(kind)
			switch k {
			case "", history.KindForecast, history.KindPrediction:
			default:
				return fmt.Errorf("--kind must be %q or %q", history.KindForecast, history.KindPrediction)
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			switch format {
			case "text", "csv", "json", "yaml":
			default:
				return fmt.Errorf("--format must be one of text, csv, json or yaml")
			}

			rec, err := history.Open(cfg.History, nil)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			if rec == nil {
				return fmt.Errorf("history is disabled, set HISTORY_DB_PATH or HISTORY_DIR")
			}
			defer func() {
				if err := rec.Close(); err != nil {
					klog.ErrorS(err, "Failed to close history")
				}
			}()

			if prune {
				removed, err := rec.Cleanup(cmd.Context(), history.RetentionFromDays(cfg.History.RetentionDays))
				if err != nil {
					return fmt.Errorf("failed to prune history: %w", err)
				}
				fmt.Fprintln(opts.out, mutedStyle.Render(fmt.Sprintf("Removed %d old records", removed)))
			}

			records, err := rec.Recent(cmd.Context(), k, limit)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			return writeHistory(opts.out, format, records)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only show forecast or prediction records")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	cmd.Flags().BoolVar(&prune, "prune", false, "remove records older than the configured retention first")
	cmd.Flags().StringVarP(&format, "format", "o", "text", "output format: text, csv, json or yaml")
	return cmd
}

// writeHistory prints the records. json and yaml carry a statistics report
// alongside the records.
func writeHistory(out io.Writer, format string, records []history.Record) error {
	switch format {
	case "csv":
		return history.WriteCSV(out, records)
	case "json", "yaml":
		if records == nil {
			records = []history.Record{}
		}
		doc := history.Export{Report: history.BuildReport(records, time.Now().UTC()), Records: records}
		if format == "yaml" {
			data, err := yaml.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to encode history: %w", err)
			}
			_, err = out.Write(data)
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	default:
		fmt.Fprintln(out, renderPanel("History", formatRecords(records)))
		return nil
	}
}

func formatRecords(records []history.Record) string {
	if len(records) == 0 {
		return "No records yet.\n"
	}

	var b strings.Builder
	for _, r := range records {
		when := r.CreatedAt.Local().Format("02/01/2006 15:04")
		switch {
		case !r.Success:
			fmt.Fprintf(&b, "%s  %-10s  %s\n", when, r.Kind, errorStyle.Render(r.Error))
		case r.Kind == history.KindForecast:
			fmt.Fprintf(&b, "%s  %-10s  %3dh  mean %.2f  max %.2f  min %.2f kWh  %s\n",
				when, r.Kind, r.HoursAhead, r.Mean, r.Max, r.Min, r.Trend)
		default:
			fmt.Fprintf(&b, "%s  %-10s  %.2f kWh  %s  %s\n",
				when, r.Kind, r.PredictedKWh, r.Band, strings.ToUpper(r.Confidence))
		}
	}
	return b.String()
}
