package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/cache"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/clock"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/dashboard"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/history"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/notify"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/orchestrator"
)

const (
	shutdownTimeout = 5 * time.Second
	pruneInterval   = 24 * time.Hour
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			renderer, err := newRenderer(cfg)
			if err != nil {
				return err
			}

			modelCache := cache.New(cfg.API.ModelInfoCacheTTL, cfg.API.MaxCacheAge)
			defer modelCache.Close()
			client := opts.newClient(cfg, api.WithCache(modelCache))

			rec, err := history.Open(cfg.History, nil)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}

			var (
				ctrlOpts    []orchestrator.Option
				handlerOpts = []dashboard.Option{dashboard.WithMetrics(cfg.Server.MetricsEnabled)}
			)
			if rec != nil {
				defer func() {
					if err := rec.Close(); err != nil {
						klog.ErrorS(err, "Failed to close history")
					}
				}()
				ctrlOpts = append(ctrlOpts, orchestrator.WithRecorder(rec))
				handlerOpts = append(handlerOpts, dashboard.WithHistory(rec))

				pruneCtx, stopPrune := context.WithCancel(ctx)
				defer stopPrune()
				go pruneHistory(pruneCtx, rec, history.RetentionFromDays(cfg.History.RetentionDays))
			}

			notifier := notify.New(cfg.Notify.Duration, nil, notify.LogSink{})
			ctrl := orchestrator.New(client, renderer, notifier, cfg.Orchestrator, ctrlOpts...)
			if err := ctrl.Start(ctx); err != nil {
				return fmt.Errorf("failed to start controller: %w", err)
			}
			defer ctrl.Stop()

			server := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      dashboard.NewRouter(dashboard.NewHandler(ctrl, handlerOpts...)),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: cfg.Orchestrator.RequestTimeout + 10*time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				klog.InfoS("Starting dashboard server", "addr", cfg.Server.Addr, "apiURL", client.GetURL())
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()
			fmt.Fprintln(opts.out, titleStyle.Render("EnergyFlow dashboard on "+cfg.Server.Addr))

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("dashboard server failed: %w", err)
				}
			}

			klog.InfoS("Shutting down dashboard server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				klog.ErrorS(err, "Error shutting down dashboard server")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "dashboard listen address")
	return cmd
}

// pruneHistory applies the retention at startup and then once a day.
func pruneHistory(ctx context.Context, rec history.Recorder, retention time.Duration) {
	if retention <= 0 {
		return
	}

	prune := func() {
		removed, err := rec.Cleanup(ctx, retention)
		if err != nil {
			klog.ErrorS(err, "Failed to prune history")
			return
		}
		klog.V(2).InfoS("Pruned history", "removed", removed, "retention", retention)
	}

	prune()
	ticker := clock.Real().NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			prune()
		}
	}
}
