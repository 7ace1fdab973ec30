package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/NordCoder/Pingwatch/internal/obs"
	"github.com/NordCoder/Pingwatch/internal/repository/file"
	"github.com/NordCoder/Pingwatch/internal/services/notifier"
	"github.com/NordCoder/Pingwatch/internal/services/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the monitoring daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), opts)
		},
	}
}

func runDaemon(parent context.Context, opts *rootOpts) error {
	// init
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, l, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()
	l.Info("starting pingwatch",
		zap.Duration("tick", cfg.Monitor.Tick),
		zap.Duration("timeout", cfg.Monitor.Timeout),
		zap.Int("max_retries", cfg.Monitor.MaxRetries),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// alerts
	channels, closeChannels := notifier.ChannelsFromConfig(ctx, cfg.Alerts, l)
	defer func() { _ = closeChannels() }()
	dispatcher := notifier.NewDispatcher(l, notifier.Config{
		QueueSize: cfg.Alerts.QueueSize,
		Attempts:  cfg.Alerts.Attempts,
		Timeout:   cfg.Alerts.Timeout,
	}, channels...)

	// core
	a, err := bootstrap(ctx, cfg, l, dispatcher)
	if err != nil {
		l.Error("bootstrap failed", zap.Error(err))
		return err
	}

	// run metrics server
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, a.health, l,
		obs.Route{Pattern: "/status", Handler: statusHandler(a.uc)},
	)

	runner := scheduler.NewRunner(l, a.uc, cfg.Monitor.Tick)

	// run
	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(3)
	go func() {
		defer wg.Done()
		errCh <- runner.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		// CLI edits land in the services file; merge them without a restart.
		err := file.Watch(ctx, cfg.Storage.ServicesFile, file.DefaultSettle, l, func() {
			if _, err := a.uc.Sync(ctx); err != nil {
				l.Warn("service list sync failed", zap.Error(err))
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Warn("service file watch stopped, edits are merged on the next save", zap.Error(err))
		}
	}()

	l.Info("pingwatch started",
		zap.Int("services", len(a.uc.Services())),
		zap.Strings("alert_channels", dispatcher.Channels()),
	)

	// loop
	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("runner error", zap.Error(err))
		}
		stop()
	}
	wg.Wait()

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.close(shCtx)
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
	return nil
}

func statusHandler(uc *scheduler.Usecase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(uc.Services())
	})
}
