package main

import (
	"context"
	"fmt"
	"os"

	config "github.com/NordCoder/Pingwatch/internal/config/pingwatch"
	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/obs"
	"github.com/NordCoder/Pingwatch/internal/repository/file"
	pg "github.com/NordCoder/Pingwatch/internal/repository/postgres"
	"github.com/NordCoder/Pingwatch/internal/repository/sqlite"
	"github.com/NordCoder/Pingwatch/internal/services/history"
	ping_worker "github.com/NordCoder/Pingwatch/internal/services/ping-worker"
	"github.com/NordCoder/Pingwatch/internal/services/scheduler"
	"github.com/NordCoder/Pingwatch/internal/services/scheduler/repo"
	"go.uber.org/zap"
)

// app is the wired monitoring core shared by the daemon and the CLI commands.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	history *history.Store
	engine  *ping_worker.Engine
	uc      *scheduler.Usecase
	health  func(context.Context) error
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, l, nil
}

func bootstrap(ctx context.Context, cfg *config.Config, l *zap.Logger, alerts repo.Alerts) (*app, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.Storage.DataDir, err)
	}

	a := &app{cfg: cfg, log: l}

	var sinks []check.Sink
	if sink, health, err := openSink(ctx, cfg); err != nil {
		l.Warn("history sink unavailable, continuing with the file store only",
			zap.String("kind", cfg.History.SinkKind()), zap.Error(err))
	} else if sink != nil {
		sinks = append(sinks, sink)
		a.health = health
		l.Info("history sink enabled", zap.String("kind", cfg.History.SinkKind()))
	}

	a.history = history.New(l, file.NewHistoryRepo(cfg.History.File), history.Config{
		MaxEntries:    cfg.History.MaxEntries,
		RetentionDays: cfg.History.RetentionDays,
		FlushEvery:    cfg.History.FlushEvery,
	}, sinks...)
	a.history.Load(ctx)

	client := ping_worker.NewHTTPClient(ping_worker.HTTPConfig{
		Timeout:         cfg.Monitor.Timeout,
		UserAgent:       cfg.Monitor.UserAgent,
		FollowRedirects: cfg.Monitor.FollowRedirects,
		VerifyTLS:       cfg.Monitor.VerifyTLS,
	})
	a.engine = ping_worker.New(l, client, ping_worker.Config{
		Timeout:     cfg.Monitor.Timeout,
		MaxRetries:  cfg.Monitor.MaxRetries,
		BackoffBase: cfg.Monitor.BackoffBase,
		MaxParallel: cfg.Monitor.MaxParallel,
		UserAgent:   cfg.Monitor.UserAgent,
	})

	a.uc = scheduler.NewUC(l, scheduler.NewRegistry(cfg.Monitor.DefaultInterval), scheduler.Deps{
		Checker:  a.engine,
		History:  a.history,
		Alerts:   alerts,
		Services: file.NewServiceRepo(cfg.Storage.ServicesFile),
	}, scheduler.Config{
		AlertThreshold: cfg.Alerts.Threshold,
		HonorIntervals: cfg.Monitor.HonorIntervals,
		Tick:           cfg.Monitor.Tick,
	})
	if err := a.uc.Load(ctx); err != nil {
		l.Warn("starting with an empty service list", zap.Error(err))
	}
	return a, nil
}

func openSink(ctx context.Context, cfg *config.Config) (check.Sink, func(context.Context) error, error) {
	switch cfg.History.SinkKind() {
	case "postgres":
		db, err := pg.New(ctx, cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		return pg.NewResultRepo(db), db.Ping, nil
	case "sqlite":
		s, err := sqlite.NewResultSink(ctx, cfg.History.SinkDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	return nil, nil, nil
}

// release closes the history mirrors without writing any state file.
func (a *app) release() {
	a.history.CloseSinks()
}

// close flushes history and saves the service list.
func (a *app) close(ctx context.Context) {
	if err := a.uc.Close(ctx); err != nil {
		a.log.Warn("final service save failed", zap.Error(err))
	}
	if err := a.history.Close(ctx); err != nil {
		a.log.Warn("final history flush failed", zap.Error(err))
	}
}
