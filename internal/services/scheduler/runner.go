package scheduler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const defaultTick = 10 * time.Second

var (
	mTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ticks_total", Help: "Scheduler ticks run",
	})
	mChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_services_checked_total", Help: "Due services checked",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_errors_total", Help: "Errors in scheduler loop",
	})
	mOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_tick_overruns_total", Help: "Ticks that took longer than the tick interval",
	})
	mLoopDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "scheduler_loop_duration_seconds", Help: "Scheduler tick duration",
		Buckets: prometheus.DefBuckets,
	})
)

type Runner struct {
	Log  *zap.Logger
	UC   *Usecase
	Tick time.Duration
}

func NewRunner(log *zap.Logger, uc *Usecase, tick time.Duration) *Runner {
	if tick <= 0 {
		tick = defaultTick
	}
	return &Runner{Log: log, UC: uc, Tick: tick}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	st, err := r.UC.Tick(ctx)
	elapsed := time.Since(start)

	mTicks.Inc()
	mLoopDur.Observe(elapsed.Seconds())
	if err != nil && ctx.Err() == nil {
		mErr.Inc()
		r.Log.Warn("tick error", zap.Error(err))
	}
	if st.Due > 0 {
		mChecked.Add(float64(st.Applied))
		r.Log.Debug("tick done",
			zap.Int("services", st.Services),
			zap.Int("due", st.Due),
			zap.Int("applied", st.Applied),
			zap.Int("discarded", st.Discarded),
			zap.Int("transitions", st.Transitions),
			zap.Int("alerts", st.Alerts),
			zap.Duration("elapsed", elapsed),
		)
	}
	if elapsed > r.Tick {
		mOverruns.Inc()
		r.Log.Warn("tick overran interval, next tick delayed",
			zap.Duration("elapsed", elapsed),
			zap.Duration("interval", r.Tick),
		)
	}
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}
