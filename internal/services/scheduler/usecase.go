package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/alert"
	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/event"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"github.com/NordCoder/Pingwatch/internal/obs"
	"github.com/NordCoder/Pingwatch/internal/services/scheduler/repo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	mTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_transitions_total",
		Help: "Status transitions by target status.",
	}, []string{"to"})
	mAlertsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_alerts_enqueued_total",
		Help: "Alerts handed to the notifier, by kind and acceptance.",
	}, []string{"kind", "accepted"})
	mApplyPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_apply_panics_total",
		Help: "Panics recovered while applying a check result.",
	})
	mDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_results_discarded_total",
		Help: "Check results dropped because the service was removed mid-tick.",
	})
	mPersistErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_persist_errors_total",
		Help: "Failed saves of the service list.",
	})
	mServices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_services",
		Help: "Services currently registered.",
	})
)

type Config struct {
	AlertThreshold int
	HonorIntervals bool
	// Tick is the scheduling granularity; half of it is tolerated as jitter
	// when deciding whether a service is due.
	Tick time.Duration
}

type Deps struct {
	Checker  repo.Checker
	History  repo.History
	Alerts   repo.Alerts
	Services service.Repo
	Bus      *Bus
}

// TickStats summarizes one tick.
type TickStats struct {
	Services    int
	Due         int
	Applied     int
	Discarded   int
	Transitions int
	Alerts      int
}

type Usecase struct {
	log  *zap.Logger
	reg  *Registry
	deps Deps
	cfg  Config

	// tickMu keeps ticks and CheckNow strictly sequential.
	tickMu sync.Mutex
	// applyMu makes result application and removal mutually exclusive.
	applyMu   sync.Mutex
	persistMu sync.Mutex

	dueMu   sync.Mutex
	lastDue map[string]time.Time

	// stored is the definition set last read from or written to the service
	// repo, guarded by persistMu. Edits by other writers are detected against
	// it. Nil until Load.
	stored map[string]service.Definition

	now func() time.Time
}

func NewUC(log *zap.Logger, reg *Registry, deps Deps, cfg Config) *Usecase {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Bus == nil {
		deps.Bus = NewBus(log)
	}
	if deps.Services == nil {
		deps.Services = repo.NopServices{}
	}
	if cfg.AlertThreshold < 1 {
		cfg.AlertThreshold = 1
	}
	return &Usecase{
		log:     log.With(zap.String("component", "scheduler")),
		reg:     reg,
		deps:    deps,
		cfg:     cfg,
		lastDue: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (u *Usecase) Bus() *Bus { return u.deps.Bus }

// Load rebuilds the registry from the persisted service list.
func (u *Usecase) Load(ctx context.Context) error {
	list, err := u.deps.Services.Load(ctx)
	if err != nil {
		u.log.Warn("service list unreadable, starting empty", zap.Error(err))
	}
	if rerr := u.reg.Restore(list); rerr != nil {
		u.log.Warn("service list had invalid entries", zap.Error(rerr))
	}
	mServices.Set(float64(u.reg.Len()))
	u.log.Info("services loaded", zap.Int("count", u.reg.Len()))

	if _, nop := u.deps.Services.(repo.NopServices); !nop {
		u.persistMu.Lock()
		u.stored = definitions(u.reg.List())
		u.persistMu.Unlock()
	}
	return err
}

func (u *Usecase) Tick(ctx context.Context) (TickStats, error) {
	u.tickMu.Lock()
	defer u.tickMu.Unlock()

	tr := otel.Tracer("scheduler.uc")
	ctxTick, span := tr.Start(ctx, "scheduler.tick")
	defer span.End()
	log := obs.WithTrace(ctxTick, u.log)

	start := u.now()
	snap := u.reg.List()
	due := u.selectDue(snap, start)
	st := TickStats{Services: len(snap), Due: len(due)}
	span.SetAttributes(
		attribute.Int("services.total", st.Services),
		attribute.Int("services.due", st.Due),
	)
	if len(due) == 0 {
		return st, nil
	}

	results := u.deps.Checker.CheckAll(ctxTick, due)
	if err := ctxTick.Err(); err != nil {
		log.Info("tick cancelled, discarding results", zap.Int("due", len(due)))
		return st, err
	}

	ctxApply, sp := tr.Start(ctxTick, "scheduler.apply",
		trace.WithAttributes(attribute.Int("results", len(results))),
	)
	for i, svc := range due {
		u.apply(ctxApply, log, svc.ID, start, results[i], &st)
	}
	sp.SetAttributes(
		attribute.Int("applied", st.Applied),
		attribute.Int("transitions", st.Transitions),
	)
	sp.End()

	if err := u.persist(ctxTick); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist services")
		return st, err
	}
	return st, nil
}

func (u *Usecase) selectDue(list []service.Service, at time.Time) []service.Service {
	if !u.cfg.HonorIntervals {
		return list
	}
	slack := u.cfg.Tick / 2

	u.dueMu.Lock()
	defer u.dueMu.Unlock()
	due := make([]service.Service, 0, len(list))
	for _, s := range list {
		last, seen := u.lastDue[s.ID]
		if seen && at.Before(last.Add(s.Interval()-slack)) {
			continue
		}
		due = append(due, s)
	}
	return due
}

// markChecked starts a new interval for id. Only applied results count, so a
// cancelled tick leaves its services due.
func (u *Usecase) markChecked(id string, at time.Time) {
	u.dueMu.Lock()
	u.lastDue[id] = at
	u.dueMu.Unlock()
}

func (u *Usecase) apply(ctx context.Context, log *zap.Logger, id string, at time.Time, r check.Result, st *TickStats) {
	defer func() {
		if p := recover(); p != nil {
			mApplyPanics.Inc()
			log.Error("panic while applying result", zap.String("service_id", id), zap.Any("panic", p))
		}
	}()

	u.applyMu.Lock()
	defer u.applyMu.Unlock()

	var out outcome
	svc, ok := u.reg.Apply(id, func(s *service.Service) {
		out = applyResult(s, r, u.cfg.AlertThreshold)
	})
	if !ok {
		st.Discarded++
		mDiscarded.Inc()
		log.Debug("service removed during tick, result discarded", zap.String("service_id", id))
		return
	}
	st.Applied++
	u.markChecked(id, at)

	if err := u.deps.History.AddEntry(ctx, id, r); err != nil {
		log.Warn("history append failed", zap.String("service_id", id), zap.Error(err))
	}

	u.deps.Bus.Publish(event.Event{Kind: event.KindUpdated, Service: svc})

	if out.transition != nil {
		st.Transitions++
		mTransitions.WithLabelValues(string(out.transition.New)).Inc()
		log.Info("status transition",
			zap.String("service_id", id),
			zap.String("service", svc.Name),
			zap.String("from", string(out.transition.Old)),
			zap.String("to", string(out.transition.New)),
		)
		u.deps.Bus.Publish(event.Event{Kind: event.KindTransition, Service: svc, Transition: out.transition})
	}

	if out.alert != "" && u.deps.Alerts != nil {
		st.Alerts++
		accepted := u.deps.Alerts.Enqueue(alert.Alert{
			Service: svc,
			Kind:    out.alert,
			Details: alert.DetailsFrom(svc, r),
		})
		mAlertsQueued.WithLabelValues(string(out.alert), fmt.Sprint(accepted)).Inc()
	}
}

// persist merges edits other writers made to the stored list, then saves.
func (u *Usecase) persist(ctx context.Context) error {
	u.persistMu.Lock()
	defer u.persistMu.Unlock()

	st, err := u.mergeStored(ctx)
	switch {
	case err != nil:
		u.log.Warn("stored service list unreadable, overwriting it", zap.Error(err))
	case st.Changed():
		u.log.Info("merged external service edits", st.fields()...)
	}
	return u.saveLocked(ctx)
}

// saveLocked writes the registry. Caller holds persistMu.
func (u *Usecase) saveLocked(ctx context.Context) error {
	list := u.reg.List()
	if err := u.deps.Services.Save(ctx, list); err != nil {
		mPersistErr.Inc()
		u.log.Warn("persist services failed, keeping last good copy", zap.Error(err))
		return fmt.Errorf("persist services: %w", err)
	}
	if u.stored != nil {
		u.stored = definitions(list)
	}
	return nil
}

func (u *Usecase) AddService(ctx context.Context, def service.Definition) (service.Service, error) {
	svc, err := u.add(def)
	if err != nil {
		return service.Service{}, err
	}
	_ = u.persist(ctx)
	return svc, nil
}

func (u *Usecase) add(def service.Definition) (service.Service, error) {
	svc, err := u.reg.Add(def)
	if err != nil {
		return service.Service{}, err
	}
	mServices.Set(float64(u.reg.Len()))
	u.log.Info("service added", zap.String("service_id", svc.ID), zap.String("service", svc.Name), zap.String("url", svc.Target()))
	u.deps.Bus.Publish(event.Event{Kind: event.KindUpdated, Service: svc})
	return svc, nil
}

// RemoveService deletes a service and its history. A check of this service
// still in flight is discarded when it completes.
func (u *Usecase) RemoveService(ctx context.Context, id string) error {
	if err := u.remove(ctx, id); err != nil {
		return err
	}
	_ = u.persist(ctx)
	return nil
}

func (u *Usecase) remove(ctx context.Context, id string) error {
	u.applyMu.Lock()
	svc, err := u.reg.Remove(id)
	u.applyMu.Unlock()
	if err != nil {
		return err
	}

	u.dueMu.Lock()
	delete(u.lastDue, id)
	u.dueMu.Unlock()

	if err := u.deps.History.Remove(ctx, id); err != nil {
		u.log.Warn("history removal failed", zap.String("service_id", id), zap.Error(err))
	}
	mServices.Set(float64(u.reg.Len()))
	u.log.Info("service removed", zap.String("service_id", id), zap.String("service", svc.Name))
	return nil
}

func (u *Usecase) UpdateService(ctx context.Context, id string, p service.Patch) (service.Service, error) {
	svc, err := u.update(id, p)
	if err != nil {
		return service.Service{}, err
	}
	_ = u.persist(ctx)
	return svc, nil
}

func (u *Usecase) update(id string, p service.Patch) (service.Service, error) {
	svc, err := u.reg.Update(id, p)
	if err != nil {
		return service.Service{}, err
	}
	if p.URL != nil || p.Path != nil || p.CheckInterval != nil {
		u.dueMu.Lock()
		delete(u.lastDue, id)
		u.dueMu.Unlock()
	}
	u.deps.Bus.Publish(event.Event{Kind: event.KindUpdated, Service: svc})
	return svc, nil
}

func (u *Usecase) Services() []service.Service { return u.reg.List() }

func (u *Usecase) Service(id string) (service.Service, error) {
	s, ok := u.reg.Get(id)
	if !ok {
		return service.Service{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// CheckNow probes one service outside the regular schedule and applies the
// result like a tick would.
func (u *Usecase) CheckNow(ctx context.Context, id string) (check.Result, error) {
	u.tickMu.Lock()
	defer u.tickMu.Unlock()

	svc, ok := u.reg.Get(id)
	if !ok {
		return check.Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r := u.deps.Checker.CheckWithRetry(ctx, svc)
	if err := ctx.Err(); err != nil {
		return r, err
	}

	var st TickStats
	u.apply(ctx, u.log, id, u.now(), r, &st)
	if st.Discarded > 0 {
		return r, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_ = u.persist(ctx)
	return r, nil
}

// Close saves the final service list.
func (u *Usecase) Close(ctx context.Context) error {
	u.tickMu.Lock()
	defer u.tickMu.Unlock()
	err := u.persist(ctx)
	u.deps.Bus.Close()
	return err
}
