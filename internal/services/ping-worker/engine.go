package ping_worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"github.com/NordCoder/Pingwatch/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"
)

// Doer is the slice of *http.Client the engine needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	MaxParallel int
	UserAgent   string
}

var (
	mChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checker_checks_total", Help: "Finished checks by resulting status",
	}, []string{"status"})
	mTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checker_timeouts_total", Help: "Check attempts that timed out",
	})
	mPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checker_panics_total", Help: "Checks that panicked and were recorded as DOWN",
	})
	mLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checker_check_duration_seconds",
		Help:    "Wall time of a check including retries",
		Buckets: prometheus.DefBuckets,
	})
)

type Engine struct {
	log    *zap.Logger
	client Doer
	cfg    Config

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

func New(log *zap.Logger, client Doer, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Engine{
		log:    log.With(zap.String("component", "checker")),
		client: client,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Check runs a single attempt with no retry.
func (e *Engine) Check(ctx context.Context, svc service.Service) check.Result {
	res, _ := e.attempt(ctx, svc)
	e.observe(res)
	return res
}

// CheckWithRetry retries only timed-out attempts, waiting BackoffBase*2^attempt
// between them. Any other failure is final.
func (e *Engine) CheckWithRetry(ctx context.Context, svc service.Service) check.Result {
	start := time.Now()
	var res check.Result

	p := retry.CheckPolicy(e.cfg.MaxRetries, e.cfg.BackoffBase, isTimeout, e.log.With(zap.String("service_id", svc.ID)))
	p.Wait = e.wait
	err := retry.Do(ctx, func() error {
		var aerr error
		res, aerr = e.attempt(ctx, svc)
		return aerr
	}, p)
	if err != nil && isTimeout(err) {
		res = e.down(check.ErrTimeout, 0)
	}

	mLatency.Observe(time.Since(start).Seconds())
	e.observe(res)
	return res
}

// CheckAll checks every service concurrently. The i-th result belongs to services[i].
func (e *Engine) CheckAll(ctx context.Context, services []service.Service) []check.Result {
	if len(services) == 0 {
		return []check.Result{}
	}
	n := e.cfg.MaxParallel
	if n <= 0 || n > len(services) {
		n = len(services)
	}
	m := iter.Mapper[service.Service, check.Result]{MaxGoroutines: n}
	return m.Map(services, func(s *service.Service) check.Result {
		return e.safeCheck(ctx, *s)
	})
}

func (e *Engine) safeCheck(ctx context.Context, svc service.Service) (res check.Result) {
	defer func() {
		if r := recover(); r != nil {
			mPanics.Inc()
			e.log.Error("check panicked", zap.String("service_id", svc.ID), zap.Any("panic", r))
			res = e.down(fmt.Sprintf("panic: %v", r), 0)
		}
	}()
	return e.CheckWithRetry(ctx, svc)
}

// attempt performs one GET. The returned error is the transport failure, if any;
// a non-200 response is a DOWN result, not an error.
func (e *Engine) attempt(ctx context.Context, svc service.Service) (check.Result, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, svc.Target(), nil)
	if err != nil {
		return e.down(err.Error(), 0), err
	}
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			mTimeouts.Inc()
			return e.down(check.ErrTimeout, 0), err
		}
		return e.down(err.Error(), 0), err
	}
	elapsed := time.Since(start)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return e.down("", resp.StatusCode), nil
	}
	return check.Result{
		Timestamp:  e.now(),
		Status:     check.StatusUp,
		Latency:    check.Latency(elapsed),
		StatusCode: resp.StatusCode,
	}, nil
}

func (e *Engine) down(msg string, code int) check.Result {
	return check.Result{Timestamp: e.now(), Status: check.StatusDown, StatusCode: code, Error: msg}
}

func (e *Engine) observe(r check.Result) {
	mChecks.WithLabelValues(string(r.Status)).Inc()
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
