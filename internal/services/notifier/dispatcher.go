package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/alert"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"github.com/NordCoder/Pingwatch/internal/obs"
	"github.com/NordCoder/Pingwatch/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 256
	defaultAttempts    = 3
	defaultSendTimeout = 10 * time.Second
	drainTimeout       = 5 * time.Second
)

var (
	mSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_sends_total",
		Help: "Alert deliveries by channel and result.",
	}, []string{"channel", "result"})
	mDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_dropped_total",
		Help: "Alerts dropped because the queue was full.",
	})
	mQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notifier_queue_depth",
		Help: "Alerts waiting for delivery.",
	})
)

type Config struct {
	QueueSize int
	Attempts  int
	Timeout   time.Duration
}

// Dispatcher fans alerts out to every configured channel. Delivery failures
// are logged and counted, never returned.
type Dispatcher struct {
	log      *zap.Logger
	channels []alert.Channel
	cfg      Config
	queue    chan alert.Alert
	wait     func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(log *zap.Logger, cfg Config, channels ...alert.Channel) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	return &Dispatcher{
		log:      log.With(zap.String("component", "notifier")),
		channels: channels,
		cfg:      cfg,
		queue:    make(chan alert.Alert, cfg.QueueSize),
	}
}

func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch.Name())
	}
	return out
}

// Dispatch sends to all channels concurrently and returns how many accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, svc service.Service, kind alert.Kind, details alert.Details) int {
	if len(d.channels) == 0 {
		return 0
	}
	ctx, span := otel.Tracer("notifier").Start(ctx, "notifier.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("service.id", svc.ID),
		attribute.String("alert.kind", string(kind)),
	)

	ok := make([]bool, len(d.channels))
	var wg conc.WaitGroup
	for i, ch := range d.channels {
		wg.Go(func() {
			ok[i] = d.sendOne(ctx, ch, svc, kind, details)
		})
	}
	wg.Wait()

	n := 0
	for _, v := range ok {
		if v {
			n++
		}
	}
	span.SetAttributes(attribute.Int("alert.delivered", n))
	obs.WithTrace(ctx, d.log).Info("alert dispatched",
		zap.String("service_id", svc.ID),
		zap.String("service", svc.Name),
		zap.String("kind", string(kind)),
		zap.Int("delivered", n),
		zap.Int("channels", len(d.channels)),
	)
	return n
}

func (d *Dispatcher) sendOne(ctx context.Context, ch alert.Channel, svc service.Service, kind alert.Kind, details alert.Details) (ok bool) {
	name := ch.Name()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("alert channel panicked", zap.String("channel", name), zap.Any("panic", r))
			mSends.WithLabelValues(name, "panic").Inc()
			ok = false
		}
	}()

	p := retry.DefaultAlertPolicy(name, d.cfg.Attempts, d.log)
	p.Wait = d.wait
	err := retry.Do(ctx, func() error {
		sctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
		return ch.Send(sctx, svc, kind, details)
	}, p)
	if err != nil {
		mSends.WithLabelValues(name, "error").Inc()
		d.log.Warn("alert delivery failed", append(obs.TraceFields(ctx),
			zap.String("channel", name),
			zap.String("service_id", svc.ID),
			zap.Error(fmt.Errorf("%s: %w", name, err)),
		)...)
		return false
	}
	mSends.WithLabelValues(name, "ok").Inc()
	return true
}

// Enqueue hands an alert to the background worker without blocking.
func (d *Dispatcher) Enqueue(a alert.Alert) bool {
	select {
	case d.queue <- a:
		mQueueDepth.Set(float64(len(d.queue)))
		return true
	default:
		mDropped.Inc()
		d.log.Warn("alert queue full, dropping alert",
			zap.String("service_id", a.Service.ID),
			zap.String("kind", string(a.Kind)),
		)
		return false
	}
}

// Run delivers queued alerts until ctx is done, then drains what is left
// within a bounded window.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("notifier started", zap.Strings("channels", d.Channels()))
	for {
		select {
		case a := <-d.queue:
			mQueueDepth.Set(float64(len(d.queue)))
			d.Dispatch(ctx, a.Service, a.Kind, a.Details)
		case <-ctx.Done():
			d.drain()
			d.log.Info("notifier stopped")
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case a := <-d.queue:
			mQueueDepth.Set(float64(len(d.queue)))
			d.Dispatch(ctx, a.Service, a.Kind, a.Details)
		default:
			return
		}
		if ctx.Err() != nil {
			d.log.Warn("drain window elapsed", zap.Int("left", len(d.queue)))
			return
		}
	}
}
