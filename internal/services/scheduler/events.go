package scheduler

import (
	"sync"

	"github.com/NordCoder/Pingwatch/internal/domain/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var mEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scheduler_events_dropped_total",
	Help: "Events not delivered to a subscriber whose buffer was full.",
}, []string{"kind"})

// Bus fans events out to subscribers without ever blocking the publisher.
type Bus struct {
	log  *zap.Logger
	mu   sync.RWMutex
	next int
	subs map[int]chan event.Event
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, subs: make(map[int]chan event.Event)}
}

// Subscribe returns a buffered stream and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan event.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan event.Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(ev event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			mEventsDropped.WithLabelValues(string(ev.Kind)).Inc()
			b.log.Warn("subscriber too slow, event dropped",
				zap.Int("subscriber", id),
				zap.String("kind", string(ev.Kind)),
				zap.String("service_id", ev.Service.ID),
			)
		}
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
