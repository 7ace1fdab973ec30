package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/repository/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	ErrOutOfOrder = errors.New("history: entry older than the series tail")
	ErrNoMirror   = errors.New("history: no readable mirror configured")
)

const (
	DefaultMaxEntries    = 1000
	DefaultRetentionDays = 30
	DefaultFlushEvery    = 10
	DefaultPageSize      = 100
	DefaultMaxPoints     = 100
)

// Persister stores and restores the whole history snapshot.
type Persister interface {
	Load(ctx context.Context) (file.Snapshot, error)
	Save(ctx context.Context, s file.Snapshot) error
}

type Config struct {
	MaxEntries    int
	RetentionDays int
	FlushEvery    int
}

func (c Config) retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

var (
	mAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "history_entries_appended_total", Help: "Results appended to the history store",
	})
	mPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "history_entries_pruned_total", Help: "Results dropped by retention or size cap",
	})
	mFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "history_flushes_total", Help: "History snapshot writes",
	}, []string{"result"})
	mSinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "history_sink_errors_total", Help: "Failed writes to a history mirror",
	}, []string{"op"})
)

type series struct {
	mu      sync.Mutex
	entries []check.Result
}

// Store keeps a bounded, ordered result series per service id. Appends for the
// same id are serialized by the series lock; different ids do not contend.
type Store struct {
	log   *zap.Logger
	cfg   Config
	p     Persister
	sinks []check.Sink
	now   func() time.Time

	mu     sync.RWMutex
	series map[string]*series

	pending atomic.Int64
	flushMu sync.Mutex
}

func New(log *zap.Logger, p Persister, cfg Config, sinks ...check.Sink) *Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	return &Store{
		log:    log.With(zap.String("component", "history")),
		cfg:    cfg,
		p:      p,
		sinks:  sinks,
		now:    time.Now,
		series: make(map[string]*series),
	}
}

// Load replaces the in-memory state with the persisted snapshot. A corrupt or
// unreadable snapshot leaves the store empty and is only logged.
func (s *Store) Load(ctx context.Context) {
	snap, err := s.p.Load(ctx)
	if err != nil {
		s.log.Warn("history load failed, starting empty", zap.Error(err))
		snap = file.Snapshot{}
	}

	loaded := make(map[string]*series, len(snap))
	total := 0
	for id, entries := range snap {
		sr := &series{entries: entries}
		s.prune(sr)
		loaded[id] = sr
		total += len(sr.entries)
	}

	s.mu.Lock()
	s.series = loaded
	s.mu.Unlock()
	s.pending.Store(0)
	s.log.Info("history loaded", zap.Int("services", len(loaded)), zap.Int("entries", total))
}

func (s *Store) AddEntry(ctx context.Context, id string, r check.Result) error {
	sr := s.getOrCreate(id)

	sr.mu.Lock()
	if n := len(sr.entries); n > 0 && r.Timestamp.Before(sr.entries[n-1].Timestamp) {
		sr.mu.Unlock()
		return fmt.Errorf("%w: service %s", ErrOutOfOrder, id)
	}
	sr.entries = append(sr.entries, r.Clone())
	s.prune(sr)
	sr.mu.Unlock()
	mAppended.Inc()

	for _, sink := range s.sinks {
		if err := sink.Append(ctx, id, r); err != nil {
			mSinkErrors.WithLabelValues("append").Inc()
			s.log.Warn("history sink append failed", zap.String("service_id", id), zap.Error(err))
		}
	}

	if s.pending.Add(1) >= int64(s.cfg.FlushEvery) {
		if err := s.Flush(ctx); err != nil {
			s.log.Error("history flush failed", zap.Error(err))
		}
	}
	return nil
}

// History returns page (1-based) of size pageSize in insertion order.
func (s *Store) History(id string, page, pageSize int) []check.Result {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		return []check.Result{}
	}
	sr := s.get(id)
	if sr == nil {
		return []check.Result{}
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	s.prune(sr)

	start := (page - 1) * pageSize
	if start >= len(sr.entries) {
		return []check.Result{}
	}
	end := min(start+pageSize, len(sr.entries))
	out := make([]check.Result, 0, end-start)
	for _, e := range sr.entries[start:end] {
		out = append(out, e.Clone())
	}
	return out
}

// Len reports how many entries the series currently holds.
func (s *Store) Len(id string) int {
	sr := s.get(id)
	if sr == nil {
		return 0
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	s.prune(sr)
	return len(sr.entries)
}

// LatencySeries returns UP latencies, decimated with stride len/maxPoints when
// the series is longer than maxPoints. Sampled points shift as entries arrive.
func (s *Store) LatencySeries(id string, maxPoints int) []float64 {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	sr := s.get(id)
	if sr == nil {
		return []float64{}
	}

	sr.mu.Lock()
	s.prune(sr)
	data := make([]float64, 0, len(sr.entries))
	for _, e := range sr.entries {
		if e.Up() && e.Latency != nil {
			data = append(data, *e.Latency)
		}
	}
	sr.mu.Unlock()

	if len(data) <= maxPoints {
		return data
	}
	stride := len(data) / maxPoints
	out := make([]float64, 0, len(data)/stride+1)
	for i := 0; i < len(data); i += stride {
		out = append(out, data[i])
	}
	return out
}

func (s *Store) Stats(id string) UptimeStats {
	sr := s.get(id)
	if sr == nil {
		return UptimeStats{}
	}
	sr.mu.Lock()
	s.prune(sr)
	entries := make([]check.Result, len(sr.entries))
	copy(entries, sr.entries)
	sr.mu.Unlock()
	return ComputeStats(entries, s.now())
}

// Remove drops the series of a deleted service, purges mirrors and persists.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.series[id]
	delete(s.series, id)
	s.mu.Unlock()

	for _, sink := range s.sinks {
		if err := sink.Purge(ctx, id); err != nil {
			mSinkErrors.WithLabelValues("purge").Inc()
			s.log.Warn("history sink purge failed", zap.String("service_id", id), zap.Error(err))
		}
	}
	if !ok {
		return nil
	}
	s.pending.Add(1)
	return s.Flush(ctx)
}

// Flush writes the full snapshot. On failure the unsaved count is restored so
// the next append retries.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	defer s.pruneSinks(ctx)

	unsaved := s.pending.Swap(0)
	if err := s.p.Save(ctx, s.snapshot()); err != nil {
		s.pending.Add(unsaved)
		mFlushes.WithLabelValues("error").Inc()
		return fmt.Errorf("save history: %w", err)
	}
	mFlushes.WithLabelValues("ok").Inc()
	s.log.Debug("history flushed", zap.Int64("entries", unsaved))
	return nil
}

// pruneSinks carries the retention window and the size cap over to mirrors.
func (s *Store) pruneSinks(ctx context.Context) {
	if len(s.sinks) == 0 {
		return
	}
	cutoff := s.now().Add(-s.cfg.retention())

	s.mu.RLock()
	ids := make([]string, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, sink := range s.sinks {
		for _, id := range ids {
			if err := sink.Prune(ctx, id, cutoff, s.cfg.MaxEntries); err != nil {
				mSinkErrors.WithLabelValues("prune").Inc()
				s.log.Warn("history sink prune failed", zap.String("service_id", id), zap.Error(err))
			}
		}
	}
}

// Mirrored reads up to limit of the newest results of a service back from the
// first mirror that supports reads. Entries come oldest first, like History.
func (s *Store) Mirrored(ctx context.Context, id string, limit int) ([]check.Result, error) {
	for _, sink := range s.sinks {
		r, ok := sink.(check.Reader)
		if !ok {
			continue
		}
		out, err := r.Recent(ctx, id, limit)
		if err != nil {
			mSinkErrors.WithLabelValues("read").Inc()
			return nil, fmt.Errorf("read mirror: %w", err)
		}
		slices.Reverse(out)
		return out, nil
	}
	return nil, ErrNoMirror
}

// Close flushes pending changes and closes mirrors. A store that was only
// read leaves the snapshot file untouched.
func (s *Store) Close(ctx context.Context) error {
	var err error
	if s.pending.Load() > 0 {
		err = s.Flush(ctx)
	}
	s.CloseSinks()
	return err
}

func (s *Store) CloseSinks() {
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			s.log.Warn("history sink close failed", zap.Error(err))
		}
	}
}

func (s *Store) snapshot() file.Snapshot {
	s.mu.RLock()
	ids := make(map[string]*series, len(s.series))
	for id, sr := range s.series {
		ids[id] = sr
	}
	s.mu.RUnlock()

	snap := make(file.Snapshot, len(ids))
	for id, sr := range ids {
		sr.mu.Lock()
		cp := make([]check.Result, len(sr.entries))
		copy(cp, sr.entries)
		sr.mu.Unlock()
		snap[id] = cp
	}
	return snap
}

func (s *Store) get(id string) *series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[id]
}

func (s *Store) getOrCreate(id string) *series {
	if sr := s.get(id); sr != nil {
		return sr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.series[id]; ok {
		return sr
	}
	sr := &series{}
	s.series[id] = sr
	return sr
}

// prune enforces the retention window and then the size cap, oldest first.
// Caller holds sr.mu.
func (s *Store) prune(sr *series) {
	before := len(sr.entries)
	cutoff := s.now().Add(-s.cfg.retention())

	expired := 0
	for _, e := range sr.entries {
		if e.Timestamp.Before(cutoff) {
			expired++
		}
	}
	if expired > 0 {
		kept := make([]check.Result, 0, len(sr.entries)-expired)
		for _, e := range sr.entries {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		sr.entries = kept
	}
	if extra := len(sr.entries) - s.cfg.MaxEntries; extra > 0 {
		sr.entries = append(sr.entries[:0:0], sr.entries[extra:]...)
	}
	if dropped := before - len(sr.entries); dropped > 0 {
		mPruned.Add(float64(dropped))
	}
}
