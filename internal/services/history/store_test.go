package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/repository/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memPersister struct {
	mu      sync.Mutex
	saved   file.Snapshot
	saves   int
	saveErr error
	loadErr error
}

func (m *memPersister) Load(context.Context) (file.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.saved, nil
}

func (m *memPersister) Save(_ context.Context, s file.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.saved = s
	return nil
}

func (m *memPersister) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type recordingSink struct {
	mu       sync.Mutex
	appended map[string]int
	purged   []string
	pruned   map[string]time.Time
	keep     int
	recent   []check.Result
	err      error
}

func (r *recordingSink) Prune(_ context.Context, id string, before time.Time, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pruned == nil {
		r.pruned = map[string]time.Time{}
	}
	r.pruned[id] = before
	r.keep = keep
	return r.err
}

func (r *recordingSink) Recent(_ context.Context, _ string, limit int) ([]check.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]check.Result, 0, limit)
	for i := len(r.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.recent[i])
	}
	return out, r.err
}

func (r *recordingSink) Append(_ context.Context, id string, _ check.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appended == nil {
		r.appended = map[string]int{}
	}
	r.appended[id]++
	return r.err
}

func (r *recordingSink) Purge(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged = append(r.purged, id)
	return r.err
}

func (r *recordingSink) Close() error { return nil }

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newStore(p Persister, cfg Config, sinks ...check.Sink) *Store {
	s := New(zap.NewNop(), p, cfg, sinks...)
	s.now = func() time.Time { return t0 }
	return s
}

func up(at time.Time, latency float64) check.Result {
	return check.Result{Timestamp: at, Status: check.StatusUp, Latency: &latency, StatusCode: 200}
}

func down(at time.Time) check.Result {
	return check.Result{Timestamp: at, Status: check.StatusDown, Error: "refused"}
}

func TestStore_UnknownServiceIsEmpty(t *testing.T) {
	s := newStore(&memPersister{}, Config{})

	assert.Empty(t, s.History("nope", 1, 10))
	assert.Empty(t, s.LatencySeries("nope", 10))
	assert.Equal(t, UptimeStats{}, s.Stats("nope"))
	assert.Zero(t, s.Len("nope"))
}

func TestStore_PaginationIsOneBased(t *testing.T) {
	ctx := context.Background()
	s := newStore(&memPersister{}, Config{FlushEvery: 1000})
	for i := 0; i < 25; i++ {
		require.NoError(t, s.AddEntry(ctx, "a", up(t0.Add(time.Duration(i)*time.Second), float64(i))))
	}

	p1 := s.History("a", 1, 10)
	require.Len(t, p1, 10)
	assert.Equal(t, 0.0, *p1[0].Latency)

	p3 := s.History("a", 3, 10)
	require.Len(t, p3, 5)
	assert.Equal(t, 20.0, *p3[0].Latency)
	assert.Equal(t, 24.0, *p3[4].Latency)

	assert.Empty(t, s.History("a", 4, 10))
	assert.Empty(t, s.History("a", 0, 10))
	assert.Empty(t, s.History("a", -1, 10))
	assert.Len(t, s.History("a", 1, 0), 25)
}

func TestStore_MaxEntriesKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	s := newStore(&memPersister{}, Config{MaxEntries: 5, FlushEvery: 1000})
	for i := 0; i < 12; i++ {
		require.NoError(t, s.AddEntry(ctx, "a", up(t0.Add(time.Duration(i)*time.Second), float64(i))))
	}

	got := s.History("a", 1, 100)
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, float64(7+i), *e.Latency)
	}
}

func TestStore_RetentionDropsOldEntries(t *testing.T) {
	ctx := context.Background()
	s := newStore(&memPersister{}, Config{RetentionDays: 30, FlushEvery: 1000})

	old := t0.Add(-31 * 24 * time.Hour)
	require.NoError(t, s.AddEntry(ctx, "a", up(old, 1)))
	require.NoError(t, s.AddEntry(ctx, "a", up(old.Add(time.Hour), 2)))
	assert.Empty(t, s.History("a", 1, 100))

	require.NoError(t, s.AddEntry(ctx, "a", up(t0.Add(-time.Hour), 3)))
	got := s.History("a", 1, 100)
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, *got[0].Latency)
}

func TestStore_EntriesAgeOutWithoutNewInserts(t *testing.T) {
	ctx := context.Background()
	s := newStore(&memPersister{}, Config{RetentionDays: 1, FlushEvery: 1000})
	require.NoError(t, s.AddEntry(ctx, "a", up(t0, 1)))
	require.Len(t, s.History("a", 1, 10), 1)

	s.now = func() time.Time { return t0.Add(25 * time.Hour) }
	assert.Empty(t, s.History("a", 1, 10))
}

func TestStore_RejectsOutOfOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(&memPersister{}, Config{FlushEvery: 1000})
	require.NoError(t, s.AddEntry(ctx, "a", up(t0, 1)))

	err := s.AddEntry(ctx, "a", up(t0.Add(-time.Second), 2))
	require.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 1, s.Len("a"))

	require.NoError(t, s.AddEntry(ctx, "a", up(t0, 3)), "equal timestamps keep insertion order")
}

func TestStore_FlushesEveryBatch(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	s := newStore(p, Config{FlushEvery: 10})

	for i := 0; i < 9; i++ {
		require.NoError(t, s.AddEntry(ctx, "a", up(t0.Add(time.Duration(i)*time.Second), 1)))
	}
	assert.Equal(t, 0, p.saveCount())

	require.NoError(t, s.AddEntry(ctx, "a", up(t0.Add(10*time.Second), 1)))
	assert.Equal(t, 1, p.saveCount())
	assert.Len(t, p.saved["a"], 10)

	require.NoError(t, s.AddEntry(ctx, "b", down(t0)))
	assert.Equal(t, 1, p.saveCount())
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 2, p.saveCount())
	assert.Len(t, p.saved["b"], 1)
}

func TestStore_FailedFlushIsRetried(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{saveErr: errors.New("disk full")}
	s := newStore(p, Config{FlushEvery: 2})

	require.NoError(t, s.AddEntry(ctx, "a", up(t0, 1)))
	require.NoError(t, s.AddEntry(ctx, "a", up(t0.Add(time.Second), 1)), "flush errors are logged, not returned")
	assert.Equal(t, 2, s.Len("a"))

	p.mu.Lock()
	p.saveErr = nil
	p.mu.Unlock()

	require.NoError(t, s.AddEntry(ctx, "a", up(t0.Add(2*time.Second), 1)))
	assert.Equal(t, 1, p.saveCount())
	assert.Len(t, p.saved["a"], 3)
}

func TestStore_RoundTripThroughFile(t *testing.T) {
	ctx := context.Background()
	repo := file.NewHistoryRepo(filepath.Join(t.TempDir(), "history.json"))

	s := newStore(repo, Config{FlushEvery: 1000})
	for i := 0; i < 7; i++ {
		at := t0.Add(time.Duration(i-7) * time.Minute)
		r := up(at, 0.01*float64(i))
		if i%3 == 0 {
			r = down(at)
		}
		require.NoError(t, s.AddEntry(ctx, fmt.Sprintf("svc-%d", i%2), r))
	}
	require.NoError(t, s.Flush(ctx))

	loaded := newStore(repo, Config{})
	loaded.Load(ctx)

	for _, id := range []string{"svc-0", "svc-1"} {
		want := s.History(id, 1, 100)
		got := loaded.History(id, 1, 100)
		require.Len(t, got, len(want))
		for i := range want {
			assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
			assert.Equal(t, want[i].Status, got[i].Status)
			assert.Equal(t, want[i].Latency, got[i].Latency)
			assert.Equal(t, want[i].Error, got[i].Error)
		}
	}
}

func TestStore_CorruptLoadStartsEmpty(t *testing.T) {
	s := newStore(&memPersister{loadErr: file.ErrCorrupt}, Config{})
	s.Load(context.Background())
	assert.Zero(t, s.Len("a"))
}

func TestStore_RemoveDropsSeriesAndPurgesSinks(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	sink := &recordingSink{}
	s := newStore(p, Config{FlushEvery: 1000}, sink)

	require.NoError(t, s.AddEntry(ctx, "a", up(t0, 1)))
	require.NoError(t, s.AddEntry(ctx, "b", up(t0, 1)))
	require.NoError(t, s.Remove(ctx, "a"))

	assert.Empty(t, s.History("a", 1, 10))
	assert.Len(t, s.History("b", 1, 10), 1)
	assert.Equal(t, []string{"a"}, sink.purged)
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, sink.appended)
	_, persisted := p.saved["a"]
	assert.False(t, persisted)
}

func TestStore_SinkFailureDoesNotBlockAppend(t *testing.T) {
	s := newStore(&memPersister{}, Config{}, &recordingSink{err: errors.New("db down")})
	require.NoError(t, s.AddEntry(context.Background(), "a", up(t0, 1)))
	assert.Equal(t, 1, s.Len("a"))
}

func TestStore_LatencySeries(t *testing.T) {
	ctx := context.Background()
	s := newStore(&memPersister{}, Config{FlushEvery: 1000})
	for i := 0; i < 10; i++ {
		r := up(t0.Add(time.Duration(i)*time.Second), float64(i))
		if i == 4 {
			r = down(r.Timestamp)
		}
		require.NoError(t, s.AddEntry(ctx, "a", r))
	}

	assert.Equal(t, []float64{0, 1, 2, 3, 5, 6, 7, 8, 9}, s.LatencySeries("a", 100))
	// 9 points, max 4 -> stride 2.
	assert.Equal(t, []float64{0, 2, 5, 7, 9}, s.LatencySeries("a", 4))
	assert.Equal(t, []float64{0, 3, 7}, s.LatencySeries("a", 3))
}

func TestStore_ConcurrentAppendsAcrossServices(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{}
	s := newStore(p, Config{FlushEvery: 7, MaxEntries: 1000})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("svc-%d", w)
			for i := 0; i < 50; i++ {
				assert.NoError(t, s.AddEntry(ctx, id, up(t0.Add(time.Duration(i)*time.Millisecond), 1)))
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < 8; w++ {
		assert.Equal(t, 50, s.Len(fmt.Sprintf("svc-%d", w)))
	}
}

func TestStore_FlushPrunesSinks(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	s := newStore(&memPersister{}, Config{FlushEvery: 1000, MaxEntries: 50, RetentionDays: 7}, sink)

	require.NoError(t, s.AddEntry(ctx, "a", up(t0, 1)))
	require.NoError(t, s.AddEntry(ctx, "b", down(t0)))
	require.NoError(t, s.Flush(ctx))

	want := t0.Add(-7 * 24 * time.Hour)
	require.Len(t, sink.pruned, 2)
	assert.True(t, want.Equal(sink.pruned["a"]))
	assert.True(t, want.Equal(sink.pruned["b"]))
	assert.Equal(t, 50, sink.keep)
}

func TestStore_CloseWithoutChangesDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	p := &memPersister{saved: file.Snapshot{"a": {up(t0, 1)}}}
	s := newStore(p, Config{})
	s.Load(ctx)

	assert.Len(t, s.History("a", 1, 10), 1)
	require.NoError(t, s.Close(ctx))
	assert.Zero(t, p.saveCount())
}

func TestStore_MirroredReadsOldestFirst(t *testing.T) {
	ctx := context.Background()
	_, err := newStore(&memPersister{}, Config{}).Mirrored(ctx, "a", 10)
	assert.ErrorIs(t, err, ErrNoMirror)

	sink := &recordingSink{recent: []check.Result{up(t0, 1), down(t0.Add(time.Second)), up(t0.Add(2*time.Second), 2)}}
	s := newStore(&memPersister{}, Config{}, sink)

	got, err := s.Mirrored(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, check.StatusDown, got[0].Status)
	assert.True(t, t0.Add(2*time.Second).Equal(got[1].Timestamp))
}
