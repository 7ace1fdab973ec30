package ping_worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	config "github.com/NordCoder/Pingwatch/internal/config/pingwatch"
	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func newEngine(t *testing.T, d Doer, cfg Config) (*Engine, *[]time.Duration) {
	t.Helper()
	e := New(zap.NewNop(), d, cfg)
	waits := &[]time.Duration{}
	e.wait = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return e, waits
}

func svcFor(url string) service.Service {
	return service.Service{ID: "svc", Name: "svc", URL: url, Path: "/health"}
}

func TestCheckWithRetry_UpOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, "pingwatch-test", r.UserAgent())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, waits := newEngine(t, srv.Client(), Config{Timeout: time.Second, MaxRetries: 3, UserAgent: "pingwatch-test"})
	res := e.CheckWithRetry(context.Background(), svcFor(srv.URL))

	assert.Equal(t, check.StatusUp, res.Status)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	require.NotNil(t, res.Latency)
	assert.GreaterOrEqual(t, *res.Latency, 0.0)
	assert.Empty(t, res.Error)
	assert.False(t, res.Timestamp.IsZero())
	assert.Empty(t, *waits)
}

func TestCheckWithRetry_Non200IsDownWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, waits := newEngine(t, srv.Client(), Config{Timeout: time.Second, MaxRetries: 3})
	res := e.CheckWithRetry(context.Background(), svcFor(srv.URL))

	assert.Equal(t, check.StatusDown, res.Status)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Nil(t, res.Latency)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, *waits)
}

func TestCheckWithRetry_RedirectIsDownWhenNotFollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{Timeout: time.Second, FollowRedirects: false})
	e, _ := newEngine(t, client, Config{Timeout: time.Second, MaxRetries: 1})
	res := e.CheckWithRetry(context.Background(), svcFor(srv.URL))

	assert.Equal(t, check.StatusDown, res.Status)
	assert.Equal(t, http.StatusFound, res.StatusCode)
}

func TestCheckWithRetry_DefaultConfigReportsMovedAsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			http.Redirect(w, r, "/ok", http.StatusMovedPermanently)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.False(t, cfg.Monitor.FollowRedirects)

	client := NewHTTPClient(HTTPConfig{
		Timeout:         time.Second,
		UserAgent:       cfg.Monitor.UserAgent,
		FollowRedirects: cfg.Monitor.FollowRedirects,
		VerifyTLS:       cfg.Monitor.VerifyTLS,
	})
	e, _ := newEngine(t, client, Config{Timeout: time.Second, MaxRetries: 1})
	res := e.CheckWithRetry(context.Background(), svcFor(srv.URL))

	assert.Equal(t, check.StatusDown, res.Status)
	assert.Equal(t, http.StatusMovedPermanently, res.StatusCode)
}

func TestCheckWithRetry_ConnectionRefusedIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	var calls atomic.Int32
	client := &http.Client{Timeout: time.Second}
	d := doerFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return client.Do(r)
	})

	e, waits := newEngine(t, d, Config{Timeout: time.Second, MaxRetries: 3})
	res := e.CheckWithRetry(context.Background(), svcFor(url))

	assert.Equal(t, check.StatusDown, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.NotEqual(t, check.ErrTimeout, res.Error)
	assert.Nil(t, res.Latency)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, *waits)
}

func TestCheckWithRetry_AllAttemptsTimeOut(t *testing.T) {
	var calls atomic.Int32
	d := doerFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, timeoutErr{}
	})

	e, waits := newEngine(t, d, Config{Timeout: time.Second, MaxRetries: 3})
	res := e.CheckWithRetry(context.Background(), svcFor("http://example.invalid"))

	assert.Equal(t, check.StatusDown, res.Status)
	assert.Equal(t, check.ErrTimeout, res.Error)
	assert.Nil(t, res.Latency)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestCheckWithRetry_RecoversAfterTimeout(t *testing.T) {
	var calls atomic.Int32
	d := doerFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, timeoutErr{}
		}
		rec := httptest.NewRecorder()
		rec.WriteHeader(http.StatusOK)
		return rec.Result(), nil
	})

	e, waits := newEngine(t, d, Config{Timeout: time.Second, MaxRetries: 3})
	res := e.CheckWithRetry(context.Background(), svcFor("http://example.invalid"))

	assert.Equal(t, check.StatusUp, res.Status)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []time.Duration{time.Second}, *waits)
}

func TestCheck_RealTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	e, _ := newEngine(t, &http.Client{}, Config{Timeout: 50 * time.Millisecond, MaxRetries: 1})
	res := e.Check(context.Background(), svcFor(srv.URL))

	assert.Equal(t, check.StatusDown, res.Status)
	assert.Equal(t, check.ErrTimeout, res.Error)
}

func TestCheckAll_IndependentResultsInInputOrder(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	e, _ := newEngine(t, &http.Client{Timeout: time.Second}, Config{Timeout: time.Second, MaxRetries: 3})
	services := []service.Service{
		{ID: "a", URL: ok.URL},
		{ID: "b", URL: deadURL},
		{ID: "c", URL: failing.URL},
	}
	results := e.CheckAll(context.Background(), services)

	require.Len(t, results, 3)
	assert.Equal(t, check.StatusUp, results[0].Status)
	assert.Equal(t, check.StatusDown, results[1].Status)
	assert.NotEmpty(t, results[1].Error)
	assert.Equal(t, check.StatusDown, results[2].Status)
	assert.Equal(t, http.StatusInternalServerError, results[2].StatusCode)
}

func TestCheckAll_PanicOnlyAffectsItsService(t *testing.T) {
	d := doerFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Host == "boom.test" {
			panic("transport exploded")
		}
		rec := httptest.NewRecorder()
		rec.WriteHeader(http.StatusOK)
		return rec.Result(), nil
	})

	e, _ := newEngine(t, d, Config{Timeout: time.Second, MaxRetries: 1})
	results := e.CheckAll(context.Background(), []service.Service{
		{ID: "1", URL: "http://fine.test"},
		{ID: "2", URL: "http://boom.test"},
		{ID: "3", URL: "http://fine.test"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, check.StatusUp, results[0].Status)
	assert.Equal(t, check.StatusDown, results[1].Status)
	assert.Contains(t, results[1].Error, "transport exploded")
	assert.Equal(t, check.StatusUp, results[2].Status)
}

func TestCheckAll_Empty(t *testing.T) {
	e, _ := newEngine(t, doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("unused")
	}), Config{})
	assert.Empty(t, e.CheckAll(context.Background(), nil))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(context.DeadlineExceeded))
	assert.True(t, isTimeout(timeoutErr{}))
	assert.False(t, isTimeout(context.Canceled))
	assert.False(t, isTimeout(errors.New("connection refused")))
	assert.False(t, isTimeout(nil))
}
