package notifier

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	config "github.com/NordCoder/Pingwatch/internal/config/pingwatch"
	"github.com/NordCoder/Pingwatch/internal/domain/alert"
	"github.com/NordCoder/Pingwatch/internal/domain/kafka"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChannel struct {
	name  string
	mu    sync.Mutex
	fails int
	calls int
	sent  []alert.Kind
	panic bool
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, _ service.Service, kind alert.Kind, _ alert.Details) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("boom")
	}
	if f.fails > 0 {
		f.fails--
		return errors.New("unavailable")
	}
	f.sent = append(f.sent, kind)
	return nil
}

func (f *fakeChannel) delivered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func noWait(context.Context, time.Duration) error { return nil }

func testService() service.Service {
	return service.Service{ID: "svc-1", Name: "api", URL: "http://api.local", Path: "/health"}
}

func testDetails() alert.Details {
	lat := 0.25
	return alert.Details{
		Timestamp:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Latency:         &lat,
		URL:             "http://api.local/health",
		StatusCode:      503,
		ConsecutiveDown: 3,
	}
}

func newTestDispatcher(cfg Config, chs ...alert.Channel) *Dispatcher {
	d := NewDispatcher(zap.NewNop(), cfg, chs...)
	d.wait = noWait
	return d
}

func TestDispatch_FailingChannelDoesNotBlockOthers(t *testing.T) {
	bad := &fakeChannel{name: "bad", fails: 100}
	good := &fakeChannel{name: "good"}
	d := newTestDispatcher(Config{Attempts: 2}, bad, good)

	n := d.Dispatch(context.Background(), testService(), alert.KindDown, testDetails())

	assert.Equal(t, 1, n)
	assert.Equal(t, 2, bad.calls)
	assert.Equal(t, []alert.Kind{alert.KindDown}, good.sent)
}

func TestDispatch_RetriesTransientFailure(t *testing.T) {
	ch := &fakeChannel{name: "flaky", fails: 2}
	d := newTestDispatcher(Config{Attempts: 3}, ch)

	n := d.Dispatch(context.Background(), testService(), alert.KindUp, testDetails())

	assert.Equal(t, 1, n)
	assert.Equal(t, 3, ch.calls)
}

func TestDispatch_RecoversChannelPanic(t *testing.T) {
	boom := &fakeChannel{name: "boom", panic: true}
	good := &fakeChannel{name: "good"}
	d := newTestDispatcher(Config{Attempts: 1}, boom, good)

	n := d.Dispatch(context.Background(), testService(), alert.KindDown, testDetails())

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, good.delivered())
}

func TestDispatch_NoChannels(t *testing.T) {
	d := newTestDispatcher(Config{})
	assert.Zero(t, d.Dispatch(context.Background(), testService(), alert.KindDown, testDetails()))
	assert.Empty(t, d.Channels())
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	d := newTestDispatcher(Config{QueueSize: 1}, &fakeChannel{name: "x"})

	assert.True(t, d.Enqueue(alert.Alert{Service: testService(), Kind: alert.KindDown}))
	assert.False(t, d.Enqueue(alert.Alert{Service: testService(), Kind: alert.KindUp}))
}

func TestRun_DeliversQueuedAlertsAndDrainsOnStop(t *testing.T) {
	ch := &fakeChannel{name: "x"}
	d := newTestDispatcher(Config{QueueSize: 8}, ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.True(t, d.Enqueue(alert.Alert{Service: testService(), Kind: alert.KindDown, Details: testDetails()}))
	require.Eventually(t, func() bool { return ch.delivered() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// queued after stop: Run is gone, but a fresh run with a dead context drains
	require.True(t, d.Enqueue(alert.Alert{Service: testService(), Kind: alert.KindUp}))
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, 2, ch.delivered())
}

func TestWebhook_PostsContent(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook("discord", srv.URL, time.Second)
	require.NoError(t, wh.Send(context.Background(), testService(), alert.KindDown, testDetails()))

	assert.Contains(t, got["content"], "api is DOWN")
	assert.Contains(t, got["content"], "http://api.local/health")
	assert.Contains(t, got["content"], "250 ms")
	assert.Contains(t, got["content"], "HTTP status: 503")
}

func TestWebhook_RejectsUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewWebhook("discord", srv.URL, time.Second).Send(context.Background(), testService(), alert.KindUp, testDetails())
	require.Error(t, err)
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.code)
}

func TestSlack_PostsBlocks(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	require.NoError(t, NewSlack(srv.URL, 0).Send(context.Background(), testService(), alert.KindUp, testDetails()))

	var payload struct {
		Blocks []struct {
			Type string `json:"type"`
			Text struct {
				Text string `json:"text"`
			} `json:"text"`
		} `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Blocks, 2)
	assert.Equal(t, "api is back UP", payload.Blocks[0].Text.Text)
	assert.Contains(t, payload.Blocks[1].Text.Text, "http://api.local/health")
}

type fakeEvents struct {
	got []kafka.StatusChange
	err error
}

func (f *fakeEvents) PublishStatusChanged(_ context.Context, m kafka.StatusChange) error {
	f.got = append(f.got, m)
	return f.err
}

func TestStatusEventsChannel_MapsAlert(t *testing.T) {
	ev := &fakeEvents{}
	ch := NewStatusEventsChannel(ev)

	require.NoError(t, ch.Send(context.Background(), testService(), alert.KindDown, testDetails()))
	require.Len(t, ev.got, 1)
	m := ev.got[0]
	assert.Equal(t, "svc-1", m.ServiceID)
	assert.Equal(t, "api", m.ServiceName)
	assert.Equal(t, "DOWN", m.Status)
	assert.Equal(t, 503, m.StatusCode)
	assert.Equal(t, 3, m.ConsecutiveDown)
}

// fakeSMTP accepts a single session and hands back the DATA payload.
func fakeSMTP(t *testing.T) (string, int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = fmt.Fprintf(conn, "%s\r\n", s) }

		reply("220 localhost ESMTP")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					got <- data.String()
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				reply("250-localhost")
				reply("250 8BITMIME")
			case strings.HasPrefix(cmd, "DATA"):
				inData = true
				reply("354 go ahead")
			case strings.HasPrefix(cmd, "QUIT"):
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, got
}

func TestMailer_SendsToAllRecipients(t *testing.T) {
	host, port, got := fakeSMTP(t)
	m := NewMailer(config.SMTP{
		Host:       host,
		Port:       port,
		From:       "monitor@example.com",
		To:         []string{"a@example.com", "b@example.com"},
		Timeout:    2 * time.Second,
		SubjPrefix: "[pingwatch]",
	}).WithLogger(zap.NewNop())

	require.NoError(t, m.Send(context.Background(), testService(), alert.KindDown, testDetails()))

	select {
	case msg := <-got:
		assert.Contains(t, msg, "To: a@example.com, b@example.com")
		assert.Contains(t, msg, "Subject: [pingwatch] api is DOWN")
		assert.Contains(t, msg, "Failed checks in a row: 3")
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestMailer_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	m := NewMailer(config.SMTP{Host: "127.0.0.1", Port: port, From: "x@y", To: []string{"z@y"}, Timeout: time.Second})
	assert.Error(t, m.Send(context.Background(), testService(), alert.KindUp, testDetails()))
}

func TestChannelsFromConfig(t *testing.T) {
	chs, closer := ChannelsFromConfig(context.Background(), config.Alerts{
		DiscordWebhookURL: "http://discord.local/hook",
		SlackWebhookURL:   "http://slack.local/hook",
		SMTP:              config.SMTP{Host: "smtp.local", Port: 25, From: "a@b", To: []string{"c@d"}},
	}, zap.NewNop())
	defer func() { _ = closer() }()

	names := make([]string, 0, len(chs))
	for _, c := range chs {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"discord", "slack", "email"}, names)
}
