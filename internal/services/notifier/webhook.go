package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/alert"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
)

const webhookTimeout = 10 * time.Second

// Webhook posts {"content": "..."} to a Discord-compatible endpoint.
type Webhook struct {
	name   string
	url    string
	client *http.Client
	ok     []int
}

var _ alert.Channel = (*Webhook)(nil)

func NewWebhook(name, url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = webhookTimeout
	}
	return &Webhook{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
		ok:     []int{http.StatusOK, http.StatusNoContent},
	}
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Send(ctx context.Context, svc service.Service, kind alert.Kind, d alert.Details) error {
	return postJSON(ctx, w.client, w.url, map[string]string{"content": summary(svc, kind, d)}, w.ok)
}

// Slack posts a section block to an incoming-webhook URL.
type Slack struct {
	url    string
	client *http.Client
}

var _ alert.Channel = (*Slack)(nil)

func NewSlack(url string, timeout time.Duration) *Slack {
	if timeout <= 0 {
		timeout = webhookTimeout
	}
	return &Slack{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *Slack) Name() string { return "slack" }

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

func (s *Slack) Send(ctx context.Context, svc service.Service, kind alert.Kind, d alert.Details) error {
	body := map[string][]slackBlock{
		"blocks": {
			{Type: "header", Text: &slackText{Type: "plain_text", Text: subject(svc, kind)}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: summary(svc, kind, d)}},
		},
	}
	return postJSON(ctx, s.client, s.url, body, []int{http.StatusOK})
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, ok []int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !slices.Contains(ok, resp.StatusCode) {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &statusError{code: resp.StatusCode, body: string(snippet)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
