package kafka

import (
	"context"
	"time"
)

// StatusChange is the message published for every alerted transition.
type StatusChange struct {
	ServiceID       string    `json:"service_id"`
	ServiceName     string    `json:"service_name"`
	URL             string    `json:"url"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	Latency         *float64  `json:"latency_seconds,omitempty"`
	StatusCode      int       `json:"status_code,omitempty"`
	Error           string    `json:"error,omitempty"`
	ConsecutiveDown int       `json:"consecutive_down,omitempty"`
}

type StatusEvents interface {
	PublishStatusChanged(ctx context.Context, m StatusChange) error
}
