package alert

import (
	"context"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
)

type Kind string

const (
	KindUp   Kind = "UP"
	KindDown Kind = "DOWN"
)

type Details struct {
	Timestamp       time.Time `json:"timestamp"`
	Latency         *float64  `json:"latency_seconds,omitempty"`
	URL             string    `json:"url"`
	Error           string    `json:"error,omitempty"`
	StatusCode      int       `json:"status_code,omitempty"`
	ConsecutiveDown int       `json:"consecutive_down,omitempty"`
}

type Alert struct {
	Service service.Service
	Kind    Kind
	Details Details
}

func KindFor(s check.Status) Kind {
	if s == check.StatusUp {
		return KindUp
	}
	return KindDown
}

func DetailsFrom(svc service.Service, r check.Result) Details {
	return Details{
		Timestamp:       r.Timestamp,
		Latency:         r.Latency,
		URL:             svc.Target(),
		Error:           r.Error,
		StatusCode:      r.StatusCode,
		ConsecutiveDown: svc.ConsecutiveDown,
	}
}

// Channel delivers one alert. A nil error means the channel accepted it.
type Channel interface {
	Name() string
	Send(ctx context.Context, svc service.Service, kind Kind, d Details) error
}
