package notifier

import (
	"context"

	"github.com/NordCoder/Pingwatch/internal/domain/alert"
	"github.com/NordCoder/Pingwatch/internal/domain/kafka"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
)

// StatusEventsChannel publishes alerts as status-change events.
type StatusEventsChannel struct {
	events kafka.StatusEvents
}

var _ alert.Channel = (*StatusEventsChannel)(nil)

func NewStatusEventsChannel(events kafka.StatusEvents) *StatusEventsChannel {
	return &StatusEventsChannel{events: events}
}

func (c *StatusEventsChannel) Name() string { return "kafka" }

func (c *StatusEventsChannel) Send(ctx context.Context, svc service.Service, kind alert.Kind, d alert.Details) error {
	return c.events.PublishStatusChanged(ctx, kafka.StatusChange{
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		URL:             d.URL,
		Status:          string(kind),
		Timestamp:       d.Timestamp,
		Latency:         d.Latency,
		StatusCode:      d.StatusCode,
		Error:           d.Error,
		ConsecutiveDown: d.ConsecutiveDown,
	})
}
