package kafka

import (
	"context"

	"github.com/NordCoder/Pingwatch/internal/domain/kafka"
)

type StatusEventsKafka struct {
	p *Producer
}

func NewStatusEventsKafka(p *Producer) *StatusEventsKafka { return &StatusEventsKafka{p: p} }

var _ kafka.StatusEvents = (*StatusEventsKafka)(nil)

func (e *StatusEventsKafka) PublishStatusChanged(ctx context.Context, m kafka.StatusChange) error {
	return e.p.PublishJSON(ctx, []byte(m.ServiceID), m)
}
