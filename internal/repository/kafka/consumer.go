package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	domain "github.com/NordCoder/Pingwatch/internal/domain/kafka"
	"github.com/NordCoder/Pingwatch/internal/obs"
	"github.com/NordCoder/Pingwatch/internal/obs/retry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StatusFunc receives one decoded status change.
type StatusFunc func(ctx context.Context, m domain.StatusChange) error

type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topic         string
	FromBeginning bool
	Logger        *zap.Logger
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StatusConsumer tails the status-change topic as a consumer group member.
type StatusConsumer struct {
	reader  messageReader
	topic   string
	log     *zap.Logger
	backoff retry.Backoff
}

func NewStatusConsumer(cfg ConsumerConfig) *StatusConsumer {
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               cfg.Brokers,
		GroupID:               cfg.GroupID,
		Topic:                 cfg.Topic,
		StartOffset:           start,
		WatchPartitionChanges: true,

		MinBytes:          1,
		MaxBytes:          1e6,
		MaxWait:           time.Second,
		SessionTimeout:    10 * time.Second,
		RebalanceTimeout:  15 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	})
	return newStatusConsumer(r, cfg)
}

func newStatusConsumer(r messageReader, cfg ConsumerConfig) *StatusConsumer {
	log := cfg.Logger
	if log == nil {
		log = zap.L()
	}
	return &StatusConsumer{
		reader: r,
		topic:  cfg.Topic,
		log: log.With(
			zap.String("component", "kafka.consumer"),
			zap.String("topic", cfg.Topic),
			zap.String("group", cfg.GroupID),
		),
		backoff: retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.1},
	}
}

// Tail hands each status change to fn in partition order and commits it once
// fn returns. Undecodable messages are logged and committed. An error from fn
// stops the tail and leaves that message uncommitted.
func (c *StatusConsumer) Tail(ctx context.Context, fn StatusFunc) error {
	c.log.Info("tail started")
	failures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("tail stopped")
				return ctx.Err()
			}
			d := c.backoff.Next(failures)
			failures++
			if errors.Is(err, io.EOF) {
				c.log.Debug("fetch EOF; retry", zap.Duration("backoff", d))
			} else {
				c.log.Warn("fetch failed; retry", zap.Error(err), zap.Duration("backoff", d))
			}
			if err := pause(ctx, d); err != nil {
				return err
			}
			continue
		}
		failures = 0

		if err := c.handle(ctx, msg, fn); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("commit failed; message may be redelivered", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *StatusConsumer) handle(ctx context.Context, msg kafka.Message, fn StatusFunc) error {
	carrier := headerCarrier(msg.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, &carrier)
	ctx, span := otel.Tracer("kafka.consumer").Start(ctx, "kafka.consume "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(c.topic),
		),
	)
	defer span.End()
	log := obs.WithTrace(ctx, c.log).With(zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))

	var m domain.StatusChange
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		span.RecordError(err)
		log.Warn("undecodable status change skipped", zap.Error(err))
		return nil
	}
	span.SetAttributes(
		attribute.String("service.id", m.ServiceID),
		attribute.String("service.status", m.Status),
	)
	if err := fn(ctx, m); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status handler")
		log.Error("status handler failed", zap.String("service_id", m.ServiceID), zap.Error(err))
		return fmt.Errorf("handle status change at offset %d: %w", msg.Offset, err)
	}
	log.Debug("status change handled", zap.String("service_id", m.ServiceID), zap.String("status", m.Status))
	return nil
}

func (c *StatusConsumer) Close() error { return c.reader.Close() }

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
