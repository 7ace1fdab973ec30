package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Pingwatch/internal/obs/retry"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var (
	ErrNoBrokers     = errors.New("kafka: no brokers configured")
	ErrTopicNotReady = errors.New("kafka: topic has no partitions yet")
)

// TopicSpec describes the status-change topic.
type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	// MaxWait bounds the wait for the cluster to report partitions.
	MaxWait time.Duration
}

func (s TopicSpec) withDefaults() TopicSpec {
	if s.NumPartitions <= 0 {
		s.NumPartitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
	if s.MaxWait <= 0 {
		s.MaxWait = 5 * time.Second
	}
	return s
}

// EnsureTopic creates the topic unless it already exists, then waits until
// the cluster reports partitions for it. An existing topic keeps its layout.
func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec, log *zap.Logger) error {
	if len(brokers) == 0 {
		return ErrNoBrokers
	}
	spec = spec.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "kafka.admin"), zap.String("topic", spec.Name))

	client := &kafka.Client{Addr: kafka.TCP(brokers...), Timeout: spec.MaxWait}
	res, err := client.CreateTopics(ctx, &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{
			Topic:             spec.Name,
			NumPartitions:     spec.NumPartitions,
			ReplicationFactor: spec.ReplicationFactor,
		}},
	})
	if err != nil {
		log.Warn("create topic request failed", zap.Error(err))
		return fmt.Errorf("create topic %s: %w", spec.Name, err)
	}
	switch terr := res.Errors[spec.Name]; {
	case terr == nil:
		log.Info("topic created", zap.Int("partitions", spec.NumPartitions), zap.Int("replication", spec.ReplicationFactor))
	case errors.Is(terr, kafka.TopicAlreadyExists):
		log.Debug("topic exists")
	default:
		log.Warn("create topic rejected", zap.Error(terr))
		return fmt.Errorf("create topic %s: %w", spec.Name, terr)
	}

	wctx, cancel := context.WithTimeout(ctx, spec.MaxWait)
	defer cancel()
	err = retry.Do(wctx, func() error {
		return topicReady(wctx, client, spec.Name)
	}, retry.Policy{
		Name:      "kafka.topic_ready",
		Attempts:  50,
		Backoff:   retry.ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2},
		Retryable: func(error) bool { return wctx.Err() == nil },
	})
	if err != nil {
		log.Warn("topic not confirmed ready in time", zap.Error(err))
		return fmt.Errorf("wait for topic %s: %w", spec.Name, err)
	}
	log.Info("topic ready")
	return nil
}

func topicReady(ctx context.Context, client *kafka.Client, name string) error {
	md, err := client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{name}})
	if err != nil {
		return err
	}
	for _, t := range md.Topics {
		if t.Name != name {
			continue
		}
		if t.Error != nil {
			return t.Error
		}
		if len(t.Partitions) == 0 {
			return ErrTopicNotReady
		}
		return nil
	}
	return ErrTopicNotReady
}
