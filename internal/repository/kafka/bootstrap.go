package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func BootstrapConsumer(ctx context.Context, cfg ConsumerConfig, logger *zap.Logger) *StatusConsumer {
	_ = EnsureTopic(ctx, cfg.Brokers, TopicSpec{
		Name:              cfg.Topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
		MaxWait:           5 * time.Second,
	}, logger)

	return NewStatusConsumer(cfg)
}

func BootstrapProducer(ctx context.Context, brokers []string, topic string, logger *zap.Logger) *Producer {
	_ = EnsureTopic(ctx, brokers, TopicSpec{
		Name:              topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
		MaxWait:           5 * time.Second,
	}, logger)

	return NewProducer(brokers, topic).WithLogger(logger)
}
