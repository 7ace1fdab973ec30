package notifier

import (
	"context"

	config "github.com/NordCoder/Pingwatch/internal/config/pingwatch"
	"github.com/NordCoder/Pingwatch/internal/domain/alert"
	kafkarepo "github.com/NordCoder/Pingwatch/internal/repository/kafka"
	"go.uber.org/zap"
)

// ChannelsFromConfig builds every channel that has enough configuration to
// work. The returned closer releases the Kafka producer, if any.
func ChannelsFromConfig(ctx context.Context, cfg config.Alerts, log *zap.Logger) ([]alert.Channel, func() error) {
	var (
		channels []alert.Channel
		closer   = func() error { return nil }
	)
	if cfg.DiscordWebhookURL != "" {
		channels = append(channels, NewWebhook("discord", cfg.DiscordWebhookURL, cfg.Timeout))
	}
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, NewSlack(cfg.SlackWebhookURL, cfg.Timeout))
	}
	if cfg.SMTP.Enabled() {
		channels = append(channels, NewMailer(cfg.SMTP).WithLogger(log))
	}
	if cfg.Kafka.Enable {
		p := kafkarepo.BootstrapProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		channels = append(channels, NewStatusEventsChannel(kafkarepo.NewStatusEventsKafka(p)))
		closer = p.Close
	}
	if len(channels) == 0 {
		log.Warn("no alert channels configured; alerts will only be logged")
	}
	return channels, closer
}
