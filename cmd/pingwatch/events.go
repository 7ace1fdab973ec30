package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	domain "github.com/NordCoder/Pingwatch/internal/domain/kafka"
	kafkarepo "github.com/NordCoder/Pingwatch/internal/repository/kafka"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newEventsCmd(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Work with the status-change topic",
	}
	cmd.AddCommand(newEventsTailCmd(opts), newEventsInitCmd(opts))
	return cmd
}

func newEventsTailCmd(opts *rootOpts) *cobra.Command {
	var fromBeginning bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print status changes published by the kafka alert channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, l, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			kc := cfg.Alerts.Kafka
			consumer := kafkarepo.BootstrapConsumer(ctx, kafkarepo.ConsumerConfig{
				Brokers:       kc.Brokers,
				GroupID:       kc.GroupID,
				Topic:         kc.Topic,
				FromBeginning: fromBeginning,
				Logger:        l,
			}, l)
			defer func() { _ = consumer.Close() }()

			w := cmd.OutOrStdout()
			show := func(_ context.Context, m domain.StatusChange) error {
				if opts.jsonOut {
					return printJSON(w, m)
				}
				line := fmt.Sprintf("%s  %-4s  %s  %s", m.Timestamp.Local().Format(time.DateTime), m.Status, m.ServiceName, m.URL)
				if m.StatusCode != 0 {
					line += fmt.Sprintf("  code=%d", m.StatusCode)
				}
				if m.Error != "" {
					line += "  error=" + m.Error
				}
				_, err := fmt.Fprintln(w, line)
				return err
			}

			l.Info("tailing status changes", zap.Strings("brokers", kc.Brokers), zap.String("topic", kc.Topic))
			if err := consumer.Tail(ctx, show); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromBeginning, "from-beginning", false, "start from the oldest retained message")
	return cmd
}

func newEventsInitCmd(opts *rootOpts) *cobra.Command {
	var partitions, replication int
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the status-change topic if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, l, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			kc := cfg.Alerts.Kafka
			if err := kafkarepo.EnsureTopic(ctx, kc.Brokers, kafkarepo.TopicSpec{
				Name:              kc.Topic,
				NumPartitions:     partitions,
				ReplicationFactor: replication,
				MaxWait:           30 * time.Second,
			}, l); err != nil {
				return fmt.Errorf("ensure topic %q: %w", kc.Topic, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "topic %q ready\n", kc.Topic)
			return nil
		},
	}
	cmd.Flags().IntVar(&partitions, "partitions", 1, "partition count for a new topic")
	cmd.Flags().IntVar(&replication, "replication", 1, "replication factor for a new topic")
	return cmd
}
