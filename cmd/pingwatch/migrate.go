package main

import (
	"errors"
	"fmt"

	pg "github.com/NordCoder/Pingwatch/internal/repository/postgres"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres history-sink schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, l, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.DB.URL == "" {
				return errors.New("db.url (or a postgres history.sink_dsn) is not set")
			}
			if err := pg.Migrate(cmd.Context(), cfg.DB.URL); err != nil {
				l.Error("migration failed", zap.Error(err))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations: up OK")
			return nil
		},
	}
}
