package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOpts struct {
	configPath string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	root := &cobra.Command{
		Use:           "pingwatch",
		Short:         "HTTP uptime monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("PINGWATCH_CONFIG"), "path to a yaml config file")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newRunCmd(opts),
		newServiceCmd(opts),
		newHistoryCmd(opts),
		newStatsCmd(opts),
		newCheckCmd(opts),
		newEventsCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
