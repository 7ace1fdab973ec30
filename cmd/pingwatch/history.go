package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *rootOpts) *cobra.Command {
	var (
		page, size int
		fromSink   bool
	)
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show stored check results of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return viewApp(cmd.Context(), opts, func(a *app) error {
				svc, err := a.uc.Service(args[0])
				if err != nil {
					return err
				}
				if fromSink {
					entries, err := a.history.Mirrored(cmd.Context(), svc.ID, size)
					if err != nil {
						return err
					}
					if opts.jsonOut {
						return printJSON(cmd.OutOrStdout(), entries)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: newest %d results from the %s mirror\n", svc.Name, len(entries), a.cfg.History.SinkKind())
					return printResults(cmd.OutOrStdout(), entries)
				}
				entries := a.history.History(svc.ID, page, size)
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), entries)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d stored results, page %d\n", svc.Name, a.history.Len(svc.ID), page)
				return printResults(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	cmd.Flags().IntVar(&size, "size", 20, "entries per page")
	cmd.Flags().BoolVar(&fromSink, "from-sink", false, "read the newest --size results from the database mirror")
	return cmd
}

func newStatsCmd(opts *rootOpts) *cobra.Command {
	var points int
	cmd := &cobra.Command{
		Use:   "stats <id>",
		Short: "Show uptime and latency statistics of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return viewApp(cmd.Context(), opts, func(a *app) error {
				svc, err := a.uc.Service(args[0])
				if err != nil {
					return err
				}
				st := a.history.Stats(svc.ID)
				series := a.history.LatencySeries(svc.ID, points)
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"service": svc,
						"stats":   st,
						"latency": series,
					})
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s (%s)\n", svc.Name, svc.Target())
				fmt.Fprintf(w, "  status:          %s\n", svc.Status)
				fmt.Fprintf(w, "  checks:          %d (%d up, %d down)\n", st.TotalChecks, st.TotalUp, st.TotalDown)
				fmt.Fprintf(w, "  uptime:          %.2f%%\n", st.UptimePercentage)
				fmt.Fprintf(w, "  last 24h:        %.2f%% over %d checks\n", st.Last24hUptime, st.Last24hChecks)
				fmt.Fprintf(w, "  avg latency:     %.0fms\n", st.AverageLatency*1000)
				fmt.Fprintf(w, "  longest up run:  %d\n", st.ConsecutiveUp)
				fmt.Fprintf(w, "  longest down:    %d\n", st.ConsecutiveDown)
				if st.CurrentStatus != "" {
					fmt.Fprintf(w, "  current run:     %d x %s\n", st.CurrentRun, st.CurrentStatus)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&points, "points", 100, "maximum latency samples to include with --json")
	return cmd
}
