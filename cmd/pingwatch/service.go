package main

import (
	"context"
	"fmt"

	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"github.com/spf13/cobra"
)

// withApp wires the core without alerting and saves state when fn returns.
// Saving merges with edits a running daemon made in the meantime.
func withApp(ctx context.Context, opts *rootOpts, fn func(a *app) error) error {
	return openApp(ctx, opts, true, fn)
}

// viewApp is withApp for commands that only read; no state file is written.
func viewApp(ctx context.Context, opts *rootOpts, fn func(a *app) error) error {
	return openApp(ctx, opts, false, fn)
}

func openApp(ctx context.Context, opts *rootOpts, save bool, fn func(a *app) error) error {
	cfg, l, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	a, err := bootstrap(ctx, cfg, l, nil)
	if err != nil {
		return err
	}
	if save {
		defer a.close(context.WithoutCancel(ctx))
	} else {
		defer a.release()
	}
	return fn(a)
}

func newServiceCmd(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "service",
		Aliases: []string{"services", "svc"},
		Short:   "Manage monitored services (a running daemon picks changes up from the stored list)",
	}
	cmd.AddCommand(newServiceAddCmd(opts), newServiceListCmd(opts), newServiceRemoveCmd(opts), newServiceEditCmd(opts))
	return cmd
}

func newServiceAddCmd(opts *rootOpts) *cobra.Command {
	var def service.Definition
	cmd := &cobra.Command{
		Use:   "add <name> <base-url>",
		Short: "Register a service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			def.Name, def.URL = args[0], args[1]
			return withApp(cmd.Context(), opts, func(a *app) error {
				svc, err := a.uc.AddService(cmd.Context(), def)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), svc)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s) -> %s\n", svc.Name, svc.ID, svc.Target())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&def.Path, "path", service.DefaultPath, "path appended to the base url")
	cmd.Flags().IntVar(&def.CheckInterval, "interval", 0, "check interval in seconds (0 uses monitor.default_interval)")
	return cmd
}

func newServiceListCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List services and their current status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return viewApp(cmd.Context(), opts, func(a *app) error {
				list := a.uc.Services()
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), list)
				}
				return printServices(cmd.OutOrStdout(), list)
			})
		},
	}
}

func newServiceRemoveCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a service and its history",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				if err := a.uc.RemoveService(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newServiceEditCmd(opts *rootOpts) *cobra.Command {
	var (
		name, url, path string
		interval        int
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a service's name, target or interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p service.Patch
			flags := cmd.Flags()
			if flags.Changed("name") {
				p.Name = &name
			}
			if flags.Changed("url") {
				p.URL = &url
			}
			if flags.Changed("path") {
				p.Path = &path
			}
			if flags.Changed("interval") {
				p.CheckInterval = &interval
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				svc, err := a.uc.UpdateService(cmd.Context(), args[0], p)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return printJSON(cmd.OutOrStdout(), svc)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %s -> %s every %ds\n", svc.Name, svc.Target(), svc.CheckInterval)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&url, "url", "", "new base url")
	cmd.Flags().StringVar(&path, "path", "", "new path")
	cmd.Flags().IntVar(&interval, "interval", 0, "new check interval in seconds")
	return cmd
}
