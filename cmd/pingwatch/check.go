package main

import (
	"fmt"
	"net/url"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"github.com/spf13/cobra"
)

func newCheckCmd(opts *rootOpts) *cobra.Command {
	var (
		path  string
		saved bool
	)
	cmd := &cobra.Command{
		Use:   "check <url|id>",
		Short: "Probe a URL once, or with --saved check a registered service and record the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			open := viewApp
			if saved {
				open = withApp
			}
			return open(cmd.Context(), opts, func(a *app) error {
				var (
					r   check.Result
					err error
				)
				if saved {
					r, err = a.uc.CheckNow(cmd.Context(), args[0])
					if err != nil {
						return err
					}
				} else {
					r = a.engine.CheckWithRetry(cmd.Context(), probeTarget(args[0], path))
				}
				if opts.jsonOut {
					if err := printJSON(cmd.OutOrStdout(), r); err != nil {
						return err
					}
				} else if err := printResults(cmd.OutOrStdout(), []check.Result{r}); err != nil {
					return err
				}
				if !r.Up() {
					return fmt.Errorf("%s is %s", args[0], r.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "path appended to the url")
	cmd.Flags().BoolVar(&saved, "saved", false, "treat the argument as a registered service id")
	return cmd
}

// probeTarget splits a full URL into the base and path a Service carries.
func probeTarget(raw, path string) service.Service {
	svc := service.Service{Name: raw, URL: raw, Path: path}
	if path != "" {
		return svc
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return svc
	}
	svc.Path = u.EscapedPath()
	if u.RawQuery != "" {
		svc.Path += "?" + u.RawQuery
	}
	u.Path, u.RawPath, u.RawQuery, u.Fragment = "", "", "", ""
	svc.URL = u.String()
	return svc
}
