package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printServices(w io.Writer, list []service.Service) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTARGET\tINTERVAL\tSTATUS\tDOWN\tLAST CHECK")
	for _, s := range list {
		last := "-"
		if s.LastCheck != nil {
			last = s.LastCheck.Timestamp.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\t%s\t%d\t%s\n",
			s.ID, s.Name, s.Target(), s.CheckInterval, s.Status, s.ConsecutiveDown, last)
	}
	return tw.Flush()
}

func printResults(w io.Writer, list []check.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tCODE\tLATENCY\tERROR")
	for _, r := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Local().Format(time.DateTime), r.Status, code(r.StatusCode), latency(r.Latency), r.Error)
	}
	return tw.Flush()
}

func code(c int) string {
	if c == 0 {
		return "-"
	}
	return strconv.Itoa(c)
}

func latency(l *float64) string {
	if l == nil {
		return "-"
	}
	return fmt.Sprintf("%.0fms", *l*1000)
}
