package history

import (
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
)

type UptimeStats struct {
	TotalChecks      int     `json:"total_checks"`
	TotalUp          int     `json:"total_up"`
	TotalDown        int     `json:"total_down"`
	UptimePercentage float64 `json:"uptime_percentage"`
	// Longest UP and DOWN runs anywhere in the series.
	ConsecutiveUp   int `json:"consecutive_up"`
	ConsecutiveDown int `json:"consecutive_down"`
	// The run the series currently ends with.
	CurrentStatus  check.Status `json:"current_status,omitempty"`
	CurrentRun     int          `json:"current_run"`
	AverageLatency float64      `json:"average_latency"`

	Last24hChecks int     `json:"last_24h_checks"`
	Last24hUp     int     `json:"last_24h_up"`
	Last24hDown   int     `json:"last_24h_down"`
	Last24hUptime float64 `json:"last_24h_uptime"`
}

// ComputeStats derives UptimeStats from entries in insertion order.
func ComputeStats(entries []check.Result, now time.Time) UptimeStats {
	var st UptimeStats
	if len(entries) == 0 {
		return st
	}

	var (
		run        int
		runStatus  check.Status
		latencySum float64
		latencyN   int
		since      = now.Add(-24 * time.Hour)
	)
	for _, e := range entries {
		st.TotalChecks++
		up := e.Up()
		if up {
			st.TotalUp++
			if e.Latency != nil {
				latencySum += *e.Latency
				latencyN++
			}
		} else {
			st.TotalDown++
		}

		status := check.StatusDown
		if up {
			status = check.StatusUp
		}
		if status == runStatus {
			run++
		} else {
			runStatus, run = status, 1
		}
		if up {
			st.ConsecutiveUp = max(st.ConsecutiveUp, run)
		} else {
			st.ConsecutiveDown = max(st.ConsecutiveDown, run)
		}

		if !e.Timestamp.Before(since) {
			st.Last24hChecks++
			if up {
				st.Last24hUp++
			} else {
				st.Last24hDown++
			}
		}
	}

	st.CurrentStatus, st.CurrentRun = runStatus, run
	st.UptimePercentage = percent(st.TotalUp, st.TotalChecks)
	st.Last24hUptime = percent(st.Last24hUp, st.Last24hChecks)
	if latencyN > 0 {
		st.AverageLatency = latencySum / float64(latencyN)
	}
	return st
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
