package check

import "time"

type Status string

const (
	StatusPending Status = "PENDING"
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
)

// ErrTimeout is the diagnostic recorded when every attempt of a check timed out.
const ErrTimeout = "TIMEOUT"

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUp, StatusDown:
		return true
	}
	return false
}

// Result is the outcome of one probe. Latency is set only for UP results.
type Result struct {
	Timestamp  time.Time `json:"timestamp"`
	Status     Status    `json:"status"`
	Latency    *float64  `json:"latency"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func (r Result) Up() bool { return r.Status == StatusUp }

func (r Result) Clone() Result {
	if r.Latency != nil {
		l := *r.Latency
		r.Latency = &l
	}
	return r
}

func Latency(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}
