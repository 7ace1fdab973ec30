package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
)

// Snapshot is the persisted history: service id -> results in insertion order.
type Snapshot map[string][]check.Result

type HistoryRepo struct {
	path string
	mu   sync.Mutex
}

func NewHistoryRepo(path string) *HistoryRepo { return &HistoryRepo{path: path} }

func (r *HistoryRepo) Load(_ context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := readFile(r.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read history: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, nil
	}

	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, r.path, err)
	}

	out := make(Snapshot, len(raw))
	for id, entries := range raw {
		series := make([]check.Result, 0, len(entries))
		for i, e := range entries {
			res, err := decodeEntry(e)
			if err != nil {
				return Snapshot{}, fmt.Errorf("%w: %s: service %s entry %d: %v", ErrCorrupt, r.path, id, i, err)
			}
			series = append(series, res)
		}
		out[id] = series
	}
	return out, nil
}

func (r *HistoryRepo) Save(_ context.Context, s Snapshot) error {
	if s == nil {
		s = Snapshot{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return WriteAtomic(r.path, data, 0o644)
}

// decodeEntry requires the timestamp, status and latency keys to be present.
func decodeEntry(raw json.RawMessage) (check.Result, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return check.Result{}, err
	}
	for _, k := range []string{"timestamp", "status", "latency"} {
		if _, ok := keys[k]; !ok {
			return check.Result{}, fmt.Errorf("missing %q", k)
		}
	}
	var res check.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return check.Result{}, err
	}
	if res.Status != check.StatusUp && res.Status != check.StatusDown {
		return check.Result{}, fmt.Errorf("bad status %q", res.Status)
	}
	return res, nil
}
