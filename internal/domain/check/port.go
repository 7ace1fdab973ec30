package check

import (
	"context"
	"time"
)

// Sink mirrors appended results into a secondary store.
type Sink interface {
	Append(ctx context.Context, serviceID string, r Result) error
	// Prune drops results older than before and then all but the newest keep.
	Prune(ctx context.Context, serviceID string, before time.Time, keep int) error
	Purge(ctx context.Context, serviceID string) error
	Close() error
}

// Reader is a Sink that can serve results back, newest first.
type Reader interface {
	Recent(ctx context.Context, serviceID string, limit int) ([]Result, error)
}
