package repo

import (
	"context"

	"github.com/NordCoder/Pingwatch/internal/domain/alert"
	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
)

// Checker runs probes for the scheduler.
type Checker interface {
	CheckAll(ctx context.Context, services []service.Service) []check.Result
	CheckWithRetry(ctx context.Context, svc service.Service) check.Result
}

type History interface {
	AddEntry(ctx context.Context, id string, r check.Result) error
	Remove(ctx context.Context, id string) error
}

// Alerts accepts alerts for asynchronous delivery.
type Alerts interface {
	Enqueue(a alert.Alert) bool
}

// NopServices discards the service list.
type NopServices struct{}

func (NopServices) Load(context.Context) ([]service.Service, error) { return nil, nil }
func (NopServices) Save(context.Context, []service.Service) error   { return nil }
