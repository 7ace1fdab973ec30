package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/NordCoder/Pingwatch/internal/domain/service"
)

var _ service.Repo = (*ServiceRepo)(nil)

type ServiceRepo struct {
	path string
	mu   sync.Mutex
}

func NewServiceRepo(path string) *ServiceRepo { return &ServiceRepo{path: path} }

func (r *ServiceRepo) Path() string { return r.path }

// Load returns the persisted list in file order. A missing file is an empty list;
// an unreadable one yields ErrCorrupt together with an empty list.
func (r *ServiceRepo) Load(_ context.Context) ([]service.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := readFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read services: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []service.Service{}, nil
	}

	var out []service.Service
	if err := json.Unmarshal(data, &out); err != nil {
		return []service.Service{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, r.path, err)
	}
	for i, s := range out {
		if s.Name == "" || s.URL == "" {
			return []service.Service{}, fmt.Errorf("%w: %s: entry %d has no name or url", ErrCorrupt, r.path, i)
		}
	}
	return out, nil
}

func (r *ServiceRepo) Save(_ context.Context, services []service.Service) error {
	if services == nil {
		services = []service.Service{}
	}
	data, err := json.MarshalIndent(services, "", "  ")
	if err != nil {
		return fmt.Errorf("encode services: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return WriteAtomic(r.path, data, 0o644)
}
