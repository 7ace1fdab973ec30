package scheduler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("service not found")
	ErrNameTaken      = errors.New("service name already taken")
	ErrInvalidService = errors.New("invalid service")
)

const defaultInterval = 10

// Registry is the ordered set of monitored services.
type Registry struct {
	mu              sync.RWMutex
	order           []string
	byID            map[string]*service.Service
	defaultInterval int
	now             func() time.Time
}

func NewRegistry(defaultIntervalSec int) *Registry {
	if defaultIntervalSec <= 0 {
		defaultIntervalSec = defaultInterval
	}
	return &Registry{
		byID:            make(map[string]*service.Service),
		defaultInterval: defaultIntervalSec,
		now:             time.Now,
	}
}

func (r *Registry) Add(def service.Definition) (service.Service, error) {
	name, target, path, err := validate(def.Name, def.URL, def.Path)
	if err != nil {
		return service.Service{}, err
	}
	interval := def.CheckInterval
	if interval <= 0 {
		interval = r.defaultInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameTaken(name, "") {
		return service.Service{}, fmt.Errorf("%w: %q", ErrNameTaken, name)
	}
	id := def.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, ok := r.byID[id]; ok {
		return service.Service{}, fmt.Errorf("%w: duplicate id %s", ErrInvalidService, id)
	}

	svc := &service.Service{
		ID:            id,
		Name:          name,
		URL:           target,
		Path:          path,
		CheckInterval: interval,
		Status:        check.StatusPending,
		CreatedAt:     r.now().UTC(),
	}
	r.byID[id] = svc
	r.order = append(r.order, id)
	return svc.Clone(), nil
}

// Restore replaces the contents with a persisted list, keeping volatile fields.
// Entries with a duplicate id are skipped and reported.
func (r *Registry) Restore(list []service.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[string]*service.Service, len(list))
	r.order = r.order[:0]

	var errs []error
	for _, s := range list {
		s = s.Clone()
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if _, ok := r.byID[s.ID]; ok {
			errs = append(errs, fmt.Errorf("%w: duplicate id %s (%s)", ErrInvalidService, s.ID, s.Name))
			continue
		}
		if !s.Status.Valid() {
			s.Status = check.StatusPending
		}
		if s.Path == "" {
			s.Path = service.DefaultPath
		}
		if s.CheckInterval <= 0 {
			s.CheckInterval = r.defaultInterval
		}
		if s.ConsecutiveDown < 0 {
			s.ConsecutiveDown = 0
		}
		r.byID[s.ID] = &s
		r.order = append(r.order, s.ID)
	}
	return errors.Join(errs...)
}

func (r *Registry) Get(id string) (service.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return service.Service{}, false
	}
	return s.Clone(), true
}

func (r *Registry) List() []service.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]service.Service, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Remove(id string) (service.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return service.Service{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return s.Clone(), nil
}

// Update applies an explicit user edit. Status fields are left alone.
func (r *Registry) Update(id string, p service.Patch) (service.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return service.Service{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	name, target, path := s.Name, s.URL, s.Path
	if p.Name != nil {
		name = *p.Name
	}
	if p.URL != nil {
		target = *p.URL
	}
	if p.Path != nil {
		path = *p.Path
	}
	name, target, path, err := validate(name, target, path)
	if err != nil {
		return service.Service{}, err
	}
	if r.nameTaken(name, id) {
		return service.Service{}, fmt.Errorf("%w: %q", ErrNameTaken, name)
	}
	if p.CheckInterval != nil {
		if *p.CheckInterval <= 0 {
			return service.Service{}, fmt.Errorf("%w: check interval must be positive", ErrInvalidService)
		}
		s.CheckInterval = *p.CheckInterval
	}
	s.Name, s.URL, s.Path = name, target, path
	return s.Clone(), nil
}

// Apply mutates one service under the write lock.
func (r *Registry) Apply(id string, fn func(*service.Service)) (service.Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return service.Service{}, false
	}
	fn(s)
	return s.Clone(), true
}

func (r *Registry) nameTaken(name, except string) bool {
	for id, s := range r.byID {
		if id != except && s.Name == name {
			return true
		}
	}
	return false
}

func validate(name, rawURL, path string) (string, string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", "", fmt.Errorf("%w: name is required", ErrInvalidService)
	}
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", "", fmt.Errorf("%w: url %q must be absolute http(s)", ErrInvalidService, rawURL)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = service.DefaultPath
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return name, strings.TrimRight(rawURL, "/"), path, nil
}
