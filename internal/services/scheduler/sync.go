package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"go.uber.org/zap"
)

// SyncStats counts edits picked up from the stored service list.
type SyncStats struct {
	Added   int
	Removed int
	Updated int
}

func (s SyncStats) Changed() bool { return s.Added+s.Removed+s.Updated > 0 }

func (s SyncStats) fields() []zap.Field {
	return []zap.Field{zap.Int("added", s.Added), zap.Int("removed", s.Removed), zap.Int("updated", s.Updated)}
}

// Sync merges edits another process made to the stored service list, such as
// the CLI adding a service while the daemon runs, and saves when anything
// changed. Saving an unchanged list is skipped so the daemon's own writes do
// not feed back through a file watcher.
func (u *Usecase) Sync(ctx context.Context) (SyncStats, error) {
	u.persistMu.Lock()
	defer u.persistMu.Unlock()

	st, err := u.mergeStored(ctx)
	if err != nil {
		return st, err
	}
	if !st.Changed() {
		return st, nil
	}
	u.log.Info("merged external service edits", st.fields()...)
	return st, u.saveLocked(ctx)
}

// mergeStored is a three-way merge of the stored list against the definitions
// last seen there: unknown ids were added, missing ids were removed and
// changed definitions were edited elsewhere. Local changes not yet saved are
// left alone. Caller holds persistMu.
func (u *Usecase) mergeStored(ctx context.Context) (SyncStats, error) {
	var st SyncStats
	if u.stored == nil {
		return st, nil
	}
	list, err := u.deps.Services.Load(ctx)
	if err != nil {
		return st, fmt.Errorf("read stored services: %w", err)
	}

	present := make(map[string]struct{}, len(list))
	for _, s := range list {
		if s.ID != "" {
			present[s.ID] = struct{}{}
		}
		cur := definitionOf(s)
		prev, known := u.stored[s.ID]
		switch {
		case !known:
			if _, ok := u.reg.Get(s.ID); ok {
				continue
			}
			if err := u.adopt(s); err != nil {
				u.log.Warn("stored service rejected", zap.String("service_id", s.ID), zap.String("service", s.Name), zap.Error(err))
				continue
			}
			st.Added++
		case cur != prev:
			if _, err := u.update(s.ID, patchBetween(prev, cur)); err != nil {
				if !errors.Is(err, ErrNotFound) {
					u.log.Warn("stored service edit rejected", zap.String("service_id", s.ID), zap.Error(err))
				}
				continue
			}
			st.Updated++
		}
	}

	for id := range u.stored {
		if _, ok := present[id]; ok {
			continue
		}
		if err := u.remove(ctx, id); err != nil {
			continue
		}
		st.Removed++
	}
	return st, nil
}

// adopt registers a service first seen in the stored list, keeping its id and
// creation time.
func (u *Usecase) adopt(s service.Service) error {
	svc, err := u.add(definitionOf(s))
	if err != nil {
		return err
	}
	if !s.CreatedAt.IsZero() {
		u.reg.Apply(svc.ID, func(p *service.Service) { p.CreatedAt = s.CreatedAt })
	}
	return nil
}

func definitionOf(s service.Service) service.Definition {
	return service.Definition{ID: s.ID, Name: s.Name, URL: s.URL, Path: s.Path, CheckInterval: s.CheckInterval}
}

func definitions(list []service.Service) map[string]service.Definition {
	out := make(map[string]service.Definition, len(list))
	for _, s := range list {
		out[s.ID] = definitionOf(s)
	}
	return out
}

func patchBetween(prev, cur service.Definition) service.Patch {
	var p service.Patch
	if cur.Name != prev.Name {
		p.Name = &cur.Name
	}
	if cur.URL != prev.URL {
		p.URL = &cur.URL
	}
	if cur.Path != prev.Path {
		p.Path = &cur.Path
	}
	if cur.CheckInterval != prev.CheckInterval {
		p.CheckInterval = &cur.CheckInterval
	}
	return p
}
