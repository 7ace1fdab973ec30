package scheduler

import (
	"testing"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/NordCoder/Pingwatch/internal/domain/event"
	"github.com/NordCoder/Pingwatch/internal/domain/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_AddDefaults(t *testing.T) {
	r := NewRegistry(20)

	svc, err := r.Add(service.Definition{Name: " api ", URL: "https://api.local/"})
	require.NoError(t, err)

	_, perr := uuid.Parse(svc.ID)
	assert.NoError(t, perr)
	assert.Equal(t, "api", svc.Name)
	assert.Equal(t, "https://api.local", svc.URL)
	assert.Equal(t, "/", svc.Path)
	assert.Equal(t, 20, svc.CheckInterval)
	assert.Equal(t, check.StatusPending, svc.Status)
	assert.False(t, svc.CreatedAt.IsZero())
}

func TestRegistry_AddValidation(t *testing.T) {
	r := NewRegistry(10)
	_, err := r.Add(service.Definition{Name: "api", URL: "http://api.local"})
	require.NoError(t, err)

	_, err = r.Add(service.Definition{Name: "api", URL: "http://other.local"})
	assert.ErrorIs(t, err, ErrNameTaken)

	_, err = r.Add(service.Definition{Name: "", URL: "http://x.local"})
	assert.ErrorIs(t, err, ErrInvalidService)

	_, err = r.Add(service.Definition{Name: "x", URL: "ftp://x.local"})
	assert.ErrorIs(t, err, ErrInvalidService)

	_, err = r.Add(service.Definition{Name: "y", URL: "not a url"})
	assert.ErrorIs(t, err, ErrInvalidService)

	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ListIsACopy(t *testing.T) {
	r := NewRegistry(10)
	svc, _ := r.Add(service.Definition{Name: "api", URL: "http://api.local", Path: "health"})
	assert.Equal(t, "/health", svc.Path)

	list := r.List()
	list[0].Name = "mutated"

	got, ok := r.Get(svc.ID)
	require.True(t, ok)
	assert.Equal(t, "api", got.Name)
}

func TestRegistry_RestoreDropsDuplicates(t *testing.T) {
	r := NewRegistry(10)
	err := r.Restore([]service.Service{
		{ID: "a", Name: "one", URL: "http://1.local", Status: check.StatusUp},
		{ID: "a", Name: "dup", URL: "http://2.local"},
		{Name: "noid", URL: "http://3.local", Status: "bogus"},
	})
	assert.ErrorIs(t, err, ErrInvalidService)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "one", list[0].Name)
	assert.Equal(t, check.StatusUp, list[0].Status)
	assert.NotEmpty(t, list[1].ID)
	assert.Equal(t, check.StatusPending, list[1].Status)
}

func TestRegistry_UpdateAndRemove(t *testing.T) {
	r := NewRegistry(10)
	a, _ := r.Add(service.Definition{Name: "a", URL: "http://a.local"})
	_, _ = r.Add(service.Definition{Name: "b", URL: "http://b.local"})

	taken := "b"
	_, err := r.Update(a.ID, service.Patch{Name: &taken})
	assert.ErrorIs(t, err, ErrNameTaken)

	name, path, interval := "alpha", "/ping", 60
	got, err := r.Update(a.ID, service.Patch{Name: &name, Path: &path, CheckInterval: &interval})
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)
	assert.Equal(t, "http://a.local/ping", got.Target())
	assert.Equal(t, 60, got.CheckInterval)

	zero := 0
	_, err = r.Update(a.ID, service.Patch{CheckInterval: &zero})
	assert.ErrorIs(t, err, ErrInvalidService)

	_, err = r.Update("missing", service.Patch{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Remove(a.ID)
	require.NoError(t, err)
	_, err = r.Remove(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, r.Len())
}

func TestBus_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := NewBus(zap.NewNop())
	slow, cancelSlow := b.Subscribe(1)
	fast, cancelFast := b.Subscribe(8)
	defer cancelFast()

	for i := 0; i < 3; i++ {
		b.Publish(event.Event{Kind: event.KindUpdated})
	}

	assert.Len(t, drain(slow), 1)
	assert.Len(t, drain(fast), 3)

	cancelSlow()
	cancelSlow()
	_, open := <-slow
	assert.False(t, open)
}
