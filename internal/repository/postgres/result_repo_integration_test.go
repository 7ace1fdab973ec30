//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/NordCoder/Pingwatch/internal/domain/check"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dsn(t *testing.T) string {
	t.Helper()
	v := os.Getenv("IT_DB_DSN")
	if v == "" {
		t.Skip("IT_DB_DSN is empty")
	}
	return v
}

func TestResultRepo_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := dsn(t)
	require.NoError(t, Migrate(ctx, url))

	db, err := New(ctx, Config{URL: url, MaxConns: 2, QueryTimeout: 2 * time.Second})
	require.NoError(t, err)
	repo := NewResultRepo(db)
	defer func() { _ = repo.Close() }()

	id := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Append(ctx, id, check.Result{Timestamp: base, Status: check.StatusUp, Latency: check.Latency(80 * time.Millisecond), StatusCode: 200}))
	require.NoError(t, repo.Append(ctx, id, check.Result{Timestamp: base.Add(time.Second), Status: check.StatusDown, Error: check.ErrTimeout}))

	got, err := repo.Recent(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, check.StatusDown, got[0].Status)
	assert.Equal(t, check.ErrTimeout, got[0].Error)
	assert.Nil(t, got[0].Latency)
	assert.Equal(t, 200, got[1].StatusCode)
	assert.True(t, base.Equal(got[1].Timestamp))

	require.NoError(t, repo.Append(ctx, id, check.Result{Timestamp: base.Add(2 * time.Second), Status: check.StatusUp}))
	require.NoError(t, repo.Prune(ctx, id, base.Add(time.Second), 1))
	got, err = repo.Recent(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, base.Add(2*time.Second).Equal(got[0].Timestamp))

	require.NoError(t, repo.Purge(ctx, id))
	got, err = repo.Recent(ctx, id, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
