package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/taskvisor/internal/model"
)

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := New(connStr)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Applications)

	in := model.Snapshot{Version: 9, Applications: []model.ManagedApplication{{
		ID: "pg-1", Name: "db-sync", ExecutablePath: "/usr/local/bin/sync", Enabled: true,
		Status: model.StatusStopped, TotalUptime: time.Hour,
	}}}
	require.NoError(t, db.Save(ctx, in))
	require.NoError(t, db.Save(ctx, in))

	out, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), out.Version)
	require.Len(t, out.Applications, 1)
	assert.Equal(t, time.Hour, out.Applications[0].TotalUptime)
}
