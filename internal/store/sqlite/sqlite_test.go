package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/taskvisor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLite_EmptyThenRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Applications)

	crash := time.Date(2024, 2, 2, 2, 2, 2, 0, time.UTC)
	in := model.Snapshot{Version: 1, Applications: []model.ManagedApplication{{
		ID: "a1", Name: "api", ExecutablePath: "/opt/api", Enabled: true,
		RestartOnCrash: true, MaxRestartAttempts: 2, Status: model.StatusStopped,
		LastCrashTime: &crash, TotalCrashes: 4,
		Schedules: []model.ScheduleRule{{ID: "s1", ApplicationID: "a1", Type: model.ScheduleStartup, Action: model.ActionStart, Enabled: true}},
	}}}
	require.NoError(t, db.Save(ctx, in))

	in.Version = 2
	in.Applications[0].TotalCrashes = 5
	require.NoError(t, db.Save(ctx, in))

	out, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), out.Version)
	require.Len(t, out.Applications, 1)
	assert.Equal(t, 5, out.Applications[0].TotalCrashes)
	assert.True(t, crash.Equal(*out.Applications[0].LastCrashTime))
	require.Len(t, out.Applications[0].Schedules, 1)
	assert.Equal(t, model.ScheduleStartup, out.Applications[0].Schedules[0].Type)
}

func TestSQLite_EmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
