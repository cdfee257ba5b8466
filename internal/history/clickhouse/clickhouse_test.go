package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/taskvisor/internal/history"
	"github.com/loykin/taskvisor/internal/model"
)

// setupClickHouse starts a ClickHouse container and returns its native address.
func setupClickHouse(ctx context.Context, t *testing.T) string {
	t.Helper()

	c, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("clickhouse container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	addr := setupClickHouse(ctx, t)

	sink, err := New(Options{Addr: addr, Table: "taskvisor_history_test"})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	app := model.ManagedApplication{ID: "a1", Name: "worker", Status: model.StatusRunning, Process: &model.ProcessHandle{PID: 4321}}
	require.NoError(t, sink.Send(ctx, history.StatusEvent(app, time.Now())))
	rule := model.ScheduleRule{ID: "r1", ApplicationID: "a1", Name: "nightly", Action: model.ActionRestart}
	require.NoError(t, sink.Send(ctx, history.TaskEvent(rule, time.Now())))

	var count uint64
	row := sink.conn.QueryRow(ctx, "SELECT count() FROM taskvisor_history_test WHERE app_id = ?", "a1")
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, uint64(2), count)

	var pid int64
	var status string
	row = sink.conn.QueryRow(ctx, "SELECT pid, status FROM taskvisor_history_test WHERE type = 'status_changed'")
	require.NoError(t, row.Scan(&pid, &status))
	assert.Equal(t, int64(4321), pid)
	assert.Equal(t, "running", status)
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New(Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
