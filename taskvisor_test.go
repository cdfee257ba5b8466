package taskvisor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskvisor/internal/config"
	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/notify"
	"github.com/loykin/taskvisor/internal/process"
	"github.com/loykin/taskvisor/internal/store"
)

type memLauncher struct {
	mu    sync.Mutex
	next  int
	alive map[int]bool
}

func newMemLauncher() *memLauncher { return &memLauncher{next: 500, alive: make(map[int]bool)} }

func (l *memLauncher) Launch(process.Spec) (model.ProcessHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.alive[l.next] = true
	return model.ProcessHandle{PID: l.next}, nil
}

func (l *memLauncher) Alive(h model.ProcessHandle, _ string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive[h.PID], nil
}

func (l *memLauncher) Terminate(pid int) error { return l.Kill(pid) }

func (l *memLauncher) Kill(pid int) error {
	l.mu.Lock()
	delete(l.alive, pid)
	l.mu.Unlock()
	return nil
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.Listen = ""
	cfg.Metrics.Enabled = false
	cfg.Supervisor.GracePeriod = 200 * time.Millisecond
	cfg.Supervisor.RestartDelay = -1
	cfg.Supervisor.CrashRestartDelay = -1
	return cfg
}

func newTestDaemon(t *testing.T, cfg *Config, st store.Store, opts ...Option) *Daemon {
	t.Helper()
	opts = append([]Option{WithLauncher(newMemLauncher()), WithStore(st)}, opts...)
	d, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestNew_SeedsOnlyMissingApplications(t *testing.T) {
	st := store.NewMemory()
	cfg := testConfig()
	cfg.Applications = []config.AppConfig{{
		ID:             "web",
		Name:           "web",
		ExecutablePath: "/opt/web/server",
		Schedules: []config.RuleConfig{
			{Name: "nightly", Type: "daily", Action: "restart", TimeOfDay: "03:00"},
		},
	}}

	d, err := New(context.Background(), cfg, WithLauncher(newMemLauncher()), WithStore(st))
	require.NoError(t, err)
	app, err := d.Application("web")
	require.NoError(t, err)
	assert.Equal(t, "/opt/web/server", app.ExecutablePath)
	require.Len(t, app.Schedules, 1)
	assert.Equal(t, "web-1", app.Schedules[0].ID)
	assert.NotNil(t, app.Schedules[0].NextExecution)

	_, err = d.UpdateApplication(context.Background(), func() Application {
		a := app
		a.ExecutablePath = "/opt/web/v2"
		return a
	}())
	require.NoError(t, err)

	// a second daemon over the same store keeps the edited entry
	d2, err := New(context.Background(), cfg, WithLauncher(newMemLauncher()), WithStore(st))
	require.NoError(t, err)
	app, err = d2.Application("web")
	require.NoError(t, err)
	assert.Equal(t, "/opt/web/v2", app.ExecutablePath)
	assert.Len(t, d2.Applications(), 1)
}

func TestNew_InvalidStoreDSN(t *testing.T) {
	cfg := testConfig()
	cfg.Store.DSN = "mysql://nope"
	_, err := New(context.Background(), cfg, WithLauncher(newMemLauncher()))
	require.Error(t, err)
}

func TestDaemon_Lifecycle(t *testing.T) {
	var mu sync.Mutex
	var seen []Status
	obs := notify.Funcs{Status: func(a model.ManagedApplication) {
		mu.Lock()
		seen = append(seen, a.Status)
		mu.Unlock()
	}}
	d := newTestDaemon(t, testConfig(), store.NewMemory(), WithObserver(obs))
	ctx := context.Background()

	app, err := d.AddApplication(ctx, Application{Name: "worker", ExecutablePath: "/opt/worker", Enabled: true})
	require.NoError(t, err)
	require.NotEmpty(t, app.ID)

	require.NoError(t, d.Start(ctx, app.ID))
	running, err := d.IsRunning(app.ID)
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, d.Restart(ctx, app.ID))
	require.NoError(t, d.ReconcileStatus(ctx, app.ID))
	require.NoError(t, d.Stop(ctx, app.ID))
	got, err := d.Application(app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStopped, got.Status)
	assert.Nil(t, got.Process)

	require.NoError(t, d.StartAll(ctx))
	require.NoError(t, d.StopAll(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == model.StatusStopped
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, d.Start(ctx, app.ID))
	require.NoError(t, d.RemoveApplication(ctx, app.ID))
	_, err = d.Application(app.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, d.Start(ctx, app.ID), ErrNotFound)
}

func TestDaemon_Rules(t *testing.T) {
	now := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)
	d := newTestDaemon(t, testConfig(), store.NewMemory(), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	app, err := d.AddApplication(ctx, Application{ID: "a", Name: "A", ExecutablePath: "/opt/a", Enabled: true})
	require.NoError(t, err)
	v0 := d.Snapshot().Version

	rule, err := d.AddRule(ctx, app.ID, ScheduleRule{
		Type: model.ScheduleInterval, Action: model.ActionStart, Interval: 10 * time.Minute, Enabled: true,
	})
	require.NoError(t, err)
	require.NotNil(t, rule.NextExecution)
	assert.Equal(t, now.Add(10*time.Minute), *rule.NextExecution)

	assert.Empty(t, d.PendingTasks(now))
	pending := d.PendingTasks(now.Add(10 * time.Minute))
	require.Len(t, pending, 1)
	assert.Equal(t, "A", pending[0].ApplicationName)

	rule.Interval = time.Hour
	rule, err = d.UpdateRule(ctx, app.ID, rule)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), *rule.NextExecution)
	assert.Len(t, d.Rules(), 1)

	require.NoError(t, d.RemoveRule(ctx, app.ID, rule.ID))
	assert.Empty(t, d.Rules())
	assert.Equal(t, v0+3, d.Snapshot().Version)
}

func TestDaemon_RunExecutesStartupTasks(t *testing.T) {
	cfg := testConfig()
	cfg.Applications = []config.AppConfig{{
		Name:           "boot",
		ExecutablePath: "/opt/boot",
		Schedules:      []config.RuleConfig{{Type: "startup", Action: "start"}},
	}}
	d := newTestDaemon(t, cfg, store.NewMemory())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		ok, _ := d.IsRunning("boot")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDaemon_HandlerServesAPIAndMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	d := newTestDaemon(t, cfg, store.NewMemory())
	_, err := d.AddApplication(context.Background(), Application{ID: "m", Name: "m", ExecutablePath: "/opt/m", Enabled: true})
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background(), "m"))

	ts := httptest.NewServer(d.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "taskvisor_app_starts_total")
}
