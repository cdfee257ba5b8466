package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskvisor/internal/model"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "taskvisor.json", c.Store.DSN)
	assert.Equal(t, 5*time.Second, c.Supervisor.PollInterval)
	assert.Equal(t, 5*time.Second, c.Supervisor.GracePeriod)
	assert.Equal(t, 2*time.Second, c.Supervisor.RestartDelay)
	assert.Equal(t, 5*time.Second, c.Supervisor.CrashRestartDelay)
	assert.Equal(t, time.Minute, c.Scheduler.Interval)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "/api", c.Server.BasePath)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "taskvisor", c.MQTT.TopicPrefix)
	assert.NoError(t, c.Validate())
}

func TestLoad_Full(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "taskvisor.toml", `
env = ["A=1", "B=2"]

[store]
dsn = "sqlite:///var/lib/taskvisor/state.db"

[supervisor]
poll_interval = "2s"
grace_period = "10s"

[scheduler]
interval = "30s"

[log]
level = "debug"
format = "json"
app_dir = "/var/log/apps"

[server]
listen = ":9000"

[history]
sinks = ["sqlite:///tmp/h.db"]

[mqtt]
broker = "tcp://localhost:1883"
qos = 1

[[applications]]
name = "worker"
executable_path = "/opt/worker/bin/worker"
arguments = "--port 80"
startup_delay = "3s"
max_restart_attempts = 5

  [[applications.schedules]]
  type = "daily"
  action = "restart"
  time_of_day = "03:30"

  [[applications.schedules]]
  id = "weekly-stop"
  type = "weekly"
  action = "stop"
  time_of_day = "22:00:15"
  day_of_week = "friday"

[[applications]]
id = "idle"
name = "Idle"
executable_path = "/bin/idle"
enabled = false
restart_on_crash = false
`)
	c, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///var/lib/taskvisor/state.db", c.Store.DSN)
	assert.Equal(t, 2*time.Second, c.Supervisor.PollInterval)
	assert.Equal(t, 10*time.Second, c.Supervisor.GracePeriod)
	assert.Equal(t, 2*time.Second, c.Supervisor.RestartDelay, "unset keys keep defaults")
	assert.Equal(t, 30*time.Second, c.Scheduler.Interval)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "/var/log/apps", c.Log.AppDir)
	assert.Equal(t, ":9000", c.Server.Listen)
	assert.Equal(t, []string{"sqlite:///tmp/h.db"}, c.History.Sinks)
	assert.Equal(t, byte(1), c.MQTT.QoS)
	assert.Equal(t, []string{"A=1", "B=2"}, c.Env)

	seeds, err := c.Seeds()
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	w := seeds[0]
	assert.Equal(t, "worker", w.ID)
	assert.True(t, w.Enabled)
	assert.True(t, w.RestartOnCrash)
	assert.Equal(t, 5, w.MaxRestartAttempts)
	assert.Equal(t, 3*time.Second, w.StartupDelay)
	require.Len(t, w.Schedules, 2)
	assert.Equal(t, "worker-1", w.Schedules[0].ID)
	assert.Equal(t, "worker", w.Schedules[0].ApplicationID)
	assert.Equal(t, model.ScheduleDaily, w.Schedules[0].Type)
	assert.Equal(t, 3*time.Hour+30*time.Minute, w.Schedules[0].TimeOfDay)
	assert.True(t, w.Schedules[0].Enabled)
	assert.Equal(t, time.Friday, w.Schedules[1].DayOfWeek)
	assert.Equal(t, 22*time.Hour+15*time.Second, w.Schedules[1].TimeOfDay)

	idle := seeds[1]
	assert.Equal(t, "idle", idle.ID)
	assert.False(t, idle.Enabled)
	assert.False(t, idle.RestartOnCrash)
	assert.Equal(t, DefaultMaxRestartAttempts, idle.MaxRestartAttempts)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "c.toml", "[store]\ndsn = \"from-file.json\"\n")
	t.Setenv("TASKVISOR_STORE_DSN", "redis://localhost:6379/0")
	t.Setenv("TASKVISOR_SUPERVISOR_POLL_INTERVAL", "7s")

	c, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", c.Store.DSN)
	assert.Equal(t, 7*time.Second, c.Supervisor.PollInterval)

	c, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", c.Store.DSN)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad interval": "[scheduler]\ninterval = \"0s\"\n",
		"sub-second":   "[supervisor]\npoll_interval = \"1500ms\"\n",
		"bad qos":      "[mqtt]\nqos = 3\n",
		"no exe":       "[[applications]]\nname = \"x\"\n",
		"dup ids":      "[[applications]]\nname = \"x\"\nexecutable_path = \"/a\"\n[[applications]]\nname = \"x\"\nexecutable_path = \"/b\"\n",
		"bad schedule": "[[applications]]\nname = \"x\"\nexecutable_path = \"/a\"\n[[applications.schedules]]\ntype = \"interval\"\naction = \"start\"\n",
		"bad time":     "[[applications]]\nname = \"x\"\nexecutable_path = \"/a\"\n[[applications.schedules]]\ntype = \"daily\"\naction = \"start\"\ntime_of_day = \"25:00\"\n",
		"bad toml":     "[store\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, dir, name+".toml", data))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestGlobalEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "A=from-file\n# comment\nFILE_ONLY=fv\nQUOTED=\"x y\"\n")
	file := writeFile(t, dir, "c.toml", "env = [\"A=from-list\", \"B=2\"]\nenv_files = [\".env\"]\n")

	c, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".env"), c.EnvFiles[0])
	got, err := c.GlobalEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"A=from-list", "B=2", "FILE_ONLY=fv", "QUOTED=x y"}, got)

	c.EnvFiles = []string{filepath.Join(dir, "nope.env")}
	_, err = c.GlobalEnv()
	assert.Error(t, err)
}

func TestParseTimeOfDay(t *testing.T) {
	d, err := ParseTimeOfDay("09:05")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+5*time.Minute, d)
	d, err = ParseTimeOfDay("23:59:59")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour-time.Second, d)
	for _, bad := range []string{"", "9", "24:00", "12:60", "noon"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "09:05", FormatTimeOfDay(9*time.Hour+5*time.Minute))
	assert.Equal(t, "22:00:15", FormatTimeOfDay(22*time.Hour+15*time.Second))
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{
		"Sunday": time.Sunday, "mon": time.Monday, "WEDNESDAY": time.Wednesday, "6": time.Saturday, "0": time.Sunday,
	} {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"7", "-1", "funday"} {
		_, err := ParseWeekday(bad)
		assert.Error(t, err, bad)
	}
}
