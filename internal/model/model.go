package model

import (
	"time"
)

// Status is the lifecycle state of a managed application.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusStopping, StatusError:
		return true
	}
	return false
}

// ProcessHandle identifies a launched process. StartUnix is the kernel-reported
// start time (seconds) and is used to reject reused PIDs; zero means unknown.
type ProcessHandle struct {
	PID       int   `json:"pid" yaml:"pid"`
	StartUnix int64 `json:"start_unix,omitempty" yaml:"start_unix,omitempty"`
}

// LogConfig controls capture of an application's stdout/stderr.
type LogConfig struct {
	Dir        string `json:"dir,omitempty" yaml:"dir,omitempty" mapstructure:"dir"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty" mapstructure:"compress"`
}

// ManagedApplication is one supervised executable together with its policy,
// runtime state and schedules.
type ManagedApplication struct {
	ID               string        `json:"id" yaml:"id"`
	Name             string        `json:"name" yaml:"name"`
	ExecutablePath   string        `json:"executable_path" yaml:"executable_path"`
	Arguments        string        `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	WorkingDirectory string        `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	Env              []string      `json:"env,omitempty" yaml:"env,omitempty"`
	Log              LogConfig     `json:"log,omitempty" yaml:"log,omitempty"`
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	StartupDelay     time.Duration `json:"startup_delay" yaml:"startup_delay"`

	RestartOnCrash     bool `json:"restart_on_crash" yaml:"restart_on_crash"`
	MaxRestartAttempts int  `json:"max_restart_attempts" yaml:"max_restart_attempts"`

	Status                 Status         `json:"status" yaml:"status"`
	Process                *ProcessHandle `json:"process,omitempty" yaml:"process,omitempty"`
	CurrentRestartAttempts int            `json:"current_restart_attempts" yaml:"current_restart_attempts"`
	LastStarted            *time.Time     `json:"last_started,omitempty" yaml:"last_started,omitempty"`
	LastStopped            *time.Time     `json:"last_stopped,omitempty" yaml:"last_stopped,omitempty"`
	LastCrashTime          *time.Time     `json:"last_crash_time,omitempty" yaml:"last_crash_time,omitempty"`
	TotalCrashes           int            `json:"total_crashes" yaml:"total_crashes"`
	TotalUptime            time.Duration  `json:"total_uptime" yaml:"total_uptime"`
	CreatedAt              time.Time      `json:"created_at" yaml:"created_at"`

	Schedules []ScheduleRule `json:"schedules" yaml:"schedules"`
}

// PID returns the recorded process id or 0 when no handle is held.
func (a ManagedApplication) PID() int {
	if a.Process == nil {
		return 0
	}
	return a.Process.PID
}

// Clone returns a deep copy; schedules and time pointers are not shared.
func (a ManagedApplication) Clone() ManagedApplication {
	c := a
	if a.Env != nil {
		c.Env = append([]string(nil), a.Env...)
	}
	if a.Process != nil {
		h := *a.Process
		c.Process = &h
	}
	c.LastStarted = cloneTime(a.LastStarted)
	c.LastStopped = cloneTime(a.LastStopped)
	c.LastCrashTime = cloneTime(a.LastCrashTime)
	if a.Schedules != nil {
		c.Schedules = make([]ScheduleRule, len(a.Schedules))
		for i, r := range a.Schedules {
			c.Schedules[i] = r.Clone()
		}
	}
	return c
}

// Snapshot is the full persisted state: every managed application with its schedules.
type Snapshot struct {
	Version      uint64               `json:"version" yaml:"version"`
	Applications []ManagedApplication `json:"applications" yaml:"applications"`
}

func (s Snapshot) Clone() Snapshot {
	c := Snapshot{Version: s.Version, Applications: make([]ManagedApplication, len(s.Applications))}
	for i, a := range s.Applications {
		c.Applications[i] = a.Clone()
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a small helper for optional timestamps.
func TimePtr(t time.Time) *time.Time { return &t }
