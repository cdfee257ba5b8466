package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/taskvisor/internal/model"
)

// AppConfig is one [[applications]] seed.
type AppConfig struct {
	ID                 string          `mapstructure:"id"`
	Name               string          `mapstructure:"name"`
	ExecutablePath     string          `mapstructure:"executable_path"`
	Arguments          string          `mapstructure:"arguments"`
	WorkingDirectory   string          `mapstructure:"working_directory"`
	Env                []string        `mapstructure:"env"`
	Enabled            *bool           `mapstructure:"enabled"`
	StartupDelay       time.Duration   `mapstructure:"startup_delay"`
	RestartOnCrash     *bool           `mapstructure:"restart_on_crash"`
	MaxRestartAttempts *int            `mapstructure:"max_restart_attempts"`
	Log                model.LogConfig `mapstructure:"log"`
	Schedules          []RuleConfig    `mapstructure:"schedules"`
}

// RuleConfig is one [[applications.schedules]] entry. TimeOfDay is "HH:MM"
// or "HH:MM:SS"; DayOfWeek is an English weekday name or 0-6 (Sunday = 0).
type RuleConfig struct {
	ID        string        `mapstructure:"id"`
	Name      string        `mapstructure:"name"`
	Type      string        `mapstructure:"type"`
	Action    string        `mapstructure:"action"`
	TimeOfDay string        `mapstructure:"time_of_day"`
	Interval  time.Duration `mapstructure:"interval"`
	DayOfWeek string        `mapstructure:"day_of_week"`
	Enabled   *bool         `mapstructure:"enabled"`
}

// DefaultMaxRestartAttempts applies when a seed leaves max_restart_attempts unset.
const DefaultMaxRestartAttempts = 3

// Application converts the seed to a validated ManagedApplication. The id
// defaults to the name; enabled and restart_on_crash default to true.
func (a AppConfig) Application() (model.ManagedApplication, error) {
	app := model.ManagedApplication{
		ID:                 strings.TrimSpace(a.ID),
		Name:               strings.TrimSpace(a.Name),
		ExecutablePath:     a.ExecutablePath,
		Arguments:          a.Arguments,
		WorkingDirectory:   a.WorkingDirectory,
		Env:                a.Env,
		Enabled:            boolOr(a.Enabled, true),
		StartupDelay:       a.StartupDelay,
		RestartOnCrash:     boolOr(a.RestartOnCrash, true),
		MaxRestartAttempts: DefaultMaxRestartAttempts,
		Log:                a.Log,
		Status:             model.StatusStopped,
	}
	if a.MaxRestartAttempts != nil {
		app.MaxRestartAttempts = *a.MaxRestartAttempts
	}
	if app.ID == "" {
		app.ID = app.Name
	}
	for i, rc := range a.Schedules {
		r, err := rc.Rule()
		if err != nil {
			return model.ManagedApplication{}, err
		}
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-%d", app.ID, i+1)
		}
		if r.Name == "" {
			r.Name = r.ID
		}
		r.ApplicationID = app.ID
		app.Schedules = append(app.Schedules, r)
	}
	if err := app.Validate(); err != nil {
		return model.ManagedApplication{}, err
	}
	return app, nil
}

// Rule converts the entry to a ScheduleRule. Validation happens with the
// owning application.
func (rc RuleConfig) Rule() (model.ScheduleRule, error) {
	r := model.ScheduleRule{
		ID:       strings.TrimSpace(rc.ID),
		Name:     rc.Name,
		Type:     model.ScheduleType(strings.ToLower(strings.TrimSpace(rc.Type))),
		Action:   model.Action(strings.ToLower(strings.TrimSpace(rc.Action))),
		Interval: rc.Interval,
		Enabled:  boolOr(rc.Enabled, true),
	}
	if rc.TimeOfDay != "" {
		tod, err := ParseTimeOfDay(rc.TimeOfDay)
		if err != nil {
			return r, fmt.Errorf("schedule %s: %w", rc.ID, err)
		}
		r.TimeOfDay = tod
	}
	if rc.DayOfWeek != "" {
		wd, err := ParseWeekday(rc.DayOfWeek)
		if err != nil {
			return r, fmt.Errorf("schedule %s: %w", rc.ID, err)
		}
		r.DayOfWeek = wd
	}
	return r, nil
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q (want HH:MM or HH:MM:SS)", s)
}

// ParseWeekday accepts full or three-letter English names (any case) or 0-6.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("day of week %d out of range 0-6", n)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown day of week %q", s)
}

// FormatTimeOfDay renders an offset from midnight as HH:MM[:SS].
func FormatTimeOfDay(d time.Duration) string {
	h, m, s := int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second)
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// Seeds converts every [[applications]] entry.
func (c *Config) Seeds() ([]model.ManagedApplication, error) {
	out := make([]model.ManagedApplication, 0, len(c.Applications))
	for i, a := range c.Applications {
		app, err := a.Application()
		if err != nil {
			return nil, fmt.Errorf("applications[%d]: %w", i, err)
		}
		out = append(out, app)
	}
	return out, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
