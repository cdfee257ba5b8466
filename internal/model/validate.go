package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the user-editable fields of an application and its schedules.
func (a *ManagedApplication) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return invalidf("application id required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return invalidf("application %s: name required", a.ID)
	}
	if strings.TrimSpace(a.ExecutablePath) == "" {
		return invalidf("application %s: executable_path required", a.ID)
	}
	if a.MaxRestartAttempts < 0 {
		return invalidf("application %s: max_restart_attempts must be >= 0", a.ID)
	}
	if a.StartupDelay < 0 {
		return invalidf("application %s: startup_delay must be >= 0", a.ID)
	}
	if a.Status != "" && !a.Status.Valid() {
		return invalidf("application %s: unknown status %q", a.ID, a.Status)
	}
	seen := make(map[string]struct{}, len(a.Schedules))
	for i := range a.Schedules {
		r := &a.Schedules[i]
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			return invalidf("application %s: duplicate schedule id %s", a.ID, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// Validate checks a schedule's parameters against its type.
func (r *ScheduleRule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return invalidf("schedule id required")
	}
	if !r.Type.Valid() {
		return invalidf("schedule %s: unknown schedule_type %q", r.ID, r.Type)
	}
	if !r.Action.Valid() {
		return invalidf("schedule %s: unknown action %q", r.ID, r.Action)
	}
	switch r.Type {
	case ScheduleInterval:
		if r.Interval <= 0 {
			return invalidf("schedule %s: interval must be > 0", r.ID)
		}
	case ScheduleDaily, ScheduleWeekly:
		if r.TimeOfDay < 0 || r.TimeOfDay >= 24*time.Hour {
			return invalidf("schedule %s: time_of_day must be within a day", r.ID)
		}
		if r.Type == ScheduleWeekly && (r.DayOfWeek < time.Sunday || r.DayOfWeek > time.Saturday) {
			return invalidf("schedule %s: day_of_week out of range", r.ID)
		}
	}
	return nil
}
