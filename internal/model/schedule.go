package model

import "time"

// ScheduleType selects the recurrence kind of a ScheduleRule.
type ScheduleType string

const (
	ScheduleNone     ScheduleType = "none"
	ScheduleStartup  ScheduleType = "startup"
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
)

func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleNone, ScheduleStartup, ScheduleInterval, ScheduleDaily, ScheduleWeekly:
		return true
	}
	return false
}

// Action is what a schedule does to its application when it fires.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionStop, ActionRestart:
		return true
	}
	return false
}

// ScheduleRule binds one recurring or one-shot trigger to one application.
// NextExecution is derived; see scheduler.Refresh.
type ScheduleRule struct {
	ID            string        `json:"id" yaml:"id"`
	ApplicationID string        `json:"application_id" yaml:"application_id"`
	Name          string        `json:"name" yaml:"name"`
	Type          ScheduleType  `json:"schedule_type" yaml:"schedule_type"`
	Action        Action        `json:"action" yaml:"action"`
	TimeOfDay     time.Duration `json:"time_of_day" yaml:"time_of_day"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
	DayOfWeek     time.Weekday  `json:"day_of_week" yaml:"day_of_week"`
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	LastExecuted  *time.Time    `json:"last_executed,omitempty" yaml:"last_executed,omitempty"`
	NextExecution *time.Time    `json:"next_execution,omitempty" yaml:"next_execution,omitempty"`
}

func (r ScheduleRule) Clone() ScheduleRule {
	c := r
	c.LastExecuted = cloneTime(r.LastExecuted)
	c.NextExecution = cloneTime(r.NextExecution)
	return c
}
