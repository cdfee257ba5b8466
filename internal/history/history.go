// Package history exports lifecycle events (status changes and executed
// schedules) to external analytics stores.
package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/taskvisor/internal/model"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStatusChanged EventType = "status_changed"
	EventTaskExecuted  EventType = "task_executed"
)

// Event is one exported row. Application fields are always set; schedule
// fields only for EventTaskExecuted.
type Event struct {
	Type            EventType `json:"type"`
	OccurredAt      time.Time `json:"occurred_at"`
	ApplicationID   string    `json:"application_id"`
	ApplicationName string    `json:"application_name,omitempty"`
	Status          string    `json:"status,omitempty"`
	PID             int       `json:"pid,omitempty"`
	TotalCrashes    int       `json:"total_crashes"`
	RestartAttempts int       `json:"restart_attempts"`
	ScheduleID      string    `json:"schedule_id,omitempty"`
	ScheduleName    string    `json:"schedule_name,omitempty"`
	Action          string    `json:"action,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// StatusEvent builds the event for an application status change.
func StatusEvent(app model.ManagedApplication, at time.Time) Event {
	return Event{
		Type:            EventStatusChanged,
		OccurredAt:      at.UTC(),
		ApplicationID:   app.ID,
		ApplicationName: app.Name,
		Status:          string(app.Status),
		PID:             app.PID(),
		TotalCrashes:    app.TotalCrashes,
		RestartAttempts: app.CurrentRestartAttempts,
	}
}

// TaskEvent builds the event for an executed schedule.
func TaskEvent(rule model.ScheduleRule, at time.Time) Event {
	return Event{
		Type:          EventTaskExecuted,
		OccurredAt:    at.UTC(),
		ApplicationID: rule.ApplicationID,
		ScheduleID:    rule.ID,
		ScheduleName:  rule.Name,
		Action:        string(rule.Action),
	}
}

// DefaultSendTimeout bounds a single Send on every sink.
const DefaultSendTimeout = 5 * time.Second

// Observer fans notifications out to sinks. It is meant to be registered on
// a notify.Dispatcher, which already runs it off the supervision loops.
type Observer struct {
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
}

func NewObserver(sinks ...Sink) *Observer {
	return &Observer{sinks: sinks, timeout: DefaultSendTimeout, now: time.Now}
}

func (o *Observer) OnApplicationStatusChanged(app model.ManagedApplication) {
	o.send(StatusEvent(app, o.now()))
}

func (o *Observer) OnTaskExecuted(rule model.ScheduleRule) {
	o.send(TaskEvent(rule, o.now()))
}

func (o *Observer) send(e Event) {
	for _, s := range o.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("history sink send failed", "type", e.Type, "app", e.ApplicationID, "error", err)
		}
		cancel()
	}
}

// Close closes every sink.
func (o *Observer) Close() error {
	var errs []error
	for _, s := range o.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
