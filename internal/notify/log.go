package notify

import (
	"log/slog"

	"github.com/loykin/taskvisor/internal/model"
)

// Logger writes every event to slog at info level.
type Logger struct {
	L *slog.Logger
}

func (l Logger) log() *slog.Logger {
	if l.L == nil {
		return slog.Default()
	}
	return l.L
}

func (l Logger) OnApplicationStatusChanged(app model.ManagedApplication) {
	l.log().Info("application status changed", "app", app.ID, "name", app.Name, "status", app.Status, "pid", app.PID())
}

func (l Logger) OnTaskExecuted(rule model.ScheduleRule) {
	var next any
	if rule.NextExecution != nil {
		next = *rule.NextExecution
	}
	l.log().Info("schedule executed", "rule", rule.ID, "app", rule.ApplicationID, "action", rule.Action, "next", next)
}
