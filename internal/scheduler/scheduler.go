// Package scheduler fires schedule rules: a one-shot startup pass at
// bring-up and a periodic dispatch of rules whose next execution is due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/loykin/taskvisor/internal/cron"
	"github.com/loykin/taskvisor/internal/metrics"
	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/notify"
	"github.com/loykin/taskvisor/internal/registry"
	"github.com/loykin/taskvisor/internal/schedule"
)

// DefaultInterval is the dispatch cadence.
const DefaultInterval = time.Minute

// Actions is the part of the supervisor a rule can trigger.
type Actions interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
}

type Scheduler struct {
	reg      *registry.Registry
	actions  Actions
	notifier notify.Observer
	loop     *cron.Loop
}

func New(reg *registry.Registry, actions Actions, notifier notify.Observer, interval time.Duration) *Scheduler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{reg: reg, actions: actions, notifier: notifier}
	s.loop = &cron.Loop{Name: "scheduler", Every: interval, Run: func(ctx context.Context) {
		s.DispatchCycle(ctx, s.reg.Now())
	}}
	return s
}

// Run dispatches whatever is already due, then starts the dispatch loop and
// blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.DispatchCycle(ctx, s.reg.Now())
	if err := s.loop.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.loop.Stop()
	return nil
}

// Task is one due rule together with its owning application's name.
type Task = registry.ScheduledRule

// ExecuteStartupTasks dispatches every enabled startup rule of every enabled
// application, ordered by the application's startup delay. Each task waits
// its own delay when its turn comes; equal delays keep registry order.
func (s *Scheduler) ExecuteStartupTasks(ctx context.Context) {
	type startupTask struct {
		rule  model.ScheduleRule
		delay time.Duration
	}
	var tasks []startupTask
	for _, app := range s.reg.Applications() {
		if !app.Enabled {
			continue
		}
		for _, r := range app.Schedules {
			if r.Enabled && r.Type == model.ScheduleStartup {
				tasks = append(tasks, startupTask{rule: r, delay: app.StartupDelay})
			}
		}
	}
	if len(tasks) == 0 {
		return
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].delay < tasks[j].delay })

	slog.Info("running startup tasks", "count", len(tasks))
	for _, t := range tasks {
		if t.delay > 0 {
			slog.Info("delaying startup task", "app", t.rule.ApplicationID, "schedule", t.rule.ID, "delay", t.delay)
			if err := sleep(ctx, t.delay); err != nil {
				slog.Info("startup pass abandoned", "error", err)
				return
			}
		}
		s.execute(ctx, t.rule, s.reg.Now())
	}
	s.persist(context.WithoutCancel(ctx))
}

// PendingTasks returns every enabled rule of every enabled application whose
// next execution is set and not after now, earliest first.
func (s *Scheduler) PendingTasks(now time.Time) []Task {
	var out []Task
	for _, r := range s.reg.Rules() {
		if !r.ApplicationEnabled || !r.Enabled || r.NextExecution == nil {
			continue
		}
		if !r.NextExecution.After(now) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NextExecution.Before(*out[j].NextExecution) })
	return out
}

// DispatchCycle executes the tasks due at now and persists once. A failed
// dispatch leaves the rule untouched so the next cycle retries it.
func (s *Scheduler) DispatchCycle(ctx context.Context, now time.Time) {
	begin := time.Now()
	defer func() { metrics.ObserveCycle("scheduler", time.Since(begin).Seconds()) }()

	pending := s.PendingTasks(now)
	if len(pending) == 0 {
		return
	}
	for _, t := range pending {
		if ctx.Err() != nil {
			break
		}
		app, err := s.reg.Application(t.ApplicationID)
		if err != nil || !app.Enabled {
			slog.Debug("skipping schedule, application missing or disabled", "schedule", t.ID, "app", t.ApplicationID)
			continue
		}
		s.execute(ctx, t.ScheduleRule, now)
	}
	s.persist(context.WithoutCancel(ctx))
}

// execute dispatches one rule and, on success, records the execution at
// at and notifies observers.
func (s *Scheduler) execute(ctx context.Context, rule model.ScheduleRule, at time.Time) {
	slog.Info("executing schedule", "schedule", rule.ID, "name", rule.Name, "action", rule.Action, "app", rule.ApplicationID)
	if err := s.dispatch(ctx, rule); err != nil {
		metrics.IncTaskExecution(string(rule.Action), false)
		slog.Error("schedule failed", "schedule", rule.ID, "app", rule.ApplicationID, "error", err)
		return
	}
	metrics.IncTaskExecution(string(rule.Action), true)
	updated, err := s.reg.WithRule(rule.ApplicationID, rule.ID, func(r *model.ScheduleRule) {
		schedule.MarkExecuted(r, at)
	})
	if err != nil {
		// removed while dispatching
		slog.Warn("schedule vanished after dispatch", "schedule", rule.ID, "error", err)
		return
	}
	s.notifier.OnTaskExecuted(updated)
}

func (s *Scheduler) dispatch(ctx context.Context, rule model.ScheduleRule) error {
	switch rule.Action {
	case model.ActionStart:
		return s.actions.Start(ctx, rule.ApplicationID)
	case model.ActionStop:
		return s.actions.Stop(ctx, rule.ApplicationID)
	case model.ActionRestart:
		return s.actions.Restart(ctx, rule.ApplicationID)
	}
	return fmt.Errorf("unknown action %q", rule.Action)
}

func (s *Scheduler) persist(ctx context.Context) {
	if err := s.reg.Persist(ctx); err != nil {
		metrics.IncPersistFailure()
		slog.Error("persist snapshot", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
