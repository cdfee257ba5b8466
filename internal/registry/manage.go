package registry

import (
	"context"
	"fmt"

	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/schedule"
)

// ScheduledRule is a rule together with the name of the application that owns it.
type ScheduledRule struct {
	model.ScheduleRule
	ApplicationName    string `json:"application_name"`
	ApplicationEnabled bool   `json:"application_enabled"`
}

// AddApplication registers app. Empty ids (application and schedules) are
// generated; runtime state starts from Stopped with no handle.
// A persistence failure is returned wrapped in ErrPersist; the application
// stays registered in memory and is saved again by the next background cycle.
func (r *Registry) AddApplication(ctx context.Context, app model.ManagedApplication) (model.ManagedApplication, error) {
	a := app.Clone()
	if blank(a.ID) {
		a.ID = newID()
	}
	a.Status = model.StatusStopped
	a.Process = nil
	a.CurrentRestartAttempts = 0

	r.mu.Lock()
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	for i := range a.Schedules {
		s := &a.Schedules[i]
		if blank(s.ID) {
			s.ID = newID()
		}
		s.ApplicationID = a.ID
		schedule.Refresh(s, now)
	}
	if err := a.Validate(); err != nil {
		r.mu.Unlock()
		return model.ManagedApplication{}, err
	}
	if _, dup := r.byID[a.ID]; dup {
		r.mu.Unlock()
		return model.ManagedApplication{}, fmt.Errorf("application %s: %w", a.ID, ErrDuplicateID)
	}
	for _, s := range a.Schedules {
		if r.ruleExistsLocked(s.ID) {
			r.mu.Unlock()
			return model.ManagedApplication{}, fmt.Errorf("schedule %s: %w", s.ID, ErrDuplicateID)
		}
	}
	e := &entry{app: a}
	r.order = append(r.order, e)
	r.byID[a.ID] = e
	r.version++
	out := a.Clone()
	r.mu.Unlock()

	return out, r.Persist(ctx)
}

// UpdateApplication replaces the launch and policy fields of an existing
// application. Runtime state and schedules are kept.
func (r *Registry) UpdateApplication(ctx context.Context, app model.ManagedApplication) (model.ManagedApplication, error) {
	r.mu.Lock()
	e, ok := r.byID[app.ID]
	if !ok {
		r.mu.Unlock()
		return model.ManagedApplication{}, fmt.Errorf("application %s: %w", app.ID, ErrNotFound)
	}
	next := e.app.Clone()
	next.Name = app.Name
	next.ExecutablePath = app.ExecutablePath
	next.Arguments = app.Arguments
	next.WorkingDirectory = app.WorkingDirectory
	next.Env = append([]string(nil), app.Env...)
	next.Log = app.Log
	next.Enabled = app.Enabled
	next.StartupDelay = app.StartupDelay
	next.RestartOnCrash = app.RestartOnCrash
	next.MaxRestartAttempts = app.MaxRestartAttempts
	if err := next.Validate(); err != nil {
		r.mu.Unlock()
		return model.ManagedApplication{}, err
	}
	e.app = next
	r.version++
	out := next.Clone()
	r.mu.Unlock()

	return out, r.Persist(ctx)
}

// RemoveApplication drops the application and its schedules. A running
// process is left alone; stop it first if that is wanted.
func (r *Registry) RemoveApplication(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.byID[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	delete(r.byID, id)
	for i, e := range r.order {
		if e.app.ID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.version++
	r.mu.Unlock()

	return r.Persist(ctx)
}

// AddRule attaches rule to the application appID. Rule ids are unique across
// all applications.
func (r *Registry) AddRule(ctx context.Context, appID string, rule model.ScheduleRule) (model.ScheduleRule, error) {
	s := rule.Clone()
	if blank(s.ID) {
		s.ID = newID()
	}
	s.ApplicationID = appID
	s.NextExecution = nil

	r.mu.Lock()
	e, ok := r.byID[appID]
	if !ok {
		r.mu.Unlock()
		return model.ScheduleRule{}, fmt.Errorf("application %s: %w", appID, ErrNotFound)
	}
	if err := s.Validate(); err != nil {
		r.mu.Unlock()
		return model.ScheduleRule{}, err
	}
	if r.ruleExistsLocked(s.ID) {
		r.mu.Unlock()
		return model.ScheduleRule{}, fmt.Errorf("schedule %s: %w", s.ID, ErrDuplicateID)
	}
	schedule.Refresh(&s, r.now())
	e.app.Schedules = append(e.app.Schedules, s)
	r.version++
	out := s.Clone()
	r.mu.Unlock()

	return out, r.Persist(ctx)
}

// UpdateRule replaces the parameters of an existing rule. lastExecuted is kept
// and nextExecution is recomputed.
func (r *Registry) UpdateRule(ctx context.Context, appID string, rule model.ScheduleRule) (model.ScheduleRule, error) {
	r.mu.Lock()
	e, ok := r.byID[appID]
	if !ok {
		r.mu.Unlock()
		return model.ScheduleRule{}, fmt.Errorf("application %s: %w", appID, ErrNotFound)
	}
	idx := -1
	for i := range e.app.Schedules {
		if e.app.Schedules[i].ID == rule.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return model.ScheduleRule{}, fmt.Errorf("schedule %s: %w", rule.ID, ErrNotFound)
	}
	cur := e.app.Schedules[idx]
	next := rule.Clone()
	next.ApplicationID = appID
	next.LastExecuted = cur.LastExecuted
	if err := next.Validate(); err != nil {
		r.mu.Unlock()
		return model.ScheduleRule{}, err
	}
	schedule.Refresh(&next, r.now())
	e.app.Schedules[idx] = next
	r.version++
	out := next.Clone()
	r.mu.Unlock()

	return out, r.Persist(ctx)
}

func (r *Registry) RemoveRule(ctx context.Context, appID, ruleID string) error {
	r.mu.Lock()
	e, ok := r.byID[appID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("application %s: %w", appID, ErrNotFound)
	}
	found := false
	for i := range e.app.Schedules {
		if e.app.Schedules[i].ID == ruleID {
			e.app.Schedules = append(e.app.Schedules[:i], e.app.Schedules[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return fmt.Errorf("schedule %s: %w", ruleID, ErrNotFound)
	}
	r.version++
	r.mu.Unlock()

	return r.Persist(ctx)
}

// Rules lists every schedule rule across applications in registry order.
func (r *Registry) Rules() []ScheduledRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ScheduledRule
	for _, e := range r.order {
		for _, s := range e.app.Schedules {
			out = append(out, ScheduledRule{ScheduleRule: s.Clone(), ApplicationName: e.app.Name, ApplicationEnabled: e.app.Enabled})
		}
	}
	return out
}

func (r *Registry) ruleExistsLocked(id string) bool {
	for _, e := range r.order {
		for _, s := range e.app.Schedules {
			if s.ID == id {
				return true
			}
		}
	}
	return false
}
