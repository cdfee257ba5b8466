// Package registry owns the in-memory application snapshot shared by the
// supervisor, the scheduler and the management surface.
//
// Two levels of locking are used. The registry RWMutex guards the data and is
// only held for short copies and field updates. Each application additionally
// has an operation lock (Lock) that callers hold across a whole lifecycle
// operation, waits included, so two operations on the same application never
// interleave while different applications proceed concurrently.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/schedule"
	"github.com/loykin/taskvisor/internal/store"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrDuplicateID = errors.New("duplicate id")
	// ErrPersist wraps a failed store.Save.
	ErrPersist = errors.New("persist snapshot")
)

type entry struct {
	op  sync.Mutex
	app model.ManagedApplication
}

type Registry struct {
	mu      sync.RWMutex
	order   []*entry
	byID    map[string]*entry
	version uint64

	persistMu sync.Mutex
	st        store.Store

	now func() time.Time
}

// Open loads the snapshot once from st. Derived next-execution times are
// recomputed against the current clock and interrupted transitions are
// settled.
func Open(ctx context.Context, st store.Store) (*Registry, error) {
	snap, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	r := &Registry{byID: make(map[string]*entry), st: st, now: time.Now}
	r.version = snap.Version
	now := r.now()
	for _, a := range snap.Applications {
		if _, dup := r.byID[a.ID]; dup {
			slog.Warn("skipping duplicate application in snapshot", "id", a.ID)
			continue
		}
		a.Status = settledStatus(a)
		for i := range a.Schedules {
			schedule.Refresh(&a.Schedules[i], now)
		}
		e := &entry{app: a.Clone()}
		r.order = append(r.order, e)
		r.byID[a.ID] = e
	}
	return r, nil
}

// settledStatus resolves a status saved in the middle of a start or stop.
// With a handle the application is treated as running so the next liveness
// cycle confirms it or records a crash; without one it is stopped.
func settledStatus(a model.ManagedApplication) model.Status {
	switch a.Status {
	case "", model.StatusStarting, model.StatusStopping, model.StatusRunning:
		if a.Process != nil {
			return model.StatusRunning
		}
		return model.StatusStopped
	}
	return a.Status
}

// SetClock replaces the wall clock used for derived fields.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *Registry) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}

// Version increments on every mutation.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Lock acquires the operation lock of one application. The returned func
// releases it.
func (r *Registry) Lock(id string) (func(), error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	e.op.Lock()
	return e.op.Unlock, nil
}

// Applications returns deep copies in registry order.
func (r *Registry) Applications() []model.ManagedApplication {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ManagedApplication, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, e.app.Clone())
	}
	return out
}

func (r *Registry) Application(id string) (model.ManagedApplication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return model.ManagedApplication{}, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	return e.app.Clone(), nil
}

func (r *Registry) Snapshot() model.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() model.Snapshot {
	s := model.Snapshot{Version: r.version, Applications: make([]model.ManagedApplication, 0, len(r.order))}
	for _, e := range r.order {
		s.Applications = append(s.Applications, e.app.Clone())
	}
	return s
}

// WithApplication runs fn on the live application under the write lock and
// returns a copy of the result. fn must not block.
func (r *Registry) WithApplication(id string, fn func(*model.ManagedApplication)) (model.ManagedApplication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return model.ManagedApplication{}, fmt.Errorf("application %s: %w", id, ErrNotFound)
	}
	fn(&e.app)
	r.version++
	return e.app.Clone(), nil
}

// WithRule is WithApplication narrowed to one schedule rule.
func (r *Registry) WithRule(appID, ruleID string, fn func(*model.ScheduleRule)) (model.ScheduleRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[appID]
	if !ok {
		return model.ScheduleRule{}, fmt.Errorf("application %s: %w", appID, ErrNotFound)
	}
	for i := range e.app.Schedules {
		if e.app.Schedules[i].ID == ruleID {
			fn(&e.app.Schedules[i])
			r.version++
			return e.app.Schedules[i].Clone(), nil
		}
	}
	return model.ScheduleRule{}, fmt.Errorf("schedule %s: %w", ruleID, ErrNotFound)
}

// Persist saves the current snapshot. Calls are serialized so a slower save
// can never overwrite a newer one.
func (r *Registry) Persist(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	snap := r.Snapshot()
	if err := r.st.Save(ctx, snap); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func newID() string { return uuid.NewString() }

func blank(s string) bool { return strings.TrimSpace(s) == "" }
