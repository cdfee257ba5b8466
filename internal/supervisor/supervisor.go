// Package supervisor owns the liveness state machine of managed applications:
// start, graceful-then-forced stop, restart, and crash-triggered restart with
// a bounded number of attempts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/taskvisor/internal/cron"
	"github.com/loykin/taskvisor/internal/metrics"
	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/notify"
	"github.com/loykin/taskvisor/internal/process"
	"github.com/loykin/taskvisor/internal/registry"
)

// Defaults for Options.
const (
	DefaultPollInterval      = 5 * time.Second
	DefaultGracePeriod       = 5 * time.Second
	DefaultRestartDelay      = 2 * time.Second
	DefaultCrashRestartDelay = 5 * time.Second
	DefaultStopPoll          = 100 * time.Millisecond
	DefaultParallelism       = 4
)

var (
	// ErrStopFailure means the process could not be terminated.
	ErrStopFailure = errors.New("stop failure")
	// ErrLivenessCheck means liveness could not be confirmed either way.
	ErrLivenessCheck = errors.New("liveness check failure")
)

type Options struct {
	PollInterval      time.Duration
	GracePeriod       time.Duration
	RestartDelay      time.Duration // cool-down between stop and start on restart
	CrashRestartDelay time.Duration
	StopPoll          time.Duration // liveness polling while waiting for exit
	Parallelism       int           // applications reconciled concurrently per cycle
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.RestartDelay < 0 {
		o.RestartDelay = 0
	} else if o.RestartDelay == 0 {
		o.RestartDelay = DefaultRestartDelay
	}
	if o.CrashRestartDelay < 0 {
		o.CrashRestartDelay = 0
	} else if o.CrashRestartDelay == 0 {
		o.CrashRestartDelay = DefaultCrashRestartDelay
	}
	if o.StopPoll <= 0 {
		o.StopPoll = DefaultStopPoll
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	return o
}

type Supervisor struct {
	reg      *registry.Registry
	launcher process.Launcher
	notifier notify.Observer
	opts     Options
	loop     *cron.Loop
}

// New builds a supervisor. A negative RestartDelay or CrashRestartDelay in
// opts means no wait at all.
func New(reg *registry.Registry, launcher process.Launcher, notifier notify.Observer, opts Options) *Supervisor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	s := &Supervisor{reg: reg, launcher: launcher, notifier: notifier, opts: opts.withDefaults()}
	s.loop = &cron.Loop{Name: "supervisor", Every: s.opts.PollInterval, Run: s.Cycle}
	return s
}

func (s *Supervisor) Options() Options { return s.opts }

// Run starts the liveness poll and blocks until ctx is cancelled. The cycle
// in progress, if any, is allowed to return before Run does.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.loop.Stop()
	return nil
}

// Cycle reconciles every enabled application once and then persists the
// snapshot. Failures are logged; the cycle always visits every application
// unless ctx is cancelled, in which case no further application is started.
func (s *Supervisor) Cycle(ctx context.Context) {
	begin := time.Now()
	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for _, app := range s.reg.Applications() {
		if !app.Enabled {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		id := app.ID
		g.Go(func() error {
			if err := s.ReconcileStatus(ctx, id); err != nil && !errors.Is(err, registry.ErrNotFound) {
				slog.Warn("reconcile failed", "app", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.persist(context.WithoutCancel(ctx))
	metrics.ObserveCycle("supervisor", time.Since(begin).Seconds())
}

// Start launches the application unless it is already confirmed running.
// A successful start resets the crash-restart counter.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	unlock, err := s.reg.Lock(id)
	if err != nil {
		return err
	}
	defer unlock()
	return s.start(ctx, id, true)
}

// Stop terminates the application: graceful request, up to GracePeriod of
// waiting, then forced termination.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	unlock, err := s.reg.Lock(id)
	if err != nil {
		return err
	}
	defer unlock()
	return s.stop(ctx, id)
}

// Restart stops a running application, waits RestartDelay and starts it
// again. A stopped application is simply started.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	unlock, err := s.reg.Lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	app, err := s.reg.Application(id)
	if err != nil {
		return err
	}
	running, err := s.alive(app)
	if err != nil {
		return s.fail(id, err)
	}
	if running {
		if err := s.stop(ctx, id); err != nil {
			return err
		}
		if err := sleep(ctx, s.opts.RestartDelay); err != nil {
			return err
		}
	}
	return s.start(ctx, id, true)
}

// IsRunning reports whether the recorded process is alive and still runs the
// configured executable.
func (s *Supervisor) IsRunning(id string) (bool, error) {
	app, err := s.reg.Application(id)
	if err != nil {
		return false, err
	}
	return s.alive(app)
}

// StartAll starts every enabled application in registry order and returns
// the failures joined.
func (s *Supervisor) StartAll(ctx context.Context) error {
	var errs []error
	for _, app := range s.reg.Applications() {
		if !app.Enabled {
			continue
		}
		if ctx.Err() != nil {
			return errors.Join(append(errs, ctx.Err())...)
		}
		if err := s.Start(ctx, app.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", app.ID, err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every application that holds a process, concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(s.opts.Parallelism)
	for _, app := range s.reg.Applications() {
		if app.Process == nil {
			continue
		}
		id := app.ID
		g.Go(func() error {
			if err := s.Stop(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *Supervisor) alive(app model.ManagedApplication) (bool, error) {
	if app.Process == nil || app.Process.PID <= 0 {
		return false, nil
	}
	ok, err := s.launcher.Alive(*app.Process, app.ExecutablePath)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrLivenessCheck, err)
	}
	return ok, nil
}

// setStatus applies fn and the status change, records the transition and
// notifies observers.
func (s *Supervisor) setStatus(id string, to model.Status, fn func(*model.ManagedApplication)) (model.ManagedApplication, error) {
	var from model.Status
	app, err := s.reg.WithApplication(id, func(a *model.ManagedApplication) {
		from = a.Status
		if fn != nil {
			fn(a)
		}
		a.Status = to
	})
	if err != nil {
		return app, err
	}
	metrics.RecordStateTransition(id, string(from), string(to))
	s.notifier.OnApplicationStatusChanged(app)
	return app, nil
}

// fail moves the application to Error and returns cause.
func (s *Supervisor) fail(id string, cause error) error {
	slog.Error("application error", "app", id, "error", cause)
	if _, err := s.setStatus(id, model.StatusError, nil); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// persist saves the snapshot; failures are logged and retried by the next cycle.
func (s *Supervisor) persist(ctx context.Context) {
	if err := s.reg.Persist(ctx); err != nil {
		metrics.IncPersistFailure()
		slog.Error("persist snapshot", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
