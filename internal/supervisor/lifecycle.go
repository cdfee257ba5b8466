package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/taskvisor/internal/metrics"
	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/process"
	"github.com/loykin/taskvisor/internal/registry"
)

// killWait bounds how long we wait for a process to disappear after SIGKILL.
const killWait = 2 * time.Second

// start assumes the operation lock of id is held.
func (s *Supervisor) start(ctx context.Context, id string, resetAttempts bool) error {
	app, err := s.reg.Application(id)
	if err != nil {
		return err
	}
	running, err := s.alive(app)
	if err != nil {
		return s.fail(id, err)
	}
	if running {
		return nil
	}

	if _, err := s.setStatus(id, model.StatusStarting, nil); err != nil {
		return err
	}
	handle, err := s.launcher.Launch(process.SpecFor(app))
	if err != nil {
		metrics.IncLaunchFailure(id)
		_, _ = s.setStatus(id, model.StatusError, func(a *model.ManagedApplication) { a.Process = nil })
		slog.Error("launch failed", "app", id, "exe", app.ExecutablePath, "error", err)
		return err
	}
	now := s.reg.Now()
	_, err = s.setStatus(id, model.StatusRunning, func(a *model.ManagedApplication) {
		h := handle
		a.Process = &h
		a.LastStarted = &now
		if resetAttempts {
			a.CurrentRestartAttempts = 0
		}
	})
	if err != nil {
		// removed while launching; do not leave an orphan behind
		_ = s.launcher.Kill(handle.PID)
		return err
	}
	metrics.IncStart(id)
	slog.Info("application started", "app", id, "pid", handle.PID)
	s.persist(context.WithoutCancel(ctx))
	return nil
}

// stop assumes the operation lock of id is held.
func (s *Supervisor) stop(ctx context.Context, id string) error {
	app, err := s.reg.Application(id)
	if err != nil {
		return err
	}
	running, err := s.alive(app)
	if err != nil {
		return s.fail(id, err)
	}
	if !running {
		_, err := s.setStatus(id, model.StatusStopped, func(a *model.ManagedApplication) { a.Process = nil })
		return err
	}

	if _, err := s.setStatus(id, model.StatusStopping, nil); err != nil {
		return err
	}
	pid := app.Process.PID
	if err := s.launcher.Terminate(pid); err != nil {
		return s.fail(id, fmt.Errorf("%w: terminate pid %d: %w", ErrStopFailure, pid, err))
	}
	forced := false
	if !s.waitExit(ctx, app, s.opts.GracePeriod) {
		forced = true
		slog.Warn("graceful stop timed out, killing", "app", id, "pid", pid, "grace", s.opts.GracePeriod)
		if err := s.launcher.Kill(pid); err != nil {
			return s.fail(id, fmt.Errorf("%w: kill pid %d: %w", ErrStopFailure, pid, err))
		}
		if !s.waitExit(context.WithoutCancel(ctx), app, killWait) {
			return s.fail(id, fmt.Errorf("%w: pid %d survived kill", ErrStopFailure, pid))
		}
	}

	now := s.reg.Now()
	_, err = s.setStatus(id, model.StatusStopped, func(a *model.ManagedApplication) {
		accumulateUptime(a, now)
		a.LastStopped = &now
		a.Process = nil
	})
	if err != nil {
		return err
	}
	metrics.IncStop(id, forced)
	slog.Info("application stopped", "app", id, "pid", pid, "forced", forced)
	s.persist(context.WithoutCancel(ctx))
	return nil
}

// waitExit polls liveness until the process is gone or d elapses. A
// cancelled ctx ends the wait early and reports the process as still alive,
// which escalates to a forced stop.
func (s *Supervisor) waitExit(ctx context.Context, app model.ManagedApplication, d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(s.opts.StopPoll)
	defer tick.Stop()
	for {
		if ok, err := s.alive(app); err == nil && !ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			ok, err := s.alive(app)
			return err == nil && !ok
		case <-tick.C:
		}
	}
}

// ReconcileStatus re-derives the true status of one application. A Running
// application whose process is gone is a crash: bookkeeping is updated and,
// when the policy allows and the attempt ceiling is not reached, a restart
// is issued after CrashRestartDelay. A process found alive for an application
// not marked Running is adopted as Running. Anything else changes nothing.
func (s *Supervisor) ReconcileStatus(ctx context.Context, id string) error {
	unlock, err := s.reg.Lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	app, err := s.reg.Application(id)
	if err != nil {
		return err
	}
	wasRunning := app.Status == model.StatusRunning
	isRunning, err := s.alive(app)
	if err != nil {
		// cannot confirm; not a crash
		return err
	}

	switch {
	case wasRunning && !isRunning:
		return s.handleCrash(ctx, id)
	case !wasRunning && isRunning:
		_, err := s.setStatus(id, model.StatusRunning, nil)
		return err
	}
	return nil
}

func (s *Supervisor) handleCrash(ctx context.Context, id string) error {
	now := s.reg.Now()
	retry := false
	var ceiling bool
	app, err := s.setStatus(id, model.StatusStopped, func(a *model.ManagedApplication) {
		accumulateUptime(a, now)
		a.LastStopped = &now
		a.LastCrashTime = &now
		a.TotalCrashes++
		a.Process = nil
		if a.RestartOnCrash && a.CurrentRestartAttempts < a.MaxRestartAttempts {
			a.CurrentRestartAttempts++
			retry = true
		} else {
			ceiling = a.RestartOnCrash
		}
	})
	if err != nil {
		return err
	}
	metrics.IncCrash(id)
	slog.Warn("application crashed", "app", id, "total_crashes", app.TotalCrashes,
		"restart_attempt", app.CurrentRestartAttempts, "max_restart_attempts", app.MaxRestartAttempts)

	if !retry {
		if ceiling {
			metrics.IncRestartCeiling(id)
			slog.Error("MaxRestartAttemptsExceeded: automatic restarts suspended until a manual start",
				"app", id, "attempts", app.CurrentRestartAttempts)
		}
		return nil
	}

	if err := sleep(ctx, s.opts.CrashRestartDelay); err != nil {
		slog.Info("crash restart abandoned", "app", id, "error", err)
		return nil
	}
	cur, err := s.reg.Application(id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !cur.Enabled || cur.Status != model.StatusStopped || cur.Process != nil {
		slog.Info("crash restart skipped, application changed meanwhile", "app", id, "status", cur.Status, "enabled", cur.Enabled)
		return nil
	}
	metrics.IncAutoRestart(id)
	return s.start(ctx, id, false)
}

func accumulateUptime(a *model.ManagedApplication, now time.Time) {
	if a.LastStarted != nil && now.After(*a.LastStarted) {
		a.TotalUptime += now.Sub(*a.LastStarted)
	}
}
