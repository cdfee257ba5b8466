// Package cron runs the recurring background cycles (liveness poll, schedule
// dispatch) on top of robfig/cron.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Loop fires Run every Every. A tick that arrives while the previous run is
// still in progress is skipped, never queued behind it. A panic inside Run is
// logged and does not stop the loop.
type Loop struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context)

	mu     sync.Mutex
	c      *rcron.Cron
	cancel context.CancelFunc
}

// CheckInterval reports whether d can be expressed as an @every cadence:
// robfig truncates to whole seconds with a one second minimum.
func CheckInterval(d time.Duration) error {
	if d < time.Second || d%time.Second != 0 {
		return fmt.Errorf("interval %s must be a whole number of seconds >= 1s", d)
	}
	return nil
}

// Schedule renders the loop cadence as a robfig descriptor.
func (l *Loop) Schedule() string { return fmt.Sprintf("@every %s", l.Every) }

// Start begins firing. ctx is handed to every run; it is also cancelled by
// Stop so that in-flight waits can be abandoned.
func (l *Loop) Start(ctx context.Context) error {
	if err := CheckInterval(l.Every); err != nil {
		return fmt.Errorf("loop %s: %w", l.Name, err)
	}
	if l.Run == nil {
		return errors.New("loop requires a run function")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c != nil {
		return fmt.Errorf("loop %s already started", l.Name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	log := slogLogger{l: slog.Default().With("loop", l.Name)}
	c := rcron.New(rcron.WithChain(rcron.SkipIfStillRunning(log), rcron.Recover(log)), rcron.WithLogger(log))
	// Recover sits inside SkipIfStillRunning so a panic still hands the
	// running token back.
	if _, err := c.AddFunc(l.Schedule(), func() {
		if runCtx.Err() != nil {
			return
		}
		l.Run(runCtx)
	}); err != nil {
		cancel()
		return err
	}
	c.Start()
	l.c = c
	l.cancel = cancel
	return nil
}

// Stop prevents further runs, cancels the context given to Run and waits for
// an in-flight run to return.
func (l *Loop) Stop() {
	l.mu.Lock()
	c, cancel := l.c, l.cancel
	l.c, l.cancel = nil, nil
	l.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop()
	cancel()
	<-done.Done()
}

// slogLogger adapts slog to cron.Logger. robfig's info output is chatty so it
// goes to debug.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Info(msg string, keysAndValues ...interface{}) {
	s.l.Debug(msg, keysAndValues...)
}

func (s slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	s.l.Error(msg, append(keysAndValues, "error", err)...)
}
