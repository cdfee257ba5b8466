package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/loykin/taskvisor/internal/config"
	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/pkg/client"
)

// command binds CLI handlers to the global flags. Every handler talks to a
// running daemon through pkg/client.
type command struct {
	global *GlobalFlags
}

func (c command) baseURL() string {
	if c.global.APIUrl != "" {
		return c.global.APIUrl
	}
	return client.DefaultConfig().BaseURL
}

// connect returns a client after confirming the daemon answers.
func (c command) connect(ctx context.Context) (*client.Client, error) {
	cl := client.New(client.Config{BaseURL: c.baseURL(), Timeout: c.global.APITimeout})
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'taskvisor serve'", c.baseURL())
	}
	return cl, nil
}

func (c command) AppList(ctx context.Context, w io.Writer) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	apps, err := cl.ListApps(ctx)
	if err != nil {
		return err
	}
	printJSON(w, apps)
	return nil
}

func (c command) AppGet(ctx context.Context, w io.Writer, id string) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	app, err := cl.GetApp(ctx, id)
	if err != nil {
		return err
	}
	printJSON(w, app)
	return nil
}

// AppAdd registers an application. The id defaults to the name.
func (c command) AppAdd(ctx context.Context, w io.Writer, f AppFlags) error {
	enabled := !f.Disabled
	restart := !f.NoRestart
	maxRestarts := f.MaxRestarts
	app, err := config.AppConfig{
		ID:                 f.ID,
		Name:               f.Name,
		ExecutablePath:     f.Executable,
		Arguments:          f.Arguments,
		WorkingDirectory:   f.WorkDir,
		Env:                f.Env,
		Enabled:            &enabled,
		RestartOnCrash:     &restart,
		MaxRestartAttempts: &maxRestarts,
		StartupDelay:       f.StartupDelay,
		Log:                model.LogConfig{Dir: f.LogDir},
	}.Application()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	created, err := cl.AddApp(ctx, app)
	if err != nil {
		return err
	}
	printJSON(w, created)
	return nil
}

// AppUpdate applies only the flags that were set on the command line.
func (c command) AppUpdate(ctx context.Context, w io.Writer, id string, f AppFlags, changed func(string) bool) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	app, err := cl.GetApp(ctx, id)
	if err != nil {
		return err
	}
	if changed("name") {
		app.Name = f.Name
	}
	if changed("exe") {
		app.ExecutablePath = f.Executable
	}
	if changed("args") {
		app.Arguments = f.Arguments
	}
	if changed("work-dir") {
		app.WorkingDirectory = f.WorkDir
	}
	if changed("env") {
		app.Env = f.Env
	}
	if changed("log-dir") {
		app.Log.Dir = f.LogDir
	}
	if changed("disabled") {
		app.Enabled = !f.Disabled
	}
	if changed("no-restart") {
		app.RestartOnCrash = !f.NoRestart
	}
	if changed("max-restarts") {
		app.MaxRestartAttempts = f.MaxRestarts
	}
	if changed("startup-delay") {
		app.StartupDelay = f.StartupDelay
	}
	updated, err := cl.UpdateApp(ctx, app)
	if err != nil {
		return err
	}
	printJSON(w, updated)
	return nil
}

func (c command) AppRemove(ctx context.Context, w io.Writer, id string) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := cl.RemoveApp(ctx, id); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "removed %s\n", id)
	return nil
}

// AppAction runs start, stop or restart and prints the resulting state.
func (c command) AppAction(ctx context.Context, w io.Writer, id, verb string) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	var app client.Application
	switch verb {
	case "start":
		app, err = cl.Start(ctx, id)
	case "stop":
		app, err = cl.Stop(ctx, id)
	case "restart":
		app, err = cl.Restart(ctx, id)
	default:
		return fmt.Errorf("unknown action %q", verb)
	}
	if err != nil {
		return err
	}
	printJSON(w, app)
	return nil
}

func (c command) AppRunning(ctx context.Context, w io.Writer, id string) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	ok, err := cl.IsRunning(ctx, id)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "%s running=%t\n", id, ok)
	return nil
}

func (c command) Bulk(ctx context.Context, w io.Writer, start bool) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if start {
		err = cl.StartAll(ctx)
	} else {
		err = cl.StopAll(ctx)
	}
	if err != nil {
		return err
	}
	apps, err := cl.ListApps(ctx)
	if err != nil {
		return err
	}
	for _, a := range apps {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", a.ID, a.Status)
	}
	return nil
}

// ScheduleList prints every rule, or only those of f.App.
func (c command) ScheduleList(ctx context.Context, w io.Writer, f ScheduleFlags) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if f.App != "" {
		rules, err := cl.AppSchedules(ctx, f.App)
		if err != nil {
			return err
		}
		printJSON(w, rules)
		return nil
	}
	rules, err := cl.Schedules(ctx)
	if err != nil {
		return err
	}
	printJSON(w, rules)
	return nil
}

func (c command) ScheduleAdd(ctx context.Context, w io.Writer, f ScheduleFlags) error {
	enabled := !f.Disabled
	rule, err := config.RuleConfig{
		ID:        f.ID,
		Name:      f.Name,
		Type:      f.Type,
		Action:    f.Action,
		Interval:  f.Interval,
		TimeOfDay: f.TimeOfDay,
		DayOfWeek: f.DayOfWeek,
		Enabled:   &enabled,
	}.Rule()
	if err != nil {
		return err
	}
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	created, err := cl.AddSchedule(ctx, f.App, rule)
	if err != nil {
		return err
	}
	printJSON(w, created)
	return nil
}

func (c command) ScheduleRemove(ctx context.Context, w io.Writer, appID, ruleID string) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := cl.RemoveSchedule(ctx, appID, ruleID); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "removed %s\n", ruleID)
	return nil
}

// SchedulePending lists due rules at --at (RFC3339) or now.
func (c command) SchedulePending(ctx context.Context, w io.Writer, at string) error {
	var t time.Time
	if strings.TrimSpace(at) != "" {
		var err error
		if t, err = time.Parse(time.RFC3339, at); err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	rules, err := cl.Pending(ctx, t)
	if err != nil {
		return err
	}
	printJSON(w, rules)
	return nil
}

func (c command) SysInfo(ctx context.Context, w io.Writer) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	info, err := cl.SystemInfo(ctx)
	if err != nil {
		return err
	}
	printJSON(w, info)
	return nil
}
