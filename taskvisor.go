// Package taskvisor supervises local executables and runs start/stop/restart
// actions on schedules. Daemon wires the registry, supervisor, scheduler,
// notifications and the HTTP management API behind one embeddable value.
package taskvisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/taskvisor/internal/config"
	"github.com/loykin/taskvisor/internal/env"
	"github.com/loykin/taskvisor/internal/history"
	hfactory "github.com/loykin/taskvisor/internal/history/factory"
	"github.com/loykin/taskvisor/internal/metrics"
	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/notify"
	"github.com/loykin/taskvisor/internal/process"
	"github.com/loykin/taskvisor/internal/registry"
	"github.com/loykin/taskvisor/internal/scheduler"
	"github.com/loykin/taskvisor/internal/server"
	"github.com/loykin/taskvisor/internal/store"
	sfactory "github.com/loykin/taskvisor/internal/store/factory"
	"github.com/loykin/taskvisor/internal/supervisor"
	"github.com/loykin/taskvisor/internal/sysinfo"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Application = model.ManagedApplication

type ScheduleRule = model.ScheduleRule

type ScheduledRule = registry.ScheduledRule

type Snapshot = model.Snapshot

type Status = model.Status

type SystemInfo = sysinfo.Info

// Launcher starts and signals host processes. Tests substitute a fake.
type Launcher = process.Launcher

// Observer receives status-changed and task-executed events.
type Observer = notify.Observer

var (
	ErrNotFound           = registry.ErrNotFound
	ErrDuplicateID        = registry.ErrDuplicateID
	ErrInvalid            = model.ErrInvalid
	ErrExecutableNotFound = process.ErrExecutableNotFound
	ErrStopFailure        = supervisor.ErrStopFailure
)

// LoadConfig reads a TOML file; see internal/config for the keys.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config { return config.Default() }

type options struct {
	launcher  Launcher
	store     store.Store
	observers []Observer
	clock     func() time.Time
}

type Option func(*options)

// WithLauncher replaces the host launcher.
func WithLauncher(l Launcher) Option { return func(o *options) { o.launcher = l } }

// WithStore uses st instead of opening cfg.Store.DSN. The daemon closes it.
func WithStore(st store.Store) Option { return func(o *options) { o.store = st } }

// WithObserver registers an extra observer on the notification dispatcher.
func WithObserver(ob Observer) Option {
	return func(o *options) { o.observers = append(o.observers, ob) }
}

// WithClock overrides the time source used by the scheduler.
func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

// Daemon is a fully wired taskvisor instance.
type Daemon struct {
	cfg        *Config
	store      store.Store
	reg        *registry.Registry
	dispatcher *notify.Dispatcher
	history    *history.Observer
	mqtt       *notify.MQTT
	sup        *supervisor.Supervisor
	sched      *scheduler.Scheduler
	router     *server.Router
	metrics    http.Handler
}

// New opens the store, loads the registry, seeds configured applications
// and wires every component. Nothing runs until Run.
func New(ctx context.Context, cfg *Config, opts ...Option) (_ *Daemon, err error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	d := &Daemon{cfg: cfg, dispatcher: notify.NewDispatcher(cfg.Notify.QueueSize)}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	d.store = o.store
	if d.store == nil {
		if d.store, err = sfactory.Open(cfg.Store.DSN); err != nil {
			return nil, err
		}
	}
	if d.reg, err = registry.Open(ctx, d.store); err != nil {
		return nil, err
	}
	if o.clock != nil {
		d.reg.SetClock(o.clock)
	}
	if err = d.seed(ctx); err != nil {
		return nil, err
	}

	launcher := o.launcher
	if launcher == nil {
		globalEnv, err := cfg.GlobalEnv()
		if err != nil {
			return nil, err
		}
		launcher = process.NewHost(env.FromList(globalEnv), cfg.Log.AppDir)
	}

	d.dispatcher.Register(notify.Logger{})
	for _, ob := range o.observers {
		d.dispatcher.Register(ob)
	}
	if len(cfg.History.Sinks) > 0 {
		sinks, err := hfactory.NewSinks(cfg.History.Sinks)
		if err != nil {
			return nil, err
		}
		d.history = history.NewObserver(sinks...)
		d.dispatcher.Register(d.history)
	}
	if cfg.MQTT.Broker != "" {
		m, err := notify.ConnectMQTT(cfg.MQTT)
		if err != nil {
			// events are best effort; the daemon runs without the broker
			slog.Warn("mqtt disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			d.mqtt = m
			d.dispatcher.Register(m)
		}
	}

	d.sup = supervisor.New(d.reg, launcher, d.dispatcher, supervisor.Options{
		PollInterval:      cfg.Supervisor.PollInterval,
		GracePeriod:       cfg.Supervisor.GracePeriod,
		RestartDelay:      cfg.Supervisor.RestartDelay,
		CrashRestartDelay: cfg.Supervisor.CrashRestartDelay,
		Parallelism:       cfg.Supervisor.Parallelism,
	})
	d.sched = scheduler.New(d.reg, d.sup, d.dispatcher, cfg.Scheduler.Interval)
	d.router = server.NewRouter(d.reg, d.sup, d.sched, cfg.Server.BasePath)

	if cfg.Metrics.Enabled {
		if err = d.setupMetrics(); err != nil {
			return nil, err
		}
		if cfg.Metrics.Listen == "" {
			d.router.WithMetrics(d.metrics)
		}
	}
	return d, nil
}

// seed adds configured applications whose id is not yet registered. Existing
// entries are left alone so runtime state and API edits survive restarts.
func (d *Daemon) seed(ctx context.Context) error {
	seeds, err := d.cfg.Seeds()
	if err != nil {
		return err
	}
	for _, app := range seeds {
		if _, err := d.reg.Application(app.ID); err == nil {
			continue
		}
		if _, err := d.reg.AddApplication(ctx, app); err != nil {
			return fmt.Errorf("seed %s: %w", app.ID, err)
		}
		slog.Info("application seeded from config", "app", app.ID)
	}
	return nil
}

// setupMetrics registers the shared collectors on the default registry and a
// per-daemon resource collector on its own registry.
func (d *Daemon) setupMetrics() error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	own := prometheus.NewRegistry()
	if err := own.Register(metrics.NewResourceCollector(d.runningPIDs)); err != nil {
		return fmt.Errorf("register resource collector: %w", err)
	}
	d.metrics = metrics.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, own})
	return nil
}

func (d *Daemon) runningPIDs() map[string]int {
	out := make(map[string]int)
	for _, a := range d.reg.Applications() {
		if a.Status == model.StatusRunning && a.PID() > 0 {
			out[a.ID] = a.PID()
		}
	}
	return out
}

// Run executes the startup pass alongside the liveness loop, the schedule
// loop and the HTTP servers until ctx is cancelled. Supervised processes
// keep running after Run returns; the next daemon adopts them.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if d.cfg.Server.Listen != "" {
		srv := server.NewServer(d.cfg.Server.Listen, d.router)
		slog.Info("starting API server", "listen", d.cfg.Server.Listen, "base_path", d.cfg.Server.BasePath)
		g.Go(func() error { return serve(ctx, srv) })
	}
	if d.metrics != nil && d.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics)
		srv := &http.Server{Addr: d.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		slog.Info("starting metrics server", "listen", d.cfg.Metrics.Listen)
		g.Go(func() error { return serve(ctx, srv) })
	}

	g.Go(func() error { return d.sup.Run(ctx) })
	g.Go(func() error { return d.sched.Run(ctx) })
	g.Go(func() error {
		d.sched.ExecuteStartupTasks(ctx)
		return nil
	})
	return g.Wait()
}

func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	}
}

// Close flushes notifications and releases sinks and the store.
func (d *Daemon) Close() error {
	var errs []error
	if d.dispatcher != nil {
		d.dispatcher.Close()
	}
	if d.history != nil {
		errs = append(errs, d.history.Close())
	}
	if d.mqtt != nil {
		d.mqtt.Close()
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Handler exposes the management API for mounting in another server.
func (d *Daemon) Handler() http.Handler { return d.router.Handler() }

func (d *Daemon) Applications() []Application { return d.reg.Applications() }

func (d *Daemon) Application(id string) (Application, error) { return d.reg.Application(id) }

func (d *Daemon) Snapshot() Snapshot { return d.reg.Snapshot() }

func (d *Daemon) AddApplication(ctx context.Context, app Application) (Application, error) {
	return d.reg.AddApplication(ctx, app)
}

func (d *Daemon) UpdateApplication(ctx context.Context, app Application) (Application, error) {
	return d.reg.UpdateApplication(ctx, app)
}

// RemoveApplication stops the application, then forgets it.
func (d *Daemon) RemoveApplication(ctx context.Context, id string) error {
	if err := d.sup.Stop(ctx, id); err != nil {
		return err
	}
	if err := d.reg.RemoveApplication(ctx, id); err != nil {
		return err
	}
	metrics.ForgetApp(id)
	return nil
}

func (d *Daemon) AddRule(ctx context.Context, appID string, rule ScheduleRule) (ScheduleRule, error) {
	return d.reg.AddRule(ctx, appID, rule)
}

func (d *Daemon) UpdateRule(ctx context.Context, appID string, rule ScheduleRule) (ScheduleRule, error) {
	return d.reg.UpdateRule(ctx, appID, rule)
}

func (d *Daemon) RemoveRule(ctx context.Context, appID, ruleID string) error {
	return d.reg.RemoveRule(ctx, appID, ruleID)
}

func (d *Daemon) Rules() []ScheduledRule { return d.reg.Rules() }

func (d *Daemon) PendingTasks(now time.Time) []ScheduledRule { return d.sched.PendingTasks(now) }

func (d *Daemon) Start(ctx context.Context, id string) error   { return d.sup.Start(ctx, id) }
func (d *Daemon) Stop(ctx context.Context, id string) error    { return d.sup.Stop(ctx, id) }
func (d *Daemon) Restart(ctx context.Context, id string) error { return d.sup.Restart(ctx, id) }
func (d *Daemon) IsRunning(id string) (bool, error)            { return d.sup.IsRunning(id) }
func (d *Daemon) StartAll(ctx context.Context) error           { return d.sup.StartAll(ctx) }
func (d *Daemon) StopAll(ctx context.Context) error            { return d.sup.StopAll(ctx) }

// ReconcileStatus runs one liveness check for id outside the poll loop.
func (d *Daemon) ReconcileStatus(ctx context.Context, id string) error {
	return d.sup.ReconcileStatus(ctx, id)
}

// SystemInfo samples the host.
func (d *Daemon) SystemInfo(ctx context.Context) SystemInfo {
	return sysinfo.Collect(ctx, sysinfo.DefaultSampleWindow)
}
