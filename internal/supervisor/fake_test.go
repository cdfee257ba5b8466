package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/notify"
	"github.com/loykin/taskvisor/internal/process"
	"github.com/loykin/taskvisor/internal/registry"
	"github.com/loykin/taskvisor/internal/store"
)

type fakeProc struct {
	exe   string
	alive bool
}

// fakeLauncher simulates host processes in memory.
type fakeLauncher struct {
	mu         sync.Mutex
	nextPID    int
	procs      map[int]*fakeProc
	launches   []process.Spec
	terminated []int
	killed     []int

	launchErr  error
	aliveErr   error
	ignoreTerm bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{nextPID: 1000, procs: make(map[int]*fakeProc)}
}

func (f *fakeLauncher) Launch(spec process.Spec) (model.ProcessHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return model.ProcessHandle{}, f.launchErr
	}
	f.nextPID++
	f.procs[f.nextPID] = &fakeProc{exe: spec.ExecutablePath, alive: true}
	f.launches = append(f.launches, spec)
	return model.ProcessHandle{PID: f.nextPID, StartUnix: 1}, nil
}

func (f *fakeLauncher) Alive(h model.ProcessHandle, exe string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aliveErr != nil {
		return false, f.aliveErr
	}
	p, ok := f.procs[h.PID]
	if !ok || !p.alive {
		return false, nil
	}
	return p.exe == exe, nil
}

func (f *fakeLauncher) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	if p, ok := f.procs[pid]; ok && !f.ignoreTerm {
		p.alive = false
	}
	return nil
}

func (f *fakeLauncher) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pid)
	if p, ok := f.procs[pid]; ok {
		p.alive = false
	}
	return nil
}

// crash makes pid disappear without a stop request.
func (f *fakeLauncher) crash(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.procs[pid]; ok {
		p.alive = false
	}
}

// spawn registers a live foreign process.
func (f *fakeLauncher) spawn(pid int, exe string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = &fakeProc{exe: exe, alive: true}
}

func (f *fakeLauncher) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launches)
}

func (f *fakeLauncher) isAlive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	return ok && p.alive
}

func (f *fakeLauncher) setLaunchErr(err error) {
	f.mu.Lock()
	f.launchErr = err
	f.mu.Unlock()
}

func (f *fakeLauncher) setAliveErr(err error) {
	f.mu.Lock()
	f.aliveErr = err
	f.mu.Unlock()
}

type statusEvents struct {
	mu     sync.Mutex
	events []model.Status
}

func (s *statusEvents) observer() notify.Observer {
	return notify.Funcs{Status: func(a model.ManagedApplication) {
		s.mu.Lock()
		s.events = append(s.events, a.Status)
		s.mu.Unlock()
	}}
}

func (s *statusEvents) take() []model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	sup    *Supervisor
	reg    *registry.Registry
	st     *store.Memory
	fl     *fakeLauncher
	events *statusEvents
	clk    *clock
}

var errBoom = errors.New("boom")

const testExe = "/opt/apps/worker"

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	st := store.NewMemory()
	reg, err := registry.Open(context.Background(), st)
	require.NoError(t, err)
	clk := &clock{now: time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)}
	reg.SetClock(clk.Now)
	fl := newFakeLauncher()
	ev := &statusEvents{}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = 200 * time.Millisecond
	}
	if opts.StopPoll == 0 {
		opts.StopPoll = 5 * time.Millisecond
	}
	if opts.RestartDelay == 0 {
		opts.RestartDelay = -1
	}
	if opts.CrashRestartDelay == 0 {
		opts.CrashRestartDelay = -1
	}
	return &harness{sup: New(reg, fl, ev.observer(), opts), reg: reg, st: st, fl: fl, events: ev, clk: clk}
}

func (h *harness) add(t *testing.T, id string, mutate func(*model.ManagedApplication)) {
	t.Helper()
	app := model.ManagedApplication{
		ID:                 id,
		Name:               id,
		ExecutablePath:     testExe,
		Enabled:            true,
		RestartOnCrash:     true,
		MaxRestartAttempts: 3,
	}
	if mutate != nil {
		mutate(&app)
	}
	_, err := h.reg.AddApplication(context.Background(), app)
	require.NoError(t, err)
}

func (h *harness) app(t *testing.T, id string) model.ManagedApplication {
	t.Helper()
	a, err := h.reg.Application(id)
	require.NoError(t, err)
	return a
}
