// Package process launches managed executables on the local host and answers
// liveness questions about them.
package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/loykin/taskvisor/internal/detector"
	"github.com/loykin/taskvisor/internal/env"
	"github.com/loykin/taskvisor/internal/logger"
	"github.com/loykin/taskvisor/internal/model"
)

var (
	// ErrExecutableNotFound means the path does not name an executable file.
	ErrExecutableNotFound = errors.New("executable not found")
	// ErrLaunchFailure wraps any other failure to start the process.
	ErrLaunchFailure = errors.New("launch failure")
)

// Spec is what the launcher needs to start one application.
type Spec struct {
	Name             string
	ExecutablePath   string
	Arguments        string
	WorkingDirectory string
	Env              []string
	Log              model.LogConfig
}

// SpecFor extracts the launch spec of an application.
func SpecFor(a model.ManagedApplication) Spec {
	name := a.Name
	if name == "" {
		name = a.ID
	}
	return Spec{
		Name:             name,
		ExecutablePath:   a.ExecutablePath,
		Arguments:        a.Arguments,
		WorkingDirectory: a.WorkingDirectory,
		Env:              a.Env,
		Log:              a.Log,
	}
}

// Launcher is the host contract used by the supervisor.
type Launcher interface {
	// Launch starts the executable without a shell and returns its handle.
	Launch(spec Spec) (model.ProcessHandle, error)
	// Alive reports whether h still refers to a process running exePath.
	Alive(h model.ProcessHandle, exePath string) (bool, error)
	// Terminate requests a graceful exit.
	Terminate(pid int) error
	// Kill forces termination.
	Kill(pid int) error
}

// Host is the Launcher for the local operating system.
type Host struct {
	Env    *env.Env
	LogDir string // default capture directory; empty discards output
	Probe  detector.Probe

	mu       sync.Mutex
	children map[int]*exec.Cmd
}

func NewHost(e *env.Env, logDir string) *Host {
	if e == nil {
		e = env.New()
	}
	return &Host{Env: e, LogDir: logDir, Probe: detector.HostProbe{}, children: make(map[int]*exec.Cmd)}
}

// ResolveExecutable returns the absolute path of an executable. Bare names are
// looked up on PATH.
func ResolveExecutable(path string) (string, error) {
	if path == "" {
		return "", ErrExecutableNotFound
	}
	if !filepath.IsAbs(path) && filepath.Base(path) == path {
		p, err := exec.LookPath(path)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
		}
		path = p
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
	}
	st, err := os.Stat(abs)
	if err != nil || st.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
	}
	if runtime.GOOS != "windows" && st.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%w: %s is not executable", ErrExecutableNotFound, path)
	}
	return abs, nil
}

func (h *Host) Launch(spec Spec) (model.ProcessHandle, error) {
	exe, err := ResolveExecutable(spec.ExecutablePath)
	if err != nil {
		return model.ProcessHandle{}, err
	}
	args, err := SplitArgs(spec.Arguments)
	if err != nil {
		return model.ProcessHandle{}, fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	}
	// #nosec G204 -- running configured executables is the point
	cmd := exec.Command(exe, args...)
	cmd.Dir = spec.WorkingDirectory
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(exe)
	}
	cmd.Env = h.Env.Merge(spec.Env)
	configureSysProcAttr(cmd)

	outW, errW, err := logger.AppWriters(spec.Name, spec.Log, h.LogDir)
	if err != nil {
		slog.Warn("output capture unavailable", "app", spec.Name, "error", err)
	}
	var closers []io.Closer
	if outW != nil {
		cmd.Stdout, cmd.Stderr = outW, errW
		closers = append(closers, outW, errW)
	} else if null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0); err == nil {
		cmd.Stdout, cmd.Stderr = null, null
		closers = append(closers, null)
	}

	if err := cmd.Start(); err != nil {
		closeAll(closers)
		return model.ProcessHandle{}, fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	}
	pid := cmd.Process.Pid
	handle := model.ProcessHandle{PID: pid, StartUnix: h.probe().StartUnix(pid)}

	h.mu.Lock()
	if h.children == nil {
		h.children = make(map[int]*exec.Cmd)
	}
	h.children[pid] = cmd
	h.mu.Unlock()

	go h.reap(spec.Name, cmd, closers)
	return handle, nil
}

// reap waits on a child we started so it never lingers as a zombie.
func (h *Host) reap(name string, cmd *exec.Cmd, closers []io.Closer) {
	err := cmd.Wait()
	closeAll(closers)
	h.mu.Lock()
	delete(h.children, cmd.Process.Pid)
	h.mu.Unlock()
	slog.Debug("process exited", "app", name, "pid", cmd.Process.Pid, "error", err)
}

func (h *Host) Alive(handle model.ProcessHandle, exePath string) (bool, error) {
	if handle.PID <= 0 {
		return false, nil
	}
	if p, err := ResolveExecutable(exePath); err == nil {
		exePath = p
	}
	return detector.Executable{PID: handle.PID, Path: exePath, StartUnix: handle.StartUnix, Probe: h.probe()}.Alive()
}

func (h *Host) Terminate(pid int) error { return signalTerminate(pid) }

func (h *Host) Kill(pid int) error { return signalKill(pid) }

// Children reports how many launched processes have not been reaped yet.
func (h *Host) Children() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.children)
}

func (h *Host) probe() detector.Probe {
	if h.Probe == nil {
		return detector.HostProbe{}
	}
	return h.Probe
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}
