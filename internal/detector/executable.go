package detector

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Executable confirms that PID is alive and still runs the binary at Path.
// A reused PID is reported as not alive: either its start time differs from
// StartUnix (when recorded) or its image path differs from Path and Path is
// not the script an interpreter was started with.
// When the image path cannot be resolved the process is assumed to be ours.
type Executable struct {
	PID       int
	Path      string
	StartUnix int64
	Probe     Probe
}

func (d Executable) probe() Probe {
	if d.Probe == nil {
		return HostProbe{}
	}
	return d.Probe
}

func (d Executable) Alive() (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	p := d.probe()
	ok, err := p.Exists(d.PID)
	if err != nil || !ok {
		return false, err
	}
	if d.StartUnix > 0 {
		if cur := p.StartUnix(d.PID); cur > 0 && cur != d.StartUnix {
			return false, nil
		}
	}
	if d.Path == "" {
		return true, nil
	}
	live, err := p.ExePath(d.PID)
	if err != nil || live == "" {
		return true, nil
	}
	if SamePath(live, d.Path) {
		return true, nil
	}
	// Scripts run under an interpreter: the image is the interpreter and the
	// script shows up as argv[0] or argv[1].
	args, err := p.Cmdline(d.PID)
	if err != nil {
		return false, nil
	}
	for i := 0; i < len(args) && i < 2; i++ {
		if SamePath(args[i], d.Path) {
			return true, nil
		}
	}
	return false, nil
}

func (d Executable) Describe() string { return fmt.Sprintf("exe:%d:%s", d.PID, d.Path) }

// SamePath compares two executable paths after cleaning and resolving
// symlinks. The comparison ignores case.
func SamePath(a, b string) bool {
	return strings.EqualFold(normalize(a), normalize(b))
}

func normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if real, err := filepath.EvalSymlinks(p); err == nil {
		p = real
	}
	p = filepath.Clean(p)
	if runtime.GOOS == "linux" {
		// /proc/<pid>/exe reports replaced binaries with this suffix
		p = strings.TrimSuffix(p, " (deleted)")
	}
	return p
}
