package detector

import (
	"errors"
	"slices"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// HostProbe inspects processes of the local host through gopsutil.
type HostProbe struct{}

func (HostProbe) Exists(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return false, nil
		}
		return false, err
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false, err
	}
	// A child that exited but was not reaped yet is not alive.
	if st, err := p.Status(); err == nil && slices.Contains(st, gopsproc.Zombie) {
		return false, nil
	}
	return true, nil
}

func (HostProbe) ExePath(pid int) (string, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return p.Exe()
}

func (HostProbe) Cmdline(pid int) ([]string, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	return p.CmdlineSlice()
}

func (HostProbe) StartUnix(pid int) int64 { return getProcStartUnix(pid) }
