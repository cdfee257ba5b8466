//go:build !windows

package process

import (
	"errors"
	"syscall"
)

func signalTerminate(pid int) error { return signalGroup(pid, syscall.SIGTERM) }

func signalKill(pid int) error { return signalGroup(pid, syscall.SIGKILL) }

// signalGroup signals the whole process group when pid leads one (every
// process we launch does), otherwise just pid. A process that is already
// gone is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	target := pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid == pid {
		target = -pid
	}
	err := syscall.Kill(target, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
