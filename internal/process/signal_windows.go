//go:build windows

package process

import "os"

// Windows has no SIGTERM for arbitrary processes; both paths end the process.
func signalTerminate(pid int) error { return signalKill(pid) }

func signalKill(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}
