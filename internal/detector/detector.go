package detector

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running. A non-nil
	// error means liveness could not be confirmed either way.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Probe answers questions about live host processes. HostProbe is the real
// implementation; tests substitute their own.
type Probe interface {
	// Exists reports whether pid names a live (non-zombie) process.
	Exists(pid int) (bool, error)
	// ExePath resolves the executable image of pid.
	ExePath(pid int) (string, error)
	// Cmdline returns the argument vector of pid.
	Cmdline(pid int) ([]string, error)
	// StartUnix returns the kernel start time of pid in Unix seconds, 0 if unknown.
	StartUnix(pid int) int64
}
