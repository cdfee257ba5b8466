// Package sysinfo reports a snapshot of the host taskvisor runs on.
package sysinfo

import (
	"context"
	"os"
	"os/user"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info is the host snapshot. Fields that cannot be read are left zero.
type Info struct {
	MachineName      string    `json:"machine_name"`
	UserName         string    `json:"user_name"`
	OS               string    `json:"os"`
	Platform         string    `json:"platform"`
	PlatformVersion  string    `json:"platform_version"`
	KernelVersion    string    `json:"kernel_version"`
	Arch             string    `json:"arch"`
	ProcessorCount   int       `json:"processor_count"`
	TotalMemory      uint64    `json:"total_memory"`
	AvailableMemory  uint64    `json:"available_memory"`
	CPUUsagePercent  float64   `json:"cpu_usage_percent"`
	BootTime         time.Time `json:"boot_time"`
	WorkingDirectory string    `json:"working_directory"`
	GoVersion        string    `json:"go_version"`
	CollectedAt      time.Time `json:"collected_at"`
}

// DefaultSampleWindow is how long CPU usage is sampled.
const DefaultSampleWindow = 200 * time.Millisecond

// Collect gathers the snapshot. CPU usage is measured over window; a
// non-positive window reports usage since the previous call.
func Collect(ctx context.Context, window time.Duration) Info {
	info := Info{
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		ProcessorCount: runtime.NumCPU(),
		GoVersion:      runtime.Version(),
		CollectedAt:    time.Now(),
	}
	if name, err := os.Hostname(); err == nil {
		info.MachineName = name
	}
	if u, err := user.Current(); err == nil {
		info.UserName = u.Username
	}
	if wd, err := os.Getwd(); err == nil {
		info.WorkingDirectory = wd
	}
	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		info.KernelVersion = h.KernelVersion
		if h.Hostname != "" {
			info.MachineName = h.Hostname
		}
		if h.BootTime > 0 {
			info.BootTime = time.Unix(int64(h.BootTime), 0)
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.TotalMemory = vm.Total
		info.AvailableMemory = vm.Available
	}
	if window < 0 {
		window = 0
	}
	if pct, err := cpu.PercentWithContext(ctx, window, false); err == nil && len(pct) > 0 {
		info.CPUUsagePercent = pct[0]
	}
	return info
}
