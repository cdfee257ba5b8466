//go:build !windows

package detector

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"github.com/tklauser/go-sysconf"
)

var (
	bootOnce sync.Once
	bootUnix int64
	clkTck   int64 = 100
)

// getProcStartUnix returns the start time of pid in Unix seconds, 0 if unknown.
// Linux reads /proc directly; other platforms go through gopsutil.
func getProcStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		if v := procStatStart(pid); v > 0 {
			return v
		}
	}
	return gopsutilStart(pid)
}

func gopsutilStart(pid int) int64 {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// procStatStart converts field 22 of /proc/<pid>/stat (clock ticks since
// boot) into wall-clock seconds.
func procStatStart(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	line := string(b)
	// comm may contain spaces and parentheses; the last ")" closes it
	end := strings.LastIndexByte(line, ')')
	if end < 0 {
		return 0
	}
	fields := strings.Fields(line[end+1:])
	// fields[0] is field 3 (state), so starttime is fields[19]
	if len(fields) < 20 {
		return 0
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil || ticks <= 0 {
		return 0
	}
	bootOnce.Do(loadBoot)
	if bootUnix == 0 {
		return 0
	}
	return bootUnix + ticks/clkTck
}

func loadBoot() {
	if clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && clk > 0 {
		clkTck = clk
	}
	f, err := os.Open("/proc/stat")
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "btime "); ok {
			if bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				bootUnix = bt
			}
			return
		}
	}
}
