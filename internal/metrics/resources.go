package metrics

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Running maps application id to the PID currently held for it.
type Running func() map[string]int

// ResourceCollector samples CPU and memory of running applications at scrape
// time. It only observes; nothing is enforced.
type ResourceCollector struct {
	running Running

	cpu     *prometheus.Desc
	rss     *prometheus.Desc
	threads *prometheus.Desc

	mu    sync.Mutex
	procs map[int]*gopsproc.Process // kept between scrapes so CPUPercent has a baseline
}

func NewResourceCollector(running Running) *ResourceCollector {
	return &ResourceCollector{
		running: running,
		cpu: prometheus.NewDesc(prometheus.BuildFQName(namespace, "app", "cpu_percent"),
			"CPU usage of the application's process.", []string{"app"}, nil),
		rss: prometheus.NewDesc(prometheus.BuildFQName(namespace, "app", "memory_rss_bytes"),
			"Resident memory of the application's process.", []string{"app"}, nil),
		threads: prometheus.NewDesc(prometheus.BuildFQName(namespace, "app", "threads"),
			"Thread count of the application's process.", []string{"app"}, nil),
		procs: make(map[int]*gopsproc.Process),
	}
}

func (c *ResourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.threads
}

func (c *ResourceCollector) Collect(ch chan<- prometheus.Metric) {
	running := c.running()
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[int]struct{}, len(running))
	for app, pid := range running {
		if pid <= 0 {
			continue
		}
		seen[pid] = struct{}{}
		p, ok := c.procs[pid]
		if !ok {
			var err error
			p, err = gopsproc.NewProcess(int32(pid))
			if err != nil {
				continue
			}
			c.procs[pid] = p
		}
		if cpu, err := p.CPUPercent(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, cpu, app)
		}
		if mem, err := p.MemoryInfo(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(mem.RSS), app)
		} else {
			slog.Debug("memory info unavailable", "app", app, "pid", pid, "error", err)
		}
		if n, err := p.NumThreads(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(n), app)
		}
	}
	for pid := range c.procs {
		if _, ok := seen[pid]; !ok {
			delete(c.procs, pid)
		}
	}
}
