// Package stats samples process resource usage during long batch runs
// and writes a report for capacity planning on big survey estates.
package stats

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one observation of runtime and process state.
type Sample struct {
	At      time.Time `json:"at"`
	Elapsed float64   `json:"elapsed_seconds"`

	Heap       uint64 `json:"heap_bytes"`
	RuntimeSys uint64 `json:"runtime_sys_bytes"`
	RSS        uint64 `json:"rss_bytes"`
	GCCycles   uint32 `json:"gc_cycles"`

	CPU        float64   `json:"cpu_percent"`
	SystemCPU  []float64 `json:"system_cpu_percent"`
	Goroutines int       `json:"goroutines"`
}

// Peaks carries the running maxima, folded in as samples land.
type Peaks struct {
	Heap       uint64  `json:"heap_bytes"`
	RuntimeSys uint64  `json:"runtime_sys_bytes"`
	RSS        uint64  `json:"rss_bytes"`
	CPU        float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
}

func (p *Peaks) absorb(s Sample) {
	p.Heap = max(p.Heap, s.Heap)
	p.RuntimeSys = max(p.RuntimeSys, s.RuntimeSys)
	p.RSS = max(p.RSS, s.RSS)
	p.CPU = max(p.CPU, s.CPU)
	p.Goroutines = max(p.Goroutines, s.Goroutines)
}

type Report struct {
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Interval time.Duration `json:"interval_ns"`

	Samples  []Sample `json:"samples"`
	Peaks    Peaks    `json:"peaks"`
	GCCycles uint32   `json:"gc_cycles"`
	MeanCPU  float64  `json:"mean_cpu_percent"`
}

// Collector observes the process on a fixed interval between Start
// and Stop.
type Collector struct {
	interval time.Duration
	proc     *process.Process

	stop chan struct{}
	done chan struct{}

	mu     sync.Mutex
	report Report
	cpuSum float64
}

func NewCollector(interval time.Duration) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to get process info: %w", err)
	}
	return &Collector{
		interval: interval,
		proc:     proc,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		report:   Report{Interval: interval, Samples: make([]Sample, 0, 256)},
	}, nil
}

func (c *Collector) Start() {
	c.report.Started = time.Now()
	go c.run()
}

func (c *Collector) run() {
	defer close(c.done)

	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	c.observe()
	for {
		select {
		case <-tick.C:
			c.observe()
		case <-c.stop:
			c.observe()
			return
		}
	}
}

func (c *Collector) observe() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Sample{
		At:         time.Now(),
		Heap:       mem.HeapAlloc,
		RuntimeSys: mem.Sys,
		GCCycles:   mem.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
	s.Elapsed = s.At.Sub(c.report.Started).Seconds()

	if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
		s.RSS = info.RSS
	}
	if pct, err := c.proc.CPUPercent(); err == nil {
		s.CPU = pct
	}
	if cores, err := cpu.Percent(0, true); err == nil {
		s.SystemCPU = cores
	}

	c.mu.Lock()
	c.report.Samples = append(c.report.Samples, s)
	c.report.Peaks.absorb(s)
	c.report.GCCycles = s.GCCycles
	c.cpuSum += s.CPU
	c.mu.Unlock()
}

// Stop takes a final sample and closes out the report.
func (c *Collector) Stop() *Report {
	close(c.stop)
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()

	r := &c.report
	r.Finished = time.Now()
	r.Elapsed = r.Finished.Sub(r.Started)
	if n := len(r.Samples); n > 0 {
		r.MeanCPU = c.cpuSum / float64(n)
	}
	return r
}

// thin picks at most limit evenly spaced samples.
func thin(samples []Sample, limit int) []Sample {
	if len(samples) <= limit {
		return samples
	}
	picked := make([]Sample, 0, limit)
	step := float64(len(samples)-1) / float64(limit-1)
	for i := 0; i < limit; i++ {
		picked = append(picked, samples[int(float64(i)*step)])
	}
	return picked
}

// SaveToFile writes a plain-text report of the run.
func (r *Report) SaveToFile(path string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "RUN STATISTICS\n")
	fmt.Fprintf(&b, "  started:   %s\n", r.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "  finished:  %s\n", r.Finished.Format(time.RFC3339))
	fmt.Fprintf(&b, "  elapsed:   %s\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "  samples:   %d every %s\n", len(r.Samples), r.Interval)

	fmt.Fprintf(&b, "\nPEAKS\n")
	fmt.Fprintf(&b, "  heap:         %s\n", humanize.IBytes(r.Peaks.Heap))
	fmt.Fprintf(&b, "  runtime sys:  %s\n", humanize.IBytes(r.Peaks.RuntimeSys))
	fmt.Fprintf(&b, "  process rss:  %s\n", humanize.IBytes(r.Peaks.RSS))
	fmt.Fprintf(&b, "  cpu:          %.2f%% (mean %.2f%%)\n", r.Peaks.CPU, r.MeanCPU)
	fmt.Fprintf(&b, "  goroutines:   %d\n", r.Peaks.Goroutines)
	fmt.Fprintf(&b, "  gc cycles:    %d\n", r.GCCycles)

	fmt.Fprintf(&b, "\nSAMPLES\n")
	const limit = 100
	shown := thin(r.Samples, limit)
	if len(shown) < len(r.Samples) {
		fmt.Fprintf(&b, "  (%d of %d, evenly thinned)\n", len(shown), len(r.Samples))
	}
	fmt.Fprintf(&b, "  %-12s %-12s %-12s %-8s %s\n", "elapsed(s)", "heap", "rss", "cpu%", "goroutines")
	for _, s := range shown {
		fmt.Fprintf(&b, "  %-12.1f %-12s %-12s %-8.1f %d\n",
			s.Elapsed, humanize.IBytes(s.Heap), humanize.IBytes(s.RSS), s.CPU, s.Goroutines)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write stats file: %w", err)
	}
	return nil
}
