// Package profiler - Periodic runtime and pipeline metrics reports.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// Summary describes the retained samples of one metric.
type Summary struct {
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// Options configures the runtime profiler.
type Options struct {
	// ReportInterval specifies how often to emit status reports (default: 10s)
	ReportInterval time.Duration
	// SampleInterval specifies how often collectors are polled (default: 1s)
	SampleInterval time.Duration
	// MaxSamples caps the samples kept per metric (default: 600)
	MaxSamples int
}

// RuntimeProfiler polls registered collectors, keeps a bounded history per
// metric and periodically logs memory, goroutine and metric summaries.
type RuntimeProfiler struct {
	options Options
	logger  zerolog.Logger

	mu         sync.Mutex
	collectors []MetricsCollector
	metrics    map[string][]float64
	startTime  time.Time
	lastGC     uint32

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRuntimeProfiler creates a profiler. Zero options take their defaults.
func NewRuntimeProfiler(opts Options, logger zerolog.Logger) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	return &RuntimeProfiler{
		options:   opts,
		logger:    logger.With().Str("component", "profiler").Logger(),
		metrics:   make(map[string][]float64),
		startTime: time.Now(),
	}
}

// AddMetricsCollector registers a collector polled every sample interval.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.record(name, value)
}

func (rp *RuntimeProfiler) record(name string, value float64) {
	values := append(rp.metrics[name], value)
	if len(values) > rp.options.MaxSamples {
		values = values[len(values)-rp.options.MaxSamples:]
	}
	rp.metrics[name] = values
}

// StartOperation begins timing an operation and returns the function that
// records its duration, in milliseconds, under name.
//
// @example
// done := profiler.StartOperation("detect")
// detections, err := detector.Detect(frame)
// done()
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		rp.RecordMetric(name+"_ms", float64(time.Since(start).Microseconds())/1000)
	}
}

// Sample polls every collector once.
func (rp *RuntimeProfiler) Sample() {
	rp.mu.Lock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.mu.Unlock()

	for _, collector := range collectors {
		metrics := collector.CollectMetrics()
		rp.mu.Lock()
		for name, value := range metrics {
			rp.record(name, value)
		}
		rp.mu.Unlock()
	}
}

// Snapshot summarises every metric.
func (rp *RuntimeProfiler) Snapshot() map[string]Summary {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	summaries := make(map[string]Summary, len(rp.metrics))
	for name, values := range rp.metrics {
		if len(values) == 0 {
			continue
		}
		s := Summary{Min: values[0], Max: values[0], Samples: len(values)}
		s.Mean, s.StdDev = stat.PopMeanStdDev(values, nil)
		for _, v := range values[1:] {
			s.Min = min(s.Min, v)
			s.Max = max(s.Max, v)
		}
		summaries[name] = s
	}
	return summaries
}

// Start begins sampling and reporting in the background until ctx is done or
// Stop is called. Later calls while running do nothing.
func (rp *RuntimeProfiler) Start(ctx context.Context) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}
	rp.running = true
	rp.startTime = time.Now()

	ctx, rp.cancel = context.WithCancel(ctx)
	rp.wg.Add(1)
	go rp.loop(ctx)
}

// Stop halts the background loop and waits for it to exit.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	cancel := rp.cancel
	rp.mu.Unlock()

	cancel()
	rp.wg.Wait()
}

func (rp *RuntimeProfiler) loop(ctx context.Context) {
	defer rp.wg.Done()

	sample := time.NewTicker(rp.options.SampleInterval)
	defer sample.Stop()
	report := time.NewTicker(rp.options.ReportInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sample.C:
			rp.Sample()
		case <-report.C:
			rp.Report()
		}
	}
}

// Report logs runtime statistics and a summary of every metric.
func (rp *RuntimeProfiler) Report() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rp.mu.Lock()
	uptime := time.Since(rp.startTime)
	newGC := mem.NumGC - rp.lastGC
	rp.lastGC = mem.NumGC
	rp.mu.Unlock()

	rp.logger.Info().
		Dur("uptime", uptime.Truncate(time.Millisecond)).
		Int("goroutines", runtime.NumGoroutine()).
		Int64("cgo_calls", runtime.NumCgoCall()).
		Uint64("heap_alloc", mem.HeapAlloc).
		Uint64("sys", mem.Sys).
		Uint32("gc_cycles", mem.NumGC).
		Uint32("gc_new", newGC).
		Float64("gc_cpu_fraction", mem.GCCPUFraction).
		Msg("runtime report")

	snapshot := rp.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := snapshot[name]
		rp.logger.Info().
			Str("metric", name).
			Float64("mean", s.Mean).
			Float64("std_dev", s.StdDev).
			Float64("min", s.Min).
			Float64("max", s.Max).
			Int("samples", s.Samples).
			Msg("metric report")
	}
}
