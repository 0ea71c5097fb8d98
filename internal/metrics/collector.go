package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records engine lifecycle events and latency probe outcomes. It
// feeds a private Prometheus registry and keeps enough raw samples to print
// a probe report.
type Collector struct {
	registry *prometheus.Registry

	engineStarts   *prometheus.CounterVec
	engineStops    *prometheus.CounterVec
	engineFailures *prometheus.CounterVec
	engineRunning  *prometheus.GaugeVec
	outputLines    *prometheus.CounterVec
	probeLatency   prometheus.Histogram
	probeFailures  *prometheus.CounterVec

	mu sync.Mutex

	// Latency Tracking (Successes only)
	latencies []time.Duration

	// Error Tracking
	errorCounts   map[string]int
	totalErrors   int
	timeoutErrors int
}

func New() *Collector {
	c := &Collector{
		registry:    prometheus.NewRegistry(),
		errorCounts: make(map[string]int),
	}

	c.engineStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "v2neko_engine_starts_total",
		Help: "Engine starts by engine type",
	}, []string{"engine"})
	c.engineStops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "v2neko_engine_stops_total",
		Help: "Engine stops by engine type",
	}, []string{"engine"})
	c.engineFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "v2neko_engine_failures_total",
		Help: "Engine start failures by engine type",
	}, []string{"engine"})
	c.engineRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "v2neko_engine_running",
		Help: "1 while an engine of the type is running",
	}, []string{"engine"})
	c.outputLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "v2neko_engine_output_lines_total",
		Help: "Engine output lines drained",
	}, []string{"engine"})
	c.probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "v2neko_probe_latency_seconds",
		Help:    "Latency of successful profile probes",
		Buckets: prometheus.ExponentialBuckets(0.025, 2, 9),
	})
	c.probeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "v2neko_probe_failures_total",
		Help: "Failed profile probes by error class",
	}, []string{"reason"})

	c.registry.MustRegister(
		c.engineStarts, c.engineStops, c.engineFailures, c.engineRunning,
		c.outputLines, c.probeLatency, c.probeFailures,
	)
	return c
}

// Registry exposes the underlying registry, e.g. for a /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) EngineStarted(kind string) {
	c.engineStarts.WithLabelValues(kind).Inc()
	c.engineRunning.WithLabelValues(kind).Set(1)
}

func (c *Collector) EngineStopped(kind string) {
	c.engineStops.WithLabelValues(kind).Inc()
	c.engineRunning.WithLabelValues(kind).Set(0)
}

func (c *Collector) EngineFailed(kind string) {
	c.engineFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) EngineOutput(kind string, lines int) {
	c.outputLines.WithLabelValues(kind).Add(float64(lines))
}

func (c *Collector) RecordSuccess(d time.Duration) {
	c.probeLatency.Observe(d.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = append(c.latencies, d)
}

func (c *Collector) RecordFailure(err error) {
	errType := Classify(err)
	c.probeFailures.WithLabelValues(errType).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalErrors++
	if errType == "timeout" {
		c.timeoutErrors++
	}
	c.errorCounts[errType]++
}

// Classify buckets a dial or request error by its message.
func Classify(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "refused"):
		return "refused"
	case strings.Contains(msg, "reset"):
		return "reset"
	case strings.Contains(msg, "EOF"):
		return "eof"
	case strings.Contains(msg, "no such host"):
		return "dns"
	}
	return "other"
}

// PrintReport writes a latency and failure summary of the recorded probes.
func (c *Collector) PrintReport(out io.Writer, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBE REPORT")

	if len(c.latencies) > 0 {
		sorted := append([]time.Duration{}, c.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		p50 := sorted[len(sorted)/2]
		p90 := sorted[int(float64(len(sorted))*0.9)]

		fmt.Fprintf(w, "  Reachable:\t%d\n", len(sorted))
		fmt.Fprintf(w, "  Avg Latency:\t%v\n", average(sorted).Round(time.Millisecond))
		fmt.Fprintf(w, "  p50 (Median):\t%v\n", p50.Round(time.Millisecond))
		fmt.Fprintf(w, "  p90:\t%v\n", p90.Round(time.Millisecond))
	} else {
		fmt.Fprintln(w, "  No reachable profiles.")
	}

	fmt.Fprintf(w, "  Failures:\t%d\n", c.totalErrors)
	if c.totalErrors > 0 {
		keys := make([]string, 0, len(c.errorCounts))
		for k := range c.errorCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %s:\t%d\n", k, c.errorCounts[k])
		}
		if timeoutPct := float64(c.timeoutErrors) / float64(c.totalErrors) * 100; timeoutPct > 70 {
			fmt.Fprintf(w, "  Most failures are timeouts; consider a probe timeout above %s or fewer workers.\n", timeout)
		}
	}
	w.Flush()
}

func average(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return time.Duration(int64(sum) / int64(len(d)))
}
