// Package metrics is a small Prometheus-compatible collector. It renders the
// text exposition format directly instead of pulling in client_golang.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	prefix     string
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a collector; prefix names the uptime gauge.
func NewMetricsCollector(prefix string) *MetricsCollector {
	return &MetricsCollector{prefix: prefix, startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values. Buckets are cumulative and
// always end with +Inf.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// --- Registration helpers ---

// Counter returns or creates a counter. labels is the raw label body,
// e.g. `kind="capture_timeout"`.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

// Gauge returns or creates a gauge.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	hb := make([]histBucket, len(bounds))
	for i, b := range bounds {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler renders all metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns the exposition text. Series are sorted so output is stable.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder

	if c.prefix != "" {
		name := c.prefix + "_uptime_seconds"
		fmt.Fprintf(&sb, "# HELP %s Time since start in seconds\n", name)
		fmt.Fprintf(&sb, "# TYPE %s gauge\n", name)
		fmt.Fprintf(&sb, "%s %d\n", name, int64(c.Uptime().Seconds()))
	}

	helpWritten := make(map[string]bool)
	header := func(name, help, typ string) {
		if helpWritten[name] {
			return
		}
		fmt.Fprintf(&sb, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", name, typ)
		helpWritten[name] = true
	}

	for _, v := range sortedValues(&c.counters) {
		ctr := v.(*Counter)
		header(ctr.name, ctr.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}

	for _, v := range sortedValues(&c.gauges) {
		g := v.(*Gauge)
		header(g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	for _, v := range sortedValues(&c.histograms) {
		h := v.(*Histogram)
		header(h.name, h.help, "histogram")

		h.mu.Lock()
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			labels := `le="` + le + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", labels), b.count)
		}
		fmt.Fprintf(&sb, "%s %g\n", series(h.name+"_sum", h.labels), h.sum)
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		h.mu.Unlock()
	}

	return sb.String()
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedValues(m *sync.Map) []any {
	var keys []string
	values := make(map[string]any)
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		values[k.(string)] = v
		return true
	})
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = values[k]
	}
	return out
}
