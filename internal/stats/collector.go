// Package stats aggregates per-tool usage counters and gateway health.
package stats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Health states reported by Health. Advisory only: a degraded tool is
	// never auto-disabled.
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"

	// degradedErrorRate and degradedMinCalls gate the degraded verdict so a
	// tool is not flagged on a handful of early failures.
	degradedErrorRate = 0.5
	degradedMinCalls  = 10
)

// ToolUsage is the running record kept per registered tool.
type ToolUsage struct {
	ToolName     string    `json:"tool_name"`
	TotalCalls   int64     `json:"total_calls"`
	Succeeded    int64     `json:"succeeded"`
	Failed       int64     `json:"failed"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	LastUsed     time.Time `json:"last_used"`
}

// ErrorRate returns failed/total, or 0 before the first call.
func (u ToolUsage) ErrorRate() float64 {
	if u.TotalCalls == 0 {
		return 0
	}
	return float64(u.Failed) / float64(u.TotalCalls)
}

// Collector keeps one usage record per tool, created lazily at registration,
// updated after every dispatch attempt, and mirrors the counters into
// Prometheus vectors.
type Collector struct {
	mu    sync.RWMutex
	usage map[string]*ToolUsage
	start time.Time

	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewCollector builds a collector and registers its metric vectors. A nil
// registerer uses the Prometheus default.
func NewCollector(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vita",
		Subsystem: "gateway",
		Name:      "tool_calls_total",
		Help:      "Total tool dispatch attempts, partitioned by tool name and status.",
	}, []string{"tool_name", "status"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vita",
		Subsystem: "gateway",
		Name:      "tool_latency_seconds",
		Help:      "Tool execution latency in seconds, partitioned by tool name.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool_name"})

	return &Collector{
		usage:   make(map[string]*ToolUsage),
		start:   time.Now(),
		calls:   registerCounterVec(registerer, calls),
		latency: registerHistogramVec(registerer, latency),
	}
}

// Ensure creates the usage record for a tool if absent. Called at
// registration so every registered tool has a matching stats entry.
func (c *Collector) Ensure(toolName string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.usage[toolName]; !ok {
		c.usage[toolName] = &ToolUsage{ToolName: toolName}
	}
}

// Record updates the tool's counters and running latency average after a
// dispatch attempt. Safe to call on a nil receiver.
func (c *Collector) Record(toolName string, success bool, duration time.Duration) {
	if c == nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	c.calls.WithLabelValues(toolName, status).Inc()
	c.latency.WithLabelValues(toolName).Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	usage, ok := c.usage[toolName]
	if !ok {
		usage = &ToolUsage{ToolName: toolName}
		c.usage[toolName] = usage
	}
	usage.TotalCalls++
	if success {
		usage.Succeeded++
	} else {
		usage.Failed++
	}
	ms := float64(duration.Microseconds()) / 1000.0
	n := float64(usage.TotalCalls)
	usage.AvgLatencyMS = (usage.AvgLatencyMS*(n-1) + ms) / n
	usage.LastUsed = time.Now()
}

// Get returns a copy of the usage record for one tool.
func (c *Collector) Get(toolName string) (ToolUsage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	usage, ok := c.usage[toolName]
	if !ok {
		return ToolUsage{}, false
	}
	return *usage, true
}

// Snapshot returns a copy of every usage record keyed by tool name.
func (c *Collector) Snapshot() map[string]ToolUsage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]ToolUsage, len(c.usage))
	for name, usage := range c.usage {
		out[name] = *usage
	}
	return out
}

// TotalCalls returns the number of dispatch attempts across all tools.
func (c *Collector) TotalCalls() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, usage := range c.usage {
		total += usage.TotalCalls
	}
	return total
}

// SuccessRate returns succeeded/total across all tools, or 1 before any
// call.
func (c *Collector) SuccessRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total, succeeded int64
	for _, usage := range c.usage {
		total += usage.TotalCalls
		succeeded += usage.Succeeded
	}
	if total == 0 {
		return 1
	}
	return float64(succeeded) / float64(total)
}

// Health reports the advisory gateway state: degraded when any tool has an
// error rate above 50% over more than 10 calls, healthy otherwise.
func (c *Collector) Health() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, usage := range c.usage {
		if usage.TotalCalls > degradedMinCalls && usage.ErrorRate() > degradedErrorRate {
			return StatusDegraded
		}
	}
	return StatusHealthy
}

// DegradedTools lists tools currently triggering the degraded verdict.
func (c *Collector) DegradedTools() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for name, usage := range c.usage {
		if usage.TotalCalls > degradedMinCalls && usage.ErrorRate() > degradedErrorRate {
			out = append(out, name)
		}
	}
	return out
}

// Uptime returns how long the collector (and so the gateway) has been up.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.start)
}

func registerCounterVec(registerer prometheus.Registerer, collector *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, castOK := already.ExistingCollector.(*prometheus.CounterVec); castOK {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, collector *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, castOK := already.ExistingCollector.(*prometheus.HistogramVec); castOK {
				return existing
			}
		}
		panic(err)
	}
	return collector
}
