// Package tunmetrics collects counters and gauges for the tunnel agent and
// exports them in Prometheus text format or JSON, the way the upstream
// server-side agent exposes its own /metrics endpoint.
package tunmetrics

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

type counter struct {
	value atomic.Uint64
	help  string
}

type gauge struct {
	value atomic.Uint64 // IEEE-754 bits of a float64
	help  string
}

// Collector stores named counters and gauges.
type Collector struct {
	mu       sync.RWMutex
	counters map[string]*counter
	gauges   map[string]*gauge
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{counters: make(map[string]*counter), gauges: make(map[string]*gauge)}
}

// RegisterCounter registers name if absent.
func (c *Collector) RegisterCounter(name, help string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counters[name]; !ok {
		c.counters[name] = &counter{help: help}
	}
}

// RegisterGauge registers name if absent.
func (c *Collector) RegisterGauge(name, help string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.gauges[name]; !ok {
		c.gauges[name] = &gauge{help: help}
	}
}

// IncCounter increments name by 1.
func (c *Collector) IncCounter(name string) { c.AddCounter(name, 1) }

// AddCounter adds delta to name.
func (c *Collector) AddCounter(name string, delta uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.counters[name]; ok {
		m.value.Add(delta)
	}
}

// SetGauge sets name to value.
func (c *Collector) SetGauge(name string, value float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.gauges[name]; ok {
		m.value.Store(math.Float64bits(value))
	}
}

// GetCounter returns the current value of name.
func (c *Collector) GetCounter(name string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.counters[name]; ok {
		return m.value.Load()
	}
	return 0
}

// GetGauge returns the current value of name.
func (c *Collector) GetGauge(name string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.gauges[name]; ok {
		return math.Float64frombits(m.value.Load())
	}
	return 0
}

// ExportPrometheus renders all metrics in Prometheus text exposition format.
func (c *Collector) ExportPrometheus() string {
	var sb strings.Builder
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, m := range c.counters {
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, m.help, name, name, m.value.Load())
	}
	for name, m := range c.gauges {
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, m.help, name, name, math.Float64frombits(m.value.Load()))
	}
	return sb.String()
}

// ExportJSON renders all metrics as a flat JSON object.
func (c *Collector) ExportJSON() ([]byte, error) {
	data := make(map[string]any)
	c.mu.RLock()
	for name, m := range c.counters {
		data[name] = m.value.Load()
	}
	for name, m := range c.gauges {
		data[name] = math.Float64frombits(m.value.Load())
	}
	c.mu.RUnlock()
	return json.Marshal(data)
}

// Handler returns an http.Handler suitable for mounting at /metrics.
// ?format=json selects the JSON encoding; otherwise Prometheus text is used.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") == "json" {
			data, err := c.ExportJSON()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(c.ExportPrometheus()))
	}
}

// Standard metric names for the tunnel agent.
const (
	MetricDialsTotal      = "tunnel_remote_dials_total"
	MetricDialFailsTotal  = "tunnel_remote_dial_failures_total"
	MetricOpensTotal      = "tunnel_opens_total"
	MetricClosesTotal     = "tunnel_closes_total"
	MetricReconnectsTotal = "tunnel_reconnects_total"
	MetricRefusedTotal    = "tunnel_connection_refused_total"
	MetricPoolSize        = "tunnel_pool_size"
	MetricBytesUp         = "tunnel_bytes_local_to_remote_total"
	MetricBytesDown       = "tunnel_bytes_remote_to_local_total"
)

// RegisterDefault registers the standard metric set on c.
func RegisterDefault(c *Collector) {
	c.RegisterCounter(MetricDialsTotal, "Total remote dial attempts")
	c.RegisterCounter(MetricDialFailsTotal, "Total failed remote dial attempts")
	c.RegisterCounter(MetricOpensTotal, "Total Supervisor.Open calls")
	c.RegisterCounter(MetricClosesTotal, "Total Supervisor.Close calls")
	c.RegisterCounter(MetricReconnectsTotal, "Total heartbeat/error-driven reconnection rounds")
	c.RegisterCounter(MetricRefusedTotal, "Total ECONNREFUSED events from the remote")
	c.RegisterGauge(MetricPoolSize, "Current number of authenticated pool connections")
	c.RegisterCounter(MetricBytesUp, "Bytes piped from local service to remote")
	c.RegisterCounter(MetricBytesDown, "Bytes piped from remote to local service")
}
