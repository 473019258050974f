// Package metrics collects server and replication metrics in a
// VictoriaMetrics set and exposes them in the Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Collector implements the metrics interfaces of the server and replication
// packages. The zero value is not usable; call New.
type Collector struct {
	set  *metrics.Set
	role string

	commandsTotal  *metrics.Counter
	errorsTotal    *metrics.Counter
	networkBytes   *metrics.Counter
	syncsTotal     *metrics.Counter
	syncDuration   *metrics.Histogram
	commandLatency *metrics.Histogram

	clients  atomic.Int64
	replicas atomic.Int64
}

// New creates a collector with its own metrics set. A non-empty role
// ("master" or "replica") is attached as a label to every metric.
func New(role string) *Collector {
	c := &Collector{set: metrics.NewSet(), role: role}
	c.commandsTotal = c.set.NewCounter(c.name("redis_commands_processed_total", role))
	c.errorsTotal = c.set.NewCounter(c.name("redis_errors_total", role))
	c.networkBytes = c.set.NewCounter(c.name("redis_replication_network_bytes_total", role))
	c.syncsTotal = c.set.NewCounter(c.name("redis_replication_full_syncs_total", role))
	c.syncDuration = c.set.NewHistogram(c.name("redis_replication_sync_duration_seconds", role))
	c.commandLatency = c.set.NewHistogram(c.name("redis_command_duration_seconds", role))
	c.set.NewGauge(c.name("redis_connected_clients", role), func() float64 {
		return float64(c.clients.Load())
	})
	c.set.NewGauge(c.name("redis_connected_replicas", role), func() float64 {
		return float64(c.replicas.Load())
	})
	return c
}

func (c *Collector) name(base, role string) string {
	if role == "" {
		return base
	}
	return fmt.Sprintf(`%s{role=%q}`, base, role)
}

// labeled adds label to a metric name that may already carry labels.
func labeled(name, key, value string) string {
	if i := strings.IndexByte(name, '{'); i >= 0 {
		return fmt.Sprintf(`%s{%s=%q,%s`, name[:i], key, value, name[i+1:])
	}
	return fmt.Sprintf(`%s{%s=%q}`, name, key, value)
}

// RecordSyncDuration records one completed full synchronization.
func (c *Collector) RecordSyncDuration(duration time.Duration) {
	c.syncsTotal.Inc()
	c.syncDuration.Update(duration.Seconds())
}

// RecordCommandProcessed records a client or replicated command.
func (c *Collector) RecordCommandProcessed(cmd string, duration time.Duration) {
	c.commandsTotal.Inc()
	c.commandLatency.Update(duration.Seconds())
	c.set.GetOrCreateCounter(labeled(c.name("redis_commands_total", c.role), "cmd", strings.ToLower(cmd))).Inc()
}

// RecordNetworkBytes records bytes received on the replication link.
func (c *Collector) RecordNetworkBytes(bytes int64) {
	if bytes > 0 {
		c.networkBytes.Add(int(bytes))
	}
}

// RecordReplicaCount records the number of attached replicas.
func (c *Collector) RecordReplicaCount(count int) {
	c.replicas.Store(int64(count))
}

// RecordClientCount records the number of connected clients.
func (c *Collector) RecordClientCount(count int) {
	c.clients.Store(int64(count))
}

// RecordError records an error of the given kind.
func (c *Collector) RecordError(errorType string) {
	c.errorsTotal.Inc()
	c.set.GetOrCreateCounter(labeled(c.name("redis_errors_by_type_total", c.role), "type", errorType)).Inc()
}

// WritePrometheus writes every metric in the Prometheus text format.
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

// CommandsProcessed returns the total number of recorded commands.
func (c *Collector) CommandsProcessed() uint64 {
	return c.commandsTotal.Get()
}

// Errors returns the total number of recorded errors.
func (c *Collector) Errors() uint64 {
	return c.errorsTotal.Get()
}
