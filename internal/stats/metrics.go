package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the aggregator's counters to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests     prometheus.Counter
	commands     *prometheus.CounterVec
	guilds       prometheus.Gauge
	shards       prometheus.Gauge
	pushFailures prometheus.Counter
}

// NewMetrics registers the fleet metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounter(prometheus.CounterOpts{
			Name: "fleet_command_requests_total",
			Help: "Command attempts observed by the pre-command hook",
		}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_commands_total",
			Help: "Completed command executions by command name",
		}, []string{"command"}),
		guilds: f.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_guilds",
			Help: "Guilds the fleet is currently in",
		}),
		shards: f.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_shards_ready",
			Help: "Shards that have reported ready",
		}),
		pushFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fleet_sink_push_failures_total",
			Help: "Failed pushes to the external stats sink",
		}),
	}
}

func (m *Metrics) request() {
	if m != nil {
		m.requests.Inc()
	}
}

func (m *Metrics) command(name string) {
	if m != nil {
		m.commands.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) setCounts(guilds, shards uint64) {
	if m != nil {
		m.guilds.Set(float64(guilds))
		m.shards.Set(float64(shards))
	}
}

func (m *Metrics) pushFailed() {
	if m != nil {
		m.pushFailures.Inc()
	}
}
