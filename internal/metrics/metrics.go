// Package metrics defines the prometheus collectors the server maintains.
// Collectors are registered against a caller-supplied registerer so tests
// and embedding applications control exposure.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the server's collectors.
type Metrics struct {
	SessionsActive prometheus.Gauge
	SessionsOpened prometheus.Counter
	SessionsClosed prometheus.Counter

	// Requests counts handled JSON-RPC requests by method and outcome.
	Requests *prometheus.CounterVec
	// ToolCalls counts tool invocations by outcome. Callback failures count
	// as errors even though they travel back as successful responses.
	ToolCalls *prometheus.CounterVec
}

// New builds and registers the collectors. Pass nil to keep the collectors
// unregistered, e.g. when metrics are disabled.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_sessions_active",
			Help: "Number of currently connected sessions.",
		}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcp_sessions_opened_total",
			Help: "Total sessions accepted.",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcp_sessions_closed_total",
			Help: "Total sessions torn down.",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_requests_total",
			Help: "JSON-RPC requests handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_tool_calls_total",
			Help: "Tool invocations, by outcome.",
		}, []string{"outcome"}),
	}
}
