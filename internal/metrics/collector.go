// Package metrics exposes Prometheus collectors for turns, research
// iterations, tool calls, model calls and search providers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every askweb collector plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askweb_turns_total",
			Help: "Completed turns by outcome",
		},
		[]string{"outcome"}, // answer | inquiry | error
	)
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askweb_turn_duration_seconds",
			Help:    "Wall time of a turn",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)
	ActiveTurns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "askweb_active_turns",
		Help: "Turns currently running",
	})
	ResearchIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "askweb_research_iterations",
		Help:    "Research steps needed per turn",
		Buckets: []float64{1, 2, 3, 5, 8, 13},
	})

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askweb_llm_requests_total",
			Help: "Model calls by stage and status",
		},
		[]string{"stage", "status"},
	)
	LLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askweb_llm_latency_seconds",
			Help:    "Model call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	ToolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askweb_tool_executions_total",
			Help: "Tool executions by tool and status",
		},
		[]string{"tool", "status"},
	)
	ToolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askweb_tool_latency_seconds",
			Help:    "Tool execution latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"tool"},
	)

	SearchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askweb_search_requests_total",
			Help: "Search provider requests by provider and status",
		},
		[]string{"provider", "status"},
	)
	SearchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askweb_search_latency_seconds",
			Help:    "Search provider latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)
	SearchCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askweb_search_cache_total",
			Help: "Search cache lookups by result",
		},
		[]string{"result"}, // hit | miss
	)

	StreamClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "askweb_stream_clients",
			Help: "Connected streaming clients",
		},
		[]string{"transport"}, // sse | websocket
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TurnsTotal, TurnDuration, ActiveTurns, ResearchIterations,
		LLMRequestsTotal, LLMLatency,
		ToolExecutions, ToolLatency,
		SearchRequests, SearchLatency, SearchCache,
		StreamClients,
	)
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveLLM records one model call for a turn stage.
func ObserveLLM(stage string, start time.Time, err error) {
	LLMRequestsTotal.WithLabelValues(stage, status(err)).Inc()
	LLMLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ObserveTool records one tool execution. failed covers both hard errors and
// degraded results.
func ObserveTool(tool string, start time.Time, failed bool) {
	st := "ok"
	if failed {
		st = "error"
	}
	ToolExecutions.WithLabelValues(tool, st).Inc()
	ToolLatency.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

// ObserveSearch records one provider request.
func ObserveSearch(provider string, start time.Time, err error) {
	SearchRequests.WithLabelValues(provider, status(err)).Inc()
	SearchLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

// ObserveTurn records a finished turn.
func ObserveTurn(outcome string, start time.Time, iterations int) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if iterations > 0 {
		ResearchIterations.Observe(float64(iterations))
	}
}
