package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoquery_chat_requests_total",
			Help: "Chat requests by outcome.",
		},
		[]string{"outcome"},
	)
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoquery_tool_calls_total",
			Help: "Tool invocations by tool and error kind (ok on success).",
		},
		[]string{"tool", "kind"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoquery_query_duration_seconds",
			Help:    "Dataset query latency by backend.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend"},
	)
	agentIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autoquery_agent_iterations",
			Help:    "Model round trips per chat request.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)
)

func init() {
	prometheus.MustRegister(
		chatRequestsTotal,
		toolCallsTotal,
		queryDurationSeconds,
		agentIterations,
	)
}

func ObserveChatRequest(outcome string) {
	chatRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveToolCall(tool, kind string) {
	if kind == "" {
		kind = "ok"
	}
	toolCallsTotal.WithLabelValues(tool, kind).Inc()
}

func ObserveQueryDuration(backend string, elapsed time.Duration) {
	queryDurationSeconds.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func ObserveAgentIterations(iterations int) {
	if iterations < 0 {
		iterations = 0
	}
	agentIterations.Observe(float64(iterations))
}
