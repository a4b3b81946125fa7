package telemetry

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry tracks solver activity and LLM spend. It keeps an in-memory
// rollup for the operator API and mirrors the counters into a Prometheus
// registry for scraping.
type Telemetry struct {
	logger  *log.Logger
	mu      sync.RWMutex
	metrics Metrics

	registry *prometheus.Registry

	sessionsTotal    *prometheus.CounterVec
	sessionDuration  prometheus.Histogram
	reasoningTokens  prometheus.Counter
	reasoningCost    prometheus.Counter
	reasoningCalls   prometheus.Counter
	toolInvocations  *prometheus.CounterVec
	submissionsTotal *prometheus.CounterVec
	renderDuration   prometheus.Histogram
}

// Metrics is the in-memory rollup snapshot.
type Metrics struct {
	SessionsStarted   int64                    `json:"sessions_started"`
	SessionsByOutcome map[string]int64         `json:"sessions_by_outcome"`
	ReasoningCalls    int64                    `json:"reasoning_calls"`
	TokensUsed        int64                    `json:"tokens_used"`
	CostUSD           float64                  `json:"cost_usd"`
	ToolCalls         map[string]int64         `json:"tool_calls"`
	ToolFailures      map[string]int64         `json:"tool_failures"`
	SubmissionsTotal  int64                    `json:"submissions_total"`
	SubmissionsOK     int64                    `json:"submissions_correct"`
	RenderTimes       map[string]time.Duration `json:"-"`
}

// New builds a telemetry instance with its own Prometheus registry.
func New(logger *log.Logger) *Telemetry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	t := &Telemetry{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		metrics: Metrics{
			SessionsByOutcome: make(map[string]int64),
			ToolCalls:         make(map[string]int64),
			ToolFailures:      make(map[string]int64),
			RenderTimes:       make(map[string]time.Duration),
		},
	}

	t.sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizagent", Name: "sessions_total",
		Help: "Quiz sessions by terminal outcome.",
	}, []string{"outcome"})
	t.sessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quizagent", Name: "session_duration_seconds",
		Help:    "Wall-clock duration of quiz sessions.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 9),
	})
	t.reasoningCalls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quizagent", Name: "reasoning_calls_total",
		Help: "Chat completion requests issued.",
	})
	t.reasoningTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quizagent", Name: "reasoning_tokens_total",
		Help: "Tokens consumed across all reasoning calls.",
	})
	t.reasoningCost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quizagent", Name: "reasoning_cost_usd_total",
		Help: "Estimated LLM spend in USD.",
	})
	t.toolInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizagent", Name: "tool_invocations_total",
		Help: "Tool dispatches by tool name and status.",
	}, []string{"tool", "status"})
	t.submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quizagent", Name: "submissions_total",
		Help: "Answer submissions by verdict.",
	}, []string{"verdict"})
	t.renderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "quizagent", Name: "render_duration_seconds",
		Help:    "Headless render latency.",
		Buckets: prometheus.DefBuckets,
	})

	t.registry.MustRegister(
		t.sessionsTotal, t.sessionDuration,
		t.reasoningCalls, t.reasoningTokens, t.reasoningCost,
		t.toolInvocations, t.submissionsTotal, t.renderDuration,
	)
	return t
}

// Handler exposes the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart counts a new quiz session.
func (t *Telemetry) RecordSessionStart(id, startURL string) {
	t.mu.Lock()
	t.metrics.SessionsStarted++
	t.mu.Unlock()
	t.logger.Printf("session %s started for %s", id, startURL)
}

// RecordSessionEnd counts a terminal outcome and its duration.
func (t *Telemetry) RecordSessionEnd(id, outcome string, elapsed time.Duration) {
	t.mu.Lock()
	t.metrics.SessionsByOutcome[outcome]++
	t.mu.Unlock()
	t.sessionsTotal.WithLabelValues(outcome).Inc()
	t.sessionDuration.Observe(elapsed.Seconds())
	t.logger.Printf("session %s finished outcome=%s elapsed=%s", id, outcome, elapsed.Round(time.Millisecond))
}

// RecordReasoning accounts one chat completion round trip.
func (t *Telemetry) RecordReasoning(model string, tokens int64, cost float64) {
	t.mu.Lock()
	t.metrics.ReasoningCalls++
	t.metrics.TokensUsed += tokens
	t.metrics.CostUSD += cost
	t.mu.Unlock()
	t.reasoningCalls.Inc()
	t.reasoningTokens.Add(float64(tokens))
	t.reasoningCost.Add(cost)
}

// RecordToolCall accounts one tool dispatch.
func (t *Telemetry) RecordToolCall(name string, failed bool) {
	status := "ok"
	t.mu.Lock()
	t.metrics.ToolCalls[name]++
	if failed {
		t.metrics.ToolFailures[name]++
		status = "failed"
	}
	t.mu.Unlock()
	t.toolInvocations.WithLabelValues(name, status).Inc()
}

// RecordSubmission accounts one grading round trip.
func (t *Telemetry) RecordSubmission(correct bool) {
	verdict := "incorrect"
	t.mu.Lock()
	t.metrics.SubmissionsTotal++
	if correct {
		t.metrics.SubmissionsOK++
		verdict = "correct"
	}
	t.mu.Unlock()
	t.submissionsTotal.WithLabelValues(verdict).Inc()
}

// RecordRender accounts one headless page render.
func (t *Telemetry) RecordRender(url string, elapsed time.Duration) {
	t.mu.Lock()
	t.metrics.RenderTimes[url] = elapsed
	t.mu.Unlock()
	t.renderDuration.Observe(elapsed.Seconds())
}

// Snapshot returns a copy of the in-memory rollup.
func (t *Telemetry) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.metrics
	out.SessionsByOutcome = copyCounts(t.metrics.SessionsByOutcome)
	out.ToolCalls = copyCounts(t.metrics.ToolCalls)
	out.ToolFailures = copyCounts(t.metrics.ToolFailures)
	out.RenderTimes = nil
	return out
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
