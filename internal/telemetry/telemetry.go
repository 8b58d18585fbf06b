package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/studyforge/studyforge/config"
)

// Prometheus collectors, exposed via /metrics on the API server.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyforge_runs_total",
		Help: "Pipeline runs by outcome.",
	}, []string{"outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studyforge_stage_duration_seconds",
		Help:    "Wall time per pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	stageWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyforge_stage_warnings_total",
		Help: "Items dropped during parsing, by stage.",
	}, []string{"stage"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyforge_llm_tokens_total",
		Help: "LLM tokens used, by model and direction.",
	}, []string{"model", "direction"})

	llmCost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyforge_llm_cost_usd_total",
		Help: "Estimated LLM spend in USD.",
	})
)

// Telemetry records run, stage and model-usage events.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu          sync.RWMutex
	totalRuns   int64
	failedRuns  int64
	totalTokens int64
	totalCost   float64
	modelCosts  map[string]float64
}

// RunEvent captures one pipeline run end to end.
type RunEvent struct {
	RunID          string
	Source         string
	StartTime      time.Time
	EndTime        time.Time
	ProcessingTime time.Duration
	Success        bool
	FailedStage    string
	Error          string
}

// StageEvent captures one stage execution inside a run.
type StageEvent struct {
	RunID    string
	Stage    string
	Duration time.Duration
	Success  bool
	Dropped  int // items skipped as malformed, not fatal
}

// NewTelemetry creates a telemetry recorder.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config:     cfg,
		logger:     log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		modelCosts: make(map[string]float64),
	}
}

// RecordRunEvent records the outcome of a whole pipeline run.
func (t *Telemetry) RecordRunEvent(event RunEvent) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.totalRuns++
	if !event.Success {
		t.failedRuns++
	}
	t.mu.Unlock()

	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	runsTotal.WithLabelValues(outcome).Inc()

	if t.config.PeriodicLogs {
		t.logger.Printf("run %s source=%s outcome=%s took=%s", event.RunID, event.Source, outcome, event.ProcessingTime)
	}
}

// RecordStageEvent records one stage execution.
func (t *Telemetry) RecordStageEvent(event StageEvent) {
	if t == nil || !t.config.Enabled {
		return
	}
	stageDuration.WithLabelValues(event.Stage).Observe(event.Duration.Seconds())
	if event.Dropped > 0 {
		stageWarnings.WithLabelValues(event.Stage).Add(float64(event.Dropped))
	}
}

// RecordLLMUsage records token usage and cost for a single model call.
func (t *Telemetry) RecordLLMUsage(model string, inputTokens, outputTokens int64, cost float64) {
	if t == nil || !t.config.Enabled {
		return
	}
	llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))

	if !t.config.CostTracking {
		return
	}
	llmCost.Add(cost)
	t.mu.Lock()
	t.totalTokens += inputTokens + outputTokens
	t.totalCost += cost
	t.modelCosts[model] += cost
	t.mu.Unlock()
}

// TotalCost returns the accumulated estimated spend.
func (t *Telemetry) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCost
}

// TotalTokens returns the accumulated token count.
func (t *Telemetry) TotalTokens() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalTokens
}
