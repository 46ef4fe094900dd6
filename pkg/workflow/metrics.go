package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports engine counters to Prometheus. A nil *Metrics is a no-op.
type Metrics struct {
	executions   *prometheus.CounterVec
	stepAttempts *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
	cost         prometheus.Counter
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperdigest",
			Name:      "executions_total",
			Help:      "Workflow executions by terminal status.",
		}, []string{"workflow_type", "status"}),
		stepAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperdigest",
			Name:      "step_attempts_total",
			Help:      "Step attempts by outcome.",
		}, []string{"step", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paperdigest",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of step attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"step"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paperdigest",
			Name:      "llm_tokens_total",
			Help:      "Language-model tokens consumed by completed steps.",
		}, []string{"direction"}),
		cost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "paperdigest",
			Name:      "llm_cost_usd_total",
			Help:      "USD spent by completed steps.",
		}),
	}
}

func (m *Metrics) executionFinished(workflowType, status string) {
	if m == nil {
		return
	}

	m.executions.WithLabelValues(workflowType, status).Inc()
}

func (m *Metrics) stepAttempt(step, outcome string, d time.Duration) {
	if m == nil {
		return
	}

	m.stepAttempts.WithLabelValues(step, outcome).Inc()
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) usage(tokensIn, tokensOut int64, usd float64) {
	if m == nil {
		return
	}

	m.tokens.WithLabelValues("input").Add(float64(tokensIn))
	m.tokens.WithLabelValues("output").Add(float64(tokensOut))
	m.cost.Add(usd)
}
