package pipeline

import (
	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/prometheus"
)

type metrics struct {
	stepResults  *promclient.CounterVec
	stepDuration *promclient.HistogramVec
	taskResults  *promclient.CounterVec
}

// newMetrics returns nil when the prometheus component is disabled.
func newMetrics(pc *prometheus.Component) *metrics {
	if pc == nil {
		return nil
	}
	return &metrics{
		stepResults:  pc.NewCounter("pipeline_step_results_total", "Step outcomes by step and result.", []string{"step", "result"}),
		stepDuration: pc.NewHistogram("pipeline_step_duration_seconds", "Step execution time.", []string{"step"}, promclient.DefBuckets),
		taskResults:  pc.NewCounter("pipeline_tasks_total", "Tasks by terminal status.", []string{"status"}),
	}
}

func (m *metrics) observeStep(step, result string, seconds float64) {
	if m == nil {
		return
	}
	m.stepResults.WithLabelValues(step, result).Inc()
	m.stepDuration.WithLabelValues(step).Observe(seconds)
}

func (m *metrics) observeTask(status string) {
	if m == nil {
		return
	}
	m.taskResults.WithLabelValues(status).Inc()
}
