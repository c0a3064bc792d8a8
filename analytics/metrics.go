package analytics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rezenkai/crmflow/engine"
)

var _ WorkflowDataCollector = new(MetricsObserver)

// MetricsObserver exports execution counters to prometheus. Events of
// workflows with metrics disabled are ignored.
type MetricsObserver struct {
	registerer prometheus.Registerer
	executions *prometheus.CounterVec
	steps      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	stepTime   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	// executions that emitted a started event; a cancelled pending
	// execution never does.
	started sync.Map
}

func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	m := &MetricsObserver{
		registerer: reg,
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crmflow",
			Name:      "executions_total",
			Help:      "Finished workflow executions by status.",
		}, []string{"workflow", "status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crmflow",
			Name:      "steps_total",
			Help:      "Finished steps by type and outcome.",
		}, []string{"type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crmflow",
			Name:      "execution_duration_seconds",
			Help:      "Execution wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"workflow"}),
		stepTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crmflow",
			Name:      "step_duration_seconds",
			Help:      "Step wall time including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crmflow",
			Name:      "executions_in_flight",
			Help:      "Executions started and not yet finished.",
		}),
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			m.unregister()
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsObserver) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.executions, m.steps, m.duration, m.stepTime, m.inFlight}
}

func (m *MetricsObserver) OnEvent(ev engine.Event) {
	if !ev.MetricsEnabled {
		return
	}
	switch ev.Type {
	case engine.EVENT_WORKFLOW_STARTED:
		m.started.Store(ev.ExecutionID, struct{}{})
		m.inFlight.Inc()
	case engine.EVENT_WORKFLOW_COMPLETED, engine.EVENT_WORKFLOW_FAILED, engine.EVENT_WORKFLOW_CANCELLED:
		if _, ok := m.started.LoadAndDelete(ev.ExecutionID); ok {
			m.inFlight.Dec()
		}
		m.executions.WithLabelValues(ev.WorkflowID, string(ev.Status)).Inc()
		m.duration.WithLabelValues(ev.WorkflowID).Observe(ev.Duration.Seconds())
	case engine.EVENT_STEP_COMPLETED:
		m.steps.WithLabelValues(string(ev.StepType), "completed").Inc()
		m.stepTime.WithLabelValues(string(ev.StepType)).Observe(ev.Duration.Seconds())
	case engine.EVENT_STEP_FAILED:
		m.steps.WithLabelValues(string(ev.StepType), "failed").Inc()
		m.stepTime.WithLabelValues(string(ev.StepType)).Observe(ev.Duration.Seconds())
	}
}

func (m *MetricsObserver) Close() error {
	m.unregister()
	return nil
}

func (m *MetricsObserver) unregister() {
	for _, c := range m.collectors() {
		m.registerer.Unregister(c)
	}
}
