package offline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the controller's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	intercepts     *prometheus.CounterVec
	storeReadFail  prometheus.Counter
	storeWriteFail prometheus.Counter
	provisions     *prometheus.CounterVec
	activeVersion  *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		intercepts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sharesathi",
				Subsystem: "offline",
				Name:      "intercepts_total",
				Help:      "Requests seen by the offline cache controller, by class and outcome.",
			},
			[]string{"class", "outcome"},
		),
		storeReadFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sharesathi",
			Subsystem: "offline",
			Name:      "store_read_failures_total",
			Help:      "Cache reads that failed and were treated as a miss.",
		}),
		storeWriteFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sharesathi",
			Subsystem: "offline",
			Name:      "store_write_failures_total",
			Help:      "Background cache write-backs that failed and were dropped.",
		}),
		provisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sharesathi",
				Subsystem: "offline",
				Name:      "provisions_total",
				Help:      "Provisioning attempts by result.",
			},
			[]string{"result"},
		),
		activeVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sharesathi",
				Subsystem: "offline",
				Name:      "active_version",
				Help:      "Set to 1 for the cache version currently serving.",
			},
			[]string{"version"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.intercepts, m.storeReadFail, m.storeWriteFail, m.provisions, m.activeVersion)
	}
	return m
}

func (m *Metrics) intercepted(class Class, outcome Outcome) {
	if m == nil {
		return
	}
	m.intercepts.WithLabelValues(class.String(), outcome.String()).Inc()
}

func (m *Metrics) readFailed() {
	if m == nil {
		return
	}
	m.storeReadFail.Inc()
}

func (m *Metrics) writeFailed() {
	if m == nil {
		return
	}
	m.storeWriteFail.Inc()
}

func (m *Metrics) provisioned(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.provisions.WithLabelValues(result).Inc()
}

func (m *Metrics) promoted(version, previous string) {
	if m == nil {
		return
	}
	if previous != "" {
		m.activeVersion.DeleteLabelValues(previous)
	}
	m.activeVersion.WithLabelValues(version).Set(1)
}
