// Package metrics records renewal and request outcomes of the session layer.
package metrics

import (
	"time"

	"github.com/layer-3/sessionkit/core"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder receives session layer measurements
type Recorder interface {
	RenewalStarted()
	RenewalFinished(outcome string, elapsed time.Duration)
	WaiterQueued()
	RequestReplayed()
	RequestFailed(kind core.ErrorKind)
}

// Nop discards every measurement.
var Nop Recorder = nop{}

type nop struct{}

func (nop) RenewalStarted()                       {}
func (nop) RenewalFinished(string, time.Duration) {}
func (nop) WaiterQueued()                         {}
func (nop) RequestReplayed()                      {}
func (nop) RequestFailed(core.ErrorKind)          {}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	RenewalsTotal   *prometheus.CounterVec
	RenewalDuration prometheus.Histogram
	RenewalsActive  prometheus.Gauge
	WaitersTotal    prometheus.Counter
	ReplaysTotal    prometheus.Counter
	FailuresTotal   *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	m := &Prometheus{
		RenewalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionkit_renewals_total",
				Help: "Credential renewal calls issued, by outcome",
			},
			[]string{"outcome"},
		),
		RenewalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sessionkit_renewal_duration_seconds",
				Help:    "Histogram of credential renewal latency",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		RenewalsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessionkit_renewals_in_flight",
				Help: "Renewal calls currently in flight (0 or 1)",
			},
		),
		WaitersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessionkit_renewal_waiters_total",
				Help: "Triggers that joined an in-flight renewal instead of starting one",
			},
		),
		ReplaysTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessionkit_request_replays_total",
				Help: "Requests replayed after a 401",
			},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessionkit_request_failures_total",
				Help: "Requests that ended in an error, by kind",
			},
			[]string{"kind"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.RenewalsTotal, m.RenewalDuration, m.RenewalsActive,
		m.WaitersTotal, m.ReplaysTotal, m.FailuresTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Prometheus) RenewalStarted() {
	m.RenewalsActive.Inc()
}

func (m *Prometheus) RenewalFinished(outcome string, elapsed time.Duration) {
	m.RenewalsActive.Dec()
	m.RenewalsTotal.WithLabelValues(outcome).Inc()
	m.RenewalDuration.Observe(elapsed.Seconds())
}

func (m *Prometheus) WaiterQueued() {
	m.WaitersTotal.Inc()
}

func (m *Prometheus) RequestReplayed() {
	m.ReplaysTotal.Inc()
}

func (m *Prometheus) RequestFailed(kind core.ErrorKind) {
	m.FailuresTotal.WithLabelValues(string(kind)).Inc()
}
