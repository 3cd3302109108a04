package comms

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the bus counters exposed on /metrics.
type Metrics struct {
	TransmitTotal   *prometheus.CounterVec // labels: result=sent|collision|abandoned|failed
	ReceiveTotal    *prometheus.CounterVec // labels: command
	DecodeErrors    prometheus.Counter
	PersistFailures prometheus.Counter
	QueueRejected   prometheus.Counter
	QueueDepth      prometheus.Gauge
	RollingCounter  prometheus.Gauge
}

// NewMetrics registers and returns the bus metrics. A nil registerer skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransmitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdo_transmit_total",
			Help: "Transmit attempts by result.",
		}, []string{"result"}),
		ReceiveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdo_receive_total",
			Help: "Decoded frames by command.",
		}, []string{"command"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gdo_decode_errors_total",
			Help: "Frames that failed to decode.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gdo_counter_persist_failures_total",
			Help: "Rolling counter writes that failed.",
		}),
		QueueRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gdo_queue_rejected_total",
			Help: "Enqueue attempts rejected because the transmit queue was full.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gdo_queue_depth",
			Help: "Actions waiting in the transmit queue.",
		}),
		RollingCounter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gdo_rolling_counter",
			Help: "Next rolling code value.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.TransmitTotal, m.ReceiveTotal, m.DecodeErrors, m.PersistFailures,
			m.QueueRejected, m.QueueDepth, m.RollingCounter)
	}
	return m
}
