package asyncqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the live state of a Queue as Prometheus gauges. The
// gauges are set, not accumulated, so a Metrics shared by several Queues
// reports the sizes of whichever Queue changed last.
type Metrics struct {
	buffered  prometheus.Gauge
	consumers prometheus.Gauge
}

// NewMetrics constructs and registers a Metrics into reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		buffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cooplock_asyncqueue_buffered",
			Help: "Number of values currently buffered in the queue.",
		}),
		consumers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cooplock_asyncqueue_waiting_consumers",
			Help: "Number of consumers currently parked waiting for a value.",
		}),
	}
}

func (m *Metrics) observe(buffered, waitingConsumers int) {
	m.buffered.Set(float64(buffered))
	m.consumers.Set(float64(waitingConsumers))
}
