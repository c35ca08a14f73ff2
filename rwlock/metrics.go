package rwlock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type role string

const (
	roleReader      role = "reader"
	roleWriter      role = "writer"
	roleUpgradeable role = "upgradeable"
	roleUpgrade     role = "upgrade"
)

// Metrics exposes the live state of one or more Lock values as
// Prometheus series.
type Metrics struct {
	holders       *prometheus.GaugeVec
	queueDepth    *prometheus.GaugeVec
	acquiresTotal *prometheus.CounterVec
	cancelsTotal  *prometheus.CounterVec
	upgradesTotal prometheus.Counter
}

// NewMetrics constructs and registers a Metrics into reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		holders: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cooplock_rwlock_holders",
			Help: "Current number of active holders by role.",
		}, []string{"role"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cooplock_rwlock_queue_depth",
			Help: "Current number of queued waiters by role.",
		}, []string{"role"}),
		acquiresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cooplock_rwlock_acquires_total",
			Help: "Total successful acquisitions by role.",
		}, []string{"role"}),
		cancelsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cooplock_rwlock_cancellations_total",
			Help: "Total waiters rejected by cancellation, by role.",
		}, []string{"role"}),
		upgradesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cooplock_rwlock_upgrades_total",
			Help: "Total successful upgradeable-to-writer promotions.",
		}),
	}
}

func (l *Lock) observeAcquire(r role) {
	if l.metrics == nil {
		l.logger.Debug("rwlock: acquired", "role", string(r), "count", l.count)
		return
	}
	l.metrics.acquiresTotal.WithLabelValues(string(r)).Inc()
	l.metrics.holders.WithLabelValues(string(r)).Inc()
	l.logger.Debug("rwlock: acquired", "role", string(r), "count", l.count)
}

func (l *Lock) observeRelease(r role) {
	if l.metrics == nil {
		l.logger.Debug("rwlock: released", "role", string(r), "count", l.count)
		return
	}
	l.metrics.holders.WithLabelValues(string(r)).Dec()
	l.logger.Debug("rwlock: released", "role", string(r), "count", l.count)
}

func (l *Lock) observeQueued(r role) {
	if l.metrics != nil {
		l.metrics.queueDepth.WithLabelValues(string(r)).Inc()
	}
	l.logger.Debug("rwlock: queued", "role", string(r))
}

func (l *Lock) observeDequeued(r role) {
	if l.metrics != nil {
		l.metrics.queueDepth.WithLabelValues(string(r)).Dec()
	}
}

func (l *Lock) observeCancelled(r role) {
	if l.metrics != nil {
		l.metrics.queueDepth.WithLabelValues(string(r)).Dec()
		l.metrics.cancelsTotal.WithLabelValues(string(r)).Inc()
	}
	l.logger.Debug("rwlock: cancelled", "role", string(r))
}

func (l *Lock) observeUpgrade() {
	if l.metrics != nil {
		l.metrics.upgradesTotal.Inc()
		l.metrics.holders.WithLabelValues(string(roleUpgrade)).Inc()
	}
	l.logger.Debug("rwlock: upgraded", "count", l.count)
}
