package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics счетчики диспетчера
type Metrics struct {
	Published *prometheus.CounterVec
	Delivered *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Denied    *prometheus.CounterVec
	Evicted   prometheus.Counter
}

// NewMetrics создает счетчики и регистрирует их в reg (nil: без регистрации)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamchat",
			Subsystem: "broadcast",
			Name:      "published_total",
			Help:      "Events published to a logical channel.",
		}, []string{"event"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamchat",
			Subsystem: "broadcast",
			Name:      "delivered_total",
			Help:      "Events handed to a subscriber connection.",
		}, []string{"event"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamchat",
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber buffer was full.",
		}, []string{"event"}),
		Denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teamchat",
			Subsystem: "broadcast",
			Name:      "denied_total",
			Help:      "Deliveries skipped because the subscriber lost access.",
		}, []string{"event"}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamchat",
			Subsystem: "broadcast",
			Name:      "evicted_total",
			Help:      "Channel feed subscriptions dropped after the user lost membership.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Published, m.Delivered, m.Dropped, m.Denied, m.Evicted)
	}
	return m
}
