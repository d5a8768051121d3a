package hub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type nodeMetrics struct {
	published     prometheus.Counter
	received      prometheus.Counter
	dropped       prometheus.Counter
	subscriptions prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *nodeMetrics
)

// defaultMetrics registers the hub collectors once on the default registerer;
// nodes share them.
func defaultMetrics() *nodeMetrics {
	metricsOnce.Do(func() {
		metricsInst = newNodeMetrics(prometheus.DefaultRegisterer)
	})
	return metricsInst
}

func newNodeMetrics(reg prometheus.Registerer) *nodeMetrics {
	m := &nodeMetrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_messages_published_total",
			Help: "Messages accepted by the relay for fan-out.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_messages_received_total",
			Help: "Messages delivered to local subscriptions.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hub_messages_dropped_total",
			Help: "Messages dropped because a subscriber buffer was full.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hub_subscriptions_active",
			Help: "Currently open channel subscriptions.",
		}),
	}
	reg.MustRegister(m.published, m.received, m.dropped, m.subscriptions)
	return m
}
