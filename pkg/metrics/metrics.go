// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat"

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Registered websocket connections.",
	})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Messages persisted, by initial status.",
	}, []string{"status"})

	SendsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sends_throttled_total",
		Help:      "Sends rejected by the rate limiter.",
	})

	PushesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pushes_dropped_total",
		Help:      "Events that could not be queued on a connection.",
	}, []string{"event"})

	TypingExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "typing_expired_total",
		Help:      "Typing indicators cleared by the server-side TTL.",
	})

	DeliverySweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_sweep_messages_total",
		Help:      "Messages moved from sent to delivered when their receiver connected.",
	})
)
