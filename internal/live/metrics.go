package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveClientsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "smsrelay",
			Name:      "live_clients",
			Help:      "Currently connected live clients.",
		},
	)

	liveDroppedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smsrelay",
			Name:      "live_clients_dropped_total",
			Help:      "Live clients disconnected by the server.",
		},
		[]string{"reason"}, // stalled, write_error
	)

	liveEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smsrelay",
			Name:      "live_events_published_total",
			Help:      "Events published to live clients.",
		},
		[]string{"type"},
	)
)
