package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections",
		Help: "Websocket connections held by this instance.",
	})

	eventsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_events_sent_total",
		Help: "Frames queued to a connection.",
	})

	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_events_dropped_total",
		Help: "Frames dropped because a connection's send buffer was full.",
	})

	handshakeRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_handshake_rejected_total",
		Help: "Handshakes refused before upgrade.",
	}, []string{"reason"})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_commands_total",
		Help: "Inbound websocket commands by type and outcome.",
	}, []string{"type", "result"})
)
