package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chatwire/chatwire/pkg/protocol"
)

var (
	metricOnlineSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatwire_online_sessions",
		Help: "Number of authenticated sessions currently registered",
	})

	metricFramesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatwire_frames_dispatched_total",
		Help: "Inbound frames dispatched to handlers, by message type",
	}, []string{"type"})

	metricFanoutDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatwire_fanout_deliveries_total",
		Help: "Group messages delivered to individual live members",
	})

	metricProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatwire_protocol_errors_total",
		Help: "Connections closed due to fatal protocol errors",
	})
)

func countFrame(msgType uint8) {
	metricFramesDispatched.WithLabelValues(protocol.MsgTypeName(msgType)).Inc()
}
