package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Метрики транспорта брокера ============

// restLatency - длительность REST вызовов брокера
var restLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tpoms",
		Subsystem: "broker",
		Name:      "rest_latency_seconds",
		Help:      "Broker REST call latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"broker", "endpoint", "outcome"},
)

// wsReconnectsTotal - разрывы WebSocket, после которых запускался reconnect
var wsReconnectsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "broker",
		Name:      "ws_disconnects_total",
		Help:      "Broker websocket disconnects followed by a reconnect attempt",
	},
	[]string{"broker"},
)

func observeREST(broker, endpoint string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	restLatency.WithLabelValues(broker, endpoint, outcome).Observe(time.Since(start).Seconds())
}
