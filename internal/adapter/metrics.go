package adapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// adapterStateTotal - переходы состояния адаптеров
var adapterStateTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "adapter",
		Name:      "state_transitions_total",
		Help:      "Adapter lifecycle transitions by target state",
	},
	[]string{"broker", "state"},
)

// feedEventsTotal - события фида по типам
var feedEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "adapter",
		Name:      "feed_events_total",
		Help:      "Feed events consumed by adapters",
	},
	[]string{"broker", "kind"},
)

var commandDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tpoms",
		Subsystem: "adapter",
		Name:      "command_duration_seconds",
		Help:      "Bus command handling latency",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	},
	[]string{"broker", "action", "result"},
)

var activeAdapters = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tpoms",
		Subsystem: "adapter",
		Name:      "active",
		Help:      "Adapters registered in the manager",
	},
)
