package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка сверки
// ============================================================

// publishedTotal - опубликованные переходы по статусам
var publishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "reconcile",
		Name:      "published_total",
		Help:      "Order lifecycle events published to the bus",
	},
	[]string{"broker", "status", "source"},
)

// publishErrorsTotal - неудачные публикации (ожидающее действие остаётся)
var publishErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "reconcile",
		Name:      "publish_errors_total",
		Help:      "Failed publications, retried by resync",
	},
	[]string{"broker"},
)

// syncRejectionsTotal - синхронные отказы REST по действиям
var syncRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "reconcile",
		Name:      "sync_rejections_total",
		Help:      "Actions rejected synchronously by the broker REST API",
	},
	[]string{"broker", "action"},
)

// parkedTotal / replayedTotal - обновления, пришедшие раньше ответа REST
var parkedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "reconcile",
		Name:      "parked_updates_total",
		Help:      "Async updates parked until the order identity is known",
	},
	[]string{"broker", "result"},
)

var replayedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "reconcile",
		Name:      "replayed_updates_total",
		Help:      "Parked async updates replayed after identity resolution",
	},
	[]string{"broker"},
)

// droppedTotal - обновления без публикации по причинам
var droppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "reconcile",
		Name:      "dropped_updates_total",
		Help:      "Updates that produced no publication",
	},
	[]string{"broker", "reason"},
)

// identityTotal - новые соответствия идентификаторов по источнику
var identityTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "reconcile",
		Name:      "identity_mappings_total",
		Help:      "Order identity mappings recorded",
	},
	[]string{"broker", "origin"},
)

// resyncTotal - тики resync: skipped, queried, error
var resyncTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "reconcile",
		Name:      "resync_ticks_total",
		Help:      "Resync loop ticks by outcome",
	},
	[]string{"broker", "result"},
)
