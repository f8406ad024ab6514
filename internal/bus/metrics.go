package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "bus",
		Name:      "messages_published_total",
		Help:      "Сообщения, опубликованные на шину",
	}, []string{"broker", "message_type"})

	publishErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "bus",
		Name:      "publish_errors_total",
		Help:      "Ошибки публикации на шину",
	}, []string{"broker"})

	journalErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "bus",
		Name:      "journal_errors_total",
		Help:      "Ошибки записи журнала order_events",
	}, []string{"broker"})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tpoms",
		Subsystem: "bus",
		Name:      "commands_received_total",
		Help:      "Команды, принятые из канала запросов",
	}, []string{"action"})
)

// CountCommand учитывает принятую команду
func CountCommand(action string) {
	commandsTotal.WithLabelValues(action).Inc()
}
