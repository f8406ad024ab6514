package websocket

import (
	"time"

	"tpoms/internal/models"
)

// MessageType определяет тип сообщения потока мониторинга
type MessageType string

const (
	// MessageTypeBus - копия исходящего сообщения шины
	MessageTypeBus MessageType = "bus"

	// MessageTypeAdapterState - смена состояния адаптера
	MessageTypeAdapterState MessageType = "adapterState"
)

// BaseMessage - общие поля сообщений потока
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// BusMessage - сообщение шины с именем канала, в который оно ушло
type BusMessage struct {
	BaseMessage
	Channel  string           `json:"channel"`
	Envelope *models.Envelope `json:"envelope"`
}

// AdapterStateMessage - переход адаптера между состояниями
type AdapterStateMessage struct {
	BaseMessage
	Entity string `json:"entity"`
	Broker string `json:"broker"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// NewBusMessage создает сообщение с копией конверта шины
func NewBusMessage(channel string, env *models.Envelope) *BusMessage {
	return &BusMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeBus,
			Timestamp: time.Now(),
		},
		Channel:  channel,
		Envelope: env,
	}
}

// NewAdapterStateMessage создает сообщение о смене состояния адаптера
func NewAdapterStateMessage(entity, broker, from, to, reason string) *AdapterStateMessage {
	return &AdapterStateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeAdapterState,
			Timestamp: time.Now(),
		},
		Entity: entity,
		Broker: broker,
		From:   from,
		To:     to,
		Reason: reason,
	}
}
