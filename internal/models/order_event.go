package models

import "time"

// OrderEvent - запись журнала опубликованных OrderLog
type OrderEvent struct {
	ID              int64     `json:"id" db:"id"`
	EntityID        string    `json:"entity_id" db:"entity_id"`
	Broker          string    `json:"broker" db:"broker"`
	MessageType     string    `json:"message_type" db:"message_type"`
	BlitzAppOrderID string    `json:"blitz_app_order_id" db:"blitz_app_order_id"`
	ExchangeOrderID string    `json:"exchange_order_id" db:"exchange_order_id"`
	Status          string    `json:"status" db:"status"`
	Payload         []byte    `json:"payload" db:"payload"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
