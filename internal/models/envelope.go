package models

import (
	jsoniter "github.com/json-iterator/go"
)

// Команды, приходящие с шины в поле Action
const (
	CommandPlaceOrder      = "PLACE_ORDER"
	CommandModifyOrder     = "MODIFY_ORDER"
	CommandCancelOrder     = "CANCEL_ORDER"
	CommandGetOrders       = "GET_ORDERS"
	CommandGetOrderDetails = "GET_ORDER_DETAILS"
	CommandGetHoldings     = "GET_HOLDINGS"
	CommandGetPositions    = "GET_POSITIONS"
	CommandGetTrades       = "GET_TRADES"
)

// Типы исходящих сообщений, не связанные с эхом команды
const (
	MessageTypeOrderUpdate      = "TPOMSOrderUpdate"
	MessageTypeResync           = "RE_SYNC"
	MessageTypeConnectionStatus = "TPOMSConnectionStatus"
	MessageTypeSystemEvent      = "TPOMSSystemEvent"
	MessageTypeWebsocketError   = "WEBSOCKET_ERROR"
	MessageTypeWebsocketMessage = "WEBSOCKET_MESSAGE"
	MessageTypeOrders           = "TPOMSOrders"
	MessageTypeHoldings         = "TPOMSHoldings"
	MessageTypePositions        = "TPOMSPositions"
	MessageTypeTrades           = "TPOMSTrades"
)

// Значения поля status в ответах и статусах подключения
const (
	ResponseSuccess    = "SUCCESS"
	ResponseFailed     = "FAILED"
	ConnectionOK       = "CONNECTED"
	ConnectionLost     = "DISCONNECTED"
	ConnectionLoggedIn = "LOGGED_IN"
	ConnectionLogout   = "LOGGED_OUT"
)

// Envelope - исходящее сообщение шины
type Envelope struct {
	MessageType string      `json:"MessageType"`
	TPOmsName   string      `json:"TPOmsName"`
	UserID      string      `json:"UserId"`
	Data        interface{} `json:"Data"`
}

// StatusData - полезная нагрузка ответов, статусов подключения и passthrough
type StatusData struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Command - входящая команда шины
type Command struct {
	Action    string              `json:"Action"`
	TPOmsName string              `json:"TPOmsName,omitempty"`
	UserID    string              `json:"UserId"`
	Data      jsoniter.RawMessage `json:"Data"`

	// CorrelationID присваивается при приёме и попадает только в логи
	CorrelationID string `json:"-"`
}

// IsOrderCommand - команды, меняющие состояние ордера на бирже
func (c *Command) IsOrderCommand() bool {
	switch c.Action {
	case CommandPlaceOrder, CommandModifyOrder, CommandCancelOrder:
		return true
	}
	return false
}
