package broker

import (
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"tpoms/internal/models"
)

// zerodhaFeed - order postback'и через Kite ticker WebSocket
//
// Текстовые фреймы: {"type":"order","data":{...}} и {"type":"error","data":"..."}.
// Бинарные фреймы - рыночные тики, мы на инструменты не подписываемся и их игнорируем.
type zerodhaFeed struct {
	*baseFeed
}

type kiteFrame struct {
	Type string              `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

func newZerodhaFeed(wsURL string, cfg FeedConfig) *zerodhaFeed {
	f := &zerodhaFeed{baseFeed: newBaseFeed(models.BrokerZerodha, wsURL, cfg)}
	f.manager.SetOnMessage(f.handleMessage)
	// Kite сам шлёт heartbeat-тики, прикладной heartbeat не нужен
	return f
}

func (f *zerodhaFeed) handleMessage(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var frame kiteFrame
	if err := models.JSON.Unmarshal(data, &frame); err != nil {
		f.logger.Warn("ws invalid frame", zap.Error(err))
		return
	}

	switch frame.Type {
	case "order":
		var order kiteOrder
		if err := models.JSON.Unmarshal(frame.Data, &order); err != nil {
			f.logger.Warn("ws invalid order postback", zap.Error(err))
			return
		}
		if order.OrderID == "" {
			return
		}
		f.logger.Info("ws order update",
			zap.String("order_id", order.OrderID),
			zap.String("status", order.Status),
			zap.ByteString("payload", frame.Data))
		raw := make([]byte, len(frame.Data))
		copy(raw, frame.Data)
		f.emit(models.FeedEvent{Kind: models.FeedOrder, Order: order.toUpdate(models.SourceFeed, raw)})

	case "error":
		var msg string
		if err := models.JSON.Unmarshal(frame.Data, &msg); err != nil {
			msg = string(frame.Data)
		}
		f.logger.Error("ws error frame", zap.String("message", msg))
		f.emit(models.FeedEvent{Kind: models.FeedError, MessageType: models.MessageTypeWebsocketError, Message: msg})

	case "message":
		f.emit(models.FeedEvent{Kind: models.FeedInfo, MessageType: models.MessageTypeWebsocketMessage, Payload: copyBytes(data)})

	default:
		f.logger.Debug("ws frame ignored", zap.String("type", frame.Type))
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
