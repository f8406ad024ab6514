package broker

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tpoms/internal/models"
)

// motilalSubscriptions отправляются после подтверждения аутентификации
var motilalSubscriptions = []string{"OrderSubscribe", "TradeSubscribe"}

// motilalFeed - WebSocket обновлений ордеров Motilal
//
// Протокол:
//   - сразу после handshake: {clientid, authtoken, apikey}
//   - {status:SUCCESS, message:"...auth..."} -> подписки OrderSubscribe и TradeSubscribe
//   - каждые 30s heartbeat {action:"heartbeat", clientid}
//   - {status:ERROR} с упоминанием auth/token/session - отказ аутентификации, терминален
//   - фреймы с uniqueorderid - обновления ордеров, остальное проходит насквозь
type motilalFeed struct {
	*baseFeed

	clientID  string
	authToken string
	apiKey    string

	authed int32 // atomic bool, сбрасывается при каждом подключении
}

type motilalFrame struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	ErrorCode     string `json:"errorcode"`
	UniqueOrderID string `json:"uniqueorderid"`
	MessageType   string `json:"messageType"`
	Action        string `json:"action"`
}

func newMotilalFeed(wsURL, clientID, authToken, apiKey string, cfg FeedConfig) *motilalFeed {
	f := &motilalFeed{
		baseFeed:  newBaseFeed(models.BrokerMotilal, wsURL, cfg),
		clientID:  clientID,
		authToken: authToken,
		apiKey:    apiKey,
	}
	f.manager.SetAuthFunc(f.authenticate)
	f.manager.SetOnMessage(f.handleMessage)
	f.manager.SetHeartbeat(func() interface{} {
		return map[string]string{"action": "heartbeat", "clientid": f.clientID}
	})
	return f
}

// authenticate отправляет учётные данные сразу после handshake
func (f *motilalFeed) authenticate(conn *websocket.Conn) error {
	atomic.StoreInt32(&f.authed, 0)
	return conn.WriteJSON(map[string]string{
		"clientid":  f.clientID,
		"authtoken": f.authToken,
		"apikey":    f.apiKey,
	})
}

func (f *motilalFeed) subscribe() {
	for _, action := range motilalSubscriptions {
		msg := map[string]string{"clientid": f.clientID, "action": action}
		if err := f.manager.Send(msg); err != nil {
			f.logger.Error("ws subscribe failed", zap.String("action", action), zap.Error(err))
			continue
		}
		f.logger.Info("ws subscribed", zap.String("action", action))
	}
}

func (f *motilalFeed) handleMessage(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var frame motilalFrame
	if err := models.JSON.Unmarshal(data, &frame); err != nil {
		f.logger.Warn("ws invalid frame", zap.Error(err), zap.ByteString("payload", data))
		return
	}

	switch strings.ToUpper(frame.Status) {
	case "ERROR":
		f.handleError(frame)
		return
	case "SUCCESS":
		if strings.Contains(strings.ToLower(frame.Message), "auth") &&
			atomic.CompareAndSwapInt32(&f.authed, 0, 1) {
			f.logger.Info("ws auth success, subscribing")
			f.subscribe()
		}
		return
	}

	if frame.UniqueOrderID != "" {
		var order motilalOrder
		if err := models.JSON.Unmarshal(data, &order); err != nil {
			f.logger.Warn("ws invalid order update", zap.Error(err))
			return
		}
		f.logger.Info("ws order update",
			zap.String("order_id", order.UniqueOrderID),
			zap.String("status", order.OrderStatus),
			zap.ByteString("payload", data))
		raw := copyBytes(data)
		f.emit(models.FeedEvent{Kind: models.FeedOrder, Order: order.toUpdate(models.SourceFeed, raw)})
		return
	}

	msgType := frame.MessageType
	if msgType == "" {
		msgType = frame.Action
	}
	if msgType == "" {
		msgType = models.MessageTypeWebsocketMessage
	}
	f.emit(models.FeedEvent{Kind: models.FeedInfo, MessageType: msgType, Payload: copyBytes(data)})
}

func (f *motilalFeed) handleError(frame motilalFrame) {
	msg := frame.Message
	if frame.ErrorCode != "" {
		msg += " (code: " + frame.ErrorCode + ")"
	}

	if isMotilalAuthError(frame.Message) {
		f.manager.MarkAuthFailed(errors.New(msg))
		return
	}

	f.logger.Error("ws error frame", zap.String("message", msg))
	f.emit(models.FeedEvent{Kind: models.FeedError, MessageType: models.MessageTypeWebsocketError, Message: msg})
}

func isMotilalAuthError(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "auth") ||
		strings.Contains(lower, "token") ||
		strings.Contains(lower, "session")
}
