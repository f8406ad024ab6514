// Package broker предоставляет унифицированный интерфейс для работы с брокерами.
package broker

import (
	"context"
	"errors"

	jsoniter "github.com/json-iterator/go"

	"tpoms/internal/models"
)

// Broker определяет REST-операции одного брокера для одного аккаунта
//
// Параметры ордеров уже переведены в словарь брокера (см. пакет mapper).
// Любой ответ, отличный от успешного, возвращается как *BrokerError.
// Методы не повторяют запросы: повтор на уровне состояния делает resync.
type Broker interface {
	// Name возвращает имя брокера на шине (ZERODHA, MOFL)
	Name() string

	// Login выполняет вход и сохраняет токен сессии
	Login(ctx context.Context) error

	// Logout завершает сессию брокера
	Logout(ctx context.Context) error

	// PlaceOrder размещает ордер, возвращает идентификатор брокера
	PlaceOrder(ctx context.Context, params *OrderParams) (string, error)

	// ModifyOrder изменяет ордер, возвращает (возможно новый) идентификатор брокера
	ModifyOrder(ctx context.Context, params *ModifyParams) (string, error)

	// CancelOrder отменяет ордер
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// GetOrders возвращает книгу ордеров за день
	GetOrders(ctx context.Context) ([]*models.OrderUpdate, error)

	// GetOrder возвращает текущее состояние одного ордера
	GetOrder(ctx context.Context, brokerOrderID string) (*models.OrderUpdate, error)

	// GetHoldings, GetPositions, GetTrades возвращают данные брокера как есть
	GetHoldings(ctx context.Context) (jsoniter.RawMessage, error)
	GetPositions(ctx context.Context) (jsoniter.RawMessage, error)
	GetTrades(ctx context.Context) (jsoniter.RawMessage, error)

	// NewFeed создаёт асинхронный канал обновлений для текущей сессии
	NewFeed(cfg FeedConfig) (Feed, error)

	// Close освобождает HTTP соединения
	Close() error
}

// Feed - долгоживущее соединение с push-уведомлениями брокера
//
// Декодированные события складываются в канал Events(); потребитель
// (воркер адаптера) читает их последовательно.
type Feed interface {
	Start(ctx context.Context) error
	Stop()
	Events() <-chan models.FeedEvent
	State() WSConnectionState
}

// OrderParams - параметры размещения в словаре брокера
type OrderParams struct {
	Symbol            string // tradingsymbol (Zerodha) или symboltoken (Motilal)
	Exchange          string
	Side              string
	OrderType         string
	Product           string
	Validity          string
	Quantity          int64
	Price             float64
	TriggerPrice      float64
	DisclosedQuantity int64
	Tag               string // корреляционный тег = LocalOrderId
}

// ModifyParams - итоговое состояние ордера после modify в словаре брокера
type ModifyParams struct {
	BrokerOrderID     string
	OrderType         string
	Validity          string
	Quantity          int64
	Price             float64
	TriggerPrice      float64
	DisclosedQuantity int64
	TradedQuantity    int64
	LastModifiedTime  string // optimistic-concurrency timestamp последнего обновления
	ClientCode        string
}

// BrokerError представляет ошибку от брокера
type BrokerError struct {
	Broker   string
	Code     string
	Message  string
	OrderID  string // некоторые ответы об ошибке всё же содержат id ордера
	Original error
}

func (e *BrokerError) Error() string {
	msg := e.Message
	if msg == "" && e.Original != nil {
		msg = e.Original.Error()
	}
	if e.Code != "" {
		return msg + " (" + e.Code + ")"
	}
	return msg
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *BrokerError) Unwrap() error {
	return e.Original
}

// Ошибки пакета broker
var (
	ErrAuthFailed        = errors.New("broker authentication failed")
	ErrNotLoggedIn       = errors.New("broker session not established")
	ErrUnsupportedBroker = errors.New("unsupported broker")
	ErrOrderNotFound     = errors.New("order not found")
)

// OrderIDFromError извлекает id ордера из ошибки брокера, если он есть
func OrderIDFromError(err error) string {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.OrderID
	}
	return ""
}

// ReasonFromError - человекочитаемое сообщение с кодом брокера в скобках
func ReasonFromError(err error) string {
	if err == nil {
		return ""
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Error()
	}
	return err.Error()
}
