// Package mapper переводит поля и перечисления между словарём шины Blitz
// и словарями брокеров. Пакет не хранит состояния.
package mapper

import (
	"errors"
	"fmt"
	"strings"

	"tpoms/internal/broker"
	"tpoms/internal/models"
)

// Ошибки трансляции запроса в словарь брокера
var (
	ErrUnsupportedValue = errors.New("value not supported by broker")
	ErrSymbolRequired   = errors.New("SymbolName required")
	ErrLotSize          = errors.New("quantity is not a multiple of lot size")
)

// StatusClass - класс статуса брокера до учёта ожидающего действия
type StatusClass int

const (
	ClassUnknown   StatusClass = iota // кода нет в словаре брокера
	ClassNoise                        // ретрансляция без изменения состояния
	ClassAck                          // принят/подтверждён (OPEN, CONFIRM)
	ClassReplaced                     // явное подтверждение modify
	ClassPartial                      // частично исполнен
	ClassFilled                       // исполнен полностью
	ClassCancelled                    // отменён
	ClassRejected                     // отклонён или ошибка
)

var classNames = map[StatusClass]string{
	ClassUnknown:   "unknown",
	ClassNoise:     "noise",
	ClassAck:       "ack",
	ClassReplaced:  "replaced",
	ClassPartial:   "partial",
	ClassFilled:    "filled",
	ClassCancelled: "cancelled",
	ClassRejected:  "rejected",
}

func (c StatusClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// normalizeTable - статус брокера x ожидающее действие -> статус шины
//
// Отсутствие пары в таблице означает StatusUnmapped.
// Ack без ожидающего действия здесь не отображается: движок решает
// по кэшу, был ли это первый ack (New) или изменение полей (Replaced).
// Ack при ожидающем cancel зависит от брокера, см. Profile.Normalize.
var normalizeTable = map[StatusClass]map[models.PendingAction]models.OrderStatus{
	ClassAck: {
		models.ActionPlace:  models.StatusNew,
		models.ActionModify: models.StatusReplaced,
	},
	ClassReplaced: {
		models.ActionNone:   models.StatusReplaced,
		models.ActionPlace:  models.StatusReplaced,
		models.ActionModify: models.StatusReplaced,
		models.ActionCancel: models.StatusReplaced,
	},
	ClassPartial: {
		models.ActionNone:   models.StatusPartiallyFilled,
		models.ActionPlace:  models.StatusPartiallyFilled,
		models.ActionModify: models.StatusPartiallyFilled,
		models.ActionCancel: models.StatusPartiallyFilled,
	},
	ClassFilled: {
		models.ActionNone:   models.StatusFilled,
		models.ActionPlace:  models.StatusFilled,
		models.ActionModify: models.StatusFilled,
		models.ActionCancel: models.StatusFilled,
	},
	ClassCancelled: {
		models.ActionNone:   models.StatusCancelled,
		models.ActionPlace:  models.StatusCancelled,
		models.ActionModify: models.StatusCancelled,
		models.ActionCancel: models.StatusCancelled,
	},
	ClassRejected: {
		models.ActionNone:   models.StatusRejected,
		models.ActionPlace:  models.StatusRejected,
		models.ActionModify: models.StatusReplaceRejected,
		models.ActionCancel: models.StatusCancelRejected,
	},
}

// Normalize возвращает статус шины для класса статуса и ожидающего действия
func Normalize(class StatusClass, action models.PendingAction) models.OrderStatus {
	byAction, ok := normalizeTable[class]
	if !ok {
		return models.StatusUnmapped
	}
	return byAction[action]
}

// statusOverrides - поправки брокера поверх normalizeTable
type statusOverrides map[StatusClass]map[models.PendingAction]models.OrderStatus

func (o statusOverrides) normalize(class StatusClass, action models.PendingAction) models.OrderStatus {
	if status, ok := o[class][action]; ok {
		return status
	}
	return Normalize(class, action)
}

// Description - поля обновления брокера в словаре шины
type Description struct {
	ExchangeSegment string
	OrderSide       string
	OrderType       string
	ProductType     string
	TimeInForce     string
}

// Profile - словарь одного брокера
type Profile interface {
	// Broker возвращает имя брокера на шине
	Broker() string

	// Classify сводит статус брокера к StatusClass
	Classify(u *models.OrderUpdate) StatusClass

	// Normalize возвращает статус шины для класса и ожидающего действия.
	// StatusUnmapped для ClassAck означает, что решает кэш движка.
	Normalize(class StatusClass, action models.PendingAction) models.OrderStatus

	// Describe переводит перечисления обновления в словарь шины
	Describe(u *models.OrderUpdate) Description

	// Tag возвращает корреляционный тег для LocalOrderId с учётом лимита длины брокера
	Tag(localID string) string

	// PlaceParams строит параметры размещения
	PlaceParams(req *models.OrderRequest) (*broker.OrderParams, error)

	// ModifyParams строит параметры modify по итоговому состоянию ордера
	ModifyParams(merged *models.OrderRequest, brokerOrderID, lastModified string) (*broker.ModifyParams, error)
}

// ForBroker возвращает словарь по имени брокера
func ForBroker(name string) (Profile, error) {
	switch broker.NormalizeName(name) {
	case models.BrokerZerodha:
		return Zerodha(), nil
	case models.BrokerMotilal:
		return Motilal(), nil
	default:
		return nil, fmt.Errorf("%w: %s", broker.ErrUnsupportedBroker, name)
	}
}

// lookup ищет значение в таблице без учёта регистра
func lookup(table map[string]string, value string) (string, bool) {
	v, ok := table[strings.ToUpper(strings.TrimSpace(value))]
	return v, ok
}

// translate - lookup с ошибкой для значений вне словаря
func translate(table map[string]string, field, value string) (string, error) {
	if v, ok := lookup(table, value); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s=%q", ErrUnsupportedValue, field, value)
}

// reverse возвращает значение из обратной таблицы или исходное значение
func reverse(table map[string]string, value string) string {
	if v, ok := lookup(table, value); ok {
		return v
	}
	return value
}

// truncate обрезает строку до n байт
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

func isMarket(orderType string) bool {
	t := strings.ToUpper(strings.TrimSpace(orderType))
	return t == models.OrderTypeMarket || t == models.OrderTypeStopMarket
}
