package models

import "strings"

// InvalidBrokerDate - дата-заглушка, которой брокер помечает пустые поля времени
const InvalidBrokerDate = "01-Jan-1980 00:00:00"

// OrderLog - нормализованное состояние ордера в поле Data исходящих сообщений
//
// Все поля значимые (не указатели): сериализованный вид никогда не содержит null,
// отсутствующие значения уходят как 0 или "". Downstream-потребители на это рассчитывают.
type OrderLog struct {
	SequenceNumber            int64   `json:"SequenceNumber"`
	Account                   string  `json:"Account"`
	ExchangeClientID          string  `json:"ExchangeClientID"`
	BlitzAppOrderID           string  `json:"BlitzAppOrderID"`
	ExchangeOrderID           string  `json:"ExchangeOrderID"`
	ExchangeSegment           string  `json:"ExchangeSegment"`
	ExchangeInstrumentID      int64   `json:"ExchangeInstrumentID"`
	OrderSide                 string  `json:"OrderSide"`
	OrderType                 string  `json:"OrderType"`
	ProductType               string  `json:"ProductType"`
	TimeInForce               string  `json:"TimeInForce"`
	OrderPrice                float64 `json:"OrderPrice"`
	OrderQuantity             int64   `json:"OrderQuantity"`
	OrderStopPrice            float64 `json:"OrderStopPrice"`
	OrderStatus               string  `json:"OrderStatus"`
	OrderAverageTradedPrice   string  `json:"OrderAverageTradedPrice"`
	LeavesQuantity            int64   `json:"LeavesQuantity"`
	CumulativeQuantity        int64   `json:"CumulativeQuantity"`
	OrderDisclosedQuantity    int64   `json:"OrderDisclosedQuantity"`
	OrderGeneratedDateTime    string  `json:"OrderGeneratedDateTime"`
	ExchangeTransactTime      string  `json:"ExchangeTransactTime"`
	LastUpdateDateTime        string  `json:"LastUpdateDateTime"`
	CancelRejectReason        string  `json:"CancelRejectReason"`
	LastTradedPrice           float64 `json:"LastTradedPrice"`
	LastTradedQuantity        int64   `json:"LastTradedQuantity"`
	LastExecutionTransactTime string  `json:"LastExecutionTransactTime"`
	ExecutionID               string  `json:"ExecutionID"`
}

// NewOrderLogFromRequest заполняет статические поля ордера из запроса шины
func NewOrderLogFromRequest(req *OrderRequest) *OrderLog {
	o := &OrderLog{}
	if req == nil {
		return o
	}

	o.BlitzAppOrderID = req.BlitzAppOrderID
	o.ExchangeOrderID = req.ExchangeOrderID
	o.Account = req.Account
	o.ExchangeClientID = req.ExchangeClientID
	o.ExchangeSegment = req.ExchangeSegment
	o.ExchangeInstrumentID = req.ExchangeInstrumentID
	o.OrderSide = req.OrderSide
	o.OrderType = req.OrderType
	o.ProductType = req.ProductType
	o.TimeInForce = req.TimeInForce
	o.OrderPrice = req.LimitPrice
	o.OrderQuantity = req.OrderQuantity
	o.OrderStopPrice = req.StopPrice
	o.OrderDisclosedQuantity = req.DisclosedQuantity

	return o
}

// NewRejectionLog строит событие отказа целиком из полей запроса
func NewRejectionLog(req *OrderRequest, status OrderStatus, reason string) *OrderLog {
	o := NewOrderLogFromRequest(req)
	o.OrderStatus = string(status)
	o.CancelRejectReason = reason
	return o
}

// CleanDate убирает пробелы и заглушку 01-Jan-1980
func CleanDate(v string) string {
	v = strings.TrimSpace(v)
	if v == InvalidBrokerDate {
		return ""
	}
	return v
}
