package models

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки валидации входящих команд
var (
	ErrMissingOrderID  = errors.New("missing BlitzAppOrderID")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidQuantity = errors.New("order quantity must be positive")
)

// Канонические значения словаря шины
const (
	SideBuy  = "Buy"
	SideSell = "Sell"

	OrderTypeLimit      = "LIMIT"
	OrderTypeMarket     = "MARKET"
	OrderTypeStopLimit  = "STOPLIMIT"
	OrderTypeStopMarket = "STOPMARKET"

	SegmentNSECM = "NSECM"
	SegmentNSEFO = "NSEFO"
	SegmentBSECM = "BSECM"
	SegmentBSEFO = "BSEFO"
)

// OrderRequest - поле Data команд PLACE_ORDER / MODIFY_ORDER / CANCEL_ORDER
//
// Числовые поля декодируются толерантно (строка "10" или число 10),
// см. bus.Codec. Modified*-поля указателями: отсутствие поля отличается от нуля.
type OrderRequest struct {
	BlitzAppOrderID      string  `json:"BlitzAppOrderID"`
	ExchangeOrderID      string  `json:"ExchangeOrderID,omitempty"`
	ExchangeSegment      string  `json:"ExchangeSegment"`
	ExchangeInstrumentID int64   `json:"ExchangeInstrumentID"`
	SymbolName           string  `json:"SymbolName,omitempty"`
	OrderSide            string  `json:"OrderSide"`
	OrderType            string  `json:"OrderType"`
	OrderQuantity        int64   `json:"OrderQuantity"`
	ProductType          string  `json:"ProductType"`
	LimitPrice           float64 `json:"LimitPrice"`
	StopPrice            float64 `json:"StopPrice"`
	TimeInForce          string  `json:"TimeInForce"`
	DisclosedQuantity    int64   `json:"DisclosedQuantity"`
	Account              string  `json:"Account,omitempty"`
	ExchangeClientID     string  `json:"ExchangeClientID,omitempty"`

	ModifiedOrderQuantity     *int64   `json:"ModifiedOrderQuantity,omitempty"`
	ModifiedLimitPrice        *float64 `json:"ModifiedLimitPrice,omitempty"`
	ModifiedStopPrice         *float64 `json:"ModifiedStopPrice,omitempty"`
	ModifiedTimeInForce       string   `json:"ModifiedTimeInForce,omitempty"`
	ModifiedOrderType         string   `json:"ModifiedOrderType,omitempty"`
	ModifiedDisclosedQuantity *int64   `json:"ModifiedDisclosedQuantity,omitempty"`
	CummulativeQuantity       int64    `json:"CummulativeQuantity,omitempty"`
}

// ValidatePlace проверяет обязательные поля PLACE_ORDER
func (r *OrderRequest) ValidatePlace() error {
	if r.BlitzAppOrderID == "" {
		return ErrMissingOrderID
	}
	if r.ExchangeInstrumentID == 0 && r.SymbolName == "" {
		return fmt.Errorf("%w: ExchangeInstrumentID", ErrMissingField)
	}

	required := map[string]string{
		"ExchangeSegment": r.ExchangeSegment,
		"OrderSide":       r.OrderSide,
		"OrderType":       r.OrderType,
		"ProductType":     r.ProductType,
		"TimeInForce":     r.TimeInForce,
	}
	for _, name := range []string{"ExchangeSegment", "OrderSide", "OrderType", "ProductType", "TimeInForce"} {
		if strings.TrimSpace(required[name]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}

	if r.OrderQuantity <= 0 {
		return ErrInvalidQuantity
	}

	orderType := strings.ToUpper(r.OrderType)
	if (orderType == OrderTypeLimit || orderType == OrderTypeStopLimit) && r.LimitPrice <= 0 {
		return fmt.Errorf("%w: LimitPrice", ErrMissingField)
	}
	if (orderType == OrderTypeStopLimit || orderType == OrderTypeStopMarket) && r.StopPrice <= 0 {
		return fmt.Errorf("%w: StopPrice", ErrMissingField)
	}

	return nil
}

// ValidateModify - нужен локальный или биржевой идентификатор
func (r *OrderRequest) ValidateModify() error {
	if r.BlitzAppOrderID == "" && r.ExchangeOrderID == "" {
		return ErrMissingOrderID
	}
	if r.ModifiedOrderQuantity != nil && *r.ModifiedOrderQuantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// ValidateCancel - достаточно локального идентификатора
func (r *OrderRequest) ValidateCancel() error {
	if r.BlitzAppOrderID == "" && r.ExchangeOrderID == "" {
		return ErrMissingOrderID
	}
	return nil
}

// HasModifications сообщает, передано ли хотя бы одно Modified*-поле
func (r *OrderRequest) HasModifications() bool {
	return r.ModifiedOrderQuantity != nil ||
		r.ModifiedLimitPrice != nil ||
		r.ModifiedStopPrice != nil ||
		r.ModifiedTimeInForce != "" ||
		r.ModifiedOrderType != "" ||
		r.ModifiedDisclosedQuantity != nil
}

// Merge применяет Modified*-поля mod к копии исходного запроса
//
// Исходный запрос берётся из кэша: шина не пересылает поля,
// которые не меняются, а брокеру они нужны в каждом modify.
func (r OrderRequest) Merge(mod *OrderRequest) OrderRequest {
	merged := r
	if mod == nil {
		return merged
	}
	if mod.ModifiedOrderQuantity != nil {
		merged.OrderQuantity = *mod.ModifiedOrderQuantity
	}
	if mod.ModifiedLimitPrice != nil {
		merged.LimitPrice = *mod.ModifiedLimitPrice
	}
	if mod.ModifiedStopPrice != nil {
		merged.StopPrice = *mod.ModifiedStopPrice
	}
	if mod.ModifiedTimeInForce != "" {
		merged.TimeInForce = mod.ModifiedTimeInForce
	}
	if mod.ModifiedOrderType != "" {
		merged.OrderType = mod.ModifiedOrderType
	}
	if mod.ModifiedDisclosedQuantity != nil {
		merged.DisclosedQuantity = *mod.ModifiedDisclosedQuantity
	}
	if mod.CummulativeQuantity > 0 {
		merged.CummulativeQuantity = mod.CummulativeQuantity
	}
	if mod.Account != "" {
		merged.Account = mod.Account
	}

	// Modified*-поля не переносим: merged описывает итоговое состояние ордера
	merged.ModifiedOrderQuantity = nil
	merged.ModifiedLimitPrice = nil
	merged.ModifiedStopPrice = nil
	merged.ModifiedTimeInForce = ""
	merged.ModifiedOrderType = ""
	merged.ModifiedDisclosedQuantity = nil

	return merged
}

// CanonicalSide приводит сторону к виду "Buy"/"Sell"
func CanonicalSide(side string) string {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "BUY", "B":
		return SideBuy
	case "SELL", "S":
		return SideSell
	default:
		return side
	}
}
