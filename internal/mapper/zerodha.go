package mapper

import (
	"fmt"
	"strings"

	"tpoms/internal/broker"
	"tpoms/internal/models"
)

// kiteTagLimit - Kite принимает тег не длиннее 20 символов
const kiteTagLimit = 20

var (
	kiteExchanges = map[string]string{
		models.SegmentNSECM: "NSE",
		models.SegmentNSEFO: "NFO",
		models.SegmentBSECM: "BSE",
		models.SegmentBSEFO: "BFO",
	}
	kiteSegments = map[string]string{
		"NSE": models.SegmentNSECM,
		"NFO": models.SegmentNSEFO,
		"BSE": models.SegmentBSECM,
		"BFO": models.SegmentBSEFO,
	}

	kiteOrderTypes = map[string]string{
		models.OrderTypeLimit:      "LIMIT",
		models.OrderTypeMarket:     "MARKET",
		models.OrderTypeStopLimit:  "SL",
		models.OrderTypeStopMarket: "SL-M",
	}
	kiteOrderTypesReverse = map[string]string{
		"LIMIT":  models.OrderTypeLimit,
		"MARKET": models.OrderTypeMarket,
		"SL":     models.OrderTypeStopLimit,
		"SL-M":   models.OrderTypeStopMarket,
	}

	kiteValidity = map[string]string{
		"GFD": "DAY",
		"DAY": "DAY",
		"IOC": "IOC",
	}
	kiteValidityReverse = map[string]string{
		"DAY": "GFD",
		"IOC": "IOC",
	}

	// промежуточные статусы OMS Kite, за которыми всегда следует итоговый
	kiteTransient = map[string]bool{
		"UPDATE":                    true,
		"PUT ORDER REQ RECEIVED":    true,
		"VALIDATION PENDING":        true,
		"OPEN PENDING":              true,
		"MODIFY VALIDATION PENDING": true,
		"MODIFY PENDING":            true,
		"CANCEL PENDING":            true,
		"AMO REQ RECEIVED":          true,
	}
)

type zerodhaProfile struct{}

// Zerodha возвращает словарь Kite Connect
func Zerodha() Profile { return zerodhaProfile{} }

func (zerodhaProfile) Broker() string { return models.BrokerZerodha }

func (zerodhaProfile) Classify(u *models.OrderUpdate) StatusClass {
	status := strings.ToUpper(strings.TrimSpace(u.RawStatus))
	if kiteTransient[status] {
		return ClassNoise
	}

	switch status {
	case "OPEN":
		if u.FilledQuantity > 0 {
			return ClassPartial
		}
		return ClassAck
	case "TRIGGER PENDING":
		return ClassAck
	case "MODIFIED":
		return ClassReplaced
	case "COMPLETE":
		return ClassFilled
	case "CANCELLED":
		// CANCELLED с остатком - промежуточный, итоговый придёт с pending_quantity=0
		if u.PendingQuantity > 0 {
			return ClassNoise
		}
		return ClassCancelled
	case "REJECTED":
		return ClassRejected
	default:
		return ClassUnknown
	}
}

// Normalize: OPEN при ожидающем cancel не означает отмену,
// Kite сообщает её отдельным CANCELLED
func (zerodhaProfile) Normalize(class StatusClass, action models.PendingAction) models.OrderStatus {
	return Normalize(class, action)
}

func (zerodhaProfile) Describe(u *models.OrderUpdate) Description {
	segment, ok := lookup(kiteSegments, u.Exchange)
	if !ok {
		segment = u.Exchange
	}
	return Description{
		ExchangeSegment: segment,
		OrderSide:       models.CanonicalSide(u.Side),
		OrderType:       reverse(kiteOrderTypesReverse, u.OrderType),
		ProductType:     strings.ToUpper(u.Product),
		TimeInForce:     reverse(kiteValidityReverse, u.Validity),
	}
}

func (zerodhaProfile) Tag(localID string) string {
	return truncate(localID, kiteTagLimit)
}

func (p zerodhaProfile) PlaceParams(req *models.OrderRequest) (*broker.OrderParams, error) {
	symbol := strings.TrimSpace(req.SymbolName)
	if symbol == "" {
		// для деривативов tradingsymbol берётся из мастера инструментов, его здесь нет
		return nil, fmt.Errorf("%w: segment %s, instrument %d", ErrSymbolRequired, req.ExchangeSegment, req.ExchangeInstrumentID)
	}

	exchange, ok := lookup(kiteExchanges, req.ExchangeSegment)
	if !ok {
		exchange = "NSE"
	}
	orderType, err := translate(kiteOrderTypes, "OrderType", req.OrderType)
	if err != nil {
		return nil, err
	}

	params := &broker.OrderParams{
		Symbol:            symbol,
		Exchange:          exchange,
		Side:              strings.ToUpper(req.OrderSide),
		OrderType:         orderType,
		Product:           strings.ToUpper(req.ProductType),
		Validity:          p.validity(req.TimeInForce),
		Quantity:          req.OrderQuantity,
		TriggerPrice:      req.StopPrice,
		DisclosedQuantity: req.DisclosedQuantity,
		Tag:               p.Tag(req.BlitzAppOrderID),
	}
	if !isMarket(req.OrderType) {
		params.Price = req.LimitPrice
	}
	return params, nil
}

func (p zerodhaProfile) ModifyParams(merged *models.OrderRequest, brokerOrderID, lastModified string) (*broker.ModifyParams, error) {
	orderType, err := translate(kiteOrderTypes, "OrderType", merged.OrderType)
	if err != nil {
		return nil, err
	}

	params := &broker.ModifyParams{
		BrokerOrderID:     brokerOrderID,
		OrderType:         orderType,
		Validity:          p.validity(merged.TimeInForce),
		Quantity:          merged.OrderQuantity,
		TriggerPrice:      merged.StopPrice,
		DisclosedQuantity: merged.DisclosedQuantity,
		TradedQuantity:    merged.CummulativeQuantity,
		LastModifiedTime:  lastModified,
		ClientCode:        merged.Account,
	}
	if !isMarket(merged.OrderType) {
		params.Price = merged.LimitPrice
	}
	return params, nil
}

// validity - неизвестные значения сводятся к DAY
func (zerodhaProfile) validity(tif string) string {
	if v, ok := lookup(kiteValidity, tif); ok {
		return v
	}
	return "DAY"
}
