package mapper

import (
	"fmt"
	"strconv"
	"strings"

	"tpoms/internal/broker"
	"tpoms/internal/models"
)

const (
	// motilalTagLimit - Motilal обрезает тег до 10 символов
	motilalTagLimit = 10

	// motilalFOLotSize - NSEFO количество передаётся в лотах
	motilalFOLotSize = 65
)

var (
	motilalExchanges = map[string]string{
		models.SegmentNSECM: "NSE",
		models.SegmentBSECM: "BSE",
		models.SegmentNSEFO: "NSEFO",
		models.SegmentBSEFO: "BSEFO",
	}
	motilalSegments = map[string]string{
		"NSE":   models.SegmentNSECM,
		"BSE":   models.SegmentBSECM,
		"NSEFO": models.SegmentNSEFO,
		"BSEFO": models.SegmentBSEFO,
	}

	motilalProducts = map[string]string{
		"MIS": "NORMAL",
		"CNC": "DELIVERY",
	}
	motilalProductsReverse = map[string]string{
		"NORMAL":   "MIS",
		"DELIVERY": "CNC",
	}

	motilalOrderTypes = map[string]string{
		models.OrderTypeLimit:     "LIMIT",
		models.OrderTypeMarket:    "MARKET",
		models.OrderTypeStopLimit: "STOPLOSS",
	}
	motilalOrderTypesReverse = map[string]string{
		"LIMIT":    models.OrderTypeLimit,
		"MARKET":   models.OrderTypeMarket,
		"STOPLOSS": models.OrderTypeStopLimit,
	}

	motilalValidity = map[string]string{
		"GFD": "DAY",
		"DAY": "DAY",
		"GTC": "GTC",
		"GTD": "GTD",
		"IOC": "IOC",
		"FOK": "IOC",
		"COL": "DAY",
	}
	motilalValidityReverse = map[string]string{
		"DAY": "GFD",
		"GTC": "GTC",
		"GTD": "GTD",
		"IOC": "IOC",
	}

	motilalStatuses = map[string]StatusClass{
		"CONFIRM":  ClassAck,
		"TRADED":   ClassFilled,
		"PARTIAL":  ClassPartial,
		"CANCEL":   ClassCancelled,
		"REJECTED": ClassRejected,
		"ERROR":    ClassRejected,
	}

	// CONFIRM приходит и как подтверждение отмены
	motilalOverrides = statusOverrides{
		ClassAck: {models.ActionCancel: models.StatusCancelled},
	}
)

type motilalProfile struct{}

// Motilal возвращает словарь Motilal Oswal (MOFL)
func Motilal() Profile { return motilalProfile{} }

func (motilalProfile) Broker() string { return models.BrokerMotilal }

func (motilalProfile) Classify(u *models.OrderUpdate) StatusClass {
	return motilalStatuses[strings.ToUpper(strings.TrimSpace(u.RawStatus))]
}

func (motilalProfile) Normalize(class StatusClass, action models.PendingAction) models.OrderStatus {
	return motilalOverrides.normalize(class, action)
}

func (motilalProfile) Describe(u *models.OrderUpdate) Description {
	segment, ok := lookup(motilalSegments, u.Exchange)
	if !ok {
		segment = u.Exchange
	}
	return Description{
		ExchangeSegment: segment,
		OrderSide:       models.CanonicalSide(u.Side),
		OrderType:       reverse(motilalOrderTypesReverse, u.OrderType),
		ProductType:     reverse(motilalProductsReverse, u.Product),
		TimeInForce:     reverse(motilalValidityReverse, u.Validity),
	}
}

func (motilalProfile) Tag(localID string) string {
	return truncate(localID, motilalTagLimit)
}

func (p motilalProfile) PlaceParams(req *models.OrderRequest) (*broker.OrderParams, error) {
	if req.ExchangeInstrumentID <= 0 {
		return nil, fmt.Errorf("%w: ExchangeInstrumentID", models.ErrMissingField)
	}

	orderType, err := translate(motilalOrderTypes, "OrderType", req.OrderType)
	if err != nil {
		return nil, err
	}
	validity, err := translate(motilalValidity, "TimeInForce", req.TimeInForce)
	if err != nil {
		return nil, err
	}
	qty, err := p.quantity(req.ExchangeSegment, req.OrderQuantity)
	if err != nil {
		return nil, err
	}

	params := &broker.OrderParams{
		Symbol:            strconv.FormatInt(req.ExchangeInstrumentID, 10),
		Exchange:          reverse(motilalExchanges, req.ExchangeSegment),
		Side:              strings.ToUpper(req.OrderSide),
		OrderType:         orderType,
		Product:           reverse(motilalProducts, req.ProductType),
		Validity:          validity,
		Quantity:          qty,
		TriggerPrice:      req.StopPrice,
		DisclosedQuantity: req.DisclosedQuantity,
		Tag:               p.Tag(req.BlitzAppOrderID),
	}
	if !isMarket(req.OrderType) {
		params.Price = req.LimitPrice
	}
	return params, nil
}

func (p motilalProfile) ModifyParams(merged *models.OrderRequest, brokerOrderID, lastModified string) (*broker.ModifyParams, error) {
	orderType, err := translate(motilalOrderTypes, "OrderType", merged.OrderType)
	if err != nil {
		return nil, err
	}
	validity, err := translate(motilalValidity, "TimeInForce", merged.TimeInForce)
	if err != nil {
		return nil, err
	}
	qty, err := p.quantity(merged.ExchangeSegment, merged.OrderQuantity)
	if err != nil {
		return nil, err
	}

	params := &broker.ModifyParams{
		BrokerOrderID:     brokerOrderID,
		OrderType:         orderType,
		Validity:          validity,
		Quantity:          qty,
		DisclosedQuantity: merged.DisclosedQuantity,
		TradedQuantity:    merged.CummulativeQuantity,
		LastModifiedTime:  lastModified,
		ClientCode:        merged.Account,
	}
	if !isMarket(merged.OrderType) {
		params.Price = merged.LimitPrice
		params.TriggerPrice = merged.StopPrice
	}
	return params, nil
}

// quantity переводит количество в лоты для NSEFO
func (motilalProfile) quantity(segment string, qty int64) (int64, error) {
	if !strings.EqualFold(strings.TrimSpace(segment), models.SegmentNSEFO) {
		return qty, nil
	}
	if qty%motilalFOLotSize != 0 || qty < motilalFOLotSize {
		return 0, fmt.Errorf("%w: %d (lot %d)", ErrLotSize, qty, motilalFOLotSize)
	}
	return qty / motilalFOLotSize, nil
}
