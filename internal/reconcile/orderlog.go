package reconcile

import (
	"tpoms/internal/mapper"
	"tpoms/internal/models"
)

// buildLog собирает OrderLog из снимка и обновления брокера
// Статические поля берутся из запроса, наблюдаемые - из обновления.
func buildLog(profile mapper.Profile, snap *Snapshot, u *models.OrderUpdate, status models.OrderStatus) *models.OrderLog {
	o := models.NewOrderLogFromRequest(&snap.Request)
	o.ExchangeOrderID = u.BrokerOrderID
	if o.ExchangeOrderID == "" {
		o.ExchangeOrderID = snap.BrokerOrderID
	}
	o.OrderStatus = string(status)

	// у ордеров, выученных по тегу после рестарта, запроса может не быть
	d := profile.Describe(u)
	fillEmpty(&o.ExchangeSegment, d.ExchangeSegment)
	fillEmpty(&o.OrderSide, d.OrderSide)
	fillEmpty(&o.OrderType, d.OrderType)
	fillEmpty(&o.ProductType, d.ProductType)
	fillEmpty(&o.TimeInForce, d.TimeInForce)
	fillEmpty(&o.Account, u.Account)
	if o.ExchangeInstrumentID == 0 {
		o.ExchangeInstrumentID = u.InstrumentID
	}

	// отклонённый modify сообщает отвергнутые значения, ордер живёт с прежними
	if status != models.StatusReplaceRejected || o.OrderPrice <= 0 {
		if u.Price > 0 {
			o.OrderPrice = u.Price
		}
		if u.Quantity > 0 {
			o.OrderQuantity = u.Quantity
		}
		if u.TriggerPrice > 0 {
			o.OrderStopPrice = u.TriggerPrice
		}
	}
	if u.DisclosedQuantity > 0 {
		o.OrderDisclosedQuantity = u.DisclosedQuantity
	}

	o.OrderGeneratedDateTime = firstNonEmpty(models.CleanDate(u.OrderTime), models.CleanDate(snap.OrderTime))
	o.ExchangeTransactTime = firstNonEmpty(models.CleanDate(u.ExchangeTime), models.CleanDate(snap.ExchangeTime), models.CleanDate(u.UpdateTime))
	o.LastUpdateDateTime = firstNonEmpty(models.CleanDate(u.UpdateTime), models.CleanDate(snap.LastModified))
	o.ExecutionID = u.ExecutionID
	o.CancelRejectReason = u.Reason

	applyFill(o, u, snap, status)
	return o
}

// buildRejection - событие синхронного отказа из снимка
func buildRejection(snap *Snapshot, status models.OrderStatus, reason string) *models.OrderLog {
	o := models.NewRejectionLog(&snap.Request, status, reason)
	o.ExchangeOrderID = snap.BrokerOrderID
	o.OrderGeneratedDateTime = models.CleanDate(snap.OrderTime)
	o.LastUpdateDateTime = models.CleanDate(snap.LastModified)
	o.OrderAverageTradedPrice = formatPrice(snap.AveragePrice)
	o.CumulativeQuantity = snap.FilledQuantity
	if status == models.StatusRejected {
		o.LeavesQuantity = 0
	} else {
		o.LeavesQuantity = snap.PendingQuantity
	}
	return o
}

func fillEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
