package reconcile

import (
	"github.com/shopspring/decimal"

	"tpoms/internal/models"
)

// firstPositive возвращает первую положительную цену
func firstPositive(values ...float64) decimal.Decimal {
	for _, v := range values {
		d := decimal.NewFromFloat(v)
		if d.IsPositive() {
			return d
		}
	}
	return decimal.Zero
}

// formatPrice - десятичная строка без хвостовых нулей ("100.5", "0")
func formatPrice(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// applyFill заполняет поля исполнения
//
// Для Filled и PartiallyFilled LastTradedQuantity всегда больше нуля:
// downstream считает нулевую сделку порчей данных.
// Количество: из payload, иначе OrderQuantity - LeavesQuantity,
// иначе накопленное исполнение, иначе полный объём ордера.
// Цена: из payload, иначе средняя цена, иначе лимитная цена ордера,
// иначе последняя цена, которую сообщал брокер. MARKET-ордер без
// средней цены и LTP остаётся с нулевой ценой, движок пишет Warn.
// Средняя цена берётся как есть, без пересчёта единиц.
func applyFill(o *models.OrderLog, u *models.OrderUpdate, snap *Snapshot, status models.OrderStatus) {
	avg := u.AveragePrice
	if avg <= 0 {
		avg = snap.AveragePrice
	}

	o.OrderAverageTradedPrice = formatPrice(avg)
	o.CumulativeQuantity = u.FilledQuantity
	o.LeavesQuantity = u.PendingQuantity

	switch status {
	case models.StatusFilled:
		o.LeavesQuantity = 0
		if o.CumulativeQuantity <= 0 {
			o.CumulativeQuantity = o.OrderQuantity
		}
	case models.StatusCancelled, models.StatusRejected:
		o.LeavesQuantity = 0
	}

	if !status.IsFill() {
		o.LastTradedQuantity = u.LastTradedQuantity
		o.LastTradedPrice = u.LastTradedPrice
		return
	}

	qty := u.LastTradedQuantity
	if qty <= 0 {
		qty = o.OrderQuantity - o.LeavesQuantity
	}
	if qty <= 0 {
		qty = o.CumulativeQuantity
	}
	if qty <= 0 {
		qty = o.OrderQuantity
	}
	if qty <= 0 {
		qty = snap.Request.OrderQuantity
	}
	o.LastTradedQuantity = qty

	price := firstPositive(u.LastTradedPrice, avg, o.OrderPrice, snap.Request.LimitPrice, u.Price, snap.Price)
	o.LastTradedPrice = price.InexactFloat64()

	if o.LastExecutionTransactTime == "" {
		o.LastExecutionTransactTime = o.LastUpdateDateTime
	}
}
