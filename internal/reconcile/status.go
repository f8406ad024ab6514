package reconcile

import (
	"tpoms/internal/mapper"
	"tpoms/internal/models"
)

// Причины, по которым обновление не публикуется
const (
	dropUnmapped  = "unmapped"
	dropNoise     = "noise"
	dropTerminal  = "terminal"
	dropUnchanged = "unchanged"
	dropDuplicate = "duplicate"
)

// resolveStatus - общий для feed и resync расчёт статуса шины
//
// Возвращает StatusUnmapped и причину, если публиковать нечего.
// Ack, для которого словарь брокера не задаёт статус (нет ожидающего
// действия или брокер так подтверждает только сам ордер): первый ack
// это New, ack с изменёнными ценой или количеством это Replaced,
// остальное повтор брокера.
func resolveStatus(profile mapper.Profile, snap *Snapshot, u *models.OrderUpdate, class mapper.StatusClass, pending models.PendingAction) (models.OrderStatus, string) {
	switch class {
	case mapper.ClassUnknown:
		return models.StatusUnmapped, dropUnmapped
	case mapper.ClassNoise:
		return models.StatusUnmapped, dropNoise
	}

	if snap.Status.IsTerminal() {
		return models.StatusUnmapped, dropTerminal
	}

	status := profile.Normalize(class, pending)
	if class == mapper.ClassAck && !status.IsMapped() {
		if !snap.Acked {
			return models.StatusNew, ""
		}
		if fieldsChanged(snap, u) {
			return models.StatusReplaced, ""
		}
		return models.StatusUnmapped, dropUnchanged
	}

	if !status.IsMapped() {
		return models.StatusUnmapped, dropUnmapped
	}
	if status == snap.Status && !fieldsChanged(snap, u) && u.FilledQuantity == snap.ObservedFilled {
		return models.StatusUnmapped, dropDuplicate
	}
	return status, ""
}

// settles - публикация закрывает ожидающее действие
// Ack, разобранный по кэшу при ожидающем cancel, отмену не подтверждает.
func settles(profile mapper.Profile, class mapper.StatusClass, pending models.PendingAction) bool {
	return pending == models.ActionNone || profile.Normalize(class, pending).IsMapped()
}

// fieldsChanged сравнивает изменяемые поля с последними наблюдавшимися
func fieldsChanged(snap *Snapshot, u *models.OrderUpdate) bool {
	return u.Price != snap.Price ||
		u.Quantity != snap.Quantity ||
		u.TriggerPrice != snap.TriggerPrice
}

// observe обновляет снимок всем, что брокер сообщил о состоянии ордера
// Поля сравнения для дедупликации здесь не трогаются, см. commitObserved.
func observe(snap Snapshot, u *models.OrderUpdate) Snapshot {
	next := snap
	if u.BrokerOrderID != "" && next.BrokerOrderID == "" {
		next.BrokerOrderID = u.BrokerOrderID
	}
	if ts := models.CleanDate(u.UpdateTime); ts != "" {
		next.LastModified = ts
	}
	if ts := models.CleanDate(u.OrderTime); ts != "" {
		next.OrderTime = ts
	}
	if ts := models.CleanDate(u.ExchangeTime); ts != "" {
		next.ExchangeTime = ts
	}
	if u.ExchangeOrderID != "" {
		next.ExchangeOrderID = u.ExchangeOrderID
	}
	if u.AveragePrice > 0 {
		next.AveragePrice = u.AveragePrice
	}
	if u.Reason != "" {
		next.Reason = u.Reason
	}
	next.FilledQuantity = u.FilledQuantity
	next.PendingQuantity = u.PendingQuantity
	return next
}

// commitObserved фиксирует поля сравнения
func commitObserved(snap *Snapshot, u *models.OrderUpdate) {
	snap.Price = u.Price
	snap.Quantity = u.Quantity
	snap.TriggerPrice = u.TriggerPrice
	snap.ObservedFilled = u.FilledQuantity
}

// acknowledges - класс подтверждает, что ордер принят биржей
func acknowledges(class mapper.StatusClass) bool {
	switch class {
	case mapper.ClassAck, mapper.ClassReplaced, mapper.ClassPartial, mapper.ClassFilled:
		return true
	}
	return false
}
