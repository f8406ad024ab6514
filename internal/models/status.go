package models

// OrderStatus - нормализованный статус ордера на шине Blitz
//
// Словари брокеров (OPEN, CONFIRM, TRADED, ...) сводятся к этому перечислению
// в пакете mapper. Пустое значение означает "нет отображения": такие
// обновления логируются и никогда не публикуются.
type OrderStatus string

const (
	StatusNew             OrderStatus = "New"
	StatusReplaced        OrderStatus = "Replaced"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCancelled       OrderStatus = "Cancelled"
	StatusRejected        OrderStatus = "Rejected"
	StatusReplaceRejected OrderStatus = "ReplaceRejected"
	StatusCancelRejected  OrderStatus = "CancelRejected"

	// StatusUnmapped - sentinel для кодов брокера без отображения
	StatusUnmapped OrderStatus = ""
)

// IsMapped возвращает true если статус можно публиковать
func (s OrderStatus) IsMapped() bool {
	return s != StatusUnmapped
}

// IsFill - статусы исполнения, для которых LastTradedPrice/Quantity обязаны быть > 0
func (s OrderStatus) IsFill() bool {
	return s == StatusFilled || s == StatusPartiallyFilled
}

// IsTerminal - ордер больше не изменится на бирже
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// PendingAction - действие, результат которого шина ещё не получила
type PendingAction int

const (
	ActionNone PendingAction = iota
	ActionPlace
	ActionModify
	ActionCancel
)

// String возвращает имя команды шины, породившей действие
func (a PendingAction) String() string {
	switch a {
	case ActionPlace:
		return CommandPlaceOrder
	case ActionModify:
		return CommandModifyOrder
	case ActionCancel:
		return CommandCancelOrder
	default:
		return "NONE"
	}
}

// RejectionStatus возвращает статус синхронного отказа для действия
func (a PendingAction) RejectionStatus() OrderStatus {
	switch a {
	case ActionModify:
		return StatusReplaceRejected
	case ActionCancel:
		return StatusCancelRejected
	default:
		return StatusRejected
	}
}
