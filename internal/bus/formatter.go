package bus

import (
	"sync/atomic"

	"tpoms/internal/models"
)

// Formatter строит исходящие конверты одного адаптера
//
// SequenceNumber растёт на единицу с каждым OrderLog, который формирует адаптер.
type Formatter struct {
	broker string
	userID string
	seq    int64
}

// NewFormatter создаёт форматтер для entity
func NewFormatter(broker, userID string) *Formatter {
	return &Formatter{broker: broker, userID: userID}
}

// Broker возвращает TPOmsName конвертов
func (f *Formatter) Broker() string { return f.broker }

// UserID возвращает UserId конвертов
func (f *Formatter) UserID() string { return f.userID }

// Sequence - последний выданный номер
func (f *Formatter) Sequence() int64 {
	return atomic.LoadInt64(&f.seq)
}

func (f *Formatter) next() int64 {
	return atomic.AddInt64(&f.seq, 1)
}

func (f *Formatter) envelope(messageType string, data interface{}) *models.Envelope {
	return &models.Envelope{
		MessageType: messageType,
		TPOmsName:   f.broker,
		UserID:      f.userID,
		Data:        data,
	}
}

// Order - событие одного ордера; o получает очередной SequenceNumber
func (f *Formatter) Order(messageType string, o *models.OrderLog) *models.Envelope {
	o.SequenceNumber = f.next()
	return f.envelope(messageType, o)
}

// Orders - список ордеров для ответов GET_ORDERS / GET_ORDER_DETAILS
// Пустой список сериализуется как [], не null.
func (f *Formatter) Orders(messageType string, orders []*models.OrderLog) *models.Envelope {
	if orders == nil {
		orders = []*models.OrderLog{}
	}
	for _, o := range orders {
		o.SequenceNumber = f.next()
	}
	return f.envelope(messageType, orders)
}

// Status - ответ {status, message}
func (f *Formatter) Status(messageType, status, message string) *models.Envelope {
	return f.envelope(messageType, models.StatusData{Status: status, Message: message})
}

// ConnectionStatus - TPOMSConnectionStatus
func (f *Formatter) ConnectionStatus(status, message string) *models.Envelope {
	return f.Status(models.MessageTypeConnectionStatus, status, message)
}

// Data - произвольная полезная нагрузка (holdings, positions, trades, passthrough)
func (f *Formatter) Data(messageType string, data interface{}) *models.Envelope {
	return f.envelope(messageType, data)
}
