package models

// UpdateSource - откуда пришло обновление ордера
type UpdateSource int

const (
	SourceFeed UpdateSource = iota // push через WebSocket / ticker
	SourcePoll                     // order book при resync или GET_ORDERS
)

// OrderUpdate - уведомление брокера о состоянии ордера, декодированное на границе
//
// Строковые поля (Exchange, Side, OrderType, Product, Validity, RawStatus)
// остаются в словаре брокера; перевод в словарь шины делает mapper.Profile.
type OrderUpdate struct {
	BrokerOrderID   string
	Tag             string // корреляционный тег, который мы передали при размещении
	RawStatus       string
	ExchangeOrderID string
	ExecutionID     string

	Exchange     string
	InstrumentID int64
	Symbol       string
	Side         string
	OrderType    string
	Product      string
	Validity     string

	Price             float64
	TriggerPrice      float64
	Quantity          int64
	PendingQuantity   int64
	FilledQuantity    int64
	DisclosedQuantity int64
	AveragePrice      float64

	LastTradedPrice    float64
	LastTradedQuantity int64

	OrderTime    string // время создания
	ExchangeTime string // время биржи
	UpdateTime   string // последний timestamp брокера, нужен для optimistic-concurrency modify

	Reason  string
	Account string

	Source UpdateSource
	Raw    []byte
}

// FeedEventKind - тип события асинхронного канала
type FeedEventKind int

const (
	FeedOrder FeedEventKind = iota
	FeedInfo
	FeedError
	FeedConnected
	FeedDisconnected
	FeedAuthFailed
)

func (k FeedEventKind) String() string {
	switch k {
	case FeedOrder:
		return "order"
	case FeedInfo:
		return "info"
	case FeedError:
		return "error"
	case FeedConnected:
		return "connected"
	case FeedDisconnected:
		return "disconnected"
	case FeedAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// FeedEvent - элемент очереди между Async Feed и движком сверки
type FeedEvent struct {
	Kind        FeedEventKind
	Order       *OrderUpdate
	MessageType string // для FeedInfo/FeedError: тип сообщения на шине
	Payload     []byte // сырой кадр для passthrough
	Message     string
	Err         error
}
