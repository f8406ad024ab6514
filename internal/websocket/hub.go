package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"tpoms/internal/models"
)

// ============ sync.Pool для JSON буферов ============
// Каждое опубликованное на шину сообщение дублируется в поток мониторинга

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024)) // OrderLog около 800 байт
	},
}

// byteSlicePool - буферы для склейки пакетов в writePump
var byteSlicePool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 4096)
		return &b
	},
}

const broadcastBufferSize = 1024

// Hub управляет всеми подключениями потока мониторинга /ws/stream
//
// Каждое сообщение, ушедшее на шину Blitz, рассылается всем клиентам
// вместе с именем канала. Broadcast никогда не блокирует издателя:
// если буфер переполнен, сообщение отбрасывается и учитывается в DroppedMessages.
// Медленные клиенты отключаются.
//
// Использование:
//  1. hub := NewHub(logger)
//  2. go hub.Run()
//  3. hub.BroadcastEnvelope(channel, env)
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	clientCount int64 // атомарный счётчик для ClientCount без блокировки
	dropped     int64

	logger *zap.Logger
}

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("component", "stream_hub")),
	}
}

// Run запускает главный цикл Hub до вызова Stop
//
// Список клиентов копируется под коротким RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			n := atomic.AddInt64(&h.clientCount, 1)
			h.logger.Info("stream client connected", zap.Int64("clients", n))

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}

			for _, client := range slow {
				h.remove(client)
			}
			if len(slow) > 0 {
				h.logger.Warn("slow stream clients removed",
					zap.Int("removed", len(slow)),
					zap.Int64("clients", atomic.LoadInt64(&h.clientCount)))
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	if ok {
		n := atomic.AddInt64(&h.clientCount, -1)
		h.logger.Info("stream client disconnected", zap.Int64("clients", n))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	atomic.StoreInt64(&h.clientCount, 0)
}

// Stop останавливает Run и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast сериализует сообщение и рассылает его всем клиентам
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := models.JSON.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("stream message marshal failed", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw рассылает уже сериализованное сообщение
// Срез не должен меняться после вызова.
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
}

// BroadcastEnvelope рассылает исходящее сообщение шины
func (h *Hub) BroadcastEnvelope(channel string, env *models.Envelope) {
	h.Broadcast(NewBusMessage(channel, env))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	return int(atomic.LoadInt64(&h.clientCount))
}

// DroppedMessages - сколько сообщений не попало в буфер рассылки
func (h *Hub) DroppedMessages() int64 {
	return atomic.LoadInt64(&h.dropped)
}
