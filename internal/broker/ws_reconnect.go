package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSReconnectConfig конфигурация переподключения WebSocket
type WSReconnectConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут записи ping/heartbeat
	PongTimeout time.Duration
	// Интервал прикладного heartbeat (0 = не отправлять)
	HeartbeatInterval time.Duration
}

// DefaultWSReconnectConfig возвращает конфигурацию по умолчанию
// Задержки: 3s, 6s, 12s, 24s, 48s, далее 60s; попытки не ограничены
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:      3 * time.Second,
		MaxDelay:          60 * time.Second,
		MaxRetries:        0,
		ConnectTimeout:    10 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// BackoffDelay возвращает задержку перед попыткой attempt (с 1)
func (c WSReconnectConfig) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// WSConnectionState состояние WebSocket соединения
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
	WSStateAuthFailed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	case WSStateAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// WSReconnectManager управляет WebSocket соединением с автоматическим переподключением
//
// Назначение:
// Держит одно соединение с брокером на аккаунт и переподключается
// при разрывах с exponential backoff.
//
// Функции:
// - Автоматическое переподключение с exponential backoff
// - Повторная подписка на каналы после переподключения
// - Ping и прикладной heartbeat
// - Отказ аутентификации терминален: переподключений больше нет
// - Callbacks для уведомления о событиях (connect, disconnect, message, auth failure)
//
// Использование:
// 1. Создать manager: NewWSReconnectManager(...)
// 2. Установить handlers: SetOnMessage, SetOnConnect, SetOnDisconnect, SetOnAuthFailed
// 3. Подключиться: Connect()
// 4. Отправлять сообщения: Send(msg)
// 5. Закрыть: Close()
type WSReconnectManager struct {
	// Имя брокера (для логирования)
	brokerName string

	// URL и заголовки handshake
	wsURL  string
	header http.Header

	config WSReconnectConfig
	logger *zap.Logger

	// WebSocket соединение
	conn   *websocket.Conn
	connMu sync.RWMutex

	// gorilla/websocket допускает только одного писателя
	writeMu sync.Mutex

	state      int32 // atomic WSConnectionState
	retryCount int32 // atomic

	closeChan chan struct{}
	closeOnce sync.Once

	// Callbacks
	onMessage    func(messageType int, data []byte)
	onConnect    func()
	onDisconnect func(error)
	onAuthFailed func(error)
	heartbeat    func() interface{}
	callbackMu   sync.RWMutex

	// Подписки для восстановления после переподключения
	subscriptions   []interface{}
	subscriptionsMu sync.RWMutex

	// Аутентификация сразу после handshake
	authFunc func(*websocket.Conn) error

	// Тестовый хук вместо time.After
	after func(time.Duration) <-chan time.Time
}

// NewWSReconnectManager создаёт новый менеджер переподключений
func NewWSReconnectManager(brokerName, wsURL string, header http.Header, config WSReconnectConfig, logger *zap.Logger) *WSReconnectManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultWSReconnectConfig()
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = defaults.PongTimeout
	}
	return &WSReconnectManager{
		brokerName:    brokerName,
		wsURL:         wsURL,
		header:        header,
		config:        config,
		logger:        logger,
		closeChan:     make(chan struct{}),
		subscriptions: make([]interface{}, 0),
		after:         time.After,
	}
}

// SetOnMessage устанавливает callback для входящих сообщений
func (m *WSReconnectManager) SetOnMessage(handler func(messageType int, data []byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnConnect устанавливает callback для события подключения
func (m *WSReconnectManager) SetOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

// SetOnDisconnect устанавливает callback для события отключения
func (m *WSReconnectManager) SetOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

// SetOnAuthFailed устанавливает callback терминального отказа аутентификации
func (m *WSReconnectManager) SetOnAuthFailed(handler func(error)) {
	m.callbackMu.Lock()
	m.onAuthFailed = handler
	m.callbackMu.Unlock()
}

// SetHeartbeat задаёт сообщение, отправляемое каждые HeartbeatInterval
func (m *WSReconnectManager) SetHeartbeat(build func() interface{}) {
	m.callbackMu.Lock()
	m.heartbeat = build
	m.callbackMu.Unlock()
}

// SetAuthFunc устанавливает функцию аутентификации после handshake
func (m *WSReconnectManager) SetAuthFunc(authFunc func(*websocket.Conn) error) {
	m.authFunc = authFunc
}

// AddSubscription добавляет подписку для восстановления после переподключения
func (m *WSReconnectManager) AddSubscription(sub interface{}) {
	m.subscriptionsMu.Lock()
	m.subscriptions = append(m.subscriptions, sub)
	m.subscriptionsMu.Unlock()
}

// GetState возвращает текущее состояние соединения
func (m *WSReconnectManager) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == WSStateConnected
}

// Connect устанавливает WebSocket соединение
func (m *WSReconnectManager) Connect() error {
	select {
	case <-m.closeChan:
		return fmt.Errorf("manager is closed")
	default:
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnecting))

	if err := m.dial(); err != nil {
		if errors.Is(err, ErrAuthFailed) {
			m.failAuth(err)
			return err
		}
		atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
		return err
	}

	m.markConnected()
	m.logger.Info("ws connected", zap.String("url", redactURL(m.wsURL)))

	return nil
}

// dial выполняет подключение к WebSocket
func (m *WSReconnectManager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.ConnectTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := dialer.DialContext(ctx, m.wsURL, m.header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: handshake status %d", ErrAuthFailed, resp.StatusCode)
		}
		return fmt.Errorf("dial error: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	if m.authFunc != nil {
		m.writeMu.Lock()
		err := m.authFunc(conn)
		m.writeMu.Unlock()
		if err != nil {
			conn.Close()
			m.connMu.Lock()
			m.conn = nil
			m.connMu.Unlock()
			return fmt.Errorf("auth error: %w", err)
		}
	}

	if err := m.resubscribe(); err != nil {
		m.logger.Warn("ws resubscribe error", zap.Error(err))
	}

	return nil
}

// markConnected переводит менеджер в Connected и запускает насосы
func (m *WSReconnectManager) markConnected() {
	atomic.StoreInt32(&m.state, int32(WSStateConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()

	if onConnect != nil {
		onConnect()
	}

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	go m.readPump(conn)
	go m.pingPump(conn)
}

// resubscribe восстанавливает подписки после переподключения
func (m *WSReconnectManager) resubscribe() error {
	m.subscriptionsMu.RLock()
	subs := make([]interface{}, len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.subscriptionsMu.RUnlock()

	for _, sub := range subs {
		if err := m.write(sub); err != nil {
			return fmt.Errorf("resubscribe error: %w", err)
		}
	}

	if len(subs) > 0 {
		m.logger.Info("ws resubscribed", zap.Int("channels", len(subs)))
	}

	return nil
}

// readPump читает сообщения из WebSocket
func (m *WSReconnectManager) readPump(conn *websocket.Conn) {
	if conn == nil {
		return
	}

	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()

		if onMessage != nil {
			onMessage(messageType, message)
		}
	}
}

// pingPump отправляет ping и прикладной heartbeat
func (m *WSReconnectManager) pingPump(conn *websocket.Conn) {
	if conn == nil {
		return
	}

	pingTicker := time.NewTicker(m.config.PingInterval)
	defer pingTicker.Stop()

	var heartbeatC <-chan time.Time
	if m.config.HeartbeatInterval > 0 {
		heartbeatTicker := time.NewTicker(m.config.HeartbeatInterval)
		defer heartbeatTicker.Stop()
		heartbeatC = heartbeatTicker.C
	}

	for {
		select {
		case <-m.closeChan:
			return

		case <-pingTicker.C:
			if !m.isCurrent(conn) {
				return
			}
			m.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(m.config.PongTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Warn("ws ping error", zap.Error(err))
				m.handleDisconnect(conn, err)
				return
			}

		case <-heartbeatC:
			if !m.isCurrent(conn) {
				return
			}
			m.callbackMu.RLock()
			build := m.heartbeat
			m.callbackMu.RUnlock()
			if build == nil {
				continue
			}
			if err := m.write(build()); err != nil {
				m.logger.Warn("ws heartbeat error", zap.Error(err))
				continue
			}
			m.logger.Debug("ws heartbeat sent")
		}
	}
}

// isCurrent - conn всё ещё активное соединение менеджера
func (m *WSReconnectManager) isCurrent(conn *websocket.Conn) bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.conn == conn && m.GetState() == WSStateConnected
}

// handleDisconnect обрабатывает разрыв соединения
func (m *WSReconnectManager) handleDisconnect(conn *websocket.Conn, err error) {
	select {
	case <-m.closeChan:
		return
	default:
	}

	// Разрыв уже обработан другим насосом
	m.connMu.Lock()
	if m.conn != conn {
		m.connMu.Unlock()
		return
	}
	state := m.GetState()
	if state == WSStateReconnecting || state == WSStateClosed || state == WSStateAuthFailed {
		m.connMu.Unlock()
		return
	}
	atomic.StoreInt32(&m.state, int32(WSStateReconnecting))
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()

	if onDisconnect != nil {
		onDisconnect(err)
	}

	m.logger.Warn("ws disconnected", zap.Error(err))

	go m.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
func (m *WSReconnectManager) reconnectLoop() {
	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		retryCount := int(atomic.AddInt32(&m.retryCount, 1))

		if m.config.MaxRetries > 0 && retryCount > m.config.MaxRetries {
			m.logger.Error("ws max reconnect attempts reached", zap.Int("max_retries", m.config.MaxRetries))
			atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
			return
		}

		delay := m.config.BackoffDelay(retryCount)
		m.logger.Info("ws reconnecting", zap.Duration("delay", delay), zap.Int("attempt", retryCount))

		select {
		case <-m.closeChan:
			return
		case <-m.after(delay):
		}

		if err := m.dial(); err != nil {
			if errors.Is(err, ErrAuthFailed) {
				m.failAuth(err)
				return
			}
			m.logger.Warn("ws reconnect failed", zap.Error(err), zap.Int("attempt", retryCount))
			continue
		}

		m.markConnected()
		m.logger.Info("ws reconnected", zap.Int("attempts", retryCount))
		return
	}
}

// reconnectAfterFailure запускает фоновые переподключения после неудачного первого Connect
func (m *WSReconnectManager) reconnectAfterFailure(err error) {
	if !atomic.CompareAndSwapInt32(&m.state, int32(WSStateDisconnected), int32(WSStateReconnecting)) {
		return
	}

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()

	if onDisconnect != nil {
		onDisconnect(err)
	}

	go m.reconnectLoop()
}

// MarkAuthFailed вызывается, когда брокер отверг аутентификацию внутри канала
// Соединение закрывается, переподключений больше не будет
func (m *WSReconnectManager) MarkAuthFailed(reason error) {
	m.failAuth(fmt.Errorf("%w: %v", ErrAuthFailed, reason))
}

func (m *WSReconnectManager) failAuth(err error) {
	prev := WSConnectionState(atomic.SwapInt32(&m.state, int32(WSStateAuthFailed)))
	if prev == WSStateAuthFailed || prev == WSStateClosed {
		if prev == WSStateClosed {
			atomic.StoreInt32(&m.state, int32(WSStateClosed))
		}
		return
	}

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	m.logger.Error("ws authentication failed, reconnect disabled", zap.Error(err))

	m.callbackMu.RLock()
	onAuthFailed := m.onAuthFailed
	m.callbackMu.RUnlock()

	if onAuthFailed != nil {
		onAuthFailed(err)
	}
}

// Send отправляет сообщение через WebSocket
func (m *WSReconnectManager) Send(msg interface{}) error {
	if m.GetState() != WSStateConnected {
		return fmt.Errorf("not connected (state: %s)", m.GetState())
	}
	return m.write(msg)
}

// write сериализует запись, gorilla/websocket не допускает параллельных писателей
func (m *WSReconnectManager) write(msg interface{}) error {
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(m.config.PongTimeout))
	return conn.WriteJSON(msg)
}

// Close закрывает WebSocket соединение и останавливает переподключение
func (m *WSReconnectManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closeChan)
		atomic.StoreInt32(&m.state, int32(WSStateClosed))

		m.connMu.Lock()
		defer m.connMu.Unlock()

		if m.conn != nil {
			m.writeMu.Lock()
			m.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			m.writeMu.Unlock()
			err = m.conn.Close()
			m.conn = nil
		}
	})
	return err
}

// GetRetryCount возвращает текущее количество попыток переподключения
func (m *WSReconnectManager) GetRetryCount() int {
	return int(atomic.LoadInt32(&m.retryCount))
}

// redactURL отрезает query string, в нём бывают токены доступа
func redactURL(raw string) string {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '?' {
			return raw[:i] + "?..."
		}
	}
	return raw
}
