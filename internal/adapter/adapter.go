// Package adapter связывает одного брокерского клиента, фид и движок сверки
// в адаптер одного entity и обрабатывает команды шины.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tpoms/internal/broker"
	"tpoms/internal/mapper"
	"tpoms/internal/models"
	"tpoms/internal/reconcile"
	"tpoms/pkg/utils"
)

// Ошибки адаптера
var (
	ErrNotLoggedIn       = errors.New("adapter is not logged in")
	ErrUnknownAction     = errors.New("unknown action")
	ErrInvalidTransition = errors.New("invalid adapter state transition")
	ErrQueueFull         = errors.New("adapter command queue is full")
	ErrStopped           = errors.New("adapter stopped")
)

// Publisher - выход адаптера на шину
type Publisher interface {
	reconcile.Publisher
	PublishOrders(ctx context.Context, messageType string, orders []*models.OrderLog) error
	PublishStatus(ctx context.Context, messageType, status, message string) error
	PublishConnection(ctx context.Context, status, message string) error
}

// StateListener получает переходы состояния (поток мониторинга)
type StateListener func(entity, brokerName string, from, to State, reason string)

// Config - настройки адаптера
type Config struct {
	RESTTimeout    time.Duration // таймаут одного REST вызова
	LoginTimeout   time.Duration
	ResyncInterval time.Duration
	QueueSize      int // очередь команд
	ParkedPerOrder int
	Feed           broker.FeedConfig
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		RESTTimeout:    10 * time.Second,
		LoginTimeout:   60 * time.Second,
		ResyncInterval: reconcile.DefaultResyncInterval,
		QueueSize:      128,
		ParkedPerOrder: reconcile.DefaultParkedPerOrder,
		Feed:           broker.DefaultFeedConfig(),
	}
}

func (c *Config) withDefaults() {
	def := DefaultConfig()
	if c.RESTTimeout <= 0 {
		c.RESTTimeout = def.RESTTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = def.LoginTimeout
	}
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = def.ResyncInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
}

// Info - снимок адаптера для API
type Info struct {
	Entity     string          `json:"entity"`
	Broker     string          `json:"broker"`
	State      State           `json:"state"`
	StateInfo  string          `json:"state_info"`
	SessionID  string          `json:"session_id"`
	LoginError string          `json:"login_error,omitempty"`
	Feed       string          `json:"feed"`
	StartedAt  time.Time       `json:"started_at"`
	Orders     reconcile.Stats `json:"orders"`
}

// Adapter обслуживает один аккаунт брокера
//
// Горутины адаптера:
//   - worker команд: одна команда выполняется до конца перед следующей;
//   - consumer фида: события Feed.Events() по одному передаются движку;
//   - resync loop.
//
// Всё состояние ордеров принадлежит reconcile.Engine, адаптер его не трогает.
type Adapter struct {
	entity    models.Entity
	client    broker.Broker
	profile   mapper.Profile
	engine    *reconcile.Engine
	pub       Publisher
	cfg       Config
	logger    *zap.Logger
	sessionID string
	startedAt time.Time

	mu       sync.RWMutex
	state    State
	loginErr error
	feed     broker.Feed
	onState  StateListener

	commands chan *models.Command
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	cmdMu    sync.Mutex
	stopOnce sync.Once
}

// New создаёт адаптер в состоянии Created
func New(entity models.Entity, client broker.Broker, pub Publisher, cfg Config, logger *zap.Logger) (*Adapter, error) {
	profile, err := mapper.ForBroker(entity.Broker)
	if err != nil {
		return nil, err
	}
	cfg.withDefaults()
	sessionID := uuid.NewString()
	logger = utils.EntityLogger(logger, profile.Broker(), entity.ID, "adapter").
		With(zap.String("session", sessionID))
	if cfg.Feed.Logger == nil {
		cfg.Feed.Logger = logger
	}

	return &Adapter{
		entity:    entity,
		client:    client,
		profile:   profile,
		engine:    reconcile.NewEngine(profile, pub, reconcile.Config{ParkedPerOrder: cfg.ParkedPerOrder}, logger),
		pub:       pub,
		cfg:       cfg,
		logger:    logger,
		sessionID: sessionID,
		state:     StateCreated,
		commands:  make(chan *models.Command, cfg.QueueSize),
	}, nil
}

// ID возвращает идентификатор entity
func (a *Adapter) ID() string { return a.entity.ID }

// Broker возвращает TPOmsName адаптера
func (a *Adapter) Broker() string { return a.profile.Broker() }

// Engine возвращает движок сверки
func (a *Adapter) Engine() *reconcile.Engine { return a.engine }

// State возвращает текущее состояние
func (a *Adapter) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// OnStateChange подписывает listener на переходы
func (a *Adapter) OnStateChange(l StateListener) {
	a.mu.Lock()
	a.onState = l
	a.mu.Unlock()
}

func (a *Adapter) transition(to State, reason string) error {
	a.mu.Lock()
	from := a.state
	if !CanTransition(from, to) {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	a.state = to
	listener := a.onState
	a.mu.Unlock()

	adapterStateTotal.WithLabelValues(a.Broker(), string(to)).Inc()
	a.logger.Info("adapter state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	if listener != nil {
		listener(a.entity.ID, a.Broker(), from, to, reason)
	}
	return nil
}

// Start выполняет вход, запускает фид, resync и worker команд
//
// Ошибка входа переводит адаптер в LoginFailed и возвращается вызывающему,
// но worker команд всё равно запускается: команды получают отказ с причиной.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.transition(StateLoggingIn, "start"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.mu.Lock()
	a.cancel = cancel
	a.startedAt = time.Now()
	a.mu.Unlock()

	// команды, пришедшие во время входа, ждут в очереди
	defer func() {
		a.wg.Add(1)
		go a.worker(runCtx)
	}()

	loginCtx, loginCancel := context.WithTimeout(ctx, a.cfg.LoginTimeout)
	err := a.client.Login(loginCtx)
	loginCancel()
	if err != nil {
		a.mu.Lock()
		a.loginErr = err
		a.mu.Unlock()
		_ = a.transition(StateLoginFailed, err.Error())
		a.logger.Error("broker login failed", zap.Error(err))
		a.publishConnection(runCtx, models.ResponseFailed, "login failed: "+err.Error())
		return fmt.Errorf("login %s/%s: %w", a.Broker(), a.entity.ID, err)
	}

	_ = a.transition(StateReady, "login successful")
	a.publishConnection(runCtx, models.ConnectionLoggedIn, "login successful")

	if err := a.startFeed(runCtx); err != nil {
		// без фида ордера подтверждает только resync
		a.logger.Error("feed start failed", zap.Error(err))
		a.publishConnection(runCtx, models.ConnectionLost, "feed start failed: "+err.Error())
	}

	loop := reconcile.NewResyncLoop(a.engine, a.client, a.cfg.ResyncInterval, a.logger)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		loop.Run(runCtx)
	}()

	return a.transition(StateRunning, "feed and resync started")
}

func (a *Adapter) startFeed(ctx context.Context) error {
	feed, err := a.client.NewFeed(a.cfg.Feed)
	if err != nil {
		return fmt.Errorf("create feed: %w", err)
	}
	if err := feed.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	a.mu.Lock()
	a.feed = feed
	a.mu.Unlock()

	a.wg.Add(1)
	go a.consume(ctx, feed)
	return nil
}

// consume передаёт события фида движку, по одному
func (a *Adapter) consume(ctx context.Context, feed broker.Feed) {
	defer a.wg.Done()
	events := feed.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handleFeedEvent(ctx, ev)
		}
	}
}

func (a *Adapter) handleFeedEvent(ctx context.Context, ev models.FeedEvent) {
	feedEventsTotal.WithLabelValues(a.Broker(), ev.Kind.String()).Inc()

	switch ev.Kind {
	case models.FeedOrder:
		if err := a.engine.OnAsyncUpdate(ctx, ev.Order); err != nil {
			a.logger.Error("async update failed", zap.Error(err))
		}

	case models.FeedInfo:
		msgType := ev.MessageType
		if msgType == "" {
			msgType = models.MessageTypeWebsocketMessage
		}
		data := models.StatusData{Status: models.ResponseSuccess, Message: string(ev.Payload)}
		if err := a.pub.PublishMessage(ctx, msgType, data); err != nil {
			a.logger.Warn("feed message passthrough failed", zap.Error(err))
		}

	case models.FeedError:
		msgType := ev.MessageType
		if msgType == "" {
			msgType = models.MessageTypeSystemEvent
		}
		if err := a.pub.PublishStatus(ctx, msgType, models.ResponseFailed, ev.Message); err != nil {
			a.logger.Warn("feed error publish failed", zap.Error(err))
		}

	case models.FeedConnected:
		a.publishConnection(ctx, models.ConnectionOK, ev.Message)

	case models.FeedDisconnected:
		a.publishConnection(ctx, models.ConnectionLost, ev.Message)

	case models.FeedAuthFailed:
		a.logger.Error("feed authentication failed, reconnects stopped", zap.String("message", ev.Message))
		a.publishConnection(ctx, models.ConnectionLost, "feed authentication failed: "+ev.Message)
	}
}

func (a *Adapter) publishConnection(ctx context.Context, status, message string) {
	if err := a.pub.PublishConnection(ctx, status, message); err != nil {
		a.logger.Warn("connection status publish failed",
			zap.String("status", status),
			zap.Error(err))
	}
}

// Submit ставит команду в очередь worker-а
func (a *Adapter) Submit(cmd *models.Command) error {
	if IsTerminal(a.State()) {
		return ErrStopped
	}
	select {
	case a.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Adapter) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.commands:
			a.HandleCommand(ctx, cmd)
		}
	}
}

// Stop выходит из сессии брокера и останавливает все горутины
// Ошибки только логируются.
func (a *Adapter) Stop(ctx context.Context) {
	a.stopOnce.Do(func() {
		prev := a.State()
		if err := a.transition(StateStopping, "stop requested"); err != nil {
			a.logger.Warn("stop from unexpected state", zap.Error(err))
			a.mu.Lock()
			a.state = StateStopping
			a.mu.Unlock()
		}

		a.mu.Lock()
		feed := a.feed
		cancel := a.cancel
		a.mu.Unlock()

		if feed != nil {
			feed.Stop()
		}
		if cancel != nil {
			cancel()
		}
		a.wg.Wait()

		if AcceptsOrders(prev) {
			if err := a.client.Logout(ctx); err != nil {
				a.logger.Warn("broker logout failed", zap.Error(err))
			}
			a.publishConnection(ctx, models.ConnectionLogout, "logged out")
		}
		if err := a.client.Close(); err != nil {
			a.logger.Warn("broker client close failed", zap.Error(err))
		}

		_ = a.transition(StateStopped, "stopped")
	})
}

// Info возвращает снимок состояния
func (a *Adapter) Info() Info {
	a.mu.RLock()
	info := Info{
		Entity:    a.entity.ID,
		Broker:    a.Broker(),
		State:     a.state,
		StateInfo: StateInfo(a.state),
		SessionID: a.sessionID,
		Feed:      "none",
		StartedAt: a.startedAt,
	}
	if a.loginErr != nil {
		info.LoginError = a.loginErr.Error()
	}
	if a.feed != nil {
		info.Feed = a.feed.State().String()
	}
	a.mu.RUnlock()

	info.Orders = a.engine.Store().Stats()
	return info
}

func (a *Adapter) loginError() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.loginErr != nil {
		return fmt.Errorf("%w: %v", ErrNotLoggedIn, a.loginErr)
	}
	return ErrNotLoggedIn
}
