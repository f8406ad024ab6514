package broker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"tpoms/internal/models"
)

// FeedConfig настройки асинхронного канала
type FeedConfig struct {
	// URL переопределяет адрес WebSocket брокера (тесты, стенды)
	URL        string
	Reconnect  WSReconnectConfig
	BufferSize int
	Logger     *zap.Logger
}

// DefaultFeedConfig возвращает конфигурацию по умолчанию
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		Reconnect:  DefaultWSReconnectConfig(),
		BufferSize: 256,
	}
}

// baseFeed - общая часть фидов: менеджер соединения и канал событий
type baseFeed struct {
	broker  string
	manager *WSReconnectManager
	events  chan models.FeedEvent
	logger  *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

func newBaseFeed(broker, url string, cfg FeedConfig) *baseFeed {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "feed"))

	f := &baseFeed{
		broker: broker,
		events: make(chan models.FeedEvent, cfg.BufferSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	f.manager = NewWSReconnectManager(broker, url, nil, cfg.Reconnect, logger)

	f.manager.SetOnConnect(func() {
		f.emit(models.FeedEvent{Kind: models.FeedConnected, Message: "websocket connected"})
	})
	f.manager.SetOnDisconnect(func(err error) {
		wsReconnectsTotal.WithLabelValues(broker).Inc()
		msg := "websocket disconnected"
		if err != nil {
			msg = err.Error()
		}
		f.emit(models.FeedEvent{Kind: models.FeedDisconnected, Message: msg, Err: err})
	})
	f.manager.SetOnAuthFailed(func(err error) {
		f.emit(models.FeedEvent{Kind: models.FeedAuthFailed, Message: err.Error(), Err: err})
	})

	return f
}

// Start подключается и держит соединение до Stop или отмены ctx
//
// Отказ аутентификации при handshake возвращается сразу, прочие ошибки
// первого подключения уходят в фоновые переподключения.
func (f *baseFeed) Start(ctx context.Context) error {
	if err := f.manager.Connect(); err != nil {
		if errors.Is(err, ErrAuthFailed) {
			return err
		}
		f.logger.Warn("ws initial connect failed", zap.Error(err))
		f.manager.reconnectAfterFailure(err)
	}

	go func() {
		select {
		case <-ctx.Done():
			f.Stop()
		case <-f.done:
		}
	}()

	return nil
}

// emit кладёт событие в канал; блокируется, пока потребитель не заберёт его или фид не остановлен
func (f *baseFeed) emit(ev models.FeedEvent) {
	select {
	case f.events <- ev:
	case <-f.done:
	}
}

// Events возвращает канал событий
func (f *baseFeed) Events() <-chan models.FeedEvent {
	return f.events
}

// State возвращает состояние соединения
func (f *baseFeed) State() WSConnectionState {
	return f.manager.GetState()
}

// Stop закрывает соединение; канал событий не закрывается
func (f *baseFeed) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
		if err := f.manager.Close(); err != nil {
			f.logger.Debug("ws close error", zap.Error(err))
		}
	})
}
