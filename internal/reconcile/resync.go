package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tpoms/internal/models"
)

// DefaultResyncInterval - период опроса книги ордеров
const DefaultResyncInterval = 30 * time.Second

// OrderBookSource - книга ордеров брокера
type OrderBookSource interface {
	GetOrders(ctx context.Context) ([]*models.OrderUpdate, error)
}

// Resync выполняет один проход сверки по книге ордеров
//
// Без ожидающих действий брокер не опрашивается. Иначе для каждого ордера
// книги с ожидающим действием обновляется timestamp брокера и, если статус
// отображается, публикуется событие RE_SYNC. Возвращает число публикаций.
func (e *Engine) Resync(ctx context.Context, src OrderBookSource) (int, error) {
	if !e.store.HasPending() {
		resyncTotal.WithLabelValues(e.broker, "skipped").Inc()
		return 0, nil
	}

	orders, err := src.GetOrders(ctx)
	if err != nil {
		resyncTotal.WithLabelValues(e.broker, "error").Inc()
		return 0, fmt.Errorf("resync order book: %w", err)
	}
	resyncTotal.WithLabelValues(e.broker, "queried").Inc()

	published := 0
	for _, u := range orders {
		if u == nil || u.BrokerOrderID == "" {
			continue
		}
		ok, err := e.resyncOrder(ctx, u)
		if err != nil {
			e.logger.Error("resync publish failed",
				zap.String("broker_id", u.BrokerOrderID),
				zap.Error(err))
			continue
		}
		if ok {
			published++
		}
	}
	return published, nil
}

func (e *Engine) resyncOrder(ctx context.Context, u *models.OrderUpdate) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	localID, ok := e.store.LookupLocal(u.BrokerOrderID)
	if !ok {
		return false, nil
	}
	if e.store.PendingAction(localID) == models.ActionNone {
		return false, nil
	}
	return e.process(ctx, u, models.MessageTypeResync)
}

// ResyncLoop периодически вызывает Engine.Resync
type ResyncLoop struct {
	engine   *Engine
	source   OrderBookSource
	interval time.Duration
	logger   *zap.Logger
}

// NewResyncLoop создаёт цикл сверки
func NewResyncLoop(engine *Engine, source OrderBookSource, interval time.Duration, logger *zap.Logger) *ResyncLoop {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResyncLoop{
		engine:   engine,
		source:   source,
		interval: interval,
		logger:   logger.With(zap.String("component", "resync")),
	}
}

// Run блокируется до отмены ctx
// Ошибка одного тика логируется, цикл продолжается.
func (l *ResyncLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("resync loop started", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("resync loop stopped")
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *ResyncLoop) tick(ctx context.Context) {
	n, err := l.engine.Resync(ctx, l.source)
	if err != nil {
		l.logger.Warn("resync tick failed", zap.Error(err))
		return
	}
	if n > 0 {
		l.logger.Info("resync published updates", zap.Int("count", n))
	}
}
