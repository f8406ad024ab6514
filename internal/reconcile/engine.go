package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tpoms/internal/mapper"
	"tpoms/internal/models"
)

// ErrDuplicateOrder - LocalOrderId уже использовался этим entity
var ErrDuplicateOrder = errors.New("duplicate BlitzAppOrderID")

// Publisher - выход движка на шину
type Publisher interface {
	// PublishOrder публикует нормализованное состояние ордера
	PublishOrder(ctx context.Context, messageType string, o *models.OrderLog) error

	// PublishMessage публикует произвольное сообщение (passthrough, статусы)
	PublishMessage(ctx context.Context, messageType string, data interface{}) error
}

// Config - настройки движка
type Config struct {
	ParkedPerOrder int // лимит отложенных обновлений на broker id
}

// Engine - единственное место, где обновления брокера превращаются в события шины
//
// Все обработчики выполняются под mu: шаги разбора обновления атомарны
// относительно REST-ответов, feed и resync одного entity.
type Engine struct {
	mu sync.Mutex

	profile mapper.Profile
	store   *Store
	pub     Publisher
	logger  *zap.Logger
	broker  string
}

// ModifyPlan - всё, что нужно для вызова modify у брокера
type ModifyPlan struct {
	LocalID       string
	BrokerOrderID string
	Merged        models.OrderRequest
	LastModified  string
}

// CancelPlan - идентификаторы для cancel
type CancelPlan struct {
	LocalID       string
	BrokerOrderID string
}

// NewEngine создаёт движок сверки одного entity
func NewEngine(profile mapper.Profile, pub Publisher, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "reconcile"))
	return &Engine{
		profile: profile,
		store:   NewStore(cfg.ParkedPerOrder, logger),
		pub:     pub,
		logger:  logger,
		broker:  profile.Broker(),
	}
}

// Store возвращает хранилище движка
func (e *Engine) Store() *Store {
	return e.store
}

// ============================================================
// Размещение
// ============================================================

// BeginPlace регистрирует ордер до вызова REST и возвращает корреляционный тег
// Тег нужен feed-у, если уведомление брокера обгонит ответ REST.
func (e *Engine) BeginPlace(req *models.OrderRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.store.GetSnapshot(req.BlitzAppOrderID); exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateOrder, req.BlitzAppOrderID)
	}

	tag := e.profile.Tag(req.BlitzAppOrderID)
	e.store.PutSnapshot(req.BlitzAppOrderID, Snapshot{Request: *req})
	e.store.RegisterTag(tag, req.BlitzAppOrderID)
	return tag, nil
}

// OnPlaceAccepted обрабатывает успешный ответ REST на размещение
// Сам ничего не публикует: New или Rejected придёт через feed или resync.
func (e *Engine) OnPlaceAccepted(ctx context.Context, req *models.OrderRequest, brokerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	localID := req.BlitzAppOrderID
	snap, ok := e.store.GetSnapshot(localID)
	if !ok {
		snap = Snapshot{Request: *req}
	}
	snap.BrokerOrderID = brokerID
	e.store.PutSnapshot(localID, snap)
	e.recordIdentity(localID, brokerID)

	// feed мог успеть подтвердить ордер по тегу
	if snap.Status == models.StatusUnmapped {
		e.store.SetPendingAction(localID, models.ActionPlace)
	}

	e.logger.Info("place accepted",
		zap.String("local_id", localID),
		zap.String("broker_id", brokerID))

	return e.replayParked(ctx, brokerID)
}

// OnPlaceRejected публикует синхронный отказ размещения
// Если брокер вернул id ордера вместе с ошибкой, соответствие всё равно сохраняется.
func (e *Engine) OnPlaceRejected(ctx context.Context, req *models.OrderRequest, brokerID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	localID := req.BlitzAppOrderID
	syncRejectionsTotal.WithLabelValues(e.broker, models.CommandPlaceOrder).Inc()

	snap, ok := e.store.GetSnapshot(localID)
	if !ok {
		snap = Snapshot{Request: *req}
	}
	if snap.Status != models.StatusUnmapped {
		// исход размещения уже опубликован через feed
		e.logger.Warn("place rejected after outcome was published",
			zap.String("local_id", localID),
			zap.String("published_status", string(snap.Status)),
			zap.String("reason", reason))
		return nil
	}

	if brokerID != "" {
		snap.BrokerOrderID = brokerID
		e.store.PutSnapshot(localID, snap)
		e.recordIdentity(localID, brokerID)
	}

	o := buildRejection(&snap, models.StatusRejected, reason)
	if err := e.publish(ctx, models.CommandPlaceOrder, o, "rest"); err != nil {
		e.store.PutSnapshot(localID, snap)
		return err
	}

	snap.Status = models.StatusRejected
	e.store.PutSnapshot(localID, snap)
	e.store.ClearPendingAction(localID)

	e.logger.Info("place rejected",
		zap.String("local_id", localID),
		zap.String("broker_id", brokerID),
		zap.String("reason", reason))

	if brokerID != "" {
		return e.replayParked(ctx, brokerID)
	}
	return nil
}

// ============================================================
// Изменение и отмена
// ============================================================

// PrepareModify находит ордер и сливает Modified*-поля с кэшированным запросом
func (e *Engine) PrepareModify(req *models.OrderRequest) (*ModifyPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	localID, snap, err := e.resolve(req)
	if err != nil {
		return nil, err
	}
	// следующий modify строится поверх ещё не подтверждённого
	base := snap.Request
	if snap.Proposed != nil {
		base = *snap.Proposed
	}
	return &ModifyPlan{
		LocalID:       localID,
		BrokerOrderID: snap.BrokerOrderID,
		Merged:        base.Merge(req),
		LastModified:  snap.LastModified,
	}, nil
}

// OnModifyAccepted фиксирует принятый modify и ждёт подтверждения
// Запрос снимка меняется только после Replaced, до этого он в Proposed.
func (e *Engine) OnModifyAccepted(ctx context.Context, plan *ModifyPlan, brokerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, ok := e.store.GetSnapshot(plan.LocalID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, plan.LocalID)
	}

	merged := plan.Merged
	snap.Proposed = &merged
	if brokerID != "" && brokerID != plan.BrokerOrderID {
		snap.BrokerOrderID = brokerID
	}
	e.store.PutSnapshot(plan.LocalID, snap)
	if brokerID != "" && brokerID != plan.BrokerOrderID {
		e.recordIdentity(plan.LocalID, brokerID)
	}
	e.store.SetPendingAction(plan.LocalID, models.ActionModify)

	e.logger.Info("modify accepted",
		zap.String("local_id", plan.LocalID),
		zap.String("broker_id", snap.BrokerOrderID))

	return e.replayParked(ctx, snap.BrokerOrderID)
}

// OnModifyRejected публикует ReplaceRejected
func (e *Engine) OnModifyRejected(ctx context.Context, req *models.OrderRequest, reason string) error {
	return e.rejectAction(ctx, req, models.ActionModify, reason)
}

// PrepareCancel находит broker id ордера
func (e *Engine) PrepareCancel(req *models.OrderRequest) (*CancelPlan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	localID, snap, err := e.resolve(req)
	if err != nil {
		return nil, err
	}
	return &CancelPlan{LocalID: localID, BrokerOrderID: snap.BrokerOrderID}, nil
}

// OnCancelAccepted фиксирует принятый cancel и ждёт подтверждения
func (e *Engine) OnCancelAccepted(plan *CancelPlan) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.store.SetPendingAction(plan.LocalID, models.ActionCancel)
	e.logger.Info("cancel accepted",
		zap.String("local_id", plan.LocalID),
		zap.String("broker_id", plan.BrokerOrderID))
}

// OnCancelRejected публикует CancelRejected
func (e *Engine) OnCancelRejected(ctx context.Context, req *models.OrderRequest, reason string) error {
	return e.rejectAction(ctx, req, models.ActionCancel, reason)
}

// rejectAction публикует отказ modify/cancel
// Ожидающее действие не трогаем: отклонённое действие его не выставляло.
func (e *Engine) rejectAction(ctx context.Context, req *models.OrderRequest, action models.PendingAction, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	syncRejectionsTotal.WithLabelValues(e.broker, action.String()).Inc()
	status := action.RejectionStatus()

	var o *models.OrderLog
	if _, snap, err := e.resolve(req); err == nil {
		o = buildRejection(&snap, status, reason)
	} else {
		o = models.NewRejectionLog(req, status, reason)
	}

	e.logger.Info("action rejected",
		zap.String("action", action.String()),
		zap.String("local_id", req.BlitzAppOrderID),
		zap.String("reason", reason))

	return e.publish(ctx, action.String(), o, "rest")
}

// resolve находит снимок по BlitzAppOrderID или ExchangeOrderID
func (e *Engine) resolve(req *models.OrderRequest) (string, Snapshot, error) {
	localID := req.BlitzAppOrderID
	if localID == "" && req.ExchangeOrderID != "" {
		if id, ok := e.store.LookupLocal(req.ExchangeOrderID); ok {
			localID = id
		}
	}
	if localID == "" {
		return "", Snapshot{}, fmt.Errorf("%w: %s", ErrIdentityNotFound, req.ExchangeOrderID)
	}

	snap, ok := e.store.GetSnapshot(localID)
	if !ok {
		return "", Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, localID)
	}
	if snap.BrokerOrderID == "" {
		if id, ok := e.store.LookupBroker(localID); ok {
			snap.BrokerOrderID = id
		} else if req.ExchangeOrderID != "" {
			snap.BrokerOrderID = req.ExchangeOrderID
		} else {
			return "", Snapshot{}, fmt.Errorf("%w: %s", ErrIdentityNotFound, localID)
		}
	}
	return localID, snap, nil
}

// ============================================================
// Асинхронные обновления
// ============================================================

// OnAsyncUpdate обрабатывает уведомление feed
func (e *Engine) OnAsyncUpdate(ctx context.Context, u *models.OrderUpdate) error {
	if u == nil {
		return nil
	}
	if u.BrokerOrderID == "" {
		// не ордер: системное сообщение проходит насквозь
		return e.pub.PublishMessage(ctx, models.MessageTypeWebsocketMessage, models.StatusData{
			Status:  models.ResponseSuccess,
			Message: string(u.Raw),
		})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.process(ctx, u, models.MessageTypeOrderUpdate)
	return err
}

// process - шаги 2-7 разбора обновления, вызывается под mu
// Возвращает true, если событие опубликовано.
func (e *Engine) process(ctx context.Context, u *models.OrderUpdate, messageType string) (bool, error) {
	localID, ok := e.store.LookupLocal(u.BrokerOrderID)
	if !ok {
		learned, ok := e.learn(u)
		if !ok {
			e.park(u)
			return false, nil
		}
		localID = learned

		// обновления того же ордера, отложенные раньше, идут первыми
		if err := e.replayParked(ctx, u.BrokerOrderID); err != nil {
			e.logger.Error("replay before learned update failed", zap.Error(err))
		}
	}

	snap, ok := e.store.GetSnapshot(localID)
	if !ok {
		snap = Snapshot{BrokerOrderID: u.BrokerOrderID}
	}

	pending := e.store.PendingAction(localID)
	class := e.profile.Classify(u)
	status, reason := resolveStatus(e.profile, &snap, u, class, pending)
	next := observe(snap, u)

	if !status.IsMapped() {
		droppedTotal.WithLabelValues(e.broker, reason).Inc()
		if class != mapper.ClassUnknown && class != mapper.ClassNoise {
			commitObserved(&next, u)
		}
		e.store.PutSnapshot(localID, next)

		fields := []zap.Field{
			zap.String("local_id", localID),
			zap.String("broker_id", u.BrokerOrderID),
			zap.String("raw_status", u.RawStatus),
			zap.String("class", class.String()),
			zap.String("pending", pending.String()),
			zap.String("reason", reason),
		}
		if reason == dropUnmapped {
			e.logger.Warn("unmapped broker status dropped", fields...)
		} else {
			e.logger.Debug("update dropped", fields...)
		}
		return false, nil
	}

	switch {
	case status == models.StatusReplaced && next.Proposed != nil:
		next.Request = *next.Proposed
		next.Proposed = nil
	case status == models.StatusReplaceRejected || status.IsTerminal():
		next.Proposed = nil
	}

	o := buildLog(e.profile, &next, u, status)
	if status.IsFill() && o.LastTradedPrice <= 0 {
		e.logger.Warn("fill published without price",
			zap.String("local_id", localID),
			zap.String("broker_id", u.BrokerOrderID),
			zap.String("order_type", o.OrderType),
			zap.String("status", string(status)))
	}
	if err := e.publish(ctx, messageType, o, sourceLabel(messageType)); err != nil {
		// статус не фиксируем: resync повторит
		e.store.PutSnapshot(localID, next)
		return false, err
	}

	next.Status = status
	if status == models.StatusReplaceRejected {
		// у брокера остались прежние цена и количество
		next.ObservedFilled = u.FilledQuantity
	} else {
		commitObserved(&next, u)
	}
	if acknowledges(class) {
		next.Acked = true
	}
	e.store.PutSnapshot(localID, next)
	if settles(e.profile, class, pending) {
		e.store.ClearPendingAction(localID)
	}

	e.logger.Info("order update published",
		zap.String("local_id", localID),
		zap.String("broker_id", u.BrokerOrderID),
		zap.String("raw_status", u.RawStatus),
		zap.String("status", string(status)),
		zap.String("pending", pending.String()),
		zap.String("message_type", messageType))
	return true, nil
}

// learn сопоставляет ордер по корреляционному тегу
// Работает только пока у local нет соответствия из REST.
func (e *Engine) learn(u *models.OrderUpdate) (string, bool) {
	localID, ok := e.store.LocalForTag(u.Tag)
	if !ok {
		return "", false
	}
	if existing, mapped := e.store.LookupBroker(localID); mapped && existing != u.BrokerOrderID {
		return "", false
	}

	e.store.RecordLearned(localID, u.BrokerOrderID)
	identityTotal.WithLabelValues(e.broker, string(OriginTag)).Inc()
	if snap, ok := e.store.GetSnapshot(localID); ok && snap.BrokerOrderID == "" {
		snap.BrokerOrderID = u.BrokerOrderID
		e.store.PutSnapshot(localID, snap)
	}

	e.logger.Info("identity learned from tag",
		zap.String("local_id", localID),
		zap.String("broker_id", u.BrokerOrderID),
		zap.String("tag", u.Tag),
		zap.String("origin", string(OriginTag)))
	return localID, true
}

func (e *Engine) park(u *models.OrderUpdate) {
	if !e.store.Park(u) {
		parkedTotal.WithLabelValues(e.broker, "overflow").Inc()
		e.logger.Warn("parked updates limit reached, update dropped",
			zap.String("broker_id", u.BrokerOrderID),
			zap.String("raw_status", u.RawStatus))
		return
	}
	parkedTotal.WithLabelValues(e.broker, "parked").Inc()
	e.logger.Warn("async update parked, identity unknown",
		zap.String("broker_id", u.BrokerOrderID),
		zap.String("tag", u.Tag),
		zap.String("raw_status", u.RawStatus))
}

// replayParked повторяет отложенные обновления один раз, в порядке прихода
func (e *Engine) replayParked(ctx context.Context, brokerID string) error {
	parked := e.store.TakeParked(brokerID)
	if len(parked) == 0 {
		return nil
	}

	e.logger.Info("replaying parked updates",
		zap.String("broker_id", brokerID),
		zap.Int("count", len(parked)))

	var firstErr error
	for _, u := range parked {
		replayedTotal.WithLabelValues(e.broker).Inc()
		if _, err := e.process(ctx, u, models.MessageTypeOrderUpdate); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) recordIdentity(localID, brokerID string) {
	if current, ok := e.store.LookupBroker(localID); ok && current == brokerID {
		e.store.RecordPlacement(localID, brokerID)
		return
	}
	e.store.RecordPlacement(localID, brokerID)
	identityTotal.WithLabelValues(e.broker, string(OriginREST)).Inc()
}

func (e *Engine) publish(ctx context.Context, messageType string, o *models.OrderLog, source string) error {
	if err := e.pub.PublishOrder(ctx, messageType, o); err != nil {
		publishErrorsTotal.WithLabelValues(e.broker).Inc()
		e.logger.Error("publish failed",
			zap.String("local_id", o.BlitzAppOrderID),
			zap.String("status", o.OrderStatus),
			zap.Error(err))
		return fmt.Errorf("publish %s: %w", messageType, err)
	}
	publishedTotal.WithLabelValues(e.broker, o.OrderStatus, source).Inc()
	return nil
}

// ============================================================
// Запросы
// ============================================================

// Render строит OrderLog для ответа на GET_ORDERS / GET_ORDER_DETAILS
// Хранилище не меняется.
func (e *Engine) Render(u *models.OrderUpdate) *models.OrderLog {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{BrokerOrderID: u.BrokerOrderID}
	if localID, ok := e.store.LookupLocal(u.BrokerOrderID); ok {
		if s, ok := e.store.GetSnapshot(localID); ok {
			snap = s
		}
	}

	class := e.profile.Classify(u)
	status := e.profile.Normalize(class, models.ActionNone)
	if class == mapper.ClassAck {
		status = models.StatusNew
	}
	return buildLog(e.profile, &snap, u, status)
}

func sourceLabel(messageType string) string {
	if messageType == models.MessageTypeResync {
		return "resync"
	}
	return "feed"
}
