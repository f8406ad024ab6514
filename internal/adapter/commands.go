package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"tpoms/internal/broker"
	"tpoms/internal/bus"
	"tpoms/internal/models"
	"tpoms/internal/reconcile"
)

// HandleCommand выполняет одну команду шины синхронно
//
// Команды ордеров любую ошибку превращают ровно в одно событие отказа.
// Остальные команды при ошибке отвечают {status:"FAILED"} под своим Action.
func (a *Adapter) HandleCommand(ctx context.Context, cmd *models.Command) {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}
	logger := a.logger.With(
		zap.String("action", cmd.Action),
		zap.String("correlation_id", cmd.CorrelationID))

	start := time.Now()
	err := a.dispatch(ctx, cmd, logger)

	result := "ok"
	if err != nil {
		result = "failed"
		logger.Warn("command failed", zap.Error(err))
		if perr := a.pub.PublishStatus(ctx, cmd.Action, models.ResponseFailed, err.Error()); perr != nil {
			logger.Error("command response publish failed", zap.Error(perr))
		}
	}
	commandDuration.WithLabelValues(a.Broker(), cmd.Action, result).Observe(time.Since(start).Seconds())
}

func (a *Adapter) dispatch(ctx context.Context, cmd *models.Command, logger *zap.Logger) error {
	if !AcceptsOrders(a.State()) {
		loginErr := a.loginError()
		if cmd.IsOrderCommand() {
			a.rejectOffline(ctx, cmd, loginErr, logger)
			return nil
		}
		return loginErr
	}

	switch cmd.Action {
	case models.CommandPlaceOrder:
		return a.placeOrder(ctx, cmd, logger)
	case models.CommandModifyOrder:
		return a.modifyOrder(ctx, cmd, logger)
	case models.CommandCancelOrder:
		return a.cancelOrder(ctx, cmd, logger)
	case models.CommandGetOrders:
		return a.getOrders(ctx, cmd)
	case models.CommandGetOrderDetails:
		return a.getOrderDetails(ctx, cmd)
	case models.CommandGetHoldings:
		return a.passthrough(ctx, cmd, a.client.GetHoldings)
	case models.CommandGetPositions:
		return a.passthrough(ctx, cmd, a.client.GetPositions)
	case models.CommandGetTrades:
		return a.passthrough(ctx, cmd, a.client.GetTrades)
	default:
		return fmt.Errorf("%w %s", ErrUnknownAction, cmd.Action)
	}
}

// rejectOffline отвечает на команду ордера, когда сессии брокера нет
func (a *Adapter) rejectOffline(ctx context.Context, cmd *models.Command, cause error, logger *zap.Logger) {
	req, err := bus.DecodeOrderRequest(cmd.Data)
	if err != nil {
		req = &models.OrderRequest{}
	}
	reason := cause.Error()

	switch cmd.Action {
	case models.CommandPlaceOrder:
		err = a.rejectUnsent(ctx, cmd.Action, req, reason)
	case models.CommandModifyOrder:
		err = a.engine.OnModifyRejected(ctx, req, reason)
	case models.CommandCancelOrder:
		err = a.engine.OnCancelRejected(ctx, req, reason)
	}
	a.report(logger, err)
}

// rejectUnsent публикует Rejected для ордера, который не дошёл до брокера
// Хранилище не меняется: тот же BlitzAppOrderID можно отправить повторно.
func (a *Adapter) rejectUnsent(ctx context.Context, action string, req *models.OrderRequest, reason string) error {
	o := models.NewRejectionLog(req, models.StatusRejected, reason)
	return a.pub.PublishOrder(ctx, action, o)
}

func (a *Adapter) report(logger *zap.Logger, err error) {
	if err != nil {
		logger.Error("order event publish failed", zap.Error(err))
	}
}

func (a *Adapter) restContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.RESTTimeout)
}

// ============================================================
// Команды ордеров
// ============================================================

func (a *Adapter) placeOrder(ctx context.Context, cmd *models.Command, logger *zap.Logger) error {
	req, err := bus.DecodeOrderRequest(cmd.Data)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("local_id", req.BlitzAppOrderID))

	if err := req.ValidatePlace(); err != nil {
		logger.Info("place request invalid", zap.Error(err))
		a.report(logger, a.rejectUnsent(ctx, cmd.Action, req, err.Error()))
		return nil
	}
	params, err := a.profile.PlaceParams(req)
	if err != nil {
		logger.Info("place request not translatable", zap.Error(err))
		a.report(logger, a.rejectUnsent(ctx, cmd.Action, req, err.Error()))
		return nil
	}

	tag, err := a.engine.BeginPlace(req)
	if err != nil {
		// повтор живого ордера не должен менять его состояние: вместо
		// Rejected по чужому LocalOrderId уходит ответ FAILED
		return err
	}
	params.Tag = tag

	callCtx, cancel := a.restContext(ctx)
	brokerID, err := a.client.PlaceOrder(callCtx, params)
	cancel()
	if err != nil {
		logger.Warn("place order rejected", zap.Error(err))
		a.report(logger, a.engine.OnPlaceRejected(ctx, req, broker.OrderIDFromError(err), broker.ReasonFromError(err)))
		return nil
	}

	a.report(logger, a.engine.OnPlaceAccepted(ctx, req, brokerID))
	return nil
}

func (a *Adapter) modifyOrder(ctx context.Context, cmd *models.Command, logger *zap.Logger) error {
	req, err := bus.DecodeOrderRequest(cmd.Data)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("local_id", req.BlitzAppOrderID))

	reject := func(err error) error {
		logger.Warn("modify order rejected", zap.Error(err))
		a.report(logger, a.engine.OnModifyRejected(ctx, req, broker.ReasonFromError(err)))
		return nil
	}

	if err := req.ValidateModify(); err != nil {
		return reject(err)
	}
	plan, err := a.engine.PrepareModify(req)
	if err != nil {
		return reject(err)
	}
	params, err := a.profile.ModifyParams(&plan.Merged, plan.BrokerOrderID, plan.LastModified)
	if err != nil {
		return reject(err)
	}

	callCtx, cancel := a.restContext(ctx)
	brokerID, err := a.client.ModifyOrder(callCtx, params)
	cancel()
	if err != nil {
		return reject(err)
	}

	a.report(logger, a.engine.OnModifyAccepted(ctx, plan, brokerID))
	return nil
}

func (a *Adapter) cancelOrder(ctx context.Context, cmd *models.Command, logger *zap.Logger) error {
	req, err := bus.DecodeOrderRequest(cmd.Data)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("local_id", req.BlitzAppOrderID))

	reject := func(err error) error {
		logger.Warn("cancel order rejected", zap.Error(err))
		a.report(logger, a.engine.OnCancelRejected(ctx, req, broker.ReasonFromError(err)))
		return nil
	}

	if err := req.ValidateCancel(); err != nil {
		return reject(err)
	}
	plan, err := a.engine.PrepareCancel(req)
	if err != nil {
		return reject(err)
	}

	callCtx, cancel := a.restContext(ctx)
	err = a.client.CancelOrder(callCtx, plan.BrokerOrderID)
	cancel()
	if err != nil {
		return reject(err)
	}

	a.engine.OnCancelAccepted(plan)
	return nil
}

// ============================================================
// Запросы
// ============================================================

func (a *Adapter) getOrders(ctx context.Context, cmd *models.Command) error {
	callCtx, cancel := a.restContext(ctx)
	updates, err := a.client.GetOrders(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("get orders: %w", err)
	}

	orders := make([]*models.OrderLog, 0, len(updates))
	for _, u := range updates {
		if u == nil {
			continue
		}
		orders = append(orders, a.engine.Render(u))
	}
	return a.pub.PublishOrders(ctx, cmd.Action, orders)
}

func (a *Adapter) getOrderDetails(ctx context.Context, cmd *models.Command) error {
	req, err := bus.DecodeOrderRequest(cmd.Data)
	if err != nil {
		return err
	}

	brokerID := req.ExchangeOrderID
	if req.BlitzAppOrderID != "" {
		if id, ok := a.engine.Store().LookupBroker(req.BlitzAppOrderID); ok {
			brokerID = id
		}
	}
	if brokerID == "" {
		return fmt.Errorf("%w: %s", reconcile.ErrIdentityNotFound, req.BlitzAppOrderID)
	}

	callCtx, cancel := a.restContext(ctx)
	u, err := a.client.GetOrder(callCtx, brokerID)
	cancel()
	if err != nil {
		return fmt.Errorf("get order %s: %w", brokerID, err)
	}
	return a.pub.PublishOrders(ctx, cmd.Action, []*models.OrderLog{a.engine.Render(u)})
}

// passthrough публикует данные брокера без преобразования
func (a *Adapter) passthrough(ctx context.Context, cmd *models.Command, fetch func(context.Context) (jsoniter.RawMessage, error)) error {
	callCtx, cancel := a.restContext(ctx)
	data, err := fetch(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Action, err)
	}
	if len(data) == 0 {
		data = jsoniter.RawMessage("[]")
	}
	return a.pub.PublishMessage(ctx, cmd.Action, data)
}
