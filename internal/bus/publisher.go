package bus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tpoms/internal/models"
)

// Journal - журнал опубликованных OrderLog
type Journal interface {
	Append(ctx context.Context, event *models.OrderEvent) error
}

// Stream - поток мониторинга, получающий копию каждого сообщения
type Stream interface {
	BroadcastEnvelope(channel string, env *models.Envelope)
}

// journalTimeout ограничивает запись журнала, чтобы БД не задерживала публикацию
const journalTimeout = 2 * time.Second

// Publisher публикует сообщения одного адаптера в канал ответов
//
// После успешной публикации OrderLog пишется в журнал и поток мониторинга.
// Ошибки журнала только логируются.
type Publisher struct {
	bus       Bus
	channel   string
	formatter *Formatter
	journal   Journal
	stream    Stream
	logger    *zap.Logger
}

// NewPublisher создаёт издателя
func NewPublisher(b Bus, channel string, formatter *Formatter, logger *zap.Logger) *Publisher {
	if channel == "" {
		channel = DefaultResponseChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		bus:       b,
		channel:   channel,
		formatter: formatter,
		logger:    logger.With(zap.String("component", "publisher")),
	}
}

// WithJournal подключает журнал order_events
func (p *Publisher) WithJournal(j Journal) *Publisher {
	p.journal = j
	return p
}

// WithStream подключает поток мониторинга
func (p *Publisher) WithStream(s Stream) *Publisher {
	p.stream = s
	return p
}

// Formatter возвращает форматтер издателя
func (p *Publisher) Formatter() *Formatter {
	return p.formatter
}

// PublishOrder публикует состояние ордера
func (p *Publisher) PublishOrder(ctx context.Context, messageType string, o *models.OrderLog) error {
	env := p.formatter.Order(messageType, o)
	payload, err := p.publish(ctx, env)
	if err != nil {
		return err
	}
	p.appendJournal(ctx, messageType, o, payload)
	return nil
}

// PublishOrders публикует список ордеров (ответ на запрос)
func (p *Publisher) PublishOrders(ctx context.Context, messageType string, orders []*models.OrderLog) error {
	_, err := p.publish(ctx, p.formatter.Orders(messageType, orders))
	return err
}

// PublishMessage публикует произвольные данные
func (p *Publisher) PublishMessage(ctx context.Context, messageType string, data interface{}) error {
	_, err := p.publish(ctx, p.formatter.Data(messageType, data))
	return err
}

// PublishStatus публикует ответ {status, message}
func (p *Publisher) PublishStatus(ctx context.Context, messageType, status, message string) error {
	_, err := p.publish(ctx, p.formatter.Status(messageType, status, message))
	return err
}

// PublishConnection публикует TPOMSConnectionStatus
func (p *Publisher) PublishConnection(ctx context.Context, status, message string) error {
	_, err := p.publish(ctx, p.formatter.ConnectionStatus(status, message))
	return err
}

func (p *Publisher) publish(ctx context.Context, env *models.Envelope) ([]byte, error) {
	payload, err := models.JSON.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.MessageType, err)
	}

	if err := p.bus.Publish(ctx, p.channel, payload); err != nil {
		publishErrorsTotal.WithLabelValues(env.TPOmsName).Inc()
		return nil, err
	}
	messagesTotal.WithLabelValues(env.TPOmsName, env.MessageType).Inc()

	p.logger.Debug("bus message published",
		zap.String("channel", p.channel),
		zap.String("message_type", env.MessageType),
		zap.Int("bytes", len(payload)))

	if p.stream != nil {
		p.stream.BroadcastEnvelope(p.channel, env)
	}
	return payload, nil
}

func (p *Publisher) appendJournal(ctx context.Context, messageType string, o *models.OrderLog, payload []byte) {
	if p.journal == nil {
		return
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	event := &models.OrderEvent{
		EntityID:        p.formatter.UserID(),
		Broker:          p.formatter.Broker(),
		MessageType:     messageType,
		BlitzAppOrderID: o.BlitzAppOrderID,
		ExchangeOrderID: o.ExchangeOrderID,
		Status:          o.OrderStatus,
		Payload:         payload,
	}
	if err := p.journal.Append(jctx, event); err != nil {
		journalErrorsTotal.WithLabelValues(p.formatter.Broker()).Inc()
		p.logger.Warn("order journal append failed",
			zap.String("local_id", o.BlitzAppOrderID),
			zap.String("status", o.OrderStatus),
			zap.Error(err))
	}
}
