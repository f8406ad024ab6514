package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBus - шина поверх Kafka: канал шины = топик
//
// Порядок сообщений одного entity сохраняется: ключ сообщения - канал,
// все ответы идут в одну партицию топика.
type KafkaBus struct {
	brokers []string
	groupID string
	writer  *kafka.Writer
	logger  *zap.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

// NewKafkaBus создаёт writer без привязки к топику; топик задаётся в сообщении
func NewKafkaBus(brokers []string, groupID string, logger *zap.Logger) *KafkaBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if groupID == "" {
		groupID = "tpoms"
	}
	return &KafkaBus{
		brokers: brokers,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger.With(zap.String("component", "bus"), zap.String("backend", BackendKafka)),
	}
}

// Publish пишет сообщение в топик channel
func (k *KafkaBus) Publish(ctx context.Context, channel string, payload []byte) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: channel,
		Key:   []byte(channel),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe читает топик channel в consumer group
func (k *KafkaBus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrClosed
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		GroupID:  k.groupID,
		Topic:    channel,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	k.logger.Info("subscribed", zap.String("channel", channel), zap.String("group", k.groupID))

	go func() {
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					return
				}
				k.logger.Error("kafka read failed", zap.String("channel", channel), zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			handler(m.Value)
		}
	}()
	return nil
}

// Close закрывает writer и все reader
func (k *KafkaBus) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	readers := k.readers
	k.readers = nil
	k.mu.Unlock()

	for _, r := range readers {
		if err := r.Close(); err != nil {
			k.logger.Debug("kafka reader close error", zap.Error(err))
		}
	}
	return k.writer.Close()
}
