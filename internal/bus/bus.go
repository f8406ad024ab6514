// Package bus - транспорт шины Blitz: каналы запросов и ответов,
// форматирование конвертов и публикация событий ордеров.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Каналы шины по умолчанию
const (
	DefaultRequestChannel  = "CH_BLITZ_REQUESTS"
	DefaultResponseChannel = "CH_BLITZ_RESPONSES"
)

// Бэкенды транспорта
const (
	BackendRedis  = "redis"
	BackendKafka  = "kafka"
	BackendMemory = "memory"
)

// ErrClosed - шина уже закрыта
var ErrClosed = errors.New("bus closed")

// Handler получает сырое сообщение канала
type Handler func(payload []byte)

// Bus - pub/sub транспорт с именованными каналами
//
// Subscribe не блокируется: доставка идёт в отдельной горутине до отмены ctx
// или Close. Handler вызывается последовательно для одного канала.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Config - настройки транспорта
type Config struct {
	Backend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaGroupID string
}

// New создаёт транспорт по имени бэкенда
func New(cfg Config, logger *zap.Logger) (Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendRedis, "":
		return NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger), nil
	case BackendKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka backend requires at least one broker address")
		}
		return NewKafkaBus(cfg.KafkaBrokers, cfg.KafkaGroupID, logger), nil
	case BackendMemory:
		return NewMemoryBus(), nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Backend)
	}
}
