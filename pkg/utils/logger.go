package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger создаёт корневой logger процесса
//
// format:
//   - "json" - production encoder (по умолчанию)
//   - "console" - development encoder с цветными уровнями
//
// level: debug, info, warn, error
func NewLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// EntityLogger возвращает logger адаптера одного аккаунта
//
// Все строки получают поля broker/entity/component, поэтому логи
// нескольких аккаунтов в одном процессе разделяются фильтром по полю.
func EntityLogger(base *zap.Logger, broker, entity, component string) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.With(
		zap.String("broker", broker),
		zap.String("entity", entity),
		zap.String("component", component),
	)
}
