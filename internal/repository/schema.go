package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema - таблицы сервиса; выполняется идемпотентно при старте
var schema = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id VARCHAR(64) PRIMARY KEY,
		broker VARCHAR(16) NOT NULL,
		credentials TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS order_events (
		id BIGSERIAL PRIMARY KEY,
		entity_id VARCHAR(64) NOT NULL,
		broker VARCHAR(16) NOT NULL,
		message_type VARCHAR(64) NOT NULL,
		blitz_app_order_id VARCHAR(64) NOT NULL DEFAULT '',
		exchange_order_id VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL DEFAULT '',
		payload JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events (entity_id, blitz_app_order_id, id)`,
}

// EnsureSchema создаёт недостающие таблицы
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
