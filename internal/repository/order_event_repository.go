package repository

import (
	"context"
	"database/sql"
	"time"

	"tpoms/internal/models"
)

// OrderEventRepository - журнал опубликованных OrderLog (таблица order_events)
type OrderEventRepository struct {
	db *sql.DB
}

// NewOrderEventRepository создает новый экземпляр репозитория
func NewOrderEventRepository(db *sql.DB) *OrderEventRepository {
	return &OrderEventRepository{db: db}
}

// Append добавляет запись в журнал
func (r *OrderEventRepository) Append(ctx context.Context, e *models.OrderEvent) error {
	query := `
		INSERT INTO order_events (entity_id, broker, message_type, blitz_app_order_id, exchange_order_id, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	return r.db.QueryRowContext(ctx, query,
		e.EntityID,
		e.Broker,
		e.MessageType,
		e.BlitzAppOrderID,
		e.ExchangeOrderID,
		e.Status,
		string(e.Payload),
		e.CreatedAt,
	).Scan(&e.ID)
}

// GetByOrder возвращает историю одного ордера в порядке публикации
func (r *OrderEventRepository) GetByOrder(ctx context.Context, entityID, localID string) ([]*models.OrderEvent, error) {
	query := `
		SELECT id, entity_id, broker, message_type, blitz_app_order_id, exchange_order_id, status, payload, created_at
		FROM order_events
		WHERE entity_id = $1 AND blitz_app_order_id = $2
		ORDER BY id`

	return r.query(ctx, query, entityID, localID)
}

// GetRecent возвращает последние limit записей entity
func (r *OrderEventRepository) GetRecent(ctx context.Context, entityID string, limit int) ([]*models.OrderEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		SELECT id, entity_id, broker, message_type, blitz_app_order_id, exchange_order_id, status, payload, created_at
		FROM order_events
		WHERE entity_id = $1
		ORDER BY id DESC
		LIMIT $2`

	return r.query(ctx, query, entityID, limit)
}

// DeleteOlderThan чистит журнал, возвращает число удалённых записей
func (r *OrderEventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM order_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *OrderEventRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.OrderEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*models.OrderEvent, 0)
	for rows.Next() {
		e := &models.OrderEvent{}
		var payload string
		err := rows.Scan(
			&e.ID,
			&e.EntityID,
			&e.Broker,
			&e.MessageType,
			&e.BlitzAppOrderID,
			&e.ExchangeOrderID,
			&e.Status,
			&payload,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		events = append(events, e)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
