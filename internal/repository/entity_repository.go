package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tpoms/internal/models"
	"tpoms/pkg/crypto"
)

// Ошибки репозитория entity
var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrEntityExists   = errors.New("entity already exists")
)

// EntityRepository - работа с таблицей entities
//
// Учётные данные хранятся как AES-256-GCM шифротекст JSON-объекта Credentials.
type EntityRepository struct {
	db  *sql.DB
	key []byte
}

// NewEntityRepository создает новый экземпляр репозитория
func NewEntityRepository(db *sql.DB, encryptionKey []byte) *EntityRepository {
	return &EntityRepository{db: db, key: encryptionKey}
}

// Create сохраняет entity
func (r *EntityRepository) Create(ctx context.Context, e *models.Entity) error {
	sealed, err := crypto.SealJSON(e.Credentials, r.key)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now

	query := `
		INSERT INTO entities (id, broker, credentials, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, e.ID, e.Broker, sealed, e.Enabled, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrEntityExists, e.ID)
	}
	return nil
}

// GetByID возвращает entity с расшифрованными учётными данными
func (r *EntityRepository) GetByID(ctx context.Context, id string) (*models.Entity, error) {
	query := `
		SELECT id, broker, credentials, enabled, created_at, updated_at
		FROM entities
		WHERE id = $1`

	e, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
		return nil, err
	}
	return e, nil
}

// GetEnabled возвращает entity, которые запускаются при старте
func (r *EntityRepository) GetEnabled(ctx context.Context) ([]*models.Entity, error) {
	query := `
		SELECT id, broker, credentials, enabled, created_at, updated_at
		FROM entities
		WHERE enabled = true
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return entities, nil
}

// UpdateCredentials заменяет учётные данные
func (r *EntityRepository) UpdateCredentials(ctx context.Context, id string, creds models.Credentials) error {
	sealed, err := crypto.SealJSON(creds, r.key)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	query := `UPDATE entities SET credentials = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, sealed, time.Now(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

// SetEnabled включает или выключает запуск entity при старте
func (r *EntityRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE entities SET enabled = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, enabled, time.Now(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

// Delete удаляет entity
func (r *EntityRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *EntityRepository) scan(row rowScanner) (*models.Entity, error) {
	e := &models.Entity{}
	var sealed string
	if err := row.Scan(&e.ID, &e.Broker, &sealed, &e.Enabled, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if sealed != "" {
		if err := crypto.OpenJSON(sealed, r.key, &e.Credentials); err != nil {
			return nil, fmt.Errorf("decrypt credentials of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return nil
}
