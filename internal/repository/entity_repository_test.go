package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tpoms/internal/models"
	"tpoms/pkg/crypto"
)

var testKey = []byte(strings.Repeat("k", 32))

var entityColumns = []string{"id", "broker", "credentials", "enabled", "created_at", "updated_at"}

func sealed(t *testing.T, creds models.Credentials) string {
	t.Helper()
	s, err := crypto.SealJSON(creds, testKey)
	if err != nil {
		t.Fatalf("SealJSON: %v", err)
	}
	return s
}

// ============================================================
// EntityRepository Tests
// ============================================================

func TestEntityRepositoryCreate(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO entities`).
					WithArgs("E1", models.BrokerZerodha, sqlmock.AnyArg(), true, sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "duplicate",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO entities`).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrEntityExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()
			tt.mockSetup(mock)

			repo := NewEntityRepository(db, testKey)
			e := &models.Entity{
				ID:          "E1",
				Broker:      models.BrokerZerodha,
				Enabled:     true,
				Credentials: models.Credentials{APIKey: "key", Password: "secret"},
			}
			err = repo.Create(context.Background(), e)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if e.CreatedAt.IsZero() {
				t.Error("CreatedAt must be set")
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestEntityRepositoryGetByID(t *testing.T) {
	now := time.Now()
	creds := models.Credentials{APIKey: "key", ClientCode: "AB1234", DOB: "01/01/1990"}

	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT id, broker, credentials, enabled, created_at, updated_at FROM entities WHERE id`).
					WithArgs("E1").
					WillReturnRows(sqlmock.NewRows(entityColumns).
						AddRow("E1", models.BrokerMotilal, sealed(t, creds), true, now, now))
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .* FROM entities`).
					WithArgs("E1").
					WillReturnRows(sqlmock.NewRows(entityColumns))
			},
			wantErr: ErrEntityNotFound,
		},
		{
			name: "undecryptable credentials",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .* FROM entities`).
					WithArgs("E1").
					WillReturnRows(sqlmock.NewRows(entityColumns).
						AddRow("E1", models.BrokerMotilal, "bm90LWEtY2lwaGVydGV4dC1hdC1hbGwtYXQtYWxs", true, now, now))
			},
			wantErr: crypto.ErrDecryptionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()
			tt.mockSetup(mock)

			repo := NewEntityRepository(db, testKey)
			e, err := repo.GetByID(context.Background(), "E1")

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if e.Broker != models.BrokerMotilal || e.Credentials != creds {
					t.Errorf("unexpected entity: %+v", e)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestEntityRepositoryGetEnabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM entities WHERE enabled = true ORDER BY id`).
		WillReturnRows(sqlmock.NewRows(entityColumns).
			AddRow("E1", models.BrokerZerodha, sealed(t, models.Credentials{AccessToken: "tok"}), true, now, now).
			AddRow("E2", models.BrokerMotilal, "", true, now, now))

	repo := NewEntityRepository(db, testKey)
	entities, err := repo.GetEnabled(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	if entities[0].Credentials.AccessToken != "tok" {
		t.Errorf("credentials not decrypted: %+v", entities[0].Credentials)
	}
	if entities[1].Credentials != (models.Credentials{}) {
		t.Errorf("empty credentials expected: %+v", entities[1].Credentials)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEntityRepositoryUpdates(t *testing.T) {
	tests := []struct {
		name      string
		call      func(r *EntityRepository) error
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "set enabled",
			call: func(r *EntityRepository) error { return r.SetEnabled(context.Background(), "E1", false) },
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE entities SET enabled`).
					WithArgs(false, sqlmock.AnyArg(), "E1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "update credentials of missing entity",
			call: func(r *EntityRepository) error {
				return r.UpdateCredentials(context.Background(), "E9", models.Credentials{APIKey: "k"})
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE entities SET credentials`).
					WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "E9").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrEntityNotFound,
		},
		{
			name: "delete",
			call: func(r *EntityRepository) error { return r.Delete(context.Background(), "E1") },
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM entities`).
					WithArgs("E1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "database error",
			call: func(r *EntityRepository) error { return r.Delete(context.Background(), "E1") },
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE FROM entities`).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: errors.New("any"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()
			tt.mockSetup(mock)

			err = tt.call(NewEntityRepository(db, testKey))
			switch {
			case tt.wantErr == nil && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tt.wantErr != nil && err == nil:
				t.Error("expected error, got nil")
			case errors.Is(tt.wantErr, ErrEntityNotFound) && !errors.Is(err, ErrEntityNotFound):
				t.Errorf("expected ErrEntityNotFound, got %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS entities`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS order_events`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS`).WillReturnError(errors.New("permission denied"))

	if err := EnsureSchema(context.Background(), db); err == nil {
		t.Error("expected schema error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
