package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tpoms/internal/bus"
	"tpoms/internal/models"
)

// журнал подключается к издателю шины
var _ bus.Journal = (*OrderEventRepository)(nil)

var eventColumns = []string{"id", "entity_id", "broker", "message_type", "blitz_app_order_id", "exchange_order_id", "status", "payload", "created_at"}

// ============================================================
// OrderEventRepository Tests
// ============================================================

func TestOrderEventRepositoryAppend(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO order_events`).
					WithArgs("E1", models.BrokerZerodha, models.MessageTypeOrderUpdate, "L1", "B1", "New", `{"a":1}`, sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
			},
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO order_events`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
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

			e := &models.OrderEvent{
				EntityID:        "E1",
				Broker:          models.BrokerZerodha,
				MessageType:     models.MessageTypeOrderUpdate,
				BlitzAppOrderID: "L1",
				ExchangeOrderID: "B1",
				Status:          "New",
				Payload:         []byte(`{"a":1}`),
			}
			err = NewOrderEventRepository(db).Append(context.Background(), e)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if e.ID != 42 || e.CreatedAt.IsZero() {
					t.Errorf("unexpected event after append: %+v", e)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestOrderEventRepositoryGetByOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM order_events WHERE entity_id = \$1 AND blitz_app_order_id = \$2 ORDER BY id`).
		WithArgs("E1", "L1").
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(1, "E1", models.BrokerMotilal, models.CommandPlaceOrder, "L1", "", "Rejected", `{"x":1}`, now).
			AddRow(2, "E1", models.BrokerMotilal, models.MessageTypeResync, "L1", "B1", "New", `{"x":2}`, now))

	events, err := NewOrderEventRepository(db).GetByOrder(context.Background(), "E1", "L1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[1].Status != "New" || string(events[1].Payload) != `{"x":2}` {
		t.Errorf("unexpected events: %+v", events)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOrderEventRepositoryGetRecent(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		wantLimit int
	}{
		{"explicit", 10, 10},
		{"zero uses default", 0, 100},
		{"too large uses default", 5000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			mock.ExpectQuery(`SELECT .* FROM order_events WHERE entity_id = \$1 ORDER BY id DESC LIMIT \$2`).
				WithArgs("E1", tt.wantLimit).
				WillReturnRows(sqlmock.NewRows(eventColumns))

			events, err := NewOrderEventRepository(db).GetRecent(context.Background(), "E1", tt.limit)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if events == nil || len(events) != 0 {
				t.Errorf("expected empty non-nil slice, got %v", events)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestOrderEventRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec(`DELETE FROM order_events WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := NewOrderEventRepository(db).DeleteOlderThan(context.Background(), cutoff)
	if err != nil || n != 7 {
		t.Errorf("DeleteOlderThan() = %d, %v", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
