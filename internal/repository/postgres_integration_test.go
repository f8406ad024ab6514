//go:build integration

// Интеграционные тесты с настоящим PostgreSQL.
// Запуск: TEST_DB_HOST=localhost go test -tags=integration ./internal/repository/...
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"tpoms/internal/models"
)

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// setupTestDB подключается к тестовой базе и создаёт схему
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("Skipping integration test: TEST_DB_HOST not set")
	}

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host,
		getEnvOrDefault("TEST_DB_PORT", "5432"),
		getEnvOrDefault("TEST_DB_USER", "postgres"),
		getEnvOrDefault("TEST_DB_PASSWORD", "postgres"),
		getEnvOrDefault("TEST_DB_NAME", "tpoms_test"),
		getEnvOrDefault("TEST_DB_SSLMODE", "disable"),
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	// повторный вызов не должен падать
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("EnsureSchema (second run): %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE entities, order_events`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func TestEntityRepository_Integration(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEntityRepository(db, testKey)
	ctx := context.Background()

	creds := models.Credentials{APIKey: "mkey", ClientCode: "C1", AccessToken: "auth"}
	e := &models.Entity{ID: "E1", Broker: models.BrokerMotilal, Credentials: creds, Enabled: true}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, e); !errors.Is(err, ErrEntityExists) {
		t.Fatalf("expected ErrEntityExists, got %v", err)
	}

	// в базе хранится только шифротекст
	var stored string
	if err := db.QueryRowContext(ctx, `SELECT credentials FROM entities WHERE id = 'E1'`).Scan(&stored); err != nil {
		t.Fatalf("select credentials: %v", err)
	}
	if stored == "" || stored == "mkey" {
		t.Errorf("credentials stored unencrypted: %q", stored)
	}

	got, err := repo.GetByID(ctx, "E1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Credentials != creds || got.Broker != models.BrokerMotilal {
		t.Errorf("unexpected entity: %+v", got)
	}

	if err := repo.SetEnabled(ctx, "E1", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	enabled, err := repo.GetEnabled(ctx)
	if err != nil {
		t.Fatalf("GetEnabled: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("expected no enabled entities, got %d", len(enabled))
	}

	creds.AccessToken = "rotated"
	if err := repo.UpdateCredentials(ctx, "E1", creds); err != nil {
		t.Fatalf("UpdateCredentials: %v", err)
	}
	got, _ = repo.GetByID(ctx, "E1")
	if got.Credentials.AccessToken != "rotated" {
		t.Errorf("AccessToken = %q, want rotated", got.Credentials.AccessToken)
	}

	if err := repo.Delete(ctx, "E1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, "E1"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestOrderEventRepository_Integration(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrderEventRepository(db)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	events := []*models.OrderEvent{
		{EntityID: "E1", Broker: models.BrokerZerodha, MessageType: models.MessageTypeOrderUpdate, BlitzAppOrderID: "L1", Status: "PendingNew", Payload: []byte(`{"OrderStatus":"PendingNew"}`), CreatedAt: old},
		{EntityID: "E1", Broker: models.BrokerZerodha, MessageType: models.MessageTypeOrderUpdate, BlitzAppOrderID: "L1", ExchangeOrderID: "B1", Status: "New", Payload: []byte(`{"OrderStatus":"New"}`)},
		{EntityID: "E1", Broker: models.BrokerZerodha, MessageType: models.MessageTypeOrderUpdate, BlitzAppOrderID: "L2", ExchangeOrderID: "B2", Status: "Filled", Payload: []byte(`{"OrderStatus":"Filled"}`)},
	}
	for _, e := range events {
		if err := repo.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if e.ID == 0 {
			t.Fatal("Append must set ID")
		}
	}

	history, err := repo.GetByOrder(ctx, "E1", "L1")
	if err != nil {
		t.Fatalf("GetByOrder: %v", err)
	}
	if len(history) != 2 || history[0].Status != "PendingNew" || history[1].ExchangeOrderID != "B1" {
		t.Errorf("unexpected history: %+v", history)
	}

	recent, err := repo.GetRecent(ctx, "E1", 2)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].BlitzAppOrderID != "L2" {
		t.Errorf("unexpected recent events: %+v", recent)
	}

	n, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}
