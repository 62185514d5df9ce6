package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a new in-memory SQLite database for testing
func NewTestDB(t *testing.T) (*sql.DB, Store) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Single connection so every query sees the same in-memory database
	db.SetMaxOpenConns(1)

	store := NewStoreFromDB(db)
	if err := store.(*SQLStore).Setup(context.Background()); err != nil {
		db.Close()
		t.Fatalf("failed to setup test database schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db, store
}

// SeedTestUser creates a test user in the database
func SeedTestUser(t *testing.T, store Store, telegramID int64) User {
	t.Helper()

	user, err := store.CreateUser(context.Background(), CreateUserParams{
		TelegramID: telegramID,
		Username:   "testuser",
	})
	if err != nil {
		t.Fatalf("failed to seed test user: %v", err)
	}
	return user
}

// SeedTestPayment creates a pending payment for the given user
func SeedTestPayment(t *testing.T, store Store, id string, userID int64, days int64) Payment {
	t.Helper()

	payment, err := store.CreatePayment(context.Background(), CreatePaymentParams{
		ID:        id,
		UserID:    userID,
		Amount:    float64(days) * 10,
		Days:      days,
		Method:    "card",
		ExpiresAt: time.Now().Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("failed to seed test payment: %v", err)
	}
	return payment
}
