// Package dbtest opens isolated in-memory sqlite databases carrying the
// ledger schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

var schema = []string{
	`CREATE TABLE subscription_tiers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		transaction_fee_percentage NUMERIC(5,2) NOT NULL,
		monthly_price NUMERIC(14,2),
		annual_price NUMERIC(14,2)
	)`,
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		subscription_tier_id TEXT,
		payout_recipient_code TEXT
	)`,
	`CREATE TABLE events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		language_id TEXT NOT NULL DEFAULT 'en'
	)`,
	`CREATE TABLE payment_methods (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		paystack_authorization_code TEXT
	)`,
	`CREATE TABLE user_subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tier_id TEXT NOT NULL,
		payment_method_id TEXT,
		billing_cycle TEXT NOT NULL,
		status TEXT NOT NULL,
		next_billing_date DATETIME NOT NULL,
		last_charge_reference TEXT,
		failure_reason TEXT,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE translations (
		language_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (language_id, key)
	)`,
	`CREATE TABLE gift_items (
		id BIGINT PRIMARY KEY,
		event_id TEXT NOT NULL,
		name TEXT NOT NULL,
		desired_price NUMERIC(14,2) NOT NULL,
		quantity INTEGER NOT NULL,
		purchased_quantity INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (purchased_quantity >= 0 AND purchased_quantity <= quantity)
	)`,
	`CREATE TABLE transactions (
		id BIGINT PRIMARY KEY,
		gift_item_id BIGINT NOT NULL,
		event_id TEXT NOT NULL,
		user_id TEXT,
		contributor_email TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		currency TEXT NOT NULL,
		request_id TEXT NOT NULL UNIQUE,
		gateway_reference TEXT UNIQUE,
		authorization_url TEXT,
		status TEXT NOT NULL,
		fee_amount NUMERIC(14,2),
		quantity_counted BOOLEAN NOT NULL DEFAULT FALSE,
		payout_status TEXT NOT NULL,
		payout_reference TEXT,
		refund_reference TEXT,
		refund_reason TEXT,
		failure_reason TEXT,
		completed_at DATETIME,
		refunded_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payouts (
		id BIGINT PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		beneficiary_type TEXT NOT NULL,
		beneficiary_id TEXT NOT NULL,
		recipient_code TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		currency TEXT NOT NULL,
		transaction_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		transfer_code TEXT,
		failure_reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		settled_at DATETIME
	)`,
	`CREATE TABLE webhook_events (
		id BIGINT PRIMARY KEY,
		event TEXT NOT NULL,
		reference TEXT,
		payload TEXT NOT NULL,
		outcome TEXT,
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
	`CREATE TABLE system_logs (
		id BIGINT PRIMARY KEY,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh database with the full schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SeedOwner inserts a tier (skipped when tierID is empty), a user and an
// event owned by that user.
func SeedOwner(t testing.TB, db *gorm.DB, tierID, feePct, userID, eventID string) {
	t.Helper()
	var tier any
	if tierID != "" {
		mustExec(t, db, "INSERT INTO subscription_tiers (id, name, transaction_fee_percentage) VALUES (?, ?, ?)", tierID, tierID, feePct)
		tier = tierID
	}
	mustExec(t, db, "INSERT INTO users (id, email, subscription_tier_id, payout_recipient_code) VALUES (?, ?, ?, ?)",
		userID, userID+"@example.com", tier, "RCP_"+userID)
	mustExec(t, db, "INSERT INTO events (id, user_id, name, language_id) VALUES (?, ?, ?, ?)",
		eventID, userID, "Ada & Tunde Wedding", "en")
}

// SeedGiftItem inserts a gift item with the given quantity bound.
func SeedGiftItem(t testing.TB, db *gorm.DB, id int64, eventID string, price string, quantity, purchased int) {
	t.Helper()
	now := time.Now().UTC()
	mustExec(t, db, `INSERT INTO gift_items (id, event_id, name, desired_price, quantity, purchased_quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, id, eventID, "Stand mixer", price, quantity, purchased, now, now)
}

// SeedSubscription prices tierID and subscribes userID to it. An empty
// authorization leaves the subscription without a saved card.
func SeedSubscription(t testing.TB, db *gorm.DB, id, userID, tierID, cycle, authorization string, due time.Time) {
	t.Helper()
	mustExec(t, db, "UPDATE subscription_tiers SET monthly_price = 5000, annual_price = 50000 WHERE id = ?", tierID)
	var method any
	if authorization != "" {
		method = "pm_" + id
		mustExec(t, db, "INSERT INTO payment_methods (id, user_id, paystack_authorization_code) VALUES (?, ?, ?)", method, userID, authorization)
	}
	mustExec(t, db, `INSERT INTO user_subscriptions (id, user_id, tier_id, payment_method_id, billing_cycle, status, next_billing_date, updated_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?, ?)`, id, userID, tierID, method, cycle, due, due)
}

// TxRow describes a transaction fixture.
type TxRow struct {
	ID              int64
	GiftItemID      int64
	EventID         string
	Amount          string
	Fee             string
	Status          string
	PayoutStatus    string
	PayoutReference string
	Reference       string
	CreatedAt       time.Time
	// Uncounted seeds a completed row that never took a gift item unit.
	Uncounted       bool
}

// SeedTransaction inserts a transaction fixture. Reference doubles as the
// request id when set.
func SeedTransaction(t testing.TB, db *gorm.DB, row TxRow) {
	t.Helper()
	if row.Status == "" {
		row.Status = "pending"
	}
	if row.PayoutStatus == "" {
		row.PayoutStatus = "pending"
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	requestID := row.Reference
	if requestID == "" {
		requestID = fmt.Sprintf("std_seed_%d", row.ID)
	}
	var fee, payoutRef, gatewayRef, completedAt any
	if row.Fee != "" {
		fee = row.Fee
	}
	if row.PayoutReference != "" {
		payoutRef = row.PayoutReference
	}
	if row.Reference != "" {
		gatewayRef = row.Reference
	}
	counted := false
	if row.Status == "completed" || row.Status == "refunded" {
		completedAt = row.CreatedAt
		counted = row.Status == "completed" && !row.Uncounted
	}
	mustExec(t, db, `INSERT INTO transactions (
		id, gift_item_id, event_id, contributor_email, amount, currency, request_id, gateway_reference,
		status, fee_amount, quantity_counted, payout_status, payout_reference, completed_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.GiftItemID, row.EventID, "guest@example.com", row.Amount, "NGN", requestID, gatewayRef,
		row.Status, fee, counted, row.PayoutStatus, payoutRef, completedAt, row.CreatedAt, row.CreatedAt)
}

// Count runs a COUNT query and returns the result.
func Count(t testing.TB, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return count
}

// AssertCount fails the test when the COUNT query does not match expected.
func AssertCount(t testing.TB, db *gorm.DB, expected int64, query string, args ...any) {
	t.Helper()
	if got := Count(t, db, query, args...); got != expected {
		t.Fatalf("expected %d rows for %q, got %d", expected, query, got)
	}
}

func mustExec(t testing.TB, db *gorm.DB, query string, args ...any) {
	t.Helper()
	if err := db.Exec(query, args...).Error; err != nil {
		t.Fatalf("seed exec failed: %v", err)
	}
}
