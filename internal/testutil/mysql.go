// Package testutil opens the MySQL database used by integration tests.
// Tests skip when it is unreachable.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/iliyamo/event-reservation/internal/database"
	"github.com/iliyamo/event-reservation/internal/utils"
)

const (
	defaultTestDSN = "root:root@tcp(127.0.0.1:3306)/event_reservation_test?parseTime=true&loc=UTC&innodb_lock_wait_timeout=3"
	testLockName   = "event_reservation_tests"
)

// NewTestDB connects to TEST_DATABASE_DSN, applies migrations and holds a
// named lock so packages testing in parallel do not truncate each other.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = defaultTestDSN
	}

	db, err := database.Open(dsn, 16)
	if err != nil {
		t.Skipf("skipping MySQL integration tests: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	lockTestDB(t, db)
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// TruncateAll empties every application table.
func TruncateAll(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("truncate conn: %v", err)
	}
	defer conn.Close()

	stmts := []string{
		"SET FOREIGN_KEY_CHECKS=0",
		"TRUNCATE TABLE user_events",
		"TRUNCATE TABLE events",
		"TRUNCATE TABLE user_settings",
		"TRUNCATE TABLE refresh_tokens",
		"TRUNCATE TABLE users",
		"SET FOREIGN_KEY_CHECKS=1",
	}
	for _, s := range stmts {
		if _, err := conn.ExecContext(ctx, s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
}

// InsertUser creates a user with a throwaway password and returns its id.
func InsertUser(t *testing.T, ctx context.Context, db *sql.DB, username, role string) uint64 {
	t.Helper()
	hash, err := utils.HashPassword("password", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	res, err := db.ExecContext(ctx, "INSERT INTO users (username, password_hash, role) VALUES (?,?,?)", username, hash, role)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	id, _ := res.LastInsertId()
	return uint64(id)
}

func lockTestDB(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("acquire lock conn: %v", err)
	}
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 60)", testLockName).Scan(&got); err != nil || got.Int64 != 1 {
		_ = conn.Close()
		t.Fatalf("acquire test lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(context.Background(), "DO RELEASE_LOCK(?)", testLockName)
		_ = conn.Close()
	})
}
