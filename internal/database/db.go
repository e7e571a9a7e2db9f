package database

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/event-reservation/internal/config"
)

// DSN builds the driver DSN.  parseTime=true maps DATETIME to time.Time and
// loc=UTC keeps times consistent.  innodb_lock_wait_timeout is not a driver
// option, so the driver issues it as a session SET on every new connection;
// that is what bounds a blocked SELECT ... FOR UPDATE.
func DSN(cfg config.Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPass
	mc.Net = "tcp"
	mc.Addr = cfg.DBHost + ":" + cfg.DBPort
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	if cfg.DBLockWaitSeconds > 0 {
		mc.Params["innodb_lock_wait_timeout"] = strconv.Itoa(cfg.DBLockWaitSeconds)
	}
	return mc.FormatDSN()
}

// Open connects to MySQL and verifies the connection.
func Open(dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
