package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenMySQL opens one connection pool and a gorm handle sharing it.
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, *gorm.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, gdb, nil
}

const createSnapshotsTable = `CREATE TABLE IF NOT EXISTS board_snapshots (
	board_id   VARCHAR(64)     NOT NULL,
	revision   BIGINT UNSIGNED NOT NULL,
	content    LONGTEXT        NOT NULL,
	created_at DATETIME(3)     NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	PRIMARY KEY (board_id, revision)
)`

// Migrate creates the tables this service owns.
func Migrate(ctx context.Context, db *sql.DB, gdb *gorm.DB) error {
	if _, err := db.ExecContext(ctx, createSnapshotsTable); err != nil {
		return fmt.Errorf("create board_snapshots: %w", err)
	}
	if err := gdb.WithContext(ctx).AutoMigrate(&Board{}, &BoardMember{}); err != nil {
		return fmt.Errorf("migrate boards: %w", err)
	}
	return nil
}
