package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"mirror-sync-service/internal/config"
	"mirror-sync-service/internal/logger"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

type Database struct {
	DB     *sql.DB
	Driver string
	Config config.StateStorage
}

// Open connects to the mirror's local store. MySQL is pinged with retries so
// the service can start alongside its database container; SQLite is limited to
// a single connection because it supports one writer at a time.
func Open(cfg config.StateStorage) (*Database, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Type {
	case DriverMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		db, err = sql.Open(DriverMySQL, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql connection: %w", err)
		}
		if err := pingWithRetry(db, 30); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping mysql after retries: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)

	case DriverSQLite:
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", cfg.FilePath)
		db, err = sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

	default:
		return nil, fmt.Errorf("unsupported state storage type %q", cfg.Type)
	}

	logger.Log.Info("Connected to state storage",
		zap.String("driver", cfg.Type),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.String("file", cfg.FilePath),
	)

	return &Database{
		DB:     db,
		Driver: cfg.Type,
		Config: cfg,
	}, nil
}

func pingWithRetry(db *sql.DB, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = db.Ping()
		if err == nil {
			return nil
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}
	return err
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
