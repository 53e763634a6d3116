package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mirror-sync-service/internal/config"
	"mirror-sync-service/internal/database"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_mysql.sql
var mysqlSchema string

const defaultListLimit = 100

// SQLStore implements Store on MySQL or SQLite. Queries stay within the
// subset both dialects accept; only the DDL differs.
type SQLStore struct {
	db *database.Database
}

// New opens the configured state storage and applies its schema.
func New(cfg config.StateStorage) (*SQLStore, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLStore(db *database.Database) (*SQLStore, error) {
	schema := sqliteSchema
	if db.Driver == database.DriverMySQL {
		schema = mysqlSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.DB.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

const syncLogColumns = `id, run_id, entity_name, mode, run_started_at, last_updated_at, successful, success_count, failure_count, error_text`

func (s *SQLStore) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	query := `INSERT INTO sync_log (` + syncLogColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
		log.ID,
		log.RunID,
		log.EntityName,
		log.Mode,
		log.RunStartedAt.UTC(),
		log.LastUpdatedAt.UTC(),
		log.Successful,
		log.SuccessCount,
		log.FailureCount,
		log.ErrorText,
	)
	return err
}

func (s *SQLStore) UpdateSyncLog(ctx context.Context, log *SyncLog) error {
	query := `UPDATE sync_log SET last_updated_at = ?, successful = ?, success_count = ?, failure_count = ?, error_text = ?
			  WHERE id = ?`

	_, err := s.db.DB.ExecContext(ctx, query,
		log.LastUpdatedAt.UTC(),
		log.Successful,
		log.SuccessCount,
		log.FailureCount,
		log.ErrorText,
		log.ID,
	)
	return err
}

func scanSyncLog(row interface{ Scan(...any) error }) (*SyncLog, error) {
	var l SyncLog
	err := row.Scan(
		&l.ID,
		&l.RunID,
		&l.EntityName,
		&l.Mode,
		&l.RunStartedAt,
		&l.LastUpdatedAt,
		&l.Successful,
		&l.SuccessCount,
		&l.FailureCount,
		&l.ErrorText,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLStore) LatestSyncLog(ctx context.Context, entityName string) (*SyncLog, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_log WHERE entity_name = ?
			  ORDER BY run_started_at DESC, last_updated_at DESC LIMIT 1`

	l, err := scanSyncLog(s.db.DB.QueryRowContext(ctx, query, entityName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListSyncLogs returns newest first. An empty entityName lists every entity.
func (s *SQLStore) ListSyncLogs(ctx context.Context, entityName string, limit, offset int) ([]*SyncLog, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + syncLogColumns + ` FROM sync_log`
	args := []any{}
	if entityName != "" {
		query += ` WHERE entity_name = ?`
		args = append(args, entityName)
	}
	query += ` ORDER BY run_started_at DESC, last_updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLStore) PurgeSyncLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM sync_log WHERE run_started_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) GetRecord(ctx context.Context, entityName, recordID string) (*Record, error) {
	query := `SELECT entity_name, record_id, table_name, payload, updated_at
			  FROM mirror_records WHERE entity_name = ? AND record_id = ?`

	var (
		r       Record
		payload []byte
	)
	err := s.db.DB.QueryRowContext(ctx, query, entityName, recordID).Scan(
		&r.EntityName,
		&r.RecordID,
		&r.TableName,
		&payload,
		&r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Payload = payload
	return &r, nil
}

// SaveRecord inserts or updates one record in its own transaction.
func (s *SQLStore) SaveRecord(ctx context.Context, record *Record) error {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM mirror_records WHERE entity_name = ? AND record_id = ?`,
			record.EntityName, record.RecordID,
		).Scan(&exists)
		if err != nil {
			return err
		}

		if exists > 0 {
			_, err = tx.ExecContext(ctx,
				`UPDATE mirror_records SET table_name = ?, payload = ?, updated_at = ? WHERE entity_name = ? AND record_id = ?`,
				record.TableName, string(record.Payload), record.UpdatedAt.UTC(), record.EntityName, record.RecordID,
			)
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO mirror_records (entity_name, record_id, table_name, payload, updated_at) VALUES (?, ?, ?, ?, ?)`,
			record.EntityName, record.RecordID, record.TableName, string(record.Payload), record.UpdatedAt.UTC(),
		)
		return err
	})
}

func (s *SQLStore) CountRecords(ctx context.Context, entityName string) (int, error) {
	var n int
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mirror_records WHERE entity_name = ?`, entityName,
	).Scan(&n)
	return n, err
}

// SaveFailedRecord stores a merge failure. A record that already failed keeps
// its row; the error and payload are replaced and attempts incremented.
func (s *SQLStore) SaveFailedRecord(ctx context.Context, record *FailedRecord) error {
	now := time.Now().UTC()
	record.UpdatedAt = now

	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		if record.RecordID != "" {
			var (
				id       string
				attempts int
			)
			err := tx.QueryRowContext(ctx,
				`SELECT id, attempts FROM failed_records WHERE entity_name = ? AND record_id = ?`,
				record.EntityName, record.RecordID,
			).Scan(&id, &attempts)
			switch {
			case err == nil:
				record.ID = id
				record.Attempts = attempts + 1
				_, err = tx.ExecContext(ctx,
					`UPDATE failed_records SET run_id = ?, table_name = ?, sensitivity = ?, payload = ?, self_link = ?, error = ?, attempts = ?, updated_at = ?
					 WHERE id = ?`,
					record.RunID, record.TableName, record.Sensitivity, string(record.Payload), record.SelfLink,
					record.Error, record.Attempts, now, id,
				)
				return err
			case err != sql.ErrNoRows:
				return err
			}
		}

		if record.ID == "" {
			record.ID = uuid.New().String()
		}
		record.Attempts = 1
		record.CreatedAt = now
		_, err := tx.ExecContext(ctx,
			`INSERT INTO failed_records (id, run_id, entity_name, record_id, table_name, sensitivity, payload, self_link, error, attempts, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ID, record.RunID, record.EntityName, record.RecordID, record.TableName, record.Sensitivity,
			string(record.Payload), record.SelfLink, record.Error, record.Attempts, now, now,
		)
		return err
	})
}

func (s *SQLStore) ListFailedRecords(ctx context.Context, entityName string) ([]*FailedRecord, error) {
	query := `SELECT id, run_id, entity_name, record_id, table_name, sensitivity, payload, self_link, error, attempts, created_at, updated_at
			  FROM failed_records WHERE entity_name = ? ORDER BY created_at`

	rows, err := s.db.DB.QueryContext(ctx, query, entityName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*FailedRecord
	for rows.Next() {
		var (
			r       FailedRecord
			payload []byte
		)
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.EntityName,
			&r.RecordID,
			&r.TableName,
			&r.Sensitivity,
			&payload,
			&r.SelfLink,
			&r.Error,
			&r.Attempts,
			&r.CreatedAt,
			&r.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		r.Payload = payload
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *SQLStore) DeleteFailedRecord(ctx context.Context, id string) error {
	_, err := s.db.DB.ExecContext(ctx, `DELETE FROM failed_records WHERE id = ?`, id)
	return err
}

// DeleteFailedRecordByKey clears the stored failure for one record, if any.
func (s *SQLStore) DeleteFailedRecordByKey(ctx context.Context, entityName, recordID string) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM failed_records WHERE entity_name = ? AND record_id = ?`, entityName, recordID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) SaveCredential(ctx context.Context, cred *Credential) error {
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now()
	}
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_credentials WHERE id = ?`, cred.ID).Scan(&exists)
		if err != nil {
			return err
		}

		if exists > 0 {
			_, err = tx.ExecContext(ctx,
				`UPDATE admin_credentials SET email = ?, password_hash = ?, role = ?, session_token = ?, updated_at = ? WHERE id = ?`,
				cred.Email, cred.PasswordHash, cred.Role, cred.SessionToken, cred.UpdatedAt.UTC(), cred.ID,
			)
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO admin_credentials (id, email, password_hash, role, session_token, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			cred.ID, cred.Email, cred.PasswordHash, cred.Role, cred.SessionToken, cred.UpdatedAt.UTC(),
		)
		return err
	})
}

func (s *SQLStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	var c Credential
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, session_token, updated_at FROM admin_credentials WHERE id = ?`, id,
	).Scan(&c.ID, &c.Email, &c.PasswordHash, &c.Role, &c.SessionToken, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
