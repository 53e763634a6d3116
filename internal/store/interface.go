package store

import (
	"context"
	"time"
)

type Store interface {
	// Sync Log
	CreateSyncLog(ctx context.Context, log *SyncLog) error
	UpdateSyncLog(ctx context.Context, log *SyncLog) error
	LatestSyncLog(ctx context.Context, entityName string) (*SyncLog, error)
	ListSyncLogs(ctx context.Context, entityName string, limit, offset int) ([]*SyncLog, error)
	PurgeSyncLogs(ctx context.Context, before time.Time) (int64, error)

	// Mirrored records
	GetRecord(ctx context.Context, entityName, recordID string) (*Record, error)
	SaveRecord(ctx context.Context, record *Record) error
	CountRecords(ctx context.Context, entityName string) (int, error)

	// Failed records
	SaveFailedRecord(ctx context.Context, record *FailedRecord) error
	ListFailedRecords(ctx context.Context, entityName string) ([]*FailedRecord, error)
	DeleteFailedRecord(ctx context.Context, id string) error
	DeleteFailedRecordByKey(ctx context.Context, entityName, recordID string) (int64, error)

	// Admin credentials
	SaveCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)

	// General
	Close() error
}
