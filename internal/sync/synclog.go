package sync

import (
	"context"
	"time"

	"mirror-sync-service/internal/store"
)

// SyncLogRecorder persists SyncLog rows. The newest row for an entity is its
// watermark whether or not that run was fully successful: records rejected in
// run N are not fetched again in run N+1 unless the master changes them, which
// is what ReplayFailed exists for.
type SyncLogRecorder struct {
	store store.Store
	clock Clock
}

func NewSyncLogRecorder(s store.Store, clock Clock) *SyncLogRecorder {
	return &SyncLogRecorder{store: s, clock: clock}
}

// Start creates the row for entityName in this run with zero counts.
func (r *SyncLogRecorder) Start(ctx context.Context, entityName string, run RunInfo) (*store.SyncLog, error) {
	l := &store.SyncLog{
		RunID:         run.RunID,
		EntityName:    entityName,
		Mode:          string(run.Mode),
		RunStartedAt:  run.StartedAt,
		LastUpdatedAt: r.clock.Now(),
		Successful:    true,
	}
	if err := r.store.CreateSyncLog(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *SyncLogRecorder) Save(ctx context.Context, l *store.SyncLog) error {
	l.LastUpdatedAt = r.clock.Now()
	return r.store.UpdateSyncLog(ctx, l)
}

func (r *SyncLogRecorder) Latest(ctx context.Context, entityName string) (*store.SyncLog, error) {
	return r.store.LatestSyncLog(ctx, entityName)
}

func (r *SyncLogRecorder) List(ctx context.Context, entityName string, limit, offset int) ([]*store.SyncLog, error) {
	return r.store.ListSyncLogs(ctx, entityName, limit, offset)
}

// Purge removes rows whose run started more than olderThan ago.
func (r *SyncLogRecorder) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return r.store.PurgeSyncLogs(ctx, r.clock.Now().Add(-olderThan))
}
