package sync

import (
	"context"

	"go.uber.org/zap"

	"mirror-sync-service/internal/logger"
)

// DeletionGuard removes sensitive records from the master once the mirror has
// committed them. Disabled, it never calls the master.
type DeletionGuard struct {
	master  *MasterClient
	enabled bool
}

func NewDeletionGuard(master *MasterClient, enabled bool) *DeletionGuard {
	return &DeletionGuard{master: master, enabled: enabled}
}

func (g *DeletionGuard) Enabled() bool {
	return g.enabled
}

// MaybeDelete fails closed: a record without a self link is an error, never a
// silent skip.
func (g *DeletionGuard) MaybeDelete(ctx context.Context, rec RemoteRecord) error {
	if !g.enabled {
		return nil
	}
	if rec.Links.Self == "" {
		return &DeletionError{RecordID: rec.ID, Err: ErrMissingSelfLink}
	}
	if err := g.master.Delete(ctx, rec.Links.Self); err != nil {
		return &DeletionError{RecordID: rec.ID, Link: rec.Links.Self, Err: err}
	}
	logger.Log.Info("Deleted record at source", zap.String("id", rec.ID), zap.String("link", rec.Links.Self))
	return nil
}
