package sync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mirror-sync-service/internal/logger"
	"mirror-sync-service/internal/store"
)

// MergeEngine upserts fetched records into the local store, one commit per
// record, and hands committed sensitive records to the DeletionGuard.
type MergeEngine struct {
	store              store.Store
	registry           *Registry
	guard              *DeletionGuard
	logs               *SyncLogRecorder
	clock              Clock
	abortOnCommitError bool
}

func NewMergeEngine(s store.Store, registry *Registry, guard *DeletionGuard, logs *SyncLogRecorder, clock Clock, abortOnCommitError bool) *MergeEngine {
	return &MergeEngine{
		store:              s,
		registry:           registry,
		guard:              guard,
		logs:               logs,
		clock:              clock,
		abortOnCommitError: abortOnCommitError,
	}
}

// Merge processes records for one catalog entry and returns the SyncLog row
// written for it. Validation failures are counted and skipped. A deletion
// failure, or a commit failure when abortOnCommitError is set, stops the batch;
// the row is still saved with the counts so far and the error is returned.
func (m *MergeEngine) Merge(ctx context.Context, entry CatalogEntry, records []RemoteRecord, run RunInfo) (*store.SyncLog, error) {
	et, ok := m.registry.Lookup(entry.EntityName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entry.EntityName)
	}

	log, err := m.logs.Start(ctx, entry.EntityName, run)
	if err != nil {
		return nil, fmt.Errorf("failed to start sync log for %s: %w", entry.EntityName, err)
	}

	var batchErr error
	for _, rec := range records {
		committed, err := m.mergeOne(ctx, et, entry, rec)
		if committed {
			log.SuccessCount++
		}
		if committed && err == nil {
			m.clearFailure(ctx, entry, rec)
		}
		if rec.LinkErr != nil && err == nil {
			log.AppendError(fmt.Sprintf("record %s: ignored malformed _links: %v", rec.ID, rec.LinkErr))
			logger.Log.Warn("Malformed _links on record",
				zap.String("entity", entry.EntityName),
				zap.String("id", rec.ID),
				zap.Error(rec.LinkErr),
			)
		}
		if err != nil {
			log.AppendError(err.Error())
			if !committed {
				log.FailureCount++
			}
			m.recordFailure(ctx, run, entry, rec, err)
			logger.Log.Warn("Record merge failed",
				zap.String("entity", entry.EntityName),
				zap.String("id", rec.ID),
				zap.Error(err),
			)
			if m.aborts(err) {
				batchErr = err
			}
		}

		if saveErr := m.logs.Save(ctx, log); saveErr != nil {
			logger.Log.Error("Failed to update sync log", zap.String("entity", entry.EntityName), zap.Error(saveErr))
		}
		if batchErr != nil {
			break
		}
	}

	log.Successful = log.FailureCount == 0 && batchErr == nil
	if err := m.logs.Save(ctx, log); err != nil {
		if batchErr == nil {
			batchErr = fmt.Errorf("failed to save sync log for %s: %w", entry.EntityName, err)
		}
	}

	return log, batchErr
}

// mergeOne reports whether the record was committed locally; a committed
// record can still return an error from the deletion step.
func (m *MergeEngine) mergeOne(ctx context.Context, et EntityType, entry CatalogEntry, rec RemoteRecord) (bool, error) {
	if rec.ID == "" {
		return false, &ValidationError{Reason: "id is required"}
	}

	// A sensitive record must not be committed unless it can be deleted at
	// the source afterwards.
	if rec.LinkErr != nil && entry.Sensitivity == Sensitive && m.guard.Enabled() {
		return false, &ValidationError{RecordID: rec.ID, Reason: fmt.Sprintf("malformed _links: %v", rec.LinkErr)}
	}

	existing, err := m.store.GetRecord(ctx, entry.EntityName, rec.ID)
	if err != nil {
		return false, &CommitError{RecordID: rec.ID, Err: fmt.Errorf("lookup: %w", err)}
	}

	record, err := et.Decode(rec, existing)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return false, vErr
		}
		return false, &ValidationError{RecordID: rec.ID, Reason: err.Error()}
	}
	record.EntityName = entry.EntityName
	record.RecordID = rec.ID
	record.TableName = entry.TableName
	record.UpdatedAt = m.clock.Now()

	if existing != nil && existing.TableName == record.TableName && sameDocument(existing.Payload, record.Payload) {
		logger.Log.Debug("Record unchanged", zap.String("entity", entry.EntityName), zap.String("id", rec.ID))
	} else if err := et.Upsert(ctx, m.store, record); err != nil {
		return false, &CommitError{RecordID: rec.ID, Err: err}
	}

	if entry.Sensitivity == Sensitive {
		if err := m.guard.MaybeDelete(ctx, rec); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (m *MergeEngine) aborts(err error) bool {
	var delErr *DeletionError
	if errors.As(err, &delErr) {
		return true
	}
	var commitErr *CommitError
	if errors.As(err, &commitErr) {
		return m.abortOnCommitError
	}
	return false
}

// clearFailure drops a stored failure once a newer copy of the record has
// been committed, so replay cannot bring the stale payload back.
func (m *MergeEngine) clearFailure(ctx context.Context, entry CatalogEntry, rec RemoteRecord) {
	n, err := m.store.DeleteFailedRecordByKey(ctx, entry.EntityName, rec.ID)
	if err != nil {
		logger.Log.Error("Failed to clear stored failure",
			zap.String("entity", entry.EntityName),
			zap.String("id", rec.ID),
			zap.Error(err),
		)
		return
	}
	if n > 0 {
		logger.Log.Info("Cleared stored failure after commit", zap.String("entity", entry.EntityName), zap.String("id", rec.ID))
	}
}

func (m *MergeEngine) recordFailure(ctx context.Context, run RunInfo, entry CatalogEntry, rec RemoteRecord, cause error) {
	failed := &store.FailedRecord{
		RunID:       run.RunID,
		EntityName:  entry.EntityName,
		RecordID:    rec.ID,
		TableName:   entry.TableName,
		Sensitivity: string(entry.Sensitivity),
		Payload:     rec.Payload,
		SelfLink:    rec.Links.Self,
		Error:       cause.Error(),
	}
	if err := m.store.SaveFailedRecord(ctx, failed); err != nil {
		logger.Log.Error("Failed to keep failed record for replay",
			zap.String("entity", entry.EntityName),
			zap.String("id", rec.ID),
			zap.Error(err),
		)
	}
}

// ReplayReport summarises a ReplayFailed pass.
type ReplayReport struct {
	EntityName string `json:"entity_name"`
	Attempted  int    `json:"attempted"`
	Recovered  int    `json:"recovered"`
	Failed     int    `json:"failed"`
}

// Replay runs stored failures for entityName through the same decode, commit
// and delete steps as Merge. Recovered records leave the failure table; a
// committed record whose source delete failed stays until the delete works. No
// SyncLog row is written, so the entity's watermark does not move.
func (m *MergeEngine) Replay(ctx context.Context, entityName string, run RunInfo) (*ReplayReport, error) {
	et, ok := m.registry.Lookup(entityName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityName)
	}

	failed, err := m.store.ListFailedRecords(ctx, entityName)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed records for %s: %w", entityName, err)
	}

	report := &ReplayReport{EntityName: entityName}
	for _, f := range failed {
		report.Attempted++
		entry := CatalogEntry{
			EntityName:  f.EntityName,
			TableName:   f.TableName,
			Sensitivity: Sensitivity(f.Sensitivity),
		}
		rec := RemoteRecord{ID: f.RecordID, Payload: f.Payload, Links: Links{Self: f.SelfLink}}

		committed, err := m.mergeOne(ctx, et, entry, rec)
		if committed && err == nil {
			report.Recovered++
			if delErr := m.store.DeleteFailedRecord(ctx, f.ID); delErr != nil {
				logger.Log.Error("Failed to clear replayed record", zap.String("id", f.ID), zap.Error(delErr))
			}
		} else {
			report.Failed++
			// Without an id there is nothing to key the stored row on; it
			// stays as it was.
			if rec.ID != "" {
				m.recordFailure(ctx, run, entry, rec, err)
			}
		}
		if err != nil && m.aborts(err) {
			return report, err
		}
	}
	return report, nil
}
