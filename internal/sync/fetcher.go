package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"mirror-sync-service/internal/logger"
)

// Fetcher pulls the records of one catalog entry from the master.
type Fetcher struct {
	master     *MasterClient
	logs       *SyncLogRecorder
	dateFormat string
}

func NewFetcher(master *MasterClient, logs *SyncLogRecorder, dateFormat string) *Fetcher {
	return &Fetcher{master: master, logs: logs, dateFormat: dateFormat}
}

// Fetch returns the entry's records and attaches them to entry.Payload. Known
// empty types are answered without a request. In incremental mode the newest
// SyncLog row for the entity supplies the `after` filter.
func (f *Fetcher) Fetch(ctx context.Context, entry *CatalogEntry, mode Mode) ([]RemoteRecord, error) {
	entry.Payload = nil
	if entry.RecordCount == 0 {
		return nil, nil
	}
	if entry.FetchURL == "" {
		return nil, fmt.Errorf("catalog entry %s has no fetch url", entry.EntityName)
	}

	ref := entry.FetchURL
	if mode == ModeIncremental {
		last, err := f.logs.Latest(ctx, entry.EntityName)
		if err != nil {
			return nil, fmt.Errorf("failed to read watermark for %s: %w", entry.EntityName, err)
		}
		if last != nil {
			ref, err = withAfter(ref, last.RunStartedAt.UTC().Format(f.dateFormat))
			if err != nil {
				return nil, err
			}
		}
	}

	logger.Log.Debug("Fetching records", zap.String("entity", entry.EntityName), zap.String("ref", ref))

	var raw []json.RawMessage
	if err := f.master.Get(ctx, ref, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", entry.EntityName, err)
	}

	records := make([]RemoteRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, NewRemoteRecord(r))
	}
	entry.Payload = records
	return records, nil
}

func withAfter(ref, watermark string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid fetch url %q: %w", ref, err)
	}
	q := u.Query()
	q.Set("after", watermark)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
