package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mirror-sync-service/internal/config"
	"mirror-sync-service/internal/httpclient"
	"mirror-sync-service/internal/logger"
	"mirror-sync-service/internal/store"
)

const jobReplay = "replay"

// EntityResult is the outcome for one catalog entry within a cycle.
type EntityResult struct {
	EntityName string         `json:"entity_name"`
	Skipped    bool           `json:"skipped,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Log        *store.SyncLog `json:"log,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type CycleReport struct {
	RunID      string         `json:"run_id"`
	Mode       Mode           `json:"mode"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Entities   []EntityResult `json:"entities"`
	Admins     *AdminReport   `json:"admins,omitempty"`
	AdminError string         `json:"admin_error,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type Status struct {
	Running map[string]bool         `json:"running"`
	Last    map[string]*CycleReport `json:"last"`
}

type Manager struct {
	cfg      config.SyncConfig
	store    store.Store
	clock    Clock
	registry *Registry

	auth    *AuthSession
	master  *MasterClient
	logs    *SyncLogRecorder
	fetcher *Fetcher
	merger  *MergeEngine
	admins  *AdminReplicator

	mu      sync.Mutex
	running map[string]bool
	last    map[string]*CycleReport
}

type Option func(*Manager)

func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.registry = r }
}

func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func NewManager(cfg *config.Config, st store.Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:      cfg.Sync,
		store:    st,
		clock:    SystemClock{},
		registry: DefaultRegistry(),
		running:  make(map[string]bool),
		last:     make(map[string]*CycleReport),
	}
	for _, opt := range opts {
		opt(m)
	}

	client, err := httpclient.New(httpclient.Option{
		BaseURL: cfg.Master.URL,
		Timeout: cfg.Master.GetTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create master client: %w", err)
	}

	m.auth = NewAuthSession(client, cfg.Master.Email, cfg.Master.Password,
		WithAuthClock(m.clock),
		WithCheckInterval(cfg.Master.GetSessionCheckInterval()),
	)
	m.master = NewMasterClient(client, m.auth)
	m.logs = NewSyncLogRecorder(st, m.clock)
	m.fetcher = NewFetcher(m.master, m.logs, cfg.Sync.DateFormat)
	guard := NewDeletionGuard(m.master, cfg.Sync.DeleteRecords)
	m.merger = NewMergeEngine(st, m.registry, guard, m.logs, m.clock, cfg.Sync.AbortOnCommitError)
	m.admins = NewAdminReplicator(m.master, st, m.clock)

	logger.Log.Info("Sync manager ready",
		zap.Strings("entity_types", m.registry.Names()),
		zap.Bool("delete_at_source", guard.Enabled()),
		zap.Bool("replicate_admins", cfg.Sync.ReplicateAdmins),
	)
	return m, nil
}

func (m *Manager) SyncLogs() *SyncLogRecorder {
	return m.logs
}

// acquire marks job as running. It never blocks: a second caller gets false.
func (m *Manager) acquire(job string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[job] {
		return false
	}
	m.running[job] = true
	return true
}

func (m *Manager) release(job string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, job)
}

// RunCycle executes one sync pass. Only one run per mode may be active; a
// concurrent call returns ErrRunInProgress immediately. Failures confined to
// one entity type are reported in the CycleReport; the returned error is
// reserved for failures that abort the whole cycle.
func (m *Manager) RunCycle(ctx context.Context, mode Mode) (*CycleReport, error) {
	job := string(mode)
	if !m.acquire(job) {
		return nil, ErrRunInProgress
	}
	defer m.release(job)

	run := RunInfo{
		RunID:     uuid.New().String(),
		Mode:      mode,
		StartedAt: m.clock.Now().UTC(),
	}
	report := &CycleReport{RunID: run.RunID, Mode: mode, StartedAt: run.StartedAt}
	defer func() {
		report.FinishedAt = m.clock.Now().UTC()
		m.mu.Lock()
		m.last[job] = report
		m.mu.Unlock()
	}()

	log := logger.Log.With(zap.String("run_id", run.RunID), zap.String("mode", string(mode)))
	log.Info("Starting sync cycle")

	if _, err := m.auth.EnsureToken(ctx); err != nil {
		log.Error("Sync cycle aborted", zap.Error(err))
		report.Error = err.Error()
		return report, err
	}

	catalog, err := m.master.Catalog(ctx)
	if err != nil {
		err = fmt.Errorf("failed to fetch catalog: %w", err)
		log.Error("Sync cycle aborted", zap.Error(err))
		report.Error = err.Error()
		return report, err
	}

	var wg sync.WaitGroup
	if m.cfg.ReplicateAdmins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admins, err := m.admins.ReplicateAdmins(ctx)
			report.Admins = &admins
			if err != nil {
				report.AdminError = err.Error()
				log.Error("Admin replication failed", zap.Error(err))
			}
		}()
	}

	var fatal error
	for _, entry := range flattenCatalog(catalog) {
		if ctx.Err() != nil {
			report.Error = ctx.Err().Error()
			break
		}
		result, err := m.syncEntry(ctx, log, entry, run)
		report.Entities = append(report.Entities, result)
		if err != nil {
			fatal = err
			report.Error = err.Error()
			log.Error("Sync cycle aborted", zap.String("entity", entry.EntityName), zap.Error(err))
			break
		}
	}

	wg.Wait()
	if fatal != nil {
		return report, fatal
	}
	log.Info("Sync cycle finished", zap.Int("entities", len(report.Entities)))
	return report, ctx.Err()
}

// authFailure extracts an *AuthError from err. The master rejecting our
// credentials ends the cycle: every later request would fail the same way.
func authFailure(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// syncEntry returns a non-nil error only when the whole cycle must stop.
func (m *Manager) syncEntry(ctx context.Context, log *zap.Logger, entry CatalogEntry, run RunInfo) (EntityResult, error) {
	result := EntityResult{EntityName: entry.EntityName}
	log = log.With(zap.String("entity", entry.EntityName))

	if _, ok := m.registry.Lookup(entry.EntityName); !ok {
		result.Skipped = true
		result.Reason = ErrUnknownEntity.Error()
		log.Warn("Skipping entity type with no registered codec")
		return result, nil
	}
	if entry.FetchURL == "" && entry.RecordCount > 0 {
		result.Skipped = true
		result.Reason = "no fetch url; carried in parent payload"
		log.Debug("Skipping entity type without its own fetch url")
		return result, nil
	}

	records, err := m.fetcher.Fetch(ctx, &entry, run.Mode)
	if authErr, ok := authFailure(err); ok {
		result.Skipped = true
		result.Reason = "authentication failed"
		result.Error = err.Error()
		return result, authErr
	}
	if err != nil {
		result.Skipped = true
		result.Reason = "fetch failed"
		result.Error = err.Error()
		log.Warn("Fetch failed, watermark left unchanged", zap.Error(err))
		return result, nil
	}

	syncLog, err := m.merger.Merge(ctx, entry, records, run)
	result.Log = syncLog
	if err != nil {
		result.Error = err.Error()
		if authErr, ok := authFailure(err); ok {
			return result, authErr
		}
		log.Error("Entity batch aborted", zap.Error(err))
		return result, nil
	}

	log.Info("Entity synced",
		zap.Int("success", syncLog.SuccessCount),
		zap.Int("failure", syncLog.FailureCount),
	)
	return result, nil
}

// ReplayFailed re-merges stored failures for one entity type.
func (m *Manager) ReplayFailed(ctx context.Context, entityName string) (*ReplayReport, error) {
	if !m.acquire(jobReplay) {
		return nil, ErrRunInProgress
	}
	defer m.release(jobReplay)

	run := RunInfo{RunID: uuid.New().String(), Mode: ModeFull, StartedAt: m.clock.Now().UTC()}
	report, err := m.merger.Replay(ctx, entityName, run)
	if err != nil && !errors.Is(err, ErrUnknownEntity) {
		logger.Log.Error("Replay aborted", zap.String("entity", entityName), zap.Error(err))
	}
	return report, err
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Running: make(map[string]bool, len(m.running)),
		Last:    make(map[string]*CycleReport, len(m.last)),
	}
	for k, v := range m.running {
		s.Running[k] = v
	}
	for k, v := range m.last {
		s.Last[k] = v
	}
	return s
}

func (m *Manager) IsRunning(mode Mode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[string(mode)]
}
