package sync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mirror-sync-service/internal/config"
	"mirror-sync-service/internal/store"
)

const testDateFormat = "2006-01-02T15:04:05"

// fakeMaster is an in-process stand-in for the master deployment.
type fakeMaster struct {
	server *httptest.Server

	mu            sync.Mutex
	token         string
	failLogin     bool
	logins        int
	sessionChecks int
	requests      int
	catalog       []CatalogEntry
	admins        []map[string]any
	records       map[string][]map[string]any // served when no after filter is given
	recordsAfter  map[string][]map[string]any // served when an after filter is given
	failPaths     map[string]int
	unauthorized  map[string]int // path -> number of 401s still to send
	fetches       map[string]int
	lastQuery     map[string]string
	deletes       []string
	deleteStatus  int
}

func newFakeMaster(t *testing.T) *fakeMaster {
	t.Helper()
	fm := &fakeMaster{
		records:      map[string][]map[string]any{},
		recordsAfter: map[string][]map[string]any{},
		failPaths:    map[string]int{},
		unauthorized: map[string]int{},
		fetches:      map[string]int{},
		lastQuery:    map[string]string{},
		deleteStatus: http.StatusNoContent,
	}
	fm.server = httptest.NewServer(http.HandlerFunc(fm.handle))
	t.Cleanup(fm.server.Close)
	return fm
}

func (fm *fakeMaster) handle(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.requests++

	if r.Method == http.MethodPost && r.URL.Path == loginPath {
		fm.logins++
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if fm.failLogin || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fm.token = "tok-" + strings.Repeat("x", fm.logins)
		writeJSON(w, map[string]string{"token": fm.token})
		return
	}

	if fm.token == "" || r.Header.Get("Authorization") != "Bearer "+fm.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if r.Method == http.MethodDelete {
		fm.deletes = append(fm.deletes, r.URL.Path)
		w.WriteHeader(fm.deleteStatus)
		return
	}

	switch r.URL.Path {
	case sessionPath:
		fm.sessionChecks++
		writeJSON(w, map[string]string{"status": "ok"})
		return
	case catalogPath:
		writeJSON(w, fm.catalog)
		return
	case adminExportPath:
		if status, ok := fm.failPaths[r.URL.Path]; ok {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, fm.admins)
		return
	}

	fm.fetches[r.URL.Path]++
	fm.lastQuery[r.URL.Path] = r.URL.RawQuery
	if n := fm.unauthorized[r.URL.Path]; n > 0 {
		fm.unauthorized[r.URL.Path] = n - 1
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if status, ok := fm.failPaths[r.URL.Path]; ok {
		w.WriteHeader(status)
		return
	}
	payload := fm.records[r.URL.Path]
	if r.URL.Query().Get("after") != "" {
		payload = fm.recordsAfter[r.URL.Path]
	}
	if payload == nil {
		payload = []map[string]any{}
	}
	writeJSON(w, payload)
}

func (fm *fakeMaster) with(fn func(fm *fakeMaster)) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fn(fm)
}

func (fm *fakeMaster) setRecords(path string, payloads ...map[string]any) {
	fm.with(func(fm *fakeMaster) { fm.records[path] = payloads })
}

func (fm *fakeMaster) query(path string) string {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.lastQuery[path]
}

func (fm *fakeMaster) stats() (logins, requests int) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.logins, fm.requests
}

func (fm *fakeMaster) fetchCount(path string) int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.fetches[path]
}

func (fm *fakeMaster) deleted() []string {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return append([]string(nil), fm.deletes...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(masterURL string) *config.Config {
	return &config.Config{
		Master: config.MasterConfig{
			URL:                  masterURL,
			Email:                "mirror@example.org",
			Password:             "secret",
			Timeout:              "5s",
			SessionCheckInterval: "5m",
		},
		Sync: config.SyncConfig{
			IntervalMinutes:    5,
			DateFormat:         testDateFormat,
			AbortOnCommitError: true,
		},
		Scheduler: config.SchedulerConfig{Enabled: true, FullBackupSchedule: "@daily"},
	}
}

func createTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.New(config.StateStorage{
		Type:     "sqlite3",
		FilePath: filepath.Join(t.TempDir(), "mirror.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type testEnv struct {
	master  *fakeMaster
	store   *store.SQLStore
	clock   *fakeClock
	manager *Manager
}

func newTestEnv(t *testing.T, registry *Registry, mutate func(*config.Config)) *testEnv {
	t.Helper()
	fm := newFakeMaster(t)
	cfg := testConfig(fm.server.URL)
	if mutate != nil {
		mutate(cfg)
	}
	st := createTestStore(t)
	clock := newFakeClock()

	m, err := NewManager(cfg, st, WithRegistry(registry), WithClock(clock))
	require.NoError(t, err)

	return &testEnv{master: fm, store: st, clock: clock, manager: m}
}

func widgetRegistry() *Registry {
	return NewRegistry(DocumentType("widget", "name"))
}

func widgetEntry(count int, sensitivity Sensitivity) CatalogEntry {
	return CatalogEntry{
		TableName:   "widgets",
		EntityName:  "widget",
		RecordCount: count,
		FetchURL:    "/api/export/widget",
		Sensitivity: sensitivity,
	}
}

func rawRecords(t *testing.T, payloads ...string) []RemoteRecord {
	t.Helper()
	out := make([]RemoteRecord, 0, len(payloads))
	for _, p := range payloads {
		require.True(t, json.Valid([]byte(p)), p)
		out = append(out, NewRemoteRecord(json.RawMessage(p)))
	}
	return out
}

func testRun(clock Clock) RunInfo {
	return RunInfo{RunID: "run-1", Mode: ModeIncremental, StartedAt: clock.Now()}
}
