package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mirror-sync-service/internal/config"
)

func TestScheduler_RegistersBothJobs(t *testing.T) {
	env := newTestEnv(t, widgetRegistry(), nil)
	s := NewScheduler(config.SchedulerConfig{Enabled: true, FullBackupSchedule: "0 3 * * *"}, 5, env.manager)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	assert.Len(t, s.cron.Entries(), 2)
}

func TestScheduler_Disabled(t *testing.T) {
	env := newTestEnv(t, widgetRegistry(), nil)
	s := NewScheduler(config.SchedulerConfig{Enabled: false, FullBackupSchedule: "@daily"}, 5, env.manager)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	assert.Empty(t, s.cron.Entries())
}

func TestScheduler_InvalidFullSchedule(t *testing.T) {
	env := newTestEnv(t, widgetRegistry(), nil)
	s := NewScheduler(config.SchedulerConfig{Enabled: true, FullBackupSchedule: "every tuesday"}, 5, env.manager)
	t.Cleanup(s.Stop)

	assert.ErrorContains(t, s.Start(), "full backup")
}

func TestScheduler_TriggerRunsCycle(t *testing.T) {
	env := newTestEnv(t, widgetRegistry(), nil)
	env.master.with(func(fm *fakeMaster) { fm.catalog = []CatalogEntry{widgetEntry(1, Unrestricted)} })
	env.master.setRecords("/api/export/widget", map[string]any{"id": 7, "name": "seven"})

	s := NewScheduler(config.SchedulerConfig{Enabled: true, FullBackupSchedule: "@daily"}, 5, env.manager)
	t.Cleanup(s.Stop)

	s.trigger(ModeIncremental)

	last := env.manager.Status().Last[string(ModeIncremental)]
	require.NotNil(t, last)
	require.Len(t, last.Entities, 1)
	assert.Equal(t, 1, last.Entities[0].Log.SuccessCount)

	// A trigger while the same job is held is skipped rather than queued.
	require.True(t, env.manager.acquire(string(ModeIncremental)))
	s.trigger(ModeIncremental)
	assert.Same(t, last, env.manager.Status().Last[string(ModeIncremental)])
	env.manager.release(string(ModeIncremental))
}

func TestCronLogger(t *testing.T) {
	cl := cronLogger{l: zap.NewNop().Sugar()}
	assert.NotPanics(t, func() {
		cl.Info("schedule", "entry", 1)
		cl.Error(errors.New("boom"), "job failed", "entry", 1)
	})
}
