package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lysyi3m/stoa/app/metrics"
	"github.com/lysyi3m/stoa/app/settings"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyTask struct {
	Task
	failures int
	calls    int
}

func newFlakyTask(failures int) *flakyTask {
	return &flakyTask{Task: NewTask(TaskTypeCleanupTrending, "test"), failures: failures}
}

func (t *flakyTask) Execute(ctx context.Context) error {
	t.calls++
	if t.calls <= t.failures {
		return errors.New("database is locked")
	}
	return nil
}

type fakeCleaner struct {
	days int
	err  error
}

func (c *fakeCleaner) Cleanup(ctx context.Context, days int) (int64, error) {
	c.days = days
	return 4, c.err
}

type fakeTrendingSettings struct {
	retention int
}

func (s fakeTrendingSettings) Trending(ctx context.Context) (settings.Trending, error) {
	return settings.Trending{RetentionDays: s.retention}, nil
}

func TestMaintenanceRunSucceeds(t *testing.T) {
	m := metrics.New()
	maintenance := NewMaintenance(time.UTC, m)
	defer maintenance.Stop()

	task := newFlakyTask(0)
	require.NoError(t, maintenance.Run(task))
	assert.Equal(t, 1, task.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MaintenanceRuns.WithLabelValues(string(TaskTypeCleanupTrending), "success")))
}

func TestMaintenanceRunRetries(t *testing.T) {
	maintenance := NewMaintenance(time.UTC, nil)
	defer maintenance.Stop()

	task := newFlakyTask(1)
	require.NoError(t, maintenance.Run(task))
	assert.Equal(t, 2, task.calls)
	assert.False(t, task.StartedAt.IsZero())
}

func TestMaintenanceRunGivesUp(t *testing.T) {
	m := metrics.New()
	maintenance := NewMaintenance(time.UTC, m)
	defer maintenance.Stop()

	maintenance.retries = 0

	task := newFlakyTask(5)
	assert.Error(t, maintenance.Run(task))
	assert.Equal(t, 1, task.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MaintenanceRuns.WithLabelValues(string(TaskTypeCleanupTrending), "failure")))
}

func TestMaintenanceStopCancelsRetries(t *testing.T) {
	maintenance := NewMaintenance(time.UTC, nil)

	maintenance.retries = 10

	task := newFlakyTask(10)
	done := make(chan error, 1)
	go func() { done <- maintenance.Run(task) }()

	time.Sleep(50 * time.Millisecond)
	maintenance.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestMaintenanceAdd(t *testing.T) {
	maintenance := NewMaintenance(time.UTC, nil)
	defer maintenance.Stop()

	factory := func() Runnable { return newFlakyTask(0) }

	if err := maintenance.Add("broken", "every tuesday", factory); err == nil {
		t.Error("Expected an invalid cron spec to fail")
	}

	require.NoError(t, maintenance.Add("cleanup", "0 4 * * *", factory))
	maintenance.Start()

	next, ok := maintenance.NextRun("cleanup")
	require.True(t, ok)
	assert.Equal(t, 4, next.UTC().Hour())

	_, ok = maintenance.NextRun("unknown")
	assert.False(t, ok)
}

func TestCleanupTrendingTaskUsesRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	task := NewCleanupTrendingTask(cleaner, fakeTrendingSettings{retention: 14})
	task.Start()

	require.NoError(t, task.Execute(context.Background()))
	assert.Equal(t, 14, cleaner.days)

	cleaner.err = errors.New("disk I/O error")
	assert.Error(t, task.Execute(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, task.Execute(ctx), context.Canceled)
}
