package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/stoa/app/metrics"
	"github.com/robfig/cron/v3"
)

// TaskFactory builds a fresh task for every scheduled run.
type TaskFactory func() Runnable

const DefaultMaxRetries = 3

// Maintenance runs housekeeping tasks on cron schedules with retries.
type Maintenance struct {
	cron    *cron.Cron
	metrics *metrics.Metrics
	timeout time.Duration
	retries int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    map[string]cron.EntryID
}

func NewMaintenance(loc *time.Location, m *metrics.Metrics) *Maintenance {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Maintenance{
		cron:    cron.New(cron.WithLocation(loc)),
		metrics: m,
		timeout: 5 * time.Minute,
		retries: DefaultMaxRetries,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]cron.EntryID),
	}
}

// Add schedules a task. schedule uses the standard five-field cron format.
func (m *Maintenance) Add(name, schedule string, factory TaskFactory) error {
	id, err := m.cron.AddFunc(schedule, func() {
		m.wg.Add(1)
		defer m.wg.Done()
		m.Run(factory())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	m.jobs[name] = id
	slog.Info("Maintenance task scheduled", "task", name, "schedule", schedule)
	return nil
}

func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop halts scheduling, cancels pending retries and waits for running tasks.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
	m.cancel()
	m.wg.Wait()
}

// NextRun reports when the named task runs next.
func (m *Maintenance) NextRun(name string) (time.Time, bool) {
	id, ok := m.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return m.cron.Entry(id).Next, true
}

// Run executes the task, retrying with capped exponential backoff.
func (m *Maintenance) Run(task Runnable) error {
	info := task.Info()
	for retry := 0; ; retry++ {
		info.Start()

		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		err := task.Execute(ctx)
		cancel()

		if err == nil {
			m.observe(info.Type, "success")
			return nil
		}

		slog.Error("Maintenance task execution failed", "type", string(info.Type), "id", info.ID, "retry_count", retry, "error", err)

		if retry >= m.retries {
			slog.Error("Task failed after maximum retries", "type", string(info.Type), "id", info.ID, "max_retries", m.retries, "last_error", err)
			m.observe(info.Type, "failure")
			return err
		}

		delay := retryDelay(retry + 1)
		slog.Warn("Task retry scheduled", "type", string(info.Type), "subject", info.Subject, "retry_count", retry+1, "max_retries", m.retries, "delay", delay.String())

		select {
		case <-m.ctx.Done():
			slog.Debug("Maintenance stopped, skipping task retry", "type", string(info.Type), "id", info.ID)
			return m.ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (m *Maintenance) observe(taskType TaskType, result string) {
	if m.metrics != nil {
		m.metrics.ObserveMaintenance(string(taskType), result)
	}
}

// retryDelay is the capped exponential backoff before the given retry.
func retryDelay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := time.Duration(1<<uint(retry-1)) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}
