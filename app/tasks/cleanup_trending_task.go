package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/stoa/app/settings"
)

type TrendingCleaner interface {
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

type TrendingSettings interface {
	Trending(ctx context.Context) (settings.Trending, error)
}

// CleanupTrendingTask drops cached trending tweets past the retention period.
type CleanupTrendingTask struct {
	Task
	cleaner  TrendingCleaner
	settings TrendingSettings
}

func NewCleanupTrendingTask(cleaner TrendingCleaner, settings TrendingSettings) *CleanupTrendingTask {
	return &CleanupTrendingTask{
		Task:     NewTask(TaskTypeCleanupTrending, "trending_cache"),
		cleaner:  cleaner,
		settings: settings,
	}
}

func (t *CleanupTrendingTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	trending, err := t.settings.Trending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trending settings: %w", err)
	}

	deleted, err := t.cleaner.Cleanup(ctx, trending.RetentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean up trending cache: %w", err)
	}

	slog.Info("Task completed",
		"type", "CleanupTrending",
		"retention_days", trending.RetentionDays,
		"deleted", deleted,
		"duration", t.Elapsed())

	return nil
}
