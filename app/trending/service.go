package trending

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lysyi3m/stoa/app/clock"
	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/settings"
	"github.com/samber/lo"
)

const MaxLimit = 50

type Settings interface {
	Trending(ctx context.Context) (settings.Trending, error)
	SetTrendingTopics(ctx context.Context, topics []string) (settings.Trending, error)
}

type Stats struct {
	Shown   int `json:"shown"`
	Skipped int `json:"skipped"`
	Replied int `json:"replied"`
	Total   int `json:"total"`
}

// Service fetches trending tweets and keeps track of which were shown.
type Service struct {
	source   Source
	repo     database.TrendingRepository
	settings Settings
	clock    clock.Clock
}

func NewService(source Source, repo database.TrendingRepository, settings Settings, clk clock.Clock) *Service {
	return &Service{source: source, repo: repo, settings: settings, clock: clk}
}

// Trending searches the configured topics and records every returned tweet
// as shown. With excludeSeen, tweets already in the cache are dropped.
func (s *Service) Trending(ctx context.Context, limit int, excludeSeen bool) ([]model.TrendingTweet, error) {
	cfg, err := s.settings.Trending(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = cfg.MaxResults
	}
	limit = min(limit, MaxLimit)

	found, err := s.source.Search(ctx, Query{
		Topics:   cfg.Topics,
		FeedURLs: cfg.FeedURLs,
		Limit:    limit * 2,
	})
	if err != nil {
		return nil, err
	}

	found, dropped := NewFilter(cfg.Filters).Apply(found)
	for id, reason := range dropped {
		slog.Debug("Trending tweet filtered", "tweet_id", id, "reason", reason)
	}

	seen, err := s.repo.SeenIDs(ctx, lo.Map(found, func(t model.TrendingTweet, _ int) string { return t.TweetID }))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	results := make([]model.TrendingTweet, 0, limit)
	for _, tweet := range found {
		if excludeSeen && seen[tweet.TweetID] {
			continue
		}

		tweet.ShownAt = now
		if _, err := s.repo.RecordShown(ctx, tweet); err != nil {
			return nil, err
		}
		if cached, err := s.repo.Get(ctx, tweet.TweetID); err == nil && cached != nil {
			tweet.Status = cached.Status
			tweet.ShownAt = cached.ShownAt
		}

		results = append(results, tweet)
		if len(results) >= limit {
			break
		}
	}

	slog.Debug("Trending tweets fetched", "found", len(found), "filtered", len(dropped), "returned", len(results), "exclude_seen", excludeSeen)
	return results, nil
}

func (s *Service) Cache(ctx context.Context, status model.TrendingStatus, limit int) ([]model.TrendingTweet, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidContent, status)
	}
	return s.repo.List(ctx, status, limit)
}

func (s *Service) Skip(ctx context.Context, tweetID string) error {
	return s.setStatus(ctx, tweetID, model.TrendingSkipped)
}

func (s *Service) MarkReplied(ctx context.Context, tweetID string) error {
	return s.setStatus(ctx, tweetID, model.TrendingReplied)
}

func (s *Service) setStatus(ctx context.Context, tweetID string, status model.TrendingStatus) error {
	ok, err := s.repo.SetStatus(ctx, tweetID, status)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("tweet %s not in trending cache: %w", tweetID, model.ErrNotFound)
	}
	slog.Info("Trending tweet updated", "tweet_id", tweetID, "status", string(status))
	return nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		Shown:   counts[model.TrendingShown],
		Skipped: counts[model.TrendingSkipped],
		Replied: counts[model.TrendingReplied],
	}
	stats.Total = stats.Shown + stats.Skipped + stats.Replied
	return stats, nil
}

// Cleanup removes entries shown more than days ago. Zero or less uses the
// configured retention.
func (s *Service) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		cfg, err := s.settings.Trending(ctx)
		if err != nil {
			return 0, err
		}
		days = cfg.RetentionDays
	}

	cutoff := s.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	slog.Info("Trending cache cleaned up", "days", days, "deleted", deleted)
	return deleted, nil
}

func (s *Service) Topics(ctx context.Context) ([]string, error) {
	cfg, err := s.settings.Trending(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.Topics, nil
}

func (s *Service) SetTopics(ctx context.Context, topics []string) ([]string, error) {
	topics = lo.Uniq(lo.FilterMap(topics, func(t string, _ int) (string, bool) {
		t = strings.TrimSpace(t)
		return t, t != ""
	}))

	cfg, err := s.settings.SetTrendingTopics(ctx, topics)
	if err != nil {
		return nil, err
	}
	return cfg.Topics, nil
}
