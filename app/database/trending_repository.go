package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lysyi3m/stoa/app/model"
)

const trendingColumns = `tweet_id, content, username, url, topic, status, shown_at`

type TrendingRepo struct {
	db *DB
}

func NewTrendingRepository(db *DB) *TrendingRepo {
	return &TrendingRepo{db: db}
}

// RecordShown stores a tweet as shown. Tweets already cached keep their state.
func (r *TrendingRepo) RecordShown(ctx context.Context, tweet model.TrendingTweet) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO trending_cache (`+trendingColumns+`)
		VALUES (?, ?, ?, ?, ?, 'shown', ?)
		ON CONFLICT(tweet_id) DO NOTHING
	`, tweet.TweetID, tweet.Content, tweet.Username, tweet.URL, tweet.Topic, ts(tweet.ShownAt))
	if err != nil {
		return false, fmt.Errorf("failed to record trending tweet: %w", err)
	}
	return affected(res)
}

func (r *TrendingRepo) Get(ctx context.Context, tweetID string) (*model.TrendingTweet, error) {
	var tweet model.TrendingTweet
	err := r.db.GetContext(ctx, &tweet, `SELECT `+trendingColumns+` FROM trending_cache WHERE tweet_id = ?`, tweetID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trending tweet: %w", err)
	}
	return &tweet, nil
}

func (r *TrendingRepo) List(ctx context.Context, status model.TrendingStatus, limit int) ([]model.TrendingTweet, error) {
	tweets := []model.TrendingTweet{}
	var err error
	if status != "" {
		err = r.db.SelectContext(ctx, &tweets, `
			SELECT `+trendingColumns+` FROM trending_cache
			WHERE status = ? ORDER BY shown_at DESC LIMIT ?
		`, status, limitOrDefault(limit))
	} else {
		err = r.db.SelectContext(ctx, &tweets, `
			SELECT `+trendingColumns+` FROM trending_cache
			ORDER BY shown_at DESC LIMIT ?
		`, limitOrDefault(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list trending tweets: %w", err)
	}
	return tweets, nil
}

func (r *TrendingRepo) SeenIDs(ctx context.Context, tweetIDs []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(tweetIDs))
	if len(tweetIDs) == 0 {
		return seen, nil
	}

	query, args, err := sqlx.In(`SELECT tweet_id FROM trending_cache WHERE tweet_id IN (?)`, tweetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build seen query: %w", err)
	}

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to check seen tweets: %w", err)
	}
	for _, id := range ids {
		seen[id] = true
	}
	return seen, nil
}

func (r *TrendingRepo) SetStatus(ctx context.Context, tweetID string, status model.TrendingStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE trending_cache SET status = ? WHERE tweet_id = ?`, status, tweetID)
	if err != nil {
		return false, fmt.Errorf("failed to update trending tweet: %w", err)
	}
	return affected(res)
}

func (r *TrendingRepo) CountByStatus(ctx context.Context) (map[model.TrendingStatus]int, error) {
	rows := []struct {
		Status model.TrendingStatus `db:"status"`
		Count  int                  `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM trending_cache GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count trending tweets: %w", err)
	}

	counts := make(map[model.TrendingStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *TrendingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trending_cache WHERE shown_at < ?`, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up trending cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
