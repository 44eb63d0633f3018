package model

import "time"

type TrendingStatus string

const (
	TrendingShown   TrendingStatus = "shown"
	TrendingSkipped TrendingStatus = "skipped"
	TrendingReplied TrendingStatus = "replied"
)

func (s TrendingStatus) Valid() bool {
	switch s {
	case TrendingShown, TrendingSkipped, TrendingReplied:
		return true
	}
	return false
}

type TrendingTweet struct {
	TweetID        string         `db:"tweet_id" json:"tweet_id"`
	Content        string         `db:"content" json:"content"`
	Username       string         `db:"username" json:"username"`
	URL            string         `db:"url" json:"url"`
	Topic          string         `db:"topic" json:"topic,omitempty"`
	Status         TrendingStatus `db:"status" json:"status"`
	ShownAt        time.Time      `db:"shown_at" json:"shown_at"`
	Likes          int            `db:"-" json:"likes"`
	Retweets       int            `db:"-" json:"retweets"`
	RelevanceScore float64        `db:"-" json:"relevance_score"`
	PublishedAt    *time.Time     `db:"-" json:"published_at,omitempty"`
}
