package database

import (
	"context"
	"time"

	"github.com/lysyi3m/stoa/app/model"
)

type PostFilter struct {
	Status   model.PostStatus
	PostType model.PostType
	Virtue   model.Virtue
	Limit    int
	Offset   int
}

type PostEdit struct {
	Content     *string
	ContentHash *string
	Topic       *string
	Virtue      *model.Virtue
	IsEvergreen *bool
}

type PostRepository interface {
	Insert(ctx context.Context, post *model.Post) error
	Get(ctx context.Context, id string) (*model.Post, error)
	List(ctx context.Context, filter PostFilter) ([]model.Post, error)
	CountByStatus(ctx context.Context) (map[model.PostStatus]int, error)

	Approve(ctx context.Context, id string, at time.Time) (bool, error)
	Reject(ctx context.Context, id string, at time.Time) (bool, error)
	MarkPosted(ctx context.Context, id, externalID string, at time.Time) (bool, error)
	Recycle(ctx context.Context, id string, cutoff, at time.Time) (bool, error)
	Resubmit(ctx context.Context, id string, at time.Time) (bool, error)
	Edit(ctx context.Context, id string, edit PostEdit, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)

	FindByHash(ctx context.Context, hash string, since time.Time) (*model.Post, error)
	RecycleCandidates(ctx context.Context, cutoff time.Time, limit int) ([]model.Post, error)
}

type QueueFilter struct {
	Status   model.QueueStatus
	PostType model.PostType
	Limit    int
	Offset   int
}

type QueueRepository interface {
	Insert(ctx context.Context, item *model.QueueItem) error
	Get(ctx context.Context, id string) (*model.QueueItem, error)
	GetPendingForPost(ctx context.Context, postID string) (*model.QueueItem, error)
	List(ctx context.Context, filter QueueFilter) ([]model.QueueEntry, error)
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]model.QueueItem, error)
	PendingSlots(ctx context.Context) ([]model.Slot, error)
	NextPending(ctx context.Context) (*model.QueueItem, error)

	Cancel(ctx context.Context, id string, at time.Time) (bool, error)
	RecordPublication(ctx context.Context, id, postID, externalID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, message string, at time.Time) (bool, error)

	CountPosted(ctx context.Context, postTypes []model.PostType, from, to time.Time) (int, error)
}

type SettingsRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, at time.Time) error
}

type TrendingRepository interface {
	RecordShown(ctx context.Context, tweet model.TrendingTweet) (bool, error)
	Get(ctx context.Context, tweetID string) (*model.TrendingTweet, error)
	List(ctx context.Context, status model.TrendingStatus, limit int) ([]model.TrendingTweet, error)
	SeenIDs(ctx context.Context, tweetIDs []string) (map[string]bool, error)
	SetStatus(ctx context.Context, tweetID string, status model.TrendingStatus) (bool, error)
	CountByStatus(ctx context.Context) (map[model.TrendingStatus]int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	_ PostRepository     = (*PostRepo)(nil)
	_ QueueRepository    = (*QueueRepo)(nil)
	_ SettingsRepository = (*SettingsRepo)(nil)
	_ TrendingRepository = (*TrendingRepo)(nil)
)
