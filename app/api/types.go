package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lysyi3m/stoa/app/clock"
	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/generation"
	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/posts"
	"github.com/lysyi3m/stoa/app/queue"
	"github.com/lysyi3m/stoa/app/ratelimit"
	"github.com/lysyi3m/stoa/app/settings"
	"github.com/lysyi3m/stoa/app/tasks"
	"github.com/lysyi3m/stoa/app/trending"
)

type PostService interface {
	Create(ctx context.Context, in posts.NewPost) (*model.Post, error)
	Get(ctx context.Context, id string) (*model.Post, error)
	List(ctx context.Context, filter database.PostFilter) ([]model.Post, error)
	CountByStatus(ctx context.Context) (map[model.PostStatus]int, error)
	Approve(ctx context.Context, id string) (*model.Post, error)
	Reject(ctx context.Context, id string) (*model.Post, error)
	Recycle(ctx context.Context, id string) (*model.Post, error)
	Resubmit(ctx context.Context, id string) (*model.Post, error)
	Update(ctx context.Context, id string, edit posts.Edit) (*model.Post, error)
	RecycleCandidates(ctx context.Context, limit int) ([]model.Post, error)
}

type QueueService interface {
	Enqueue(ctx context.Context, postID string, requested *time.Time) (*model.QueueItem, error)
	Cancel(ctx context.Context, id string) (*model.QueueItem, error)
	DeletePost(ctx context.Context, postID string) error
	List(ctx context.Context, filter database.QueueFilter) ([]model.QueueEntry, error)
}

type RateLimits interface {
	Status(ctx context.Context, asOf time.Time) (ratelimit.Status, error)
}

type SettingsService interface {
	Scheduler(ctx context.Context) (settings.Scheduler, error)
	Get(ctx context.Context, key settings.Key) (any, error)
	All(ctx context.Context) (map[settings.Key]any, error)
	Put(ctx context.Context, key settings.Key, raw json.RawMessage) (any, error)
	SetSchedulerEnabled(ctx context.Context, enabled bool) error
}

type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*model.Post, error)
	GenerateReply(ctx context.Context, req generation.ReplyRequest) (*model.Post, error)
	GenerateBatch(ctx context.Context, count int, req generation.Request) (*generation.BatchResult, error)
	Refine(ctx context.Context, content, instruction string) (*generation.RefineResult, error)
}

type TrendingService interface {
	Trending(ctx context.Context, limit int, excludeSeen bool) ([]model.TrendingTweet, error)
	Cache(ctx context.Context, status model.TrendingStatus, limit int) ([]model.TrendingTweet, error)
	Skip(ctx context.Context, tweetID string) error
	MarkReplied(ctx context.Context, tweetID string) error
	Stats(ctx context.Context) (trending.Stats, error)
	Cleanup(ctx context.Context, days int) (int64, error)
	Topics(ctx context.Context) ([]string, error)
	SetTopics(ctx context.Context, topics []string) ([]string, error)
}

var (
	_ PostService     = (*posts.Store)(nil)
	_ QueueService    = (*queue.Manager)(nil)
	_ RateLimits      = (*ratelimit.Limiter)(nil)
	_ SettingsService = (*settings.Store)(nil)
	_ Generator       = (*generation.Service)(nil)
	_ TrendingService = (*trending.Service)(nil)
)

// Services groups the collaborators a Handler serves.
type Services struct {
	Posts     PostService
	Queue     QueueService
	Limits    RateLimits
	Settings  SettingsService
	Scheduler tasks.Controller
	Generator Generator
	Trending  TrendingService
	Clock     clock.Clock
	Version   string
}

type Handler struct {
	posts     PostService
	queue     QueueService
	limits    RateLimits
	settings  SettingsService
	scheduler tasks.Controller
	generator Generator
	trending  TrendingService
	clock     clock.Clock
	version   string
}

// PostResponse is a post with its publishable segments.
type PostResponse struct {
	*model.Post
	Tweets     []string `json:"tweets"`
	TweetCount int      `json:"tweet_count"`
}

func newPostResponse(p *model.Post) PostResponse {
	tweets := p.Segments()
	return PostResponse{Post: p, Tweets: tweets, TweetCount: len(tweets)}
}

func newPostResponses(list []model.Post) []PostResponse {
	out := make([]PostResponse, 0, len(list))
	for i := range list {
		out = append(out, newPostResponse(&list[i]))
	}
	return out
}

type createPostRequest struct {
	Content         string           `json:"content" binding:"required"`
	PostType        model.PostType   `json:"post_type"`
	FormatType      model.FormatType `json:"format_type"`
	Virtue          model.Virtue     `json:"virtue"`
	Topic           string           `json:"topic"`
	ContentHash     string           `json:"content_hash"`
	ReplyToTweetID  string           `json:"reply_to_tweet_id"`
	ReplyToContent  string           `json:"reply_to_content"`
	ReplyToUsername string           `json:"reply_to_username"`
	IsEvergreen     *bool            `json:"is_evergreen"`
}

type updatePostRequest struct {
	Content     *string           `json:"content"`
	Topic       *string           `json:"topic"`
	Virtue      *model.Virtue     `json:"virtue"`
	IsEvergreen *bool             `json:"is_evergreen"`
	Status      *model.PostStatus `json:"status" binding:"omitempty,oneof=approved rejected"`
}

type listPostsQuery struct {
	Status   string `form:"status"`
	PostType string `form:"post_type"`
	Virtue   string `form:"virtue"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset   int    `form:"offset" binding:"omitempty,min=0"`
}

type listQueueQuery struct {
	Status   string `form:"status"`
	PostType string `form:"post_type"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset   int    `form:"offset" binding:"omitempty,min=0"`
}

type enqueueRequest struct {
	PostID       string     `json:"post_id" binding:"required"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

type batchRequest struct {
	Count int `json:"count" binding:"required,min=1"`
	generation.Request
}

type refineRequest struct {
	Content     string `json:"content" binding:"required"`
	Instruction string `json:"instruction" binding:"required"`
}

type settingsRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

type topicsRequest struct {
	Topics []string `json:"topics" binding:"required"`
}
