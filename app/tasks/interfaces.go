package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/ratelimit"
	"github.com/lysyi3m/stoa/app/settings"
)

// Controller is the lifecycle and publishing surface the API drives.
type Controller interface {
	Start() bool
	Stop() bool
	Pause()
	Resume()
	Running() bool
	PostNow(ctx context.Context, postID string) (*PostNowResult, error)
	Status(ctx context.Context) (*Status, error)
	Estimate(ctx context.Context) (*Estimate, error)
}

type Queue interface {
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]model.QueueItem, error)
	NextScheduled(ctx context.Context) (*model.QueueItem, error)
	Claim(ctx context.Context, id string) (*model.QueueItem, error)
	ClaimForPost(ctx context.Context, postID string) (*model.QueueItem, error)
	Release(id string)
	Complete(ctx context.Context, id, externalID string, at time.Time) (*model.QueueItem, error)
	Fail(ctx context.Context, id, message string) (*model.QueueItem, error)
}

type Posts interface {
	Get(ctx context.Context, id string) (*model.Post, error)
}

type Limiter interface {
	Reserve(ctx context.Context, kind ratelimit.Kind, asOf time.Time) (*ratelimit.Reservation, error)
	Status(ctx context.Context, asOf time.Time) (ratelimit.Status, error)
}

type Settings interface {
	Scheduler(ctx context.Context) (settings.Scheduler, error)
	RateLimits(ctx context.Context) (settings.RateLimits, error)
}

var _ Controller = (*Scheduler)(nil)
