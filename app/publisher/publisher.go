package publisher

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lysyi3m/stoa/app/model"
)

// Publication is what a publisher needs to put one post on the network.
type Publication struct {
	PostID        string
	PostType      model.PostType
	Segments      []string
	TargetTweetID string
}

func FromPost(post *model.Post) Publication {
	return Publication{
		PostID:        post.ID,
		PostType:      post.PostType,
		Segments:      post.Segments(),
		TargetTweetID: post.ReplyToTweetID,
	}
}

// Publisher returns the external id of the first published segment.
type Publisher interface {
	Publish(ctx context.Context, pub Publication) (string, error)
}

// LogPublisher only logs what would have been published.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, pub Publication) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", model.NewPublishError(err)
	}

	id := "dryrun-" + uuid.NewString()
	slog.Info("Dry run publication",
		"post_id", pub.PostID,
		"type", string(pub.PostType),
		"segments", len(pub.Segments),
		"external_id", id)
	return id, nil
}
