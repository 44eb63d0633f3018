package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/publisher"
)

// PublishTask sends one post through the publisher. It is not retried: a
// failed publication is recorded on the queue item and needs a manual re-enqueue.
type PublishTask struct {
	Task
	Post       *model.Post
	publisher  publisher.Publisher
	timeout    time.Duration
	ExternalID string
}

func NewPublishTask(queueItemID string, post *model.Post, pub publisher.Publisher, timeout time.Duration) *PublishTask {
	return &PublishTask{
		Task:      NewTask(TaskTypePublish, queueItemID),
		Post:      post,
		publisher: pub,
		timeout:   timeout,
	}
}

// Execute publishes outside the caller's cancellation: stopping the scheduler
// must not abort a publication that is already on the wire.
func (t *PublishTask) Execute(ctx context.Context) (err error) {
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Publisher panicked", "post_id", t.Post.ID, "queue_id", t.Subject, "panic", r)
			err = model.NewPublishError(fmt.Errorf("publisher panic: %v", r))
		}
	}()

	id, err := t.publisher.Publish(publishCtx, publisher.FromPost(t.Post))
	if err != nil {
		return model.NewPublishError(err)
	}
	if id == "" {
		return model.NewPublishError(fmt.Errorf("publisher returned no external id"))
	}
	t.ExternalID = id

	slog.Info("Task completed",
		"type", "Publish",
		"queue_id", t.Subject,
		"post_id", t.Post.ID,
		"external_id", id,
		"duration", t.Elapsed())

	return nil
}
