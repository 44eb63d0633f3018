package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypePublish         TaskType = "publish"
	TaskTypeCleanupTrending TaskType = "cleanup_trending"
)

// Runnable is a unit of work the scheduler or maintenance runner executes.
type Runnable interface {
	Execute(ctx context.Context) error
	Info() *Task
}

// Task holds the identity shared by every job. Subject is a queue item id
// or a maintenance target.
type Task struct {
	ID        string
	Type      TaskType
	Subject   string
	StartedAt time.Time
}

func NewTask(taskType TaskType, subject string) Task {
	return Task{ID: uuid.NewString(), Type: taskType, Subject: subject}
}

func (t *Task) Info() *Task { return t }

func (t *Task) Start() {
	t.StartedAt = time.Now()
}

func (t *Task) Elapsed() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	return time.Since(t.StartedAt)
}
