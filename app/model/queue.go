package model

import "time"

type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusPosted    QueueStatus = "posted"
	QueueStatusFailed    QueueStatus = "failed"
	QueueStatusCancelled QueueStatus = "cancelled"
)

func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusPending, QueueStatusPosted, QueueStatusFailed, QueueStatusCancelled:
		return true
	}
	return false
}

type QueueItem struct {
	ID           string      `db:"id" json:"id"`
	PostID       string      `db:"post_id" json:"post_id"`
	ScheduledFor time.Time   `db:"scheduled_for" json:"scheduled_for"`
	Status       QueueStatus `db:"status" json:"status"`
	ErrorMessage *string     `db:"error_message" json:"error_message"`
	PostedAt     *time.Time  `db:"posted_at" json:"posted_at"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

// QueueEntry is a queue item together with the post it publishes.
type QueueEntry struct {
	QueueItem
	Post *Post `db:"-" json:"post,omitempty"`
}

// Slot is a pending queue item reduced to what slot planning needs.
type Slot struct {
	ItemID       string    `db:"id"`
	ScheduledFor time.Time `db:"scheduled_for"`
	PostType     PostType  `db:"post_type"`
}
