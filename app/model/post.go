package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type PostStatus string

const (
	StatusPendingReview PostStatus = "pending_review"
	StatusApproved      PostStatus = "approved"
	StatusPosted        PostStatus = "posted"
	StatusRejected      PostStatus = "rejected"
	StatusRecycled      PostStatus = "recycled"
)

func (s PostStatus) Valid() bool {
	switch s {
	case StatusPendingReview, StatusApproved, StatusPosted, StatusRejected, StatusRecycled:
		return true
	}
	return false
}

type PostType string

const (
	PostTypeOriginal PostType = "original"
	PostTypeReply    PostType = "reply"
	PostTypeQuote    PostType = "quote"
)

func (t PostType) Valid() bool {
	switch t {
	case PostTypeOriginal, PostTypeReply, PostTypeQuote:
		return true
	}
	return false
}

type Virtue string

const (
	VirtueWisdom     Virtue = "wisdom"
	VirtueCourage    Virtue = "courage"
	VirtueJustice    Virtue = "justice"
	VirtueTemperance Virtue = "temperance"
	VirtueGeneral    Virtue = "general"
)

var Virtues = []Virtue{VirtueWisdom, VirtueCourage, VirtueJustice, VirtueTemperance, VirtueGeneral}

func (v Virtue) Valid() bool {
	for _, known := range Virtues {
		if v == known {
			return true
		}
	}
	return false
}

type Post struct {
	ID              string     `db:"id" json:"id"`
	Content         string     `db:"content" json:"content"`
	ContentHash     string     `db:"content_hash" json:"content_hash"`
	Topic           string     `db:"topic" json:"topic,omitempty"`
	PostType        PostType   `db:"post_type" json:"post_type"`
	FormatType      FormatType `db:"format_type" json:"format_type"`
	Virtue          Virtue     `db:"virtue" json:"virtue,omitempty"`
	Status          PostStatus `db:"status" json:"status"`
	ReplyToTweetID  string     `db:"reply_to_tweet_id" json:"reply_to_tweet_id,omitempty"`
	ReplyToContent  string     `db:"reply_to_content" json:"reply_to_content,omitempty"`
	ReplyToUsername string     `db:"reply_to_username" json:"reply_to_username,omitempty"`
	Model           string     `db:"model" json:"model,omitempty"`
	Citations       StringList `db:"citations" json:"citations"`
	IsEvergreen     bool       `db:"is_evergreen" json:"is_evergreen"`
	XPostID         *string    `db:"x_post_id" json:"x_post_id"`
	ApprovedAt      *time.Time `db:"approved_at" json:"approved_at"`
	PostedAt        *time.Time `db:"posted_at" json:"posted_at"`
	RecycleCount    int        `db:"recycle_count" json:"recycle_count"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Segments splits the content into the units that get published.
func (p *Post) Segments() []string {
	f, err := FormatFor(p.FormatType)
	if err != nil {
		return []string{p.Content}
	}
	return f.Split(p.Content)
}

// StringList is stored as a JSON array in a TEXT column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *StringList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type %T for StringList", src)
	}
	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode string list: %w", err)
	}
	*l = out
	return nil
}
