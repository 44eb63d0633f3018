package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyQueued     = errors.New("post already has a pending queue item")
	ErrAlreadyCancelled  = errors.New("queue item already cancelled")
	ErrRateLimitExceeded = errors.New("daily rate limit exceeded")
	ErrInBlackoutWindow  = errors.New("time falls inside the blackout window")
	ErrNoSlotAvailable   = errors.New("no publishing slot available within the lookahead horizon")
	ErrPublisherFailure  = errors.New("publisher failure")
	ErrPublishInProgress = errors.New("queue item is being published")
	ErrInvalidContent    = errors.New("invalid content")
	ErrDuplicateContent  = errors.New("duplicate content")
	ErrInvalidSettings   = errors.New("invalid settings")
)

// PublishError wraps an error returned by the external publisher.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publisher failure: %v", e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func (e *PublishError) Is(target error) bool {
	return target == ErrPublisherFailure
}

func NewPublishError(err error) error {
	if err == nil {
		return nil
	}
	var pe *PublishError
	if errors.As(err, &pe) {
		return err
	}
	return &PublishError{Err: err}
}
