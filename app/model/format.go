package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type FormatType string

const (
	FormatShort  FormatType = "short"
	FormatThread FormatType = "thread"
	FormatLong   FormatType = "long"
)

const (
	MaxTweetLength  = 280
	MaxLongLength   = 25000
	ThreadSeparator = "\n\n"
)

// Format describes how a post's content maps onto published units.
type Format interface {
	Type() FormatType
	Split(content string) []string
	Join(segments []string) string
	Validate(content string) error
}

var formats = map[FormatType]Format{
	FormatShort:  shortFormat{},
	FormatThread: threadFormat{},
	FormatLong:   longFormat{},
}

func FormatFor(t FormatType) (Format, error) {
	f, ok := formats[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown format type %q", ErrInvalidContent, t)
	}
	return f, nil
}

// ValidateContent checks content against its format and post type.
// Replies and quotes are always single tweets.
func ValidateContent(postType PostType, formatType FormatType, content string) error {
	if !postType.Valid() {
		return fmt.Errorf("%w: unknown post type %q", ErrInvalidContent, postType)
	}
	f, err := FormatFor(formatType)
	if err != nil {
		return err
	}
	if postType != PostTypeOriginal && formatType != FormatShort {
		return fmt.Errorf("%w: %s posts must use the short format", ErrInvalidContent, postType)
	}
	return f.Validate(content)
}

type shortFormat struct{}

func (shortFormat) Type() FormatType { return FormatShort }

func (shortFormat) Split(content string) []string {
	return []string{strings.TrimSpace(content)}
}

func (shortFormat) Join(segments []string) string {
	return strings.TrimSpace(strings.Join(segments, " "))
}

func (shortFormat) Validate(content string) error {
	return validateSegment(content, MaxTweetLength)
}

type threadFormat struct{}

func (threadFormat) Type() FormatType { return FormatThread }

func (threadFormat) Split(content string) []string {
	parts := strings.Split(content, ThreadSeparator)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

func (threadFormat) Join(segments []string) string {
	kept := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ThreadSeparator)
}

func (f threadFormat) Validate(content string) error {
	segments := f.Split(content)
	if len(segments) == 0 {
		return fmt.Errorf("%w: content is empty", ErrInvalidContent)
	}
	for i, s := range segments {
		if err := validateSegment(s, MaxTweetLength); err != nil {
			return fmt.Errorf("tweet %d: %w", i+1, err)
		}
	}
	return nil
}

type longFormat struct{}

func (longFormat) Type() FormatType { return FormatLong }

func (longFormat) Split(content string) []string {
	return []string{strings.TrimSpace(content)}
}

func (longFormat) Join(segments []string) string {
	return strings.TrimSpace(strings.Join(segments, ThreadSeparator))
}

func (longFormat) Validate(content string) error {
	return validateSegment(content, MaxLongLength)
}

func validateSegment(s string, limit int) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidContent)
	}
	if n := utf8.RuneCountInString(s); n > limit {
		return fmt.Errorf("%w: %d characters exceeds the limit of %d", ErrInvalidContent, n, limit)
	}
	return nil
}
