package settings

import (
	"fmt"
	"time"

	"github.com/lysyi3m/stoa/app/blackout"
	"github.com/lysyi3m/stoa/app/model"
)

type Key string

const (
	KeyScheduler  Key = "scheduler"
	KeyRateLimits Key = "rate_limits"
	KeyGeneration Key = "generation"
	KeyTrending   Key = "trending"
)

var Keys = []Key{KeyScheduler, KeyRateLimits, KeyGeneration, KeyTrending}

type Scheduler struct {
	Enabled                  bool   `json:"enabled"`
	Intervals                []int  `json:"intervals" validate:"required,min=1,max=32,dive,min=1,max=1440"`
	BlackoutStart            string `json:"blackout_start" validate:"omitempty,timeofday"`
	BlackoutEnd              string `json:"blackout_end" validate:"omitempty,timeofday"`
	Timezone                 string `json:"timezone" validate:"required,timezone"`
	MinSpacingMinutes        int    `json:"min_spacing_minutes" validate:"min=0,max=1440"`
	AutoEnqueue              bool   `json:"auto_enqueue"`
	PostNowOverridesBlackout bool   `json:"post_now_overrides_blackout"`
}

func (s Scheduler) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s Scheduler) Window() (blackout.Window, error) {
	return blackout.NewWindow(s.BlackoutStart, s.BlackoutEnd, s.Location())
}

func (s Scheduler) MinSpacing() time.Duration {
	return time.Duration(s.MinSpacingMinutes) * time.Minute
}

func (s Scheduler) IntervalDurations() []time.Duration {
	out := make([]time.Duration, 0, len(s.Intervals))
	for _, m := range s.Intervals {
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}

// MeanInterval is the average gap between planned posts.
func (s Scheduler) MeanInterval() time.Duration {
	if len(s.Intervals) == 0 {
		return 0
	}
	total := 0
	for _, m := range s.Intervals {
		total += m
	}
	return time.Duration(total) * time.Minute / time.Duration(len(s.Intervals))
}

type RateLimits struct {
	DailyPosts   int `json:"daily_posts" validate:"min=0,max=1000"`
	DailyReplies int `json:"daily_replies" validate:"min=0,max=1000"`
}

type FormatWeights struct {
	Short  int `json:"short" validate:"min=0,max=100"`
	Thread int `json:"thread" validate:"min=0,max=100"`
	Long   int `json:"long" validate:"min=0,max=100"`
}

func (w FormatWeights) Total() int {
	return w.Short + w.Thread + w.Long
}

func (w FormatWeights) Weight(f model.FormatType) int {
	switch f {
	case model.FormatShort:
		return w.Short
	case model.FormatThread:
		return w.Thread
	case model.FormatLong:
		return w.Long
	}
	return 0
}

type Generation struct {
	DefaultVirtue         string        `json:"default_virtue" validate:"omitempty,oneof=wisdom courage justice temperance general"`
	FormatWeights         FormatWeights `json:"format_weights"`
	IncludeExamples       bool          `json:"include_examples"`
	Model                 string        `json:"model" validate:"max=100"`
	MaxAttempts           int           `json:"max_attempts" validate:"min=1,max=5"`
	RecycleCooldownDays   int           `json:"recycle_cooldown_days" validate:"min=0,max=3650"`
	DuplicateLookbackDays int           `json:"duplicate_lookback_days" validate:"min=0,max=3650"`
}

func (g Generation) RecycleCooldown() time.Duration {
	return time.Duration(g.RecycleCooldownDays) * 24 * time.Hour
}

func (g Generation) DuplicateLookback() time.Duration {
	return time.Duration(g.DuplicateLookbackDays) * 24 * time.Hour
}

type Trending struct {
	Topics        []string         `json:"topics" validate:"max=50,dive,required,max=100"`
	FeedURLs      []string         `json:"feed_urls" validate:"max=20,dive,required,feedurl"`
	MaxResults    int              `json:"max_results" validate:"min=1,max=100"`
	RetentionDays int              `json:"retention_days" validate:"min=1,max=3650"`
	Filters       []TrendingFilter `json:"filters" validate:"max=20,dive"`
}

// TrendingFilter drops tweets whose field contains an excluded keyword or
// none of the included ones. Matching is case-insensitive.
type TrendingFilter struct {
	Field    string   `json:"field" validate:"required,oneof=content username url"`
	Includes []string `json:"includes" validate:"max=50,dive,required"`
	Excludes []string `json:"excludes" validate:"max=50,dive,required"`
}

func DefaultScheduler() Scheduler {
	return Scheduler{
		Enabled:                  true,
		Intervals:                []int{45, 60, 90, 120},
		BlackoutStart:            "23:00",
		BlackoutEnd:              "05:00",
		Timezone:                 "America/New_York",
		MinSpacingMinutes:        30,
		AutoEnqueue:              true,
		PostNowOverridesBlackout: true,
	}
}

func DefaultRateLimits() RateLimits {
	return RateLimits{DailyPosts: 17, DailyReplies: 17}
}

func DefaultGeneration() Generation {
	return Generation{
		FormatWeights:         FormatWeights{Short: 70, Thread: 20, Long: 10},
		IncludeExamples:       true,
		MaxAttempts:           3,
		RecycleCooldownDays:   30,
		DuplicateLookbackDays: 30,
	}
}

func DefaultTrending() Trending {
	return Trending{
		Topics:        []string{"stoicism", "philosophy", "self-improvement", "wisdom"},
		FeedURLs:      []string{},
		Filters:       []TrendingFilter{},
		MaxResults:    10,
		RetentionDays: 30,
	}
}

func defaultFor(key Key) (any, error) {
	switch key {
	case KeyScheduler:
		v := DefaultScheduler()
		return &v, nil
	case KeyRateLimits:
		v := DefaultRateLimits()
		return &v, nil
	case KeyGeneration:
		v := DefaultGeneration()
		return &v, nil
	case KeyTrending:
		v := DefaultTrending()
		return &v, nil
	}
	return nil, fmt.Errorf("setting %q: %w", key, model.ErrNotFound)
}
