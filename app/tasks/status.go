package tasks

import (
	"context"
	"math"
	"time"

	"github.com/lysyi3m/stoa/app/ratelimit"
)

type Status struct {
	Running              bool             `json:"running"`
	Paused               bool             `json:"paused"`
	Enabled              bool             `json:"enabled"`
	InBlackout           bool             `json:"in_blackout"`
	ActiveHours          string           `json:"active_hours"`
	Timezone             string           `json:"timezone"`
	NextPostAt           *time.Time       `json:"next_post_at"`
	LastPassAt           *time.Time       `json:"last_pass_at"`
	LastPass             PassResult       `json:"last_pass"`
	RateLimits           ratelimit.Status `json:"rate_limits"`
	EstimatedPostsPerDay float64          `json:"estimated_posts_per_day"`
}

type Estimate struct {
	ActiveHours            string  `json:"active_hours"`
	ActiveMinutes          int     `json:"active_minutes"`
	AverageIntervalMinutes float64 `json:"average_interval_minutes"`
	EstimatedPostsPerDay   float64 `json:"estimated_posts_per_day"`
	RateLimitDaily         int     `json:"rate_limit_daily"`
	WithinRateLimit        bool    `json:"within_rate_limit"`
}

func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	sched, err := s.settings.Scheduler(ctx)
	if err != nil {
		return nil, err
	}
	window, err := sched.Window()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	limits, err := s.limiter.Status(ctx, now)
	if err != nil {
		return nil, err
	}
	estimate, err := s.Estimate(ctx)
	if err != nil {
		return nil, err
	}

	out := &Status{
		Enabled:              sched.Enabled,
		InBlackout:           window.Contains(now),
		ActiveHours:          window.ActiveHours(),
		Timezone:             sched.Timezone,
		RateLimits:           limits,
		EstimatedPostsPerDay: estimate.EstimatedPostsPerDay,
	}

	next, err := s.queue.NextScheduled(ctx)
	if err != nil {
		return nil, err
	}
	if next != nil {
		at := next.ScheduledFor
		out.NextPostAt = &at
	}

	s.mu.Lock()
	out.Running = s.running
	out.Paused = s.paused
	out.LastPassAt = s.lastPassAt
	out.LastPass = s.lastPass
	s.mu.Unlock()

	return out, nil
}

// Estimate projects daily volume as active minutes over the mean interval.
func (s *Scheduler) Estimate(ctx context.Context) (*Estimate, error) {
	sched, err := s.settings.Scheduler(ctx)
	if err != nil {
		return nil, err
	}
	window, err := sched.Window()
	if err != nil {
		return nil, err
	}
	limits, err := s.settings.RateLimits(ctx)
	if err != nil {
		return nil, err
	}

	mean := sched.MeanInterval().Minutes()
	active := window.ActiveMinutes()

	var estimated float64
	if mean > 0 {
		estimated = math.Round(float64(active)/mean*10) / 10
	}

	return &Estimate{
		ActiveHours:            window.ActiveHours(),
		ActiveMinutes:          active,
		AverageIntervalMinutes: mean,
		EstimatedPostsPerDay:   estimated,
		RateLimitDaily:         limits.DailyPosts,
		WithinRateLimit:        estimated <= float64(limits.DailyPosts),
	}, nil
}
