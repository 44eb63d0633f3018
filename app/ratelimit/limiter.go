package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/settings"
)

// Kind is a rate-limited category of publication.
type Kind string

const (
	KindPosts   Kind = "posts"
	KindReplies Kind = "replies"
)

var Kinds = []Kind{KindPosts, KindReplies}

func KindOf(postType model.PostType) Kind {
	if postType == model.PostTypeReply {
		return KindReplies
	}
	return KindPosts
}

func (k Kind) postTypes() []model.PostType {
	if k == KindReplies {
		return []model.PostType{model.PostTypeReply}
	}
	return []model.PostType{model.PostTypeOriginal, model.PostTypeQuote}
}

type Counter interface {
	CountPosted(ctx context.Context, postTypes []model.PostType, from, to time.Time) (int, error)
}

type Settings interface {
	RateLimits(ctx context.Context) (settings.RateLimits, error)
	Scheduler(ctx context.Context) (settings.Scheduler, error)
}

type dayKey struct {
	kind Kind
	day  string
}

// Limiter enforces daily caps. Counts come from publication history;
// outstanding reservations count against the cap until committed or released.
type Limiter struct {
	counter  Counter
	settings Settings

	mu       sync.Mutex
	reserved map[dayKey]int
}

func NewLimiter(counter Counter, settings Settings) *Limiter {
	return &Limiter{
		counter:  counter,
		settings: settings,
		reserved: make(map[dayKey]int),
	}
}

type KindStatus struct {
	Limit     int  `json:"limit"`
	Used      int  `json:"used"`
	Reserved  int  `json:"reserved"`
	Remaining int  `json:"remaining"`
	CanPost   bool `json:"can_post"`
}

type Status struct {
	Day      string              `json:"day"`
	Timezone string              `json:"timezone"`
	ResetsAt time.Time           `json:"resets_at"`
	Kinds    map[Kind]KindStatus `json:"kinds"`
}

// CanPost reports whether one more publication of kind fits today's cap as of asOf.
func (l *Limiter) CanPost(ctx context.Context, kind Kind, asOf time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.status(ctx, kind, asOf, asOf)
	if err != nil {
		return false, err
	}
	return st.CanPost, nil
}

// Reserve atomically checks the cap and holds one slot for asOf's day.
func (l *Limiter) Reserve(ctx context.Context, kind Kind, asOf time.Time) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.status(ctx, kind, asOf, asOf)
	if err != nil {
		return nil, err
	}
	if !st.CanPost {
		return nil, fmt.Errorf("%s: %d of %d used: %w", kind, st.Used+st.Reserved, st.Limit, model.ErrRateLimitExceeded)
	}

	key, err := l.key(ctx, kind, asOf)
	if err != nil {
		return nil, err
	}
	l.reserved[key]++

	slog.Debug("Rate slot reserved", "kind", string(kind), "day", key.day, "reserved", l.reserved[key])
	return &Reservation{limiter: l, key: key}, nil
}

// HasCapacity reports whether the local day containing day can take one more
// publication of kind on top of planned already-scheduled ones.
func (l *Limiter) HasCapacity(ctx context.Context, kind Kind, day time.Time, planned int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.status(ctx, kind, day, time.Time{})
	if err != nil {
		return false, err
	}
	return st.Used+st.Reserved+planned < st.Limit, nil
}

func (l *Limiter) Status(ctx context.Context, asOf time.Time) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sched, err := l.settings.Scheduler(ctx)
	if err != nil {
		return Status{}, err
	}
	loc := sched.Location()
	_, end := dayBounds(asOf, loc)

	out := Status{
		Day:      asOf.In(loc).Format(time.DateOnly),
		Timezone: loc.String(),
		ResetsAt: end,
		Kinds:    make(map[Kind]KindStatus, len(Kinds)),
	}
	for _, kind := range Kinds {
		st, err := l.status(ctx, kind, asOf, time.Time{})
		if err != nil {
			return Status{}, err
		}
		out.Kinds[kind] = st
	}
	return out, nil
}

// status counts publications on day's local calendar day, up to and including
// until when it is set. Callers hold l.mu.
func (l *Limiter) status(ctx context.Context, kind Kind, day, until time.Time) (KindStatus, error) {
	limits, err := l.settings.RateLimits(ctx)
	if err != nil {
		return KindStatus{}, err
	}
	sched, err := l.settings.Scheduler(ctx)
	if err != nil {
		return KindStatus{}, err
	}

	start, end := dayBounds(day, sched.Location())
	if !until.IsZero() && until.Before(end) {
		end = until.Add(time.Microsecond)
	}
	used, err := l.counter.CountPosted(ctx, kind.postTypes(), start, end)
	if err != nil {
		return KindStatus{}, err
	}

	limit := limits.DailyPosts
	if kind == KindReplies {
		limit = limits.DailyReplies
	}
	reserved := l.reserved[dayKey{kind: kind, day: day.In(sched.Location()).Format(time.DateOnly)}]

	remaining := max(limit-used-reserved, 0)
	return KindStatus{
		Limit:     limit,
		Used:      used,
		Reserved:  reserved,
		Remaining: remaining,
		CanPost:   remaining > 0,
	}, nil
}

func (l *Limiter) key(ctx context.Context, kind Kind, at time.Time) (dayKey, error) {
	sched, err := l.settings.Scheduler(ctx)
	if err != nil {
		return dayKey{}, err
	}
	return dayKey{kind: kind, day: at.In(sched.Location()).Format(time.DateOnly)}, nil
}

func (l *Limiter) release(key dayKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reserved[key] <= 1 {
		delete(l.reserved, key)
		return
	}
	l.reserved[key]--
}

// dayBounds returns local midnight of t's day and of the next day.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return start, end
}

// NextMidnight is the first local midnight strictly after t.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	_, end := dayBounds(t, loc)
	return end
}

// Reservation holds one slot of a day's cap.
type Reservation struct {
	limiter *Limiter
	key     dayKey
	once    sync.Once
}

// Commit is called once the publication is recorded in history.
func (r *Reservation) Commit() {
	r.once.Do(func() { r.limiter.release(r.key) })
}

// Release gives the slot back after a failed or skipped publication.
func (r *Reservation) Release() {
	r.once.Do(func() { r.limiter.release(r.key) })
}
