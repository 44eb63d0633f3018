package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/stoa/app/blackout"
	"github.com/lysyi3m/stoa/app/clock"
	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/ratelimit"
	"github.com/lysyi3m/stoa/app/settings"
)

// DefaultHorizon bounds how far ahead the slot walk looks.
const DefaultHorizon = 48 * time.Hour

type Posts interface {
	Get(ctx context.Context, id string) (*model.Post, error)
	Delete(ctx context.Context, id string) error
}

type SchedulerSettings interface {
	Scheduler(ctx context.Context) (settings.Scheduler, error)
}

type Capacity interface {
	HasCapacity(ctx context.Context, kind ratelimit.Kind, day time.Time, planned int) (bool, error)
}

// Manager owns queue items. All mutations run under one lock; items claimed by
// a publisher cannot be cancelled until completed, failed or released.
type Manager struct {
	repo     database.QueueRepository
	posts    Posts
	capacity Capacity
	settings SchedulerSettings
	clock    clock.Clock
	horizon  time.Duration

	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewManager(repo database.QueueRepository, posts Posts, capacity Capacity, settings SchedulerSettings, clk clock.Clock) *Manager {
	return &Manager{
		repo:     repo,
		posts:    posts,
		capacity: capacity,
		settings: settings,
		clock:    clk,
		horizon:  DefaultHorizon,
		claimed:  make(map[string]struct{}),
	}
}

// Enqueue schedules an approved post. A nil requested time picks the next free slot.
func (m *Manager) Enqueue(ctx context.Context, postID string, requested *time.Time) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	post, err := m.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Status != model.StatusApproved {
		return nil, fmt.Errorf("cannot queue post %s in status %s: %w", postID, post.Status, model.ErrInvalidTransition)
	}

	existing, err := m.repo.GetPendingForPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("post %s is queued as %s: %w", postID, existing.ID, model.ErrAlreadyQueued)
	}

	sched, err := m.settings.Scheduler(ctx)
	if err != nil {
		return nil, err
	}
	window, err := sched.Window()
	if err != nil {
		return nil, err
	}
	slots, err := m.repo.PendingSlots(ctx)
	if err != nil {
		return nil, err
	}

	kind := ratelimit.KindOf(post.PostType)
	var at time.Time
	if requested != nil {
		at = requested.UTC().Truncate(time.Second)
		if err := m.checkRequested(ctx, at, kind, sched, window, slots); err != nil {
			return nil, err
		}
	} else {
		at, err = m.nextSlot(ctx, m.now().Truncate(time.Second), kind, sched, window, slots)
		if err != nil {
			return nil, err
		}
	}

	now := m.now()
	item := &model.QueueItem{
		ID:           uuid.NewString(),
		PostID:       postID,
		ScheduledFor: at,
		Status:       model.QueueStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.repo.Insert(ctx, item); err != nil {
		return nil, err
	}

	slog.Info("Post queued", "queue_id", item.ID, "post_id", postID, "scheduled_for", at.Format(time.RFC3339))
	return item, nil
}

// NextSlot previews the slot Enqueue would choose for a post of the given type.
func (m *Manager) NextSlot(ctx context.Context, postType model.PostType) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sched, err := m.settings.Scheduler(ctx)
	if err != nil {
		return time.Time{}, err
	}
	window, err := sched.Window()
	if err != nil {
		return time.Time{}, err
	}
	slots, err := m.repo.PendingSlots(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return m.nextSlot(ctx, m.now().Truncate(time.Second), ratelimit.KindOf(postType), sched, window, slots)
}

func (m *Manager) checkRequested(ctx context.Context, at time.Time, kind ratelimit.Kind, sched settings.Scheduler, window blackout.Window, slots []model.Slot) error {
	if window.Contains(at) {
		return fmt.Errorf("%s falls in %s-%s: %w", at.In(sched.Location()).Format("15:04"), window.Start, window.End, model.ErrInBlackoutWindow)
	}
	ok, err := m.capacity.HasCapacity(ctx, kind, at, planned(slots, kind, at, sched.Location()))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s on %s is fully planned: %w", kind, at.In(sched.Location()).Format(time.DateOnly), model.ErrRateLimitExceeded)
	}
	return nil
}

// nextSlot walks the cyclic intervals forward from now. Candidates in the
// blackout move to its end, candidates too close to a pending item move on by
// the next interval, and days already planned to their cap move to the next
// local midnight.
func (m *Manager) nextSlot(ctx context.Context, now time.Time, kind ratelimit.Kind, sched settings.Scheduler, window blackout.Window, slots []model.Slot) (time.Time, error) {
	intervals := sched.IntervalDurations()
	if len(intervals) == 0 {
		return time.Time{}, fmt.Errorf("no intervals configured: %w", model.ErrNoSlotAvailable)
	}

	loc := sched.Location()
	deadline := now.Add(m.horizon)
	step := 0
	candidate := now.Add(intervals[0])

	for {
		active, ok := window.NextActive(candidate)
		if !ok {
			return time.Time{}, fmt.Errorf("blackout covers the whole day: %w", model.ErrNoSlotAvailable)
		}
		candidate = active
		if candidate.After(deadline) {
			return time.Time{}, fmt.Errorf("nothing free before %s: %w", deadline.Format(time.RFC3339), model.ErrNoSlotAvailable)
		}

		if conflicts(candidate, slots, sched.MinSpacing()) {
			step++
			candidate = candidate.Add(intervals[step%len(intervals)])
			continue
		}

		ok, err := m.capacity.HasCapacity(ctx, kind, candidate, planned(slots, kind, candidate, loc))
		if err != nil {
			return time.Time{}, err
		}
		if !ok {
			candidate = ratelimit.NextMidnight(candidate, loc)
			continue
		}
		return candidate.UTC(), nil
	}
}

func conflicts(at time.Time, slots []model.Slot, spacing time.Duration) bool {
	for _, s := range slots {
		d := at.Sub(s.ScheduledFor)
		if d < 0 {
			d = -d
		}
		if d < spacing || d == 0 {
			return true
		}
	}
	return false
}

// planned counts pending items of kind on at's local day.
func planned(slots []model.Slot, kind ratelimit.Kind, at time.Time, loc *time.Location) int {
	day := at.In(loc).Format(time.DateOnly)
	count := 0
	for _, s := range slots {
		if ratelimit.KindOf(s.PostType) == kind && s.ScheduledFor.In(loc).Format(time.DateOnly) == day {
			count++
		}
	}
	return count
}

func (m *Manager) Cancel(ctx context.Context, id string) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := m.claimed[id]; ok {
		return nil, fmt.Errorf("queue item %s: %w", id, model.ErrPublishInProgress)
	}

	switch item.Status {
	case model.QueueStatusCancelled:
		return nil, fmt.Errorf("queue item %s: %w", id, model.ErrAlreadyCancelled)
	case model.QueueStatusPosted, model.QueueStatusFailed:
		return nil, fmt.Errorf("cannot cancel queue item %s in status %s: %w", id, item.Status, model.ErrInvalidTransition)
	}

	ok, err := m.repo.Cancel(ctx, id, m.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cannot cancel queue item %s: %w", id, model.ErrInvalidTransition)
	}

	slog.Info("Queue item cancelled", "queue_id", id, "post_id", item.PostID)
	return m.get(ctx, id)
}

// DeletePost removes a post and its queue items unless it is being published.
func (m *Manager) DeletePost(ctx context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.repo.GetPendingForPost(ctx, postID)
	if err != nil {
		return err
	}
	if item != nil {
		if _, ok := m.claimed[item.ID]; ok {
			return fmt.Errorf("post %s: %w", postID, model.ErrPublishInProgress)
		}
	}
	return m.posts.Delete(ctx, postID)
}

func (m *Manager) Get(ctx context.Context, id string) (*model.QueueItem, error) {
	return m.get(ctx, id)
}

func (m *Manager) get(ctx context.Context, id string) (*model.QueueItem, error) {
	item, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("queue item %s: %w", id, model.ErrNotFound)
	}
	return item, nil
}

func (m *Manager) List(ctx context.Context, filter database.QueueFilter) ([]model.QueueEntry, error) {
	return m.repo.List(ctx, filter)
}

// ListDue returns unclaimed pending items scheduled at or before asOf,
// earliest first with ties broken by creation time.
func (m *Manager) ListDue(ctx context.Context, asOf time.Time, limit int) ([]model.QueueItem, error) {
	items, err := m.repo.ListDue(ctx, asOf, limit)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	due := items[:0]
	for _, item := range items {
		if _, ok := m.claimed[item.ID]; !ok {
			due = append(due, item)
		}
	}
	return due, nil
}

func (m *Manager) PendingFor(ctx context.Context, postID string) (*model.QueueItem, error) {
	return m.repo.GetPendingForPost(ctx, postID)
}

// NextScheduled returns the earliest pending item or nil.
func (m *Manager) NextScheduled(ctx context.Context) (*model.QueueItem, error) {
	return m.repo.NextPending(ctx)
}

// Claim marks a pending item as being published.
func (m *Manager) Claim(ctx context.Context, id string) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.claim(item)
}

// ClaimForPost claims the post's pending item, creating one due now when none exists.
func (m *Manager) ClaimForPost(ctx context.Context, postID string) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.repo.GetPendingForPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if item != nil {
		return m.claim(item)
	}

	now := m.now()
	item = &model.QueueItem{
		ID:           uuid.NewString(),
		PostID:       postID,
		ScheduledFor: now,
		Status:       model.QueueStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.repo.Insert(ctx, item); err != nil {
		return nil, err
	}
	return m.claim(item)
}

func (m *Manager) claim(item *model.QueueItem) (*model.QueueItem, error) {
	if item.Status != model.QueueStatusPending {
		return nil, fmt.Errorf("cannot claim queue item %s in status %s: %w", item.ID, item.Status, model.ErrInvalidTransition)
	}
	if _, ok := m.claimed[item.ID]; ok {
		return nil, fmt.Errorf("queue item %s: %w", item.ID, model.ErrPublishInProgress)
	}
	m.claimed[item.ID] = struct{}{}
	return item, nil
}

// Release returns a claimed item to the queue untouched.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, id)
}

// Complete records a successful publication of a claimed item together with
// the post's external id. On error nothing is recorded and the item stays
// claimed; the caller must Fail or Release it.
func (m *Manager) Complete(ctx context.Context, id, externalID string, at time.Time) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := m.repo.RecordPublication(ctx, id, item.PostID, externalID, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cannot complete queue item %s: %w", id, model.ErrInvalidTransition)
	}

	delete(m.claimed, id)
	return m.get(ctx, id)
}

// Fail records a failed publication of a claimed item.
func (m *Manager) Fail(ctx context.Context, id, message string) (*model.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer delete(m.claimed, id)

	ok, err := m.repo.MarkFailed(ctx, id, message, m.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cannot fail queue item %s: %w", id, model.ErrInvalidTransition)
	}

	slog.Warn("Queue item failed", "queue_id", id, "error", message)
	return m.get(ctx, id)
}

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC()
}
