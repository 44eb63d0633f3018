package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/stoa/app/clock"
	"github.com/lysyi3m/stoa/app/metrics"
	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/publisher"
	"github.com/lysyi3m/stoa/app/ratelimit"
)

type Options struct {
	Interval       time.Duration
	MaxPerPass     int
	PublishTimeout time.Duration
}

type PassResult struct {
	Due      int `json:"due"`
	Posted   int `json:"posted"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
	Skipped  int `json:"skipped"`
}

type PostNowResult struct {
	Post *model.Post      `json:"post"`
	Item *model.QueueItem `json:"queue_item"`
}

type outcome int

const (
	outcomePosted outcome = iota
	outcomeFailed
	outcomeDeferred
	outcomeSkipped
)

// Scheduler is the single publishing loop of the process. Passes never
// overlap each other or a post-now.
type Scheduler struct {
	queue     Queue
	posts     Posts
	limiter   Limiter
	settings  Settings
	publisher publisher.Publisher
	metrics   *metrics.Metrics
	clock     clock.Clock
	opts      Options

	mu         sync.Mutex
	running    bool
	paused     bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastPassAt *time.Time
	lastPass   PassResult

	passMu sync.Mutex
}

func NewScheduler(queue Queue, posts Posts, limiter Limiter, settings Settings, pub publisher.Publisher, m *metrics.Metrics, clk clock.Clock, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.MaxPerPass <= 0 {
		opts.MaxPerPass = 10
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Minute
	}

	return &Scheduler{
		queue:     queue,
		posts:     posts,
		limiter:   limiter,
		settings:  settings,
		publisher: pub,
		metrics:   m,
		clock:     clk,
		opts:      opts,
	}
}

// Start begins periodic passes. It reports false when already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	s.setRunningMetric(true)

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		s.tick(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	slog.Info("Scheduler started", "interval", s.opts.Interval.String(), "max_per_pass", s.opts.MaxPerPass)
	return true
}

// Stop suppresses future passes and waits for the current one to finish.
// It reports false when not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	s.cancel()
	done := s.done
	s.setRunningMetric(false)
	s.mu.Unlock()

	<-done
	slog.Info("Scheduler stopped")
	return true
}

// Pause keeps the loop alive but skips publishing until Resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	slog.Info("Scheduler paused")
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	slog.Info("Scheduler resumed")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.isPaused() {
		slog.Debug("Scheduler paused, skipping pass")
		return
	}
	if _, err := s.RunPass(ctx); err != nil {
		slog.Error("Scheduler pass failed", "error", err)
	}
}

// RunPass publishes the due queue items in order. Failures of single items are
// recorded on the item and never abort the pass.
func (s *Scheduler) RunPass(ctx context.Context) (PassResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	started := s.clock.Now()
	var result PassResult

	sched, err := s.settings.Scheduler(ctx)
	if err != nil {
		return result, err
	}
	window, err := sched.Window()
	if err != nil {
		return result, err
	}

	if window.Contains(started) {
		due, err := s.queue.ListDue(ctx, started, s.opts.MaxPerPass)
		if err != nil {
			return result, fmt.Errorf("failed to list due items: %w", err)
		}
		if len(due) > 0 {
			result.Due = len(due)
			result.Deferred = len(due)
			slog.Info("Blackout window active, deferring due items", "due", len(due), "active_hours", window.ActiveHours())
		}
		s.finishPass(started, result)
		return result, nil
	}

	// Items left pending at a daily cap do not use up the pass budget, so
	// listing continues past them until MaxPerPass items were attempted.
	capped := make(map[ratelimit.Kind]bool)
	seen := make(map[string]bool)
	attempted := 0

listing:
	for attempted < s.opts.MaxPerPass && ctx.Err() == nil {
		due, err := s.queue.ListDue(ctx, started, s.opts.MaxPerPass+len(seen))
		if err != nil {
			return result, fmt.Errorf("failed to list due items: %w", err)
		}

		fresh := 0
		for _, item := range due {
			if seen[item.ID] {
				continue
			}
			if ctx.Err() != nil {
				slog.Debug("Scheduler stopping, leaving remaining items pending")
				break listing
			}
			seen[item.ID] = true
			fresh++
			result.Due++

			switch s.processItem(ctx, item, capped) {
			case outcomePosted:
				result.Posted++
				attempted++
			case outcomeFailed:
				result.Failed++
				attempted++
			case outcomeDeferred:
				result.Deferred++
			case outcomeSkipped:
				result.Skipped++
				attempted++
			}
			if attempted >= s.opts.MaxPerPass {
				break listing
			}
		}
		if fresh == 0 {
			break
		}
	}

	s.finishPass(started, result)
	if result.Due > 0 {
		slog.Info("Scheduler pass completed",
			"due", result.Due,
			"posted", result.Posted,
			"failed", result.Failed,
			"deferred", result.Deferred,
			"skipped", result.Skipped,
			"duration", time.Since(started))
	}
	return result, nil
}

func (s *Scheduler) finishPass(at time.Time, result PassResult) {
	s.mu.Lock()
	s.lastPassAt = &at
	s.lastPass = result
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObservePass(s.clock.Now().Sub(at), result.Due-result.Posted-result.Failed)
	}
}

func (s *Scheduler) processItem(ctx context.Context, item model.QueueItem, capped map[ratelimit.Kind]bool) outcome {
	post, err := s.posts.Get(ctx, item.PostID)
	if err != nil {
		slog.Error("Failed to load queued post", "queue_id", item.ID, "post_id", item.PostID, "error", err)
		return outcomeSkipped
	}

	kind := ratelimit.KindOf(post.PostType)
	if capped[kind] {
		return outcomeDeferred
	}

	claimed, err := s.queue.Claim(ctx, item.ID)
	if err != nil {
		slog.Debug("Queue item not claimable, skipping", "queue_id", item.ID, "error", err)
		return outcomeSkipped
	}

	if post.Status != model.StatusApproved {
		s.fail(ctx, claimed, post, fmt.Sprintf("post is %s, not approved", post.Status))
		return outcomeFailed
	}

	reservation, err := s.limiter.Reserve(ctx, kind, s.clock.Now())
	if err != nil {
		s.queue.Release(claimed.ID)
		if errors.Is(err, model.ErrRateLimitExceeded) {
			capped[kind] = true
			slog.Info("Daily limit reached, leaving item pending", "queue_id", item.ID, "post_type", string(post.PostType))
			return outcomeDeferred
		}
		slog.Error("Failed to reserve rate slot", "queue_id", item.ID, "error", err)
		return outcomeSkipped
	}

	if _, err := s.publish(ctx, claimed, post, reservation); err != nil {
		return outcomeFailed
	}
	return outcomePosted
}

// publish runs the publish task for a claimed item and records the result.
// The reservation is committed on success and released on failure.
func (s *Scheduler) publish(ctx context.Context, item *model.QueueItem, post *model.Post, reservation *ratelimit.Reservation) (*PostNowResult, error) {
	task := NewPublishTask(item.ID, post, s.publisher, s.opts.PublishTimeout)
	task.Start()

	if err := task.Execute(ctx); err != nil {
		reservation.Release()
		s.fail(ctx, item, post, err.Error())
		return nil, err
	}

	recordCtx := context.WithoutCancel(ctx)
	done, err := s.queue.Complete(recordCtx, item.ID, task.ExternalID, s.clock.Now())
	reservation.Commit()
	if err != nil {
		// The publication is live; failing the item keeps the next pass from
		// sending it again.
		slog.Error("Failed to record publication", "queue_id", item.ID, "post_id", post.ID, "external_id", task.ExternalID, "error", err)
		s.fail(ctx, item, post, fmt.Sprintf("published as %s but not recorded: %v", task.ExternalID, err))
		return nil, fmt.Errorf("failed to record publication %s: %w", task.ExternalID, err)
	}

	posted, err := s.posts.Get(recordCtx, post.ID)
	if err != nil {
		return nil, err
	}

	s.observe(post, "posted")
	return &PostNowResult{Post: posted, Item: done}, nil
}

func (s *Scheduler) fail(ctx context.Context, item *model.QueueItem, post *model.Post, message string) {
	if _, err := s.queue.Fail(context.WithoutCancel(ctx), item.ID, message); err != nil {
		slog.Error("Failed to record failed queue item", "queue_id", item.ID, "error", err)
	}
	s.observe(post, "failed")
}

func (s *Scheduler) setRunningMetric(running bool) {
	if s.metrics != nil {
		s.metrics.SetSchedulerRunning(running)
	}
}

func (s *Scheduler) observe(post *model.Post, result string) {
	if s.metrics != nil {
		s.metrics.ObservePublication(string(post.PostType), result)
	}
}

// PostNow publishes an approved post immediately. The rate cap always applies;
// the blackout window applies unless the scheduler settings allow an override.
func (s *Scheduler) PostNow(ctx context.Context, postID string) (*PostNowResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Status != model.StatusApproved {
		return nil, fmt.Errorf("cannot post %s in status %s: %w", postID, post.Status, model.ErrInvalidTransition)
	}

	sched, err := s.settings.Scheduler(ctx)
	if err != nil {
		return nil, err
	}
	window, err := sched.Window()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if window.Contains(now) && !sched.PostNowOverridesBlackout {
		return nil, fmt.Errorf("posting hours are %s: %w", window.ActiveHours(), model.ErrInBlackoutWindow)
	}

	reservation, err := s.limiter.Reserve(ctx, ratelimit.KindOf(post.PostType), now)
	if err != nil {
		return nil, err
	}

	item, err := s.queue.ClaimForPost(ctx, postID)
	if err != nil {
		reservation.Release()
		return nil, err
	}

	slog.Info("Posting now", "post_id", postID, "queue_id", item.ID)
	return s.publish(ctx, item, post, reservation)
}
