package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/stoa/app/clock"
	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/metrics"
	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/posts"
	"github.com/lysyi3m/stoa/app/publisher"
	"github.com/lysyi3m/stoa/app/queue"
	"github.com/lysyi3m/stoa/app/ratelimit"
	"github.com/lysyi3m/stoa/app/settings"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 12:00 in America/New_York.
var noon = time.Date(2026, 5, 4, 16, 0, 0, 0, time.UTC)

type MockPublisher struct {
	mu        sync.Mutex
	fail      map[string]error
	panicOn   map[string]bool
	onPublish func(content string)
	calls     []string
}

func (m *MockPublisher) Publish(ctx context.Context, pub publisher.Publication) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content := pub.Segments[0]
	m.calls = append(m.calls, content)
	if m.onPublish != nil {
		m.onPublish(content)
	}
	if m.panicOn[content] {
		panic("connection reset by peer")
	}
	if err := m.fail[content]; err != nil {
		return "", err
	}
	return fmt.Sprintf("x-%d", len(m.calls)), nil
}

// blockingPublisher holds every publication until release is closed.
type blockingPublisher struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingPublisher) Publish(ctx context.Context, pub publisher.Publication) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return "x-slow", nil
}

type testEnv struct {
	scheduler *Scheduler
	queue     *queue.Manager
	posts     *posts.Store
	limiter   *ratelimit.Limiter
	settings  *settings.Store
	publisher *MockPublisher
	metrics   *metrics.Metrics
	clock     *clock.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenAndMigrate(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewFake(noon)
	st := settings.NewStore(database.NewSettingsRepository(db), clk)
	postStore := posts.NewStore(database.NewPostRepository(db), st, clk)
	queueRepo := database.NewQueueRepository(db)
	limiter := ratelimit.NewLimiter(queueRepo, st)
	manager := queue.NewManager(queueRepo, postStore, limiter, st, clk)
	pub := &MockPublisher{fail: map[string]error{}, panicOn: map[string]bool{}}
	m := metrics.New()

	env := &testEnv{
		scheduler: NewScheduler(manager, postStore, limiter, st, pub, m, clk, Options{Interval: time.Hour}),
		queue:     manager,
		posts:     postStore,
		limiter:   limiter,
		settings:  st,
		publisher: pub,
		metrics:   m,
		clock:     clk,
	}
	env.put(t, settings.KeyScheduler, `{"intervals": [60]}`)
	return env
}

// newScheduler builds a second scheduler over the same stores.
func (e *testEnv) newScheduler(pub publisher.Publisher, opts Options) *Scheduler {
	return NewScheduler(e.queue, e.posts, e.limiter, e.settings, pub, nil, e.clock, opts)
}

func (e *testEnv) put(t *testing.T, key settings.Key, value string) {
	t.Helper()
	_, err := e.settings.Put(context.Background(), key, json.RawMessage(value))
	require.NoError(t, err)
}

func (e *testEnv) approved(t *testing.T, content string) *model.Post {
	t.Helper()
	ctx := context.Background()
	post, err := e.posts.Create(ctx, posts.NewPost{Content: content})
	require.NoError(t, err)
	post, err = e.posts.Approve(ctx, post.ID)
	require.NoError(t, err)
	return post
}

func (e *testEnv) queued(t *testing.T, content string) (*model.Post, *model.QueueItem) {
	t.Helper()
	post := e.approved(t, content)
	item, err := e.queue.Enqueue(context.Background(), post.ID, nil)
	require.NoError(t, err)
	return post, item
}

func (e *testEnv) item(t *testing.T, id string) *model.QueueItem {
	t.Helper()
	item, err := e.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return item
}

func (e *testEnv) post(t *testing.T, id string) *model.Post {
	t.Helper()
	post, err := e.posts.Get(context.Background(), id)
	require.NoError(t, err)
	return post
}

func TestPassIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	post1, item1 := env.queued(t, "first")
	post2, item2 := env.queued(t, "second")
	post3, item3 := env.queued(t, "third")
	env.publisher.fail["second"] = errors.New("503 service unavailable")

	env.clock.Advance(3 * time.Hour)
	result, err := env.scheduler.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Due: 3, Posted: 2, Failed: 1}, result)

	assert.Equal(t, model.QueueStatusPosted, env.item(t, item1.ID).Status)
	assert.Equal(t, model.QueueStatusPosted, env.item(t, item3.ID).Status)

	failed := env.item(t, item2.ID)
	assert.Equal(t, model.QueueStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "503 service unavailable")

	assert.Equal(t, model.StatusPosted, env.post(t, post1.ID).Status)
	assert.Equal(t, model.StatusApproved, env.post(t, post2.ID).Status, "failed posts stay approved")
	assert.Equal(t, model.StatusPosted, env.post(t, post3.ID).Status)

	assert.Equal(t, []string{"first", "second", "third"}, env.publisher.calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.Publications.WithLabelValues("original", "posted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Publications.WithLabelValues("original", "failed")))
}

func TestPassRecoversPublisherPanic(t *testing.T) {
	env := newTestEnv(t)
	_, item1 := env.queued(t, "explodes")
	_, item2 := env.queued(t, "fine")
	env.publisher.panicOn["explodes"] = true

	env.clock.Advance(3 * time.Hour)
	result, err := env.scheduler.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Posted)

	failed := env.item(t, item1.ID)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "publisher panic")
	assert.Equal(t, model.QueueStatusPosted, env.item(t, item2.ID).Status)
}

func TestPassDefersDuringBlackout(t *testing.T) {
	env := newTestEnv(t)
	_, item := env.queued(t, "late")

	// 23:30 local.
	env.clock.Set(time.Date(2026, 5, 5, 3, 30, 0, 0, time.UTC))
	result, err := env.scheduler.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PassResult{Due: 1, Deferred: 1}, result)
	assert.Equal(t, model.QueueStatusPending, env.item(t, item.ID).Status)
	assert.Empty(t, env.publisher.calls)
}

func TestPassLeavesItemsOverCapPending(t *testing.T) {
	env := newTestEnv(t)
	env.put(t, settings.KeyRateLimits, `{"daily_posts": 1}`)
	ctx := context.Background()

	first := env.approved(t, "first")
	second := env.approved(t, "second")
	at := noon.Add(10 * time.Minute)
	item1, err := env.queue.Enqueue(ctx, first.ID, &at)
	require.NoError(t, err)

	// Raise the cap so the second item can be planned on the same day, then lower it again.
	env.put(t, settings.KeyRateLimits, `{"daily_posts": 2}`)
	env.clock.Advance(time.Second)
	item2, err := env.queue.Enqueue(ctx, second.ID, &at)
	require.NoError(t, err)
	env.put(t, settings.KeyRateLimits, `{"daily_posts": 1}`)

	env.clock.Advance(time.Hour)
	result, err := env.scheduler.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Due: 2, Posted: 1, Deferred: 1}, result)
	assert.Equal(t, model.QueueStatusPosted, env.item(t, item1.ID).Status)
	assert.Equal(t, model.QueueStatusPending, env.item(t, item2.ID).Status)
}

func TestPassBudgetSkipsCappedKinds(t *testing.T) {
	env := newTestEnv(t)
	env.put(t, settings.KeyRateLimits, `{"daily_posts": 2, "daily_replies": 5}`)
	ctx := context.Background()
	scheduler := env.newScheduler(env.publisher, Options{Interval: time.Hour, MaxPerPass: 2})

	_, original1 := env.queued(t, "original one")
	_, original2 := env.queued(t, "original two")
	for _, content := range []string{"urgent one", "urgent two"} {
		_, err := scheduler.PostNow(ctx, env.approved(t, content).ID)
		require.NoError(t, err)
	}

	reply, err := env.posts.Create(ctx, posts.NewPost{Content: "Well said.", PostType: model.PostTypeReply, ReplyToTweetID: "42"})
	require.NoError(t, err)
	_, err = env.posts.Approve(ctx, reply.ID)
	require.NoError(t, err)
	replyItem, err := env.queue.Enqueue(ctx, reply.ID, nil)
	require.NoError(t, err)

	env.clock.Advance(4 * time.Hour)
	result, err := scheduler.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, PassResult{Due: 3, Posted: 1, Deferred: 2}, result)

	assert.Equal(t, model.QueueStatusPosted, env.item(t, replyItem.ID).Status)
	assert.Equal(t, model.QueueStatusPending, env.item(t, original1.ID).Status)
	assert.Equal(t, model.QueueStatusPending, env.item(t, original2.ID).Status)
}

func TestPassFailsItemWhenPublicationCannotBeRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post, item := env.queued(t, "raced")

	env.publisher.onPublish = func(content string) {
		_, err := env.posts.MarkPosted(ctx, post.ID, "manual-1")
		require.NoError(t, err)
	}

	env.clock.Advance(3 * time.Hour)
	result, err := env.scheduler.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	failed := env.item(t, item.ID)
	assert.Equal(t, model.QueueStatusFailed, failed.Status)
	assert.Nil(t, failed.PostedAt)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "published as x-1")

	env.publisher.onPublish = nil
	_, err = env.scheduler.RunPass(ctx)
	require.NoError(t, err)
	assert.Len(t, env.publisher.calls, 1, "a recorded failure is never published again")
}

func TestPassFailsItemsOfUnapprovedPosts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	post, item := env.queued(t, "posted elsewhere")
	_, err := env.posts.MarkPosted(ctx, post.ID, "manual-1")
	require.NoError(t, err)

	env.clock.Advance(3 * time.Hour)
	result, err := env.scheduler.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	failed := env.item(t, item.ID)
	assert.Equal(t, model.QueueStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "not approved")
	assert.Empty(t, env.publisher.calls)
}

func TestPostNow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.approved(t, "right now")

	result, err := env.scheduler.PostNow(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPosted, result.Post.Status)
	require.NotNil(t, result.Post.XPostID)
	assert.Equal(t, "x-1", *result.Post.XPostID)
	assert.Equal(t, model.QueueStatusPosted, result.Item.Status)

	_, err = env.scheduler.PostNow(ctx, post.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = env.scheduler.PostNow(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPostNowUsesPendingItem(t *testing.T) {
	env := newTestEnv(t)
	post, item := env.queued(t, "queued first")

	result, err := env.scheduler.PostNow(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, result.Item.ID)
	assert.Equal(t, model.QueueStatusPosted, result.Item.Status)
}

func TestPostNowRespectsRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.put(t, settings.KeyRateLimits, `{"daily_posts": 1}`)
	ctx := context.Background()

	_, err := env.scheduler.PostNow(ctx, env.approved(t, "one").ID)
	require.NoError(t, err)

	post := env.approved(t, "two")
	_, err = env.scheduler.PostNow(ctx, post.ID)
	assert.ErrorIs(t, err, model.ErrRateLimitExceeded)
	assert.Equal(t, model.StatusApproved, env.post(t, post.ID).Status)

	pending, err := env.queue.PendingFor(ctx, post.ID)
	require.NoError(t, err)
	assert.Nil(t, pending, "a refused post-now leaves no queue item behind")
}

func TestPostNowBlackout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.clock.Set(time.Date(2026, 5, 5, 3, 30, 0, 0, time.UTC))

	_, err := env.scheduler.PostNow(ctx, env.approved(t, "overrides").ID)
	require.NoError(t, err, "post-now overrides the blackout by default")

	env.put(t, settings.KeyScheduler, `{"post_now_overrides_blackout": false}`)
	_, err = env.scheduler.PostNow(ctx, env.approved(t, "refused").ID)
	assert.ErrorIs(t, err, model.ErrInBlackoutWindow)
}

func TestPostNowPublisherFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.approved(t, "broken")
	env.publisher.fail["broken"] = errors.New("401 unauthorized")

	_, err := env.scheduler.PostNow(ctx, post.ID)
	assert.ErrorIs(t, err, model.ErrPublisherFailure)

	items, err := env.queue.List(ctx, database.QueueFilter{Status: model.QueueStatusFailed})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, post.ID, items[0].PostID)

	env.put(t, settings.KeyRateLimits, `{"daily_posts": 1}`)
	delete(env.publisher.fail, "broken")
	_, err = env.scheduler.PostNow(ctx, post.ID)
	assert.NoError(t, err, "the failed attempt must not hold the daily slot")
}

func TestStartStopIdempotent(t *testing.T) {
	env := newTestEnv(t)

	assert.True(t, env.scheduler.Start())
	assert.False(t, env.scheduler.Start())
	assert.True(t, env.scheduler.Running())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SchedulerUp))

	assert.True(t, env.scheduler.Stop())
	assert.False(t, env.scheduler.Stop())
	assert.False(t, env.scheduler.Running())

	assert.True(t, env.scheduler.Start(), "a stopped scheduler can be started again")
	assert.True(t, env.scheduler.Stop())
}

func TestStopLetsInFlightPublishCommit(t *testing.T) {
	env := newTestEnv(t)
	post, item := env.queued(t, "slow network")
	env.clock.Advance(2 * time.Hour)

	pub := &blockingPublisher{started: make(chan struct{}), release: make(chan struct{})}
	scheduler := env.newScheduler(pub, Options{Interval: time.Hour})
	require.True(t, scheduler.Start())

	select {
	case <-pub.started:
	case <-time.After(2 * time.Second):
		t.Fatal("publication did not start")
	}

	stopped := make(chan bool, 1)
	go func() { stopped <- scheduler.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a publication was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(pub.release)
	select {
	case ok := <-stopped:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the publication finished")
	}

	assert.Equal(t, model.QueueStatusPosted, env.item(t, item.ID).Status)
	posted := env.post(t, post.ID)
	assert.Equal(t, model.StatusPosted, posted.Status)
	require.NotNil(t, posted.XPostID)
	assert.Equal(t, "x-slow", *posted.XPostID)
}

func TestStartRunsInitialPass(t *testing.T) {
	env := newTestEnv(t)
	_, item := env.queued(t, "due at start")
	env.clock.Advance(2 * time.Hour)

	env.scheduler.Start()
	assert.Eventually(t, func() bool {
		current, err := env.queue.Get(context.Background(), item.ID)
		return err == nil && current.Status == model.QueueStatusPosted
	}, 2*time.Second, 10*time.Millisecond)
	env.scheduler.Stop()
}

func TestPausedSchedulerSkipsPasses(t *testing.T) {
	env := newTestEnv(t)
	_, item := env.queued(t, "paused")
	env.clock.Advance(2 * time.Hour)

	env.scheduler.Pause()
	env.scheduler.tick(context.Background())
	assert.Equal(t, model.QueueStatusPending, env.item(t, item.ID).Status)

	env.scheduler.Resume()
	env.scheduler.tick(context.Background())
	assert.Equal(t, model.QueueStatusPosted, env.item(t, item.ID).Status)
}

func TestStatusAndEstimate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, item := env.queued(t, "next up")

	st, err := env.scheduler.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.False(t, st.InBlackout)
	assert.Equal(t, "05:00-23:00", st.ActiveHours)
	require.NotNil(t, st.NextPostAt)
	assert.True(t, st.NextPostAt.Equal(item.ScheduledFor))
	assert.Equal(t, 17, st.RateLimits.Kinds[ratelimit.KindPosts].Remaining)

	env.put(t, settings.KeyScheduler, `{"intervals": [45, 60, 90, 120]}`)
	est, err := env.scheduler.Estimate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1080, est.ActiveMinutes)
	assert.Equal(t, 78.75, est.AverageIntervalMinutes)
	assert.Equal(t, 13.7, est.EstimatedPostsPerDay)
	assert.True(t, est.WithinRateLimit)
}
