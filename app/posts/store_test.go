package posts

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/stoa/app/clock"
	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    *Store
	settings *settings.Store
	clock    *clock.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenAndMigrate(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewFake(time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC))
	st := settings.NewStore(database.NewSettingsRepository(db), clk)
	return &testEnv{
		store:    NewStore(database.NewPostRepository(db), st, clk),
		settings: st,
		clock:    clk,
	}
}

func (e *testEnv) create(t *testing.T, content string) *model.Post {
	t.Helper()
	post, err := e.store.Create(context.Background(), NewPost{Content: content, Virtue: model.VirtueWisdom})
	require.NoError(t, err)
	return post
}

func assertPostedInvariant(t *testing.T, post *model.Post) {
	t.Helper()
	posted := post.Status == model.StatusPosted
	assert.Equal(t, posted, post.PostedAt != nil, "posted_at must be set iff posted")
	assert.Equal(t, posted, post.XPostID != nil, "x_post_id must be set iff posted")
}

func TestCreateStartsInReview(t *testing.T) {
	env := newTestEnv(t)
	post := env.create(t, "The obstacle is the way.")

	assert.Equal(t, model.StatusPendingReview, post.Status)
	assert.Equal(t, model.PostTypeOriginal, post.PostType)
	assert.Equal(t, model.FormatShort, post.FormatType)
	assert.Equal(t, ContentHash("The obstacle is the way."), post.ContentHash)
	assert.True(t, post.IsEvergreen)
	assertPostedInvariant(t, post)
}

func TestCreateValidatesContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.Create(ctx, NewPost{Content: strings.Repeat("a", 281)})
	assert.ErrorIs(t, err, model.ErrInvalidContent)

	_, err = env.store.Create(ctx, NewPost{Content: "   "})
	assert.ErrorIs(t, err, model.ErrInvalidContent)

	_, err = env.store.Create(ctx, NewPost{Content: "reply without target", PostType: model.PostTypeReply})
	assert.ErrorIs(t, err, model.ErrInvalidContent)

	thread := strings.Repeat("b", 200) + model.ThreadSeparator + strings.Repeat("c", 200)
	post, err := env.store.Create(ctx, NewPost{Content: thread, FormatType: model.FormatThread})
	require.NoError(t, err)
	assert.Len(t, post.Segments(), 2)
}

func TestApproveTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.create(t, "Waste no more time arguing what a good man should be. Be one.")

	approved, err := env.store.Approve(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	_, err = env.store.Approve(ctx, post.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestUnknownPost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.Approve(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = env.store.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRejectRequiresReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.create(t, "We suffer more in imagination than in reality.")

	_, err := env.store.Approve(ctx, post.ID)
	require.NoError(t, err)

	_, err = env.store.Reject(ctx, post.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestMarkPostedSetsTimestampAndExternalID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.create(t, "You have power over your mind, not outside events.")

	_, err := env.store.MarkPosted(ctx, post.ID, "123")
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "only approved posts can be posted")

	_, err = env.store.Approve(ctx, post.ID)
	require.NoError(t, err)

	posted, err := env.store.MarkPosted(ctx, post.ID, "123")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPosted, posted.Status)
	require.NotNil(t, posted.XPostID)
	assert.Equal(t, "123", *posted.XPostID)
	assertPostedInvariant(t, posted)
}

func TestUpdateOnlyBeforePosting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.create(t, "First draft.")

	edited := "Second draft."
	updated, err := env.store.Update(ctx, post.ID, Edit{Content: &edited})
	require.NoError(t, err)
	assert.Equal(t, edited, updated.Content)
	assert.Equal(t, ContentHash(edited), updated.ContentHash)

	_, err = env.store.Approve(ctx, post.ID)
	require.NoError(t, err)

	topic := "discipline"
	updated, err = env.store.Update(ctx, post.ID, Edit{Topic: &topic})
	require.NoError(t, err, "approved posts are still editable")
	assert.Equal(t, topic, updated.Topic)

	_, err = env.store.MarkPosted(ctx, post.ID, "x-1")
	require.NoError(t, err)

	final := "Too late."
	_, err = env.store.Update(ctx, post.ID, Edit{Content: &final})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	tooLong := strings.Repeat("z", 300)
	other := env.create(t, "Another draft.")
	_, err = env.store.Update(ctx, other.ID, Edit{Content: &tooLong})
	assert.ErrorIs(t, err, model.ErrInvalidContent)
}

func TestRecycleHonoursCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.create(t, "Luck is what happens when preparation meets opportunity.")

	_, err := env.store.Approve(ctx, post.ID)
	require.NoError(t, err)
	_, err = env.store.MarkPosted(ctx, post.ID, "x-2")
	require.NoError(t, err)

	_, err = env.store.Recycle(ctx, post.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "cooldown has not elapsed")

	env.clock.Advance(31 * 24 * time.Hour)

	candidates, err := env.store.RecycleCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, post.ID, candidates[0].ID)

	recycled, err := env.store.Recycle(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRecycled, recycled.Status)
	assert.Equal(t, 1, recycled.RecycleCount)
	assert.Nil(t, recycled.ApprovedAt)
	assertPostedInvariant(t, recycled)

	resubmitted, err := env.store.Resubmit(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingReview, resubmitted.Status)
	assert.Equal(t, 1, resubmitted.RecycleCount)
}

func TestRecycleRejectedWithZeroCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.settings.Put(ctx, settings.KeyGeneration, json.RawMessage(`{"recycle_cooldown_days": 0}`))
	require.NoError(t, err)

	post := env.create(t, "Begin at once to live.")
	_, err = env.store.Recycle(ctx, post.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "pending posts cannot be recycled")

	_, err = env.store.Reject(ctx, post.ID)
	require.NoError(t, err)

	recycled, err := env.store.Recycle(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRecycled, recycled.Status)
}

func TestCreateUniqueRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreateUnique(ctx, NewPost{Content: "Memento   mori"})
	require.NoError(t, err)

	_, err = env.store.CreateUnique(ctx, NewPost{Content: "memento mori"})
	assert.ErrorIs(t, err, model.ErrDuplicateContent)

	env.clock.Advance(31 * 24 * time.Hour)
	_, err = env.store.CreateUnique(ctx, NewPost{Content: "MEMENTO MORI"})
	assert.NoError(t, err, "duplicates outside the lookback are allowed")
}

func TestListNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.create(t, "one")
	env.clock.Advance(time.Minute)
	second := env.create(t, "two")

	list, err := env.store.List(ctx, database.PostFilter{Status: model.StatusPendingReview})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestListNewestFirstWithinOneSecond(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var created []string
	for _, content := range []string{"first light", "second wind", "third way"} {
		created = append(created, env.create(t, content).ID)
		env.clock.Advance(250 * time.Millisecond)
	}

	list, err := env.store.List(ctx, database.PostFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{created[2], created[1], created[0]}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draft := env.create(t, "short lived")
	if err := env.store.Delete(ctx, draft.ID); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	_, err := env.store.Get(ctx, draft.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, env.store.Delete(ctx, draft.ID), model.ErrNotFound)

	posted := env.create(t, "on the record")
	_, err = env.store.Approve(ctx, posted.ID)
	require.NoError(t, err)
	_, err = env.store.MarkPosted(ctx, posted.ID, "x-9")
	require.NoError(t, err)
	assert.ErrorIs(t, env.store.Delete(ctx, posted.ID), model.ErrInvalidTransition)
}

func TestContentHashNormalization(t *testing.T) {
	a := ContentHash("Amor  Fati\n")
	b := ContentHash("amor fati")
	c := ContentHash("ａｍｏｒ fati")

	if a != b {
		t.Errorf("Expected whitespace and case to be ignored, got %s and %s", a, b)
	}
	if a != c {
		t.Errorf("Expected full-width characters to normalize, got %s and %s", a, c)
	}
	if len(a) != 16 {
		t.Errorf("Expected 16 hex characters, got %d", len(a))
	}
}
