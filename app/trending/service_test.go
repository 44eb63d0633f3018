package trending

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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

const rssTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Search results for %s</title>
<link>https://example.com</link>
<description>search</description>
%s
</channel>
</rss>`

const rssItem = `<item>
<title>%s</title>
<link>%s</link>
<guid>%s</guid>
<pubDate>Mon, 04 May 2026 14:00:00 GMT</pubDate>
</item>`

type feedItem struct {
	title string
	link  string
}

// newFeedServer serves one RSS document per q parameter.
func newFeedServer(t *testing.T, feeds map[string][]feedItem) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topic := r.URL.Query().Get("q")
		items, ok := feeds[topic]
		if !ok {
			http.Error(w, "unknown topic", http.StatusNotFound)
			return
		}

		var body strings.Builder
		for _, item := range items {
			fmt.Fprintf(&body, rssItem, item.title, item.link, item.link)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, rssTemplate, topic, body.String())
	}))
	t.Cleanup(server.Close)
	return server
}

type testEnv struct {
	service  *Service
	settings *settings.Store
	clock    *clock.Fake
}

func newTestEnv(t *testing.T, feedURL string, topics ...string) *testEnv {
	t.Helper()
	db, err := database.OpenAndMigrate(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewFake(time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC))
	st := settings.NewStore(database.NewSettingsRepository(db), clk)

	value, err := json.Marshal(map[string]any{"topics": topics, "feed_urls": []string{feedURL}})
	require.NoError(t, err)
	_, err = st.Put(context.Background(), settings.KeyTrending, value)
	require.NoError(t, err)

	return &testEnv{
		service:  NewService(NewFeedSource("stoa-test", time.Second), database.NewTrendingRepository(db), st, clk),
		settings: st,
		clock:    clk,
	}
}

func stoicFeeds() map[string][]feedItem {
	return map[string][]feedItem{
		"stoicism": {
			{"Stoicism taught me patience in traffic", "https://x.com/marcus/status/111"},
			{"Reading about stoicism tonight", "https://x.com/seneca_fan/status/222"},
		},
		"patience": {
			{"Stoicism taught me patience in traffic", "https://x.com/marcus/status/111"},
			{"Gardening is mostly waiting", "https://x.com/gardener/status/333"},
		},
	}
}

func TestTrendingRanksAndDedupes(t *testing.T) {
	server := newFeedServer(t, stoicFeeds())
	env := newTestEnv(t, server.URL+"/search?q={topic}", "stoicism", "patience")

	tweets, err := env.service.Trending(context.Background(), 10, true)
	require.NoError(t, err)
	require.Len(t, tweets, 3)

	assert.Equal(t, "111", tweets[0].TweetID, "two topic matches rank first")
	assert.Equal(t, "marcus", tweets[0].Username)
	assert.Equal(t, 20.0, tweets[0].RelevanceScore)
	assert.Equal(t, "222", tweets[1].TweetID)
	assert.Equal(t, "333", tweets[2].TweetID)
	assert.Equal(t, 0.0, tweets[2].RelevanceScore)

	for _, tweet := range tweets {
		assert.Equal(t, model.TrendingShown, tweet.Status)
		assert.NotNil(t, tweet.PublishedAt)
	}
}

func TestTrendingExcludeSeen(t *testing.T) {
	server := newFeedServer(t, stoicFeeds())
	env := newTestEnv(t, server.URL+"/search?q={topic}", "stoicism", "patience")
	ctx := context.Background()

	_, err := env.service.Trending(ctx, 10, true)
	require.NoError(t, err)

	again, err := env.service.Trending(ctx, 10, true)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, env.service.Skip(ctx, "222"))

	all, err := env.service.Trending(ctx, 10, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.TrendingSkipped, all[1].Status, "cached state is kept")
}

func TestTrendingLimit(t *testing.T) {
	server := newFeedServer(t, stoicFeeds())
	env := newTestEnv(t, server.URL+"/search?q={topic}", "stoicism", "patience")

	tweets, err := env.service.Trending(context.Background(), 1, true)
	require.NoError(t, err)
	require.Len(t, tweets, 1)

	cached, err := env.service.Cache(context.Background(), "", 50)
	require.NoError(t, err)
	assert.Len(t, cached, 1, "only returned tweets are recorded")
}

func TestTrendingFeedFailures(t *testing.T) {
	server := newFeedServer(t, map[string][]feedItem{
		"stoicism": {{"Stoicism works", "https://x.com/a/status/1"}},
	})

	env := newTestEnv(t, server.URL+"/search?q={topic}", "stoicism", "unknown")
	tweets, err := env.service.Trending(context.Background(), 10, true)
	require.NoError(t, err, "one failing feed does not fail the search")
	assert.Len(t, tweets, 1)

	env = newTestEnv(t, server.URL+"/search?q={topic}", "unknown")
	_, err = env.service.Trending(context.Background(), 10, true)
	assert.Error(t, err)
}

func TestTrendingWithoutFeeds(t *testing.T) {
	db, err := database.OpenAndMigrate(":memory:")
	require.NoError(t, err)
	defer db.Close()

	clk := clock.NewFake(time.Now())
	st := settings.NewStore(database.NewSettingsRepository(db), clk)
	service := NewService(NewFeedSource("", 0), database.NewTrendingRepository(db), st, clk)

	tweets, err := service.Trending(context.Background(), 0, true)
	require.NoError(t, err)
	assert.Empty(t, tweets)
}

func TestCacheStatusChanges(t *testing.T) {
	server := newFeedServer(t, stoicFeeds())
	env := newTestEnv(t, server.URL+"/search?q={topic}", "stoicism", "patience")
	ctx := context.Background()

	_, err := env.service.Trending(ctx, 10, true)
	require.NoError(t, err)

	require.NoError(t, env.service.Skip(ctx, "222"))
	require.NoError(t, env.service.MarkReplied(ctx, "111"))

	assert.ErrorIs(t, env.service.Skip(ctx, "999"), model.ErrNotFound)
	assert.ErrorIs(t, env.service.MarkReplied(ctx, "999"), model.ErrNotFound)

	skipped, err := env.service.Cache(ctx, model.TrendingSkipped, 50)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "222", skipped[0].TweetID)

	_, err = env.service.Cache(ctx, "bogus", 50)
	assert.ErrorIs(t, err, model.ErrInvalidContent)

	stats, err := env.service.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Shown: 1, Skipped: 1, Replied: 1, Total: 3}, stats)
}

func TestCleanup(t *testing.T) {
	server := newFeedServer(t, stoicFeeds())
	env := newTestEnv(t, server.URL+"/search?q={topic}", "stoicism", "patience")
	ctx := context.Background()

	_, err := env.service.Trending(ctx, 10, true)
	require.NoError(t, err)

	deleted, err := env.service.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	env.clock.Advance(31 * 24 * time.Hour)

	deleted, err = env.service.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted, "zero days uses the configured retention")
}

func TestTopics(t *testing.T) {
	env := newTestEnv(t, "https://example.com/search?q={topic}", "stoicism")
	ctx := context.Background()

	topics, err := env.service.SetTopics(ctx, []string{" virtue ", "", "virtue", "marcus aurelius"})
	require.NoError(t, err)
	assert.Equal(t, []string{"virtue", "marcus aurelius"}, topics)

	got, err := env.service.Topics(ctx)
	require.NoError(t, err)
	assert.Equal(t, topics, got)
}

func TestExpandURL(t *testing.T) {
	got := ExpandURL("https://nitter.example/search/rss?f=tweets&q={topic}", "marcus aurelius")
	if got != "https://nitter.example/search/rss?f=tweets&q=marcus+aurelius" {
		t.Errorf("Unexpected URL %s", got)
	}
}

func TestTweetIDFallsBackToHash(t *testing.T) {
	server := newFeedServer(t, map[string][]feedItem{
		"stoicism": {{"A blog post about stoicism", "https://blog.example.com/posts/stoicism"}},
	})
	env := newTestEnv(t, server.URL+"/search?q={topic}", "stoicism")

	tweets, err := env.service.Trending(context.Background(), 10, true)
	require.NoError(t, err)
	require.Len(t, tweets, 1)
	assert.Len(t, tweets[0].TweetID, 16)
	assert.Equal(t, "unknown", tweets[0].Username)
}
