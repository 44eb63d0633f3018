package trending

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/lysyi3m/stoa/app/model"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
)

const TopicPlaceholder = "{topic}"

var statusLink = regexp.MustCompile(`/([A-Za-z0-9_]{1,15})/status(?:es)?/(\d+)`)

type Query struct {
	Topics   []string
	FeedURLs []string
	Limit    int
}

// Source finds tweets worth replying to.
type Source interface {
	Search(ctx context.Context, q Query) ([]model.TrendingTweet, error)
}

// FeedSource searches RSS/Atom/JSON feeds. Every feed URL template is
// expanded once per topic.
type FeedSource struct {
	parser *gofeed.Parser
}

func NewFeedSource(userAgent string, timeout time.Duration) *FeedSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	return &FeedSource{parser: parser}
}

func (s *FeedSource) Search(ctx context.Context, q Query) ([]model.TrendingTweet, error) {
	if len(q.FeedURLs) == 0 || len(q.Topics) == 0 {
		slog.Debug("No trending feeds or topics configured")
		return []model.TrendingTweet{}, nil
	}

	var (
		found    []model.TrendingTweet
		failures int
		lastErr  error
		attempts int
	)
	for _, topic := range q.Topics {
		for _, tmpl := range q.FeedURLs {
			attempts++
			feedURL := ExpandURL(tmpl, topic)

			feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
			if err != nil {
				failures++
				lastErr = err
				slog.Warn("Failed to fetch trending feed", "topic", topic, "url", feedURL, "error", err)
				continue
			}

			for _, item := range feed.Items {
				tweet, ok := normalizeItem(item, topic)
				if !ok {
					continue
				}
				tweet.RelevanceScore = score(tweet, q.Topics)
				found = append(found, tweet)
			}
		}
	}

	if failures == attempts {
		return nil, fmt.Errorf("all %d trending feeds failed: %w", attempts, lastErr)
	}

	found = lo.UniqBy(found, func(t model.TrendingTweet) string { return t.TweetID })
	slices.SortStableFunc(found, func(a, b model.TrendingTweet) int {
		return cmp.Compare(b.RelevanceScore, a.RelevanceScore)
	})

	if q.Limit > 0 && len(found) > q.Limit {
		found = found[:q.Limit]
	}
	return found, nil
}

// ExpandURL fills the topic placeholder of a feed URL template.
func ExpandURL(tmpl, topic string) string {
	return strings.ReplaceAll(tmpl, TopicPlaceholder, url.QueryEscape(topic))
}

func normalizeItem(item *gofeed.Item, topic string) (model.TrendingTweet, bool) {
	content := strings.TrimSpace(cmp.Or(item.Title, item.Description, item.Content))
	if content == "" {
		return model.TrendingTweet{}, false
	}

	tweet := model.TrendingTweet{
		TweetID:  tweetID(item),
		Content:  content,
		Username: username(item),
		URL:      item.Link,
		Topic:    topic,
		Status:   model.TrendingShown,
	}
	if item.PublishedParsed != nil {
		published := item.PublishedParsed.UTC()
		tweet.PublishedAt = &published
	}
	return tweet, true
}

// tweetID prefers the numeric id of a status link so replies can target it.
func tweetID(item *gofeed.Item) string {
	for _, candidate := range []string{item.Link, item.GUID} {
		if m := statusLink.FindStringSubmatch(candidate); m != nil {
			return m[2]
		}
	}
	hash := sha256.Sum256([]byte(cmp.Or(item.GUID, item.Link, item.Title)))
	return hex.EncodeToString(hash[:8])
}

func username(item *gofeed.Item) string {
	if m := statusLink.FindStringSubmatch(item.Link); m != nil {
		return m[1]
	}

	var name string
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		name = item.Authors[0].Name
	} else if item.Author != nil {
		name = item.Author.Name
	}
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	return cmp.Or(name, "unknown")
}

// score ranks by topic mentions first and engagement second.
func score(tweet model.TrendingTweet, topics []string) float64 {
	text := strings.ToLower(tweet.Content)
	matches := lo.CountBy(topics, func(topic string) bool {
		return strings.Contains(text, strings.ToLower(topic))
	})
	return float64(matches*10 + tweet.Likes + tweet.Retweets*2)
}
