package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lysyi3m/stoa/app/model"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const DefaultXBaseURL = "https://api.x.com/2"

type XConfig struct {
	BaseURL     string
	AccessToken string
	UserAgent   string
	Timeout     time.Duration
	// MinGap is the minimum pause between two API calls, including thread segments.
	MinGap time.Duration
}

// XClient publishes through the X API v2. Threads are posted as reply chains.
type XClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	pacer     *rate.Limiter
}

func NewXClient(cfg XConfig) *XClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultXBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	base := &http.Client{Timeout: cfg.Timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.AccessToken,
		TokenType:   "Bearer",
	}))

	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinGap > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.MinGap), 1)
	}

	return &XClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    client,
		pacer:     pacer,
	}
}

type tweetRequest struct {
	Text         string      `json:"text"`
	Reply        *tweetReply `json:"reply,omitempty"`
	QuoteTweetID string      `json:"quote_tweet_id,omitempty"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type apiErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *XClient) Publish(ctx context.Context, pub Publication) (string, error) {
	if len(pub.Segments) == 0 {
		return "", model.NewPublishError(fmt.Errorf("post %s has no content", pub.PostID))
	}

	var (
		firstID  string
		parentID string
	)
	for i, segment := range pub.Segments {
		req := tweetRequest{Text: segment}

		switch {
		case i > 0:
			req.Reply = &tweetReply{InReplyToTweetID: parentID}
		case pub.PostType == model.PostTypeReply:
			req.Reply = &tweetReply{InReplyToTweetID: pub.TargetTweetID}
		case pub.PostType == model.PostTypeQuote:
			req.QuoteTweetID = pub.TargetTweetID
		}

		id, err := c.createTweet(ctx, req)
		if err != nil {
			if i > 0 {
				err = fmt.Errorf("thread broken after %d of %d segments (first id %s): %w", i, len(pub.Segments), firstID, err)
			}
			return "", model.NewPublishError(err)
		}

		if i == 0 {
			firstID = id
		}
		parentID = id
	}

	slog.Info("Post published", "post_id", pub.PostID, "external_id", firstID, "segments", len(pub.Segments))
	return firstID, nil
}

func (c *XClient) createTweet(ctx context.Context, body tweetRequest) (string, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return "", err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post tweet: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, apiErrorMessage(data))
	}

	var out tweetResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("response carries no tweet id")
	}
	return out.Data.ID, nil
}

func apiErrorMessage(data []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(data, &apiErr); err != nil {
		return strings.TrimSpace(string(data))
	}
	if apiErr.Detail != "" {
		return apiErr.Detail
	}
	if len(apiErr.Errors) > 0 {
		return apiErr.Errors[0].Message
	}
	return apiErr.Title
}
