package generation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const maxKnowledgeLength = 1500

// Knowledge is background text pulled from a source page.
type Knowledge struct {
	Title    string
	Text     string
	Citation string
}

type SourceExtractor interface {
	Extract(ctx context.Context, sourceURL string) (*Knowledge, error)
}

type ContentExtractor struct {
	client    *http.Client
	userAgent string
}

func NewContentExtractor(userAgent string, timeout time.Duration) *ContentExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ContentExtractor{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (e *ContentExtractor) Extract(ctx context.Context, sourceURL string) (*Knowledge, error) {
	pageURL, err := url.Parse(sourceURL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return nil, fmt.Errorf("invalid source URL %q", sourceURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	return e.Run(resp.Body, pageURL)
}

// Run extracts the readable text of an HTML page.
func (e *ContentExtractor) Run(body io.Reader, pageURL *url.URL) (*Knowledge, error) {
	article, err := readability.FromReader(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if text == "" {
		return nil, fmt.Errorf("no content extracted from %s", pageURL)
	}

	slog.Debug("Source extracted successfully",
		"url", pageURL.String(),
		"title", article.Title,
		"content_length", len(text))

	citation := pageURL.String()
	if article.Title != "" {
		citation = fmt.Sprintf("%s (%s)", article.Title, pageURL)
	}

	return &Knowledge{
		Title:    article.Title,
		Text:     truncate(text, maxKnowledgeLength),
		Citation: citation,
	}, nil
}
