package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/metrics"
	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/posts"
	"github.com/lysyi3m/stoa/app/settings"
	"golang.org/x/sync/errgroup"
)

const (
	MaxBatch         = 10
	batchConcurrency = 3
	styleExamples    = 2
	replyTopicLength = 100

	socialTemperature = 0.8
	refineTemperature = 0.7
)

var maxTokens = map[model.FormatType]int64{
	model.FormatShort:  100,
	model.FormatThread: 2000,
	model.FormatLong:   2000,
}

type PostCreator interface {
	CreateUnique(ctx context.Context, in posts.NewPost) (*model.Post, error)
	List(ctx context.Context, filter database.PostFilter) ([]model.Post, error)
}

type GenerationSettings interface {
	Generation(ctx context.Context) (settings.Generation, error)
}

type Prompts interface {
	Render(virtue model.Virtue, name string, data PromptData) (string, string, error)
	Topics(virtue model.Virtue) []string
}

type Request struct {
	Topic           string           `json:"topic"`
	Format          model.FormatType `json:"format_type"`
	Virtue          model.Virtue     `json:"virtue"`
	IncludeExamples *bool            `json:"include_examples"`
	SourceURL       string           `json:"source_url"`
}

type ReplyRequest struct {
	TweetText string         `json:"tweet_text"`
	TweetID   string         `json:"tweet_id"`
	Username  string         `json:"username"`
	Virtue    model.Virtue   `json:"virtue"`
	PostType  model.PostType `json:"post_type"`
}

type BatchResult struct {
	Posts  []*model.Post `json:"posts"`
	Errors []string      `json:"errors"`
}

type RefineResult struct {
	Content     string `json:"content"`
	Original    string `json:"original"`
	Instruction string `json:"instruction"`
	Model       string `json:"model"`
}

// Service produces pending_review posts from the prompt catalog and an LLM.
type Service struct {
	prompts   Prompts
	provider  Provider
	extractor SourceExtractor
	posts     PostCreator
	settings  GenerationSettings
	metrics   *metrics.Metrics

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewService(prompts Prompts, provider Provider, extractor SourceExtractor, posts PostCreator, settings GenerationSettings, m *metrics.Metrics) *Service {
	return &Service{
		prompts:   prompts,
		provider:  provider,
		extractor: extractor,
		posts:     posts,
		settings:  settings,
		metrics:   m,
		rnd:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (s *Service) Generate(ctx context.Context, req Request) (*model.Post, error) {
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	gen, err := s.settings.Generation(ctx)
	if err != nil {
		return nil, err
	}

	format := req.Format
	if format == "" {
		format = s.pickFormat(gen.FormatWeights)
	} else if _, err := model.FormatFor(format); err != nil {
		return nil, err
	}

	virtue, err := s.resolveVirtue(req.Virtue, gen)
	if err != nil {
		return nil, err
	}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = s.pickTopic(virtue)
	}

	data := PromptData{Topic: topic}
	var citations []string
	if knowledge := s.knowledge(ctx, req.SourceURL); knowledge != nil {
		data.Knowledge = knowledge.Text
		citations = append(citations, knowledge.Citation)
	}

	includeExamples := gen.IncludeExamples
	if req.IncludeExamples != nil {
		includeExamples = *req.IncludeExamples
	}
	if includeExamples && format == model.FormatThread {
		data.StyleExamples = s.styleExamples(ctx)
	}

	system, prompt, err := s.prompts.Render(virtue, string(format), data)
	if err != nil {
		return nil, err
	}

	completion := Completion{
		System:      system,
		Prompt:      prompt,
		Model:       gen.Model,
		MaxTokens:   maxTokens[format],
		Temperature: socialTemperature,
	}

	post, err := s.attempt(ctx, gen.MaxAttempts, completion, func(raw string) posts.NewPost {
		content, _ := ParseOutput(format, raw)
		return posts.NewPost{
			Content:    content,
			Topic:      topic,
			PostType:   model.PostTypeOriginal,
			FormatType: format,
			Virtue:     virtue,
			Model:      s.modelName(gen),
			Citations:  citations,
		}
	})
	s.observe(string(format), err)
	if err != nil {
		return nil, err
	}

	slog.Info("Post generated", "id", post.ID, "format", string(format), "virtue", string(virtue), "topic", topic)
	return post, nil
}

// GenerateReply drafts a reply (or quote) to an existing tweet.
func (s *Service) GenerateReply(ctx context.Context, req ReplyRequest) (*model.Post, error) {
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	req.TweetText = strings.TrimSpace(req.TweetText)
	if req.TweetText == "" || req.TweetID == "" {
		return nil, fmt.Errorf("%w: tweet text and tweet id are required", model.ErrInvalidContent)
	}
	if req.PostType == "" {
		req.PostType = model.PostTypeReply
	}
	if req.PostType == model.PostTypeOriginal || !req.PostType.Valid() {
		return nil, fmt.Errorf("%w: post type must be reply or quote", model.ErrInvalidContent)
	}

	gen, err := s.settings.Generation(ctx)
	if err != nil {
		return nil, err
	}
	virtue, err := s.resolveVirtue(req.Virtue, gen)
	if err != nil {
		return nil, err
	}

	topic := truncateRunes(req.TweetText, replyTopicLength)
	system, prompt, err := s.prompts.Render(virtue, TemplateReply, PromptData{
		Topic:           topic,
		OriginalContent: req.TweetText,
		Username:        strings.TrimPrefix(req.Username, "@"),
	})
	if err != nil {
		return nil, err
	}

	completion := Completion{
		System:      system,
		Prompt:      prompt,
		Model:       gen.Model,
		MaxTokens:   maxTokens[model.FormatShort],
		Temperature: socialTemperature,
	}

	post, err := s.attempt(ctx, gen.MaxAttempts, completion, func(raw string) posts.NewPost {
		return posts.NewPost{
			Content:         cleanReply(raw),
			Topic:           topic,
			PostType:        req.PostType,
			FormatType:      model.FormatShort,
			Virtue:          virtue,
			ReplyToTweetID:  req.TweetID,
			ReplyToContent:  req.TweetText,
			ReplyToUsername: strings.TrimPrefix(req.Username, "@"),
			Model:           s.modelName(gen),
		}
	})
	s.observe(string(req.PostType), err)
	if err != nil {
		return nil, err
	}

	slog.Info("Reply generated", "id", post.ID, "tweet_id", req.TweetID, "virtue", string(virtue))
	return post, nil
}

// GenerateBatch runs count generations with bounded concurrency. Single
// failures are reported next to the posts that succeeded.
func (s *Service) GenerateBatch(ctx context.Context, count int, req Request) (*BatchResult, error) {
	if count < 1 || count > MaxBatch {
		return nil, fmt.Errorf("%w: batch size must be between 1 and %d", model.ErrInvalidContent, MaxBatch)
	}

	created := make([]*model.Post, count)
	failures := make([]error, count)

	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i := range count {
		g.Go(func() error {
			created[i], failures[i] = s.Generate(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{Posts: []*model.Post{}, Errors: []string{}}
	var first error
	for i := range count {
		if failures[i] != nil {
			if first == nil {
				first = failures[i]
			}
			result.Errors = append(result.Errors, failures[i].Error())
			continue
		}
		result.Posts = append(result.Posts, created[i])
	}

	if len(result.Posts) == 0 {
		return nil, first
	}
	slog.Info("Batch generated", "requested", count, "created", len(result.Posts), "failed", len(result.Errors))
	return result, nil
}

// Refine rewrites content following an instruction. Nothing is stored.
func (s *Service) Refine(ctx context.Context, content, instruction string) (*RefineResult, error) {
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	content = strings.TrimSpace(content)
	instruction = strings.TrimSpace(instruction)
	if content == "" || instruction == "" {
		return nil, fmt.Errorf("%w: content and instruction are required", model.ErrInvalidContent)
	}

	gen, err := s.settings.Generation(ctx)
	if err != nil {
		return nil, err
	}

	system, prompt, err := s.prompts.Render(model.VirtueGeneral, TemplateRefine, PromptData{
		Content:     content,
		Instruction: instruction,
	})
	if err != nil {
		return nil, err
	}

	raw, err := s.provider.Complete(ctx, Completion{
		System:      system,
		Prompt:      prompt,
		Model:       gen.Model,
		MaxTokens:   maxTokens[model.FormatThread],
		Temperature: refineTemperature,
	})
	s.observe(TemplateRefine, err)
	if err != nil {
		return nil, err
	}

	return &RefineResult{
		Content:     cleanRefined(raw),
		Original:    content,
		Instruction: instruction,
		Model:       s.modelName(gen),
	}, nil
}

// attempt asks the provider again when the output duplicates a recent post
// or does not fit its format.
func (s *Service) attempt(ctx context.Context, attempts int, completion Completion, build func(raw string) posts.NewPost) (*model.Post, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		raw, err := s.provider.Complete(ctx, completion)
		if err != nil {
			return nil, err
		}

		post, err := s.posts.CreateUnique(ctx, build(raw))
		if err == nil {
			return post, nil
		}
		if !errors.Is(err, model.ErrDuplicateContent) && !errors.Is(err, model.ErrInvalidContent) {
			return nil, err
		}

		lastErr = err
		slog.Warn("Generated content rejected, retrying", "attempt", i, "max_attempts", attempts, "error", err)
	}
	return nil, fmt.Errorf("no usable content after %d attempts: %w", attempts, lastErr)
}

func (s *Service) knowledge(ctx context.Context, sourceURL string) *Knowledge {
	if sourceURL == "" || s.extractor == nil {
		return nil
	}
	knowledge, err := s.extractor.Extract(ctx, sourceURL)
	if err != nil {
		slog.Warn("Failed to extract source, generating without it", "url", sourceURL, "error", err)
		return nil
	}
	return knowledge
}

func (s *Service) styleExamples(ctx context.Context) string {
	examples, err := s.posts.List(ctx, database.PostFilter{
		Status: model.StatusPosted,
		Limit:  10,
	})
	if err != nil {
		slog.Warn("Failed to load style examples", "error", err)
		return ""
	}

	var parts []string
	for _, post := range examples {
		if post.FormatType != model.FormatThread {
			continue
		}
		parts = append(parts, post.Content)
		if len(parts) == styleExamples {
			break
		}
	}
	return strings.Join(parts, "\n---\n")
}

func (s *Service) resolveVirtue(requested model.Virtue, gen settings.Generation) (model.Virtue, error) {
	if requested != "" {
		if !requested.Valid() {
			return "", fmt.Errorf("%w: unknown virtue %q", model.ErrInvalidContent, requested)
		}
		return requested, nil
	}
	if gen.DefaultVirtue != "" {
		return model.Virtue(gen.DefaultVirtue), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Virtues[s.rnd.IntN(len(model.Virtues))], nil
}

// pickFormat draws a format in proportion to its weight.
func (s *Service) pickFormat(weights settings.FormatWeights) model.FormatType {
	total := weights.Total()
	if total <= 0 {
		return model.FormatShort
	}

	s.mu.Lock()
	roll := s.rnd.IntN(total) + 1
	s.mu.Unlock()

	cumulative := 0
	for _, f := range []model.FormatType{model.FormatShort, model.FormatThread, model.FormatLong} {
		cumulative += weights.Weight(f)
		if roll <= cumulative {
			return f
		}
	}
	return model.FormatShort
}

func (s *Service) pickTopic(virtue model.Virtue) string {
	topics := s.prompts.Topics(virtue)
	if len(topics) == 0 {
		topics = s.prompts.Topics("")
	}
	if len(topics) == 0 {
		return "stoic philosophy"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return topics[s.rnd.IntN(len(topics))]
}

func (s *Service) modelName(gen settings.Generation) string {
	if gen.Model != "" {
		return gen.Model
	}
	return s.provider.Name()
}

func (s *Service) observe(kind string, err error) {
	if s.metrics == nil {
		return
	}
	result := "created"
	if err != nil {
		result = "failed"
	}
	s.metrics.ObserveGeneration(kind, result)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
