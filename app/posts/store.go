package posts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/stoa/app/clock"
	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/settings"
)

type GenerationSettings interface {
	Generation(ctx context.Context) (settings.Generation, error)
}

type NewPost struct {
	Content         string
	ContentHash     string
	Topic           string
	PostType        model.PostType
	FormatType      model.FormatType
	Virtue          model.Virtue
	ReplyToTweetID  string
	ReplyToContent  string
	ReplyToUsername string
	Model           string
	Citations       []string
	NotEvergreen    bool
}

type Edit struct {
	Content     *string
	Topic       *string
	Virtue      *model.Virtue
	IsEvergreen *bool
}

type Store struct {
	repo     database.PostRepository
	settings GenerationSettings
	clock    clock.Clock
}

func NewStore(repo database.PostRepository, settings GenerationSettings, clk clock.Clock) *Store {
	return &Store{repo: repo, settings: settings, clock: clk}
}

// Create stores a new post in pending_review.
func (s *Store) Create(ctx context.Context, in NewPost) (*model.Post, error) {
	if in.PostType == "" {
		in.PostType = model.PostTypeOriginal
	}
	if in.FormatType == "" {
		in.FormatType = model.FormatShort
	}
	in.Content = strings.TrimSpace(in.Content)

	if err := model.ValidateContent(in.PostType, in.FormatType, in.Content); err != nil {
		return nil, err
	}
	if in.Virtue != "" && !in.Virtue.Valid() {
		return nil, fmt.Errorf("%w: unknown virtue %q", model.ErrInvalidContent, in.Virtue)
	}
	if in.PostType != model.PostTypeOriginal && in.ReplyToTweetID == "" {
		return nil, fmt.Errorf("%w: %s posts need a target tweet", model.ErrInvalidContent, in.PostType)
	}
	if in.ContentHash == "" {
		in.ContentHash = ContentHash(in.Content)
	}

	now := s.clock.Now()
	post := &model.Post{
		ID:              uuid.NewString(),
		Content:         in.Content,
		ContentHash:     in.ContentHash,
		Topic:           in.Topic,
		PostType:        in.PostType,
		FormatType:      in.FormatType,
		Virtue:          in.Virtue,
		Status:          model.StatusPendingReview,
		ReplyToTweetID:  in.ReplyToTweetID,
		ReplyToContent:  in.ReplyToContent,
		ReplyToUsername: in.ReplyToUsername,
		Model:           in.Model,
		Citations:       model.StringList(in.Citations),
		IsEvergreen:     !in.NotEvergreen && in.PostType == model.PostTypeOriginal,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Insert(ctx, post); err != nil {
		return nil, err
	}

	slog.Info("Post created", "id", post.ID, "type", string(post.PostType), "format", string(post.FormatType))
	return post, nil
}

// CreateUnique is Create guarded by the duplicate lookback.
func (s *Store) CreateUnique(ctx context.Context, in NewPost) (*model.Post, error) {
	if in.ContentHash == "" {
		in.ContentHash = ContentHash(strings.TrimSpace(in.Content))
	}
	dup, err := s.IsDuplicate(ctx, in.ContentHash)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("%w: hash %s", model.ErrDuplicateContent, in.ContentHash)
	}
	return s.Create(ctx, in)
}

func (s *Store) IsDuplicate(ctx context.Context, hash string) (bool, error) {
	gen, err := s.settings.Generation(ctx)
	if err != nil {
		return false, err
	}
	since := s.clock.Now().Add(-gen.DuplicateLookback())
	existing, err := s.repo.FindByHash(ctx, hash, since)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// Get returns the post or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.Post, error) {
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, fmt.Errorf("post %s: %w", id, model.ErrNotFound)
	}
	return post, nil
}

func (s *Store) List(ctx context.Context, filter database.PostFilter) ([]model.Post, error) {
	return s.repo.List(ctx, filter)
}

func (s *Store) CountByStatus(ctx context.Context) (map[model.PostStatus]int, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *Store) Approve(ctx context.Context, id string) (*model.Post, error) {
	return s.transition(ctx, id, "approve", func(now time.Time) (bool, error) {
		return s.repo.Approve(ctx, id, now)
	})
}

func (s *Store) Reject(ctx context.Context, id string) (*model.Post, error) {
	return s.transition(ctx, id, "reject", func(now time.Time) (bool, error) {
		return s.repo.Reject(ctx, id, now)
	})
}

func (s *Store) MarkPosted(ctx context.Context, id, externalID string) (*model.Post, error) {
	if externalID == "" {
		return nil, fmt.Errorf("%w: external post id is required", model.ErrInvalidContent)
	}
	return s.transition(ctx, id, "mark posted", func(now time.Time) (bool, error) {
		return s.repo.MarkPosted(ctx, id, externalID, now)
	})
}

// Recycle reuses a posted or rejected post once the configured cooldown has passed.
func (s *Store) Recycle(ctx context.Context, id string) (*model.Post, error) {
	gen, err := s.settings.Generation(ctx)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, id, "recycle", func(now time.Time) (bool, error) {
		return s.repo.Recycle(ctx, id, now.Add(-gen.RecycleCooldown()), now)
	})
}

// Resubmit returns recycled content to review.
func (s *Store) Resubmit(ctx context.Context, id string) (*model.Post, error) {
	return s.transition(ctx, id, "resubmit", func(now time.Time) (bool, error) {
		return s.repo.Resubmit(ctx, id, now)
	})
}

// Update edits a post that has not been published yet.
func (s *Store) Update(ctx context.Context, id string, edit Edit) (*model.Post, error) {
	repoEdit := database.PostEdit{
		Topic:       edit.Topic,
		Virtue:      edit.Virtue,
		IsEvergreen: edit.IsEvergreen,
	}

	if edit.Virtue != nil && *edit.Virtue != "" && !edit.Virtue.Valid() {
		return nil, fmt.Errorf("%w: unknown virtue %q", model.ErrInvalidContent, *edit.Virtue)
	}

	if edit.Content != nil {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		content := strings.TrimSpace(*edit.Content)
		if err := model.ValidateContent(current.PostType, current.FormatType, content); err != nil {
			return nil, err
		}
		hash := ContentHash(content)
		repoEdit.Content = &content
		repoEdit.ContentHash = &hash
	}

	return s.transition(ctx, id, "update", func(now time.Time) (bool, error) {
		return s.repo.Edit(ctx, id, repoEdit, now)
	})
}

// Delete removes a post. Posted posts are kept since their publications count
// against the daily limits.
func (s *Store) Delete(ctx context.Context, id string) error {
	post, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if post.Status == model.StatusPosted {
		return fmt.Errorf("cannot delete post %s in status %s: %w", id, post.Status, model.ErrInvalidTransition)
	}

	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cannot delete post %s: %w", id, model.ErrInvalidTransition)
	}

	slog.Info("Post deleted", "post_id", id, "status", string(post.Status))
	return nil
}

func (s *Store) RecycleCandidates(ctx context.Context, limit int) ([]model.Post, error) {
	gen, err := s.settings.Generation(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.RecycleCandidates(ctx, s.clock.Now().Add(-gen.RecycleCooldown()), limit)
}

// transition runs a conditional update and classifies a miss as
// ErrNotFound or ErrInvalidTransition.
func (s *Store) transition(ctx context.Context, id, op string, apply func(now time.Time) (bool, error)) (*model.Post, error) {
	ok, err := apply(s.clock.Now())
	if err != nil {
		return nil, err
	}

	post, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cannot %s post %s in status %s: %w", op, id, post.Status, model.ErrInvalidTransition)
	}

	slog.Info("Post status changed", "id", id, "operation", op, "status", string(post.Status))
	return post, nil
}
