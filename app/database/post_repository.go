package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/stoa/app/model"
)

const postColumns = `id, content, content_hash, topic, post_type, format_type, virtue, status,
	reply_to_tweet_id, reply_to_content, reply_to_username, model, citations, is_evergreen,
	x_post_id, approved_at, posted_at, recycle_count, created_at, updated_at`

type PostRepo struct {
	db *DB
}

func NewPostRepository(db *DB) *PostRepo {
	return &PostRepo{db: db}
}

func (r *PostRepo) Insert(ctx context.Context, post *model.Post) error {
	post.CreatedAt = ts(post.CreatedAt)
	post.UpdatedAt = ts(post.UpdatedAt)
	post.ApprovedAt = tsPtr(post.ApprovedAt)
	post.PostedAt = tsPtr(post.PostedAt)
	if post.Citations == nil {
		post.Citations = model.StringList{}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO posts (`+postColumns+`)
		VALUES (:id, :content, :content_hash, :topic, :post_type, :format_type, :virtue, :status,
			:reply_to_tweet_id, :reply_to_content, :reply_to_username, :model, :citations, :is_evergreen,
			:x_post_id, :approved_at, :posted_at, :recycle_count, :created_at, :updated_at)
	`, post)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

func (r *PostRepo) Get(ctx context.Context, id string) (*model.Post, error) {
	var post model.Post
	err := r.db.GetContext(ctx, &post, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}

func (r *PostRepo) List(ctx context.Context, filter PostFilter) ([]model.Post, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.PostType != "" {
		conditions = append(conditions, "post_type = ?")
		args = append(args, filter.PostType)
	}
	if filter.Virtue != "" {
		conditions = append(conditions, "virtue = ?")
		args = append(args, filter.Virtue)
	}

	query := `SELECT ` + postColumns + ` FROM posts`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	posts := []model.Post{}
	if err := r.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

func (r *PostRepo) CountByStatus(ctx context.Context) (map[model.PostStatus]int, error) {
	rows := []struct {
		Status model.PostStatus `db:"status"`
		Count  int              `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM posts GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	counts := make(map[model.PostStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *PostRepo) Approve(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, "approve", `
		UPDATE posts SET status = 'approved', approved_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending_review'
	`, ts(at), ts(at), id)
}

func (r *PostRepo) Reject(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, "reject", `
		UPDATE posts SET status = 'rejected', updated_at = ?
		WHERE id = ? AND status = 'pending_review'
	`, ts(at), id)
}

func (r *PostRepo) MarkPosted(ctx context.Context, id, externalID string, at time.Time) (bool, error) {
	return r.exec(ctx, "mark posted", `
		UPDATE posts SET status = 'posted', posted_at = ?, x_post_id = ?, updated_at = ?
		WHERE id = ? AND status = 'approved'
	`, ts(at), externalID, ts(at), id)
}

// Recycle moves a posted or rejected post to recycled once its reference
// time (posted_at, or updated_at for rejections) is at or before cutoff.
func (r *PostRepo) Recycle(ctx context.Context, id string, cutoff, at time.Time) (bool, error) {
	return r.exec(ctx, "recycle", `
		UPDATE posts
		SET status = 'recycled', recycle_count = recycle_count + 1,
			approved_at = NULL, posted_at = NULL, x_post_id = NULL, updated_at = ?
		WHERE id = ? AND (
			(status = 'posted' AND posted_at <= ?) OR
			(status = 'rejected' AND updated_at <= ?)
		)
	`, ts(at), id, ts(cutoff), ts(cutoff))
}

func (r *PostRepo) Resubmit(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, "resubmit", `
		UPDATE posts SET status = 'pending_review', updated_at = ?
		WHERE id = ? AND status = 'recycled'
	`, ts(at), id)
}

// Delete removes a post that was never published; its queue items go with it.
func (r *PostRepo) Delete(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, "delete", `DELETE FROM posts WHERE id = ? AND status != 'posted'`, id)
}

func (r *PostRepo) Edit(ctx context.Context, id string, edit PostEdit, at time.Time) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{ts(at)}

	if edit.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *edit.Content)
	}
	if edit.ContentHash != nil {
		sets = append(sets, "content_hash = ?")
		args = append(args, *edit.ContentHash)
	}
	if edit.Topic != nil {
		sets = append(sets, "topic = ?")
		args = append(args, *edit.Topic)
	}
	if edit.Virtue != nil {
		sets = append(sets, "virtue = ?")
		args = append(args, *edit.Virtue)
	}
	if edit.IsEvergreen != nil {
		sets = append(sets, "is_evergreen = ?")
		args = append(args, *edit.IsEvergreen)
	}
	args = append(args, id)

	return r.exec(ctx, "edit", `
		UPDATE posts SET `+strings.Join(sets, ", ")+`
		WHERE id = ? AND status IN ('pending_review', 'approved')
	`, args...)
}

func (r *PostRepo) FindByHash(ctx context.Context, hash string, since time.Time) (*model.Post, error) {
	var post model.Post
	err := r.db.GetContext(ctx, &post, `
		SELECT `+postColumns+` FROM posts
		WHERE content_hash = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1
	`, hash, ts(since))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find post by hash: %w", err)
	}
	return &post, nil
}

func (r *PostRepo) RecycleCandidates(ctx context.Context, cutoff time.Time, limit int) ([]model.Post, error) {
	posts := []model.Post{}
	err := r.db.SelectContext(ctx, &posts, `
		SELECT `+postColumns+` FROM posts
		WHERE status = 'posted' AND is_evergreen = 1 AND posted_at <= ?
		ORDER BY recycle_count ASC, posted_at ASC
		LIMIT ?
	`, ts(cutoff), limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list recycle candidates: %w", err)
	}
	return posts, nil
}

func (r *PostRepo) exec(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s post: %w", op, err)
	}
	return affected(res)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
