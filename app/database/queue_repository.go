package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lysyi3m/stoa/app/model"
)

const queueColumns = `id, post_id, scheduled_for, status, error_message, posted_at, created_at, updated_at`

type QueueRepo struct {
	db *DB
}

func NewQueueRepository(db *DB) *QueueRepo {
	return &QueueRepo{db: db}
}

func (r *QueueRepo) Insert(ctx context.Context, item *model.QueueItem) error {
	item.ScheduledFor = ts(item.ScheduledFor)
	item.CreatedAt = ts(item.CreatedAt)
	item.UpdatedAt = ts(item.UpdatedAt)
	item.PostedAt = tsPtr(item.PostedAt)

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO queue_items (`+queueColumns+`)
		VALUES (:id, :post_id, :scheduled_for, :status, :error_message, :posted_at, :created_at, :updated_at)
	`, item)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to insert queue item: %w", model.ErrAlreadyQueued)
		}
		return fmt.Errorf("failed to insert queue item: %w", err)
	}
	return nil
}

func (r *QueueRepo) Get(ctx context.Context, id string) (*model.QueueItem, error) {
	var item model.QueueItem
	err := r.db.GetContext(ctx, &item, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return &item, nil
}

func (r *QueueRepo) GetPendingForPost(ctx context.Context, postID string) (*model.QueueItem, error) {
	var item model.QueueItem
	err := r.db.GetContext(ctx, &item, `
		SELECT `+queueColumns+` FROM queue_items
		WHERE post_id = ? AND status = 'pending'
	`, postID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending queue item: %w", err)
	}
	return &item, nil
}

func (r *QueueRepo) List(ctx context.Context, filter QueueFilter) ([]model.QueueEntry, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Status != "" {
		conditions = append(conditions, "q.status = ?")
		args = append(args, filter.Status)
	}
	if filter.PostType != "" {
		conditions = append(conditions, "p.post_type = ?")
		args = append(args, filter.PostType)
	}

	query := `
		SELECT q.id, q.post_id, q.scheduled_for, q.status, q.error_message, q.posted_at, q.created_at, q.updated_at
		FROM queue_items q JOIN posts p ON p.id = q.post_id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY q.scheduled_for ASC, q.created_at ASC, q.rowid ASC LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	items := []model.QueueItem{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}

	entries := make([]model.QueueEntry, 0, len(items))
	if len(items) == 0 {
		return entries, nil
	}

	postIDs := make([]string, 0, len(items))
	for _, item := range items {
		postIDs = append(postIDs, item.PostID)
	}
	posts, err := r.postsByID(ctx, postIDs)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		entries = append(entries, model.QueueEntry{QueueItem: item, Post: posts[item.PostID]})
	}
	return entries, nil
}

func (r *QueueRepo) postsByID(ctx context.Context, ids []string) (map[string]*model.Post, error) {
	query, args, err := sqlx.In(`SELECT `+postColumns+` FROM posts WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build post lookup: %w", err)
	}

	posts := []model.Post{}
	if err := r.db.SelectContext(ctx, &posts, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load queued posts: %w", err)
	}

	byID := make(map[string]*model.Post, len(posts))
	for i := range posts {
		byID[posts[i].ID] = &posts[i]
	}
	return byID, nil
}

func (r *QueueRepo) ListDue(ctx context.Context, asOf time.Time, limit int) ([]model.QueueItem, error) {
	items := []model.QueueItem{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT `+queueColumns+` FROM queue_items
		WHERE status = 'pending' AND scheduled_for <= ?
		ORDER BY scheduled_for ASC, created_at ASC, rowid ASC
		LIMIT ?
	`, ts(asOf), limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list due queue items: %w", err)
	}
	return items, nil
}

func (r *QueueRepo) PendingSlots(ctx context.Context) ([]model.Slot, error) {
	slots := []model.Slot{}
	err := r.db.SelectContext(ctx, &slots, `
		SELECT q.id, q.scheduled_for, p.post_type
		FROM queue_items q JOIN posts p ON p.id = q.post_id
		WHERE q.status = 'pending'
		ORDER BY q.scheduled_for ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending slots: %w", err)
	}
	return slots, nil
}

func (r *QueueRepo) NextPending(ctx context.Context) (*model.QueueItem, error) {
	var item model.QueueItem
	err := r.db.GetContext(ctx, &item, `
		SELECT `+queueColumns+` FROM queue_items
		WHERE status = 'pending'
		ORDER BY scheduled_for ASC, created_at ASC, rowid ASC
		LIMIT 1
	`)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get next pending queue item: %w", err)
	}
	return &item, nil
}

func (r *QueueRepo) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, "cancel", `
		UPDATE queue_items SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, ts(at), id)
}

// RecordPublication marks the pending item and its approved post as posted in
// one transaction. It reports false, changing nothing, when either row is not
// in the expected status.
func (r *QueueRepo) RecordPublication(ctx context.Context, id, postID, externalID string, at time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin publication record: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE queue_items SET status = 'posted', posted_at = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND post_id = ? AND status = 'pending'
	`, ts(at), ts(at), id, postID)
	if err != nil {
		return false, fmt.Errorf("failed to mark queue item posted: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return false, err
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE posts SET status = 'posted', posted_at = ?, x_post_id = ?, updated_at = ?
		WHERE id = ? AND status = 'approved'
	`, ts(at), externalID, ts(at), postID)
	if err != nil {
		return false, fmt.Errorf("failed to mark post posted: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit publication record: %w", err)
	}
	return true, nil
}

func (r *QueueRepo) MarkFailed(ctx context.Context, id, message string, at time.Time) (bool, error) {
	return r.exec(ctx, "mark failed", `
		UPDATE queue_items SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, message, ts(at), id)
}

// CountPosted counts publications of the given post types with posted_at in [from, to).
func (r *QueueRepo) CountPosted(ctx context.Context, postTypes []model.PostType, from, to time.Time) (int, error) {
	query, args, err := sqlx.In(`
		SELECT COUNT(*) FROM queue_items q JOIN posts p ON p.id = q.post_id
		WHERE q.status = 'posted' AND q.posted_at >= ? AND q.posted_at < ? AND p.post_type IN (?)
	`, ts(from), ts(to), postTypes)
	if err != nil {
		return 0, fmt.Errorf("failed to build posted count query: %w", err)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("failed to count posted items: %w", err)
	}
	return count, nil
}

func (r *QueueRepo) exec(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s queue item: %w", op, err)
	}
	return affected(res)
}
