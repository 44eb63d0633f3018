package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/posts"
)

const queueStatusHeader = "X-Queue-Status"

func (h *Handler) ListPosts(c *gin.Context) {
	var q listPostsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBadRequest(c, err)
		return
	}

	filter := database.PostFilter{
		Status:   model.PostStatus(q.Status),
		PostType: model.PostType(q.PostType),
		Virtue:   model.Virtue(q.Virtue),
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondBadRequest(c, fmt.Errorf("unknown status %q", q.Status))
		return
	}
	if filter.PostType != "" && !filter.PostType.Valid() {
		respondBadRequest(c, fmt.Errorf("unknown post_type %q", q.PostType))
		return
	}
	if filter.Virtue != "" && !filter.Virtue.Valid() {
		respondBadRequest(c, fmt.Errorf("unknown virtue %q", q.Virtue))
		return
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}

	list, err := h.posts.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "list_posts", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts":  newPostResponses(list),
		"count":  len(list),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *Handler) GetPost(c *gin.Context) {
	post, err := h.posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "get_post", err)
		return
	}
	c.JSON(http.StatusOK, newPostResponse(post))
}

func (h *Handler) DeletePost(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.DeletePost(c.Request.Context(), id); err != nil {
		respondError(c, "delete_post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted", "id": id})
}

func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	post, err := h.posts.Create(c.Request.Context(), posts.NewPost{
		Content:         req.Content,
		ContentHash:     req.ContentHash,
		Topic:           req.Topic,
		PostType:        req.PostType,
		FormatType:      req.FormatType,
		Virtue:          req.Virtue,
		ReplyToTweetID:  req.ReplyToTweetID,
		ReplyToContent:  req.ReplyToContent,
		ReplyToUsername: req.ReplyToUsername,
		NotEvergreen:    req.IsEvergreen != nil && !*req.IsEvergreen,
	})
	if err != nil {
		respondError(c, "create_post", err)
		return
	}
	c.JSON(http.StatusCreated, newPostResponse(post))
}

func (h *Handler) UpdatePost(c *gin.Context) {
	var req updatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	id := c.Param("id")
	edit := posts.Edit{
		Content:     req.Content,
		Topic:       req.Topic,
		Virtue:      req.Virtue,
		IsEvergreen: req.IsEvergreen,
	}
	hasEdit := edit.Content != nil || edit.Topic != nil || edit.Virtue != nil || edit.IsEvergreen != nil
	if !hasEdit && req.Status == nil {
		respondBadRequest(c, errors.New("nothing to update"))
		return
	}

	// Approve and reject both require review; a refused change edits nothing.
	if req.Status != nil {
		current, err := h.posts.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, "update_post", err)
			return
		}
		if current.Status != model.StatusPendingReview {
			respondError(c, "update_post", fmt.Errorf("cannot move post %s from %s to %s: %w", id, current.Status, *req.Status, model.ErrInvalidTransition))
			return
		}
	}

	var (
		post *model.Post
		err  error
	)
	if hasEdit {
		if post, err = h.posts.Update(c.Request.Context(), id, edit); err != nil {
			respondError(c, "update_post", err)
			return
		}
	}

	if req.Status != nil {
		switch *req.Status {
		case model.StatusApproved:
			h.approve(c, id)
			return
		case model.StatusRejected:
			post, err = h.posts.Reject(c.Request.Context(), id)
		}
		if err != nil {
			respondError(c, "update_post", err)
			return
		}
	}

	c.JSON(http.StatusOK, newPostResponse(post))
}

func (h *Handler) ApprovePost(c *gin.Context) {
	h.approve(c, c.Param("id"))
}

func (h *Handler) RejectPost(c *gin.Context) {
	h.transition(c, "reject_post", h.posts.Reject)
}

func (h *Handler) RecyclePost(c *gin.Context) {
	h.transition(c, "recycle_post", h.posts.Recycle)
}

func (h *Handler) ResubmitPost(c *gin.Context) {
	h.transition(c, "resubmit_post", h.posts.Resubmit)
}

func (h *Handler) RecycleCandidates(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 10)
	if !ok {
		return
	}
	limit = min(max(limit, 1), 100)

	list, err := h.posts.RecycleCandidates(c.Request.Context(), limit)
	if err != nil {
		respondError(c, "recycle_candidates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"posts": newPostResponses(list),
		"count": len(list),
	})
}

func (h *Handler) transition(c *gin.Context, operation string, apply func(ctx context.Context, id string) (*model.Post, error)) {
	post, err := apply(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, operation, err)
		return
	}
	c.JSON(http.StatusOK, newPostResponse(post))
}

// approve approves a post and, when auto_enqueue is on, schedules it into
// the next free slot. Enqueue failures do not undo the approval.
func (h *Handler) approve(c *gin.Context, id string) {
	ctx := c.Request.Context()
	post, err := h.posts.Approve(ctx, id)
	if err != nil {
		respondError(c, "approve_post", err)
		return
	}

	sched, err := h.settings.Scheduler(ctx)
	switch {
	case err != nil:
		slog.Error("Failed to read scheduler settings", "post_id", id, "error", err)
		c.Header(queueStatusHeader, "error")
	case !sched.AutoEnqueue:
		c.Header(queueStatusHeader, "disabled")
	default:
		item, err := h.queue.Enqueue(ctx, post.ID, nil)
		if err != nil {
			slog.Warn("Auto-enqueue failed", "post_id", post.ID, "error", err)
			c.Header(queueStatusHeader, "failed")
			break
		}
		c.Header(queueStatusHeader, "queued")
		c.Header("X-Queue-Scheduled-For", item.ScheduledFor.Format(time.RFC3339))
	}

	c.JSON(http.StatusOK, newPostResponse(post))
}
