package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/model"
)

func (h *Handler) ListQueue(c *gin.Context) {
	var q listQueueQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBadRequest(c, err)
		return
	}

	filter := database.QueueFilter{
		Status:   model.QueueStatus(q.Status),
		PostType: model.PostType(q.PostType),
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
	if filter.Limit == 0 {
		filter.Limit = 50
	}

	entries, err := h.queue.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "list_queue", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  entries,
		"count":  len(entries),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *Handler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	item, err := h.queue.Enqueue(c.Request.Context(), req.PostID, req.ScheduledFor)
	if err != nil {
		respondError(c, "enqueue", err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) CancelQueueItem(c *gin.Context) {
	item, err := h.queue.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "cancel_queue_item", err)
		return
	}
	slog.Info("Queue item cancelled via API", "id", item.ID, "post_id", item.PostID)
	c.JSON(http.StatusOK, item)
}

func (h *Handler) GetRateLimit(c *gin.Context) {
	status, err := h.limits.Status(c.Request.Context(), h.clock.Now())
	if err != nil {
		respondError(c, "rate_limit_status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}
