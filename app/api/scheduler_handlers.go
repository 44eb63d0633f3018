package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetSchedulerStatus(c *gin.Context) {
	status, err := h.scheduler.Status(c.Request.Context())
	if err != nil {
		respondError(c, "scheduler_status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) GetEstimate(c *gin.Context) {
	estimate, err := h.scheduler.Estimate(c.Request.Context())
	if err != nil {
		respondError(c, "scheduler_estimate", err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

// StartScheduler starts the loop and remembers the choice for the next boot.
func (h *Handler) StartScheduler(c *gin.Context) {
	if err := h.settings.SetSchedulerEnabled(c.Request.Context(), true); err != nil {
		respondError(c, "scheduler_start", err)
		return
	}
	started := h.scheduler.Start()
	slog.Info("Scheduler start requested", "started", started)
	c.JSON(http.StatusOK, gin.H{"running": h.scheduler.Running(), "changed": started})
}

func (h *Handler) StopScheduler(c *gin.Context) {
	if err := h.settings.SetSchedulerEnabled(c.Request.Context(), false); err != nil {
		respondError(c, "scheduler_stop", err)
		return
	}
	stopped := h.scheduler.Stop()
	slog.Info("Scheduler stop requested", "stopped", stopped)
	c.JSON(http.StatusOK, gin.H{"running": h.scheduler.Running(), "changed": stopped})
}

func (h *Handler) PauseScheduler(c *gin.Context) {
	h.scheduler.Pause()
	c.JSON(http.StatusOK, gin.H{"running": h.scheduler.Running(), "paused": true})
}

func (h *Handler) ResumeScheduler(c *gin.Context) {
	h.scheduler.Resume()
	c.JSON(http.StatusOK, gin.H{"running": h.scheduler.Running(), "paused": false})
}

func (h *Handler) PostNow(c *gin.Context) {
	result, err := h.scheduler.PostNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "post_now", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"post":       newPostResponse(result.Post),
		"queue_item": result.Item,
	})
}
