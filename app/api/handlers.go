package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/stoa/app/clock"
)

func NewHandler(s Services) *Handler {
	if s.Clock == nil {
		s.Clock = clock.System()
	}
	return &Handler{
		posts:     s.Posts,
		queue:     s.Queue,
		limits:    s.Limits,
		settings:  s.Settings,
		scheduler: s.Scheduler,
		generator: s.Generator,
		trending:  s.Trending,
		clock:     s.Clock,
		version:   s.Version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]any{
		"status":    "ok",
		"version":   h.version,
		"timestamp": h.clock.Now().In(time.Local).Format(time.RFC3339),
	}

	if h.scheduler != nil {
		health["scheduler_running"] = h.scheduler.Running()
	}

	if counts, err := h.posts.CountByStatus(c.Request.Context()); err == nil {
		health["posts"] = counts
	} else {
		slog.Error("Database error", "operation", "count_posts", "error", err)
		health["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	c.JSON(http.StatusOK, health)
}

// intQuery reads an optional integer query parameter.
func intQuery(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " parameter"})
		return 0, false
	}
	return v, true
}
