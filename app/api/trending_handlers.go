package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/trending"
)

func (h *Handler) GetTrending(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	excludeSeen := true
	if raw := c.Query("exclude_seen"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exclude_seen parameter"})
			return
		}
		excludeSeen = v
	}

	tweets, err := h.trending.Trending(c.Request.Context(), min(limit, trending.MaxLimit), excludeSeen)
	if err != nil {
		respondError(c, "trending", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tweets": tweets, "count": len(tweets)})
}

func (h *Handler) GetTopics(c *gin.Context) {
	topics, err := h.trending.Topics(c.Request.Context())
	if err != nil {
		respondError(c, "trending_topics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

func (h *Handler) PutTopics(c *gin.Context) {
	var req topicsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	topics, err := h.trending.SetTopics(c.Request.Context(), req.Topics)
	if err != nil {
		respondError(c, "trending_topics", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

func (h *Handler) GetTrendingCache(c *gin.Context) {
	limit, ok := intQuery(c, "limit", trending.MaxLimit)
	if !ok {
		return
	}

	tweets, err := h.trending.Cache(c.Request.Context(), model.TrendingStatus(c.Query("status")), min(max(limit, 1), 500))
	if err != nil {
		respondError(c, "trending_cache", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tweets": tweets, "count": len(tweets)})
}

func (h *Handler) GetTrendingStats(c *gin.Context) {
	stats, err := h.trending.Stats(c.Request.Context())
	if err != nil {
		respondError(c, "trending_stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) SkipTweet(c *gin.Context) {
	tweetID := c.Param("tweet_id")
	if err := h.trending.Skip(c.Request.Context(), tweetID); err != nil {
		respondError(c, "trending_skip", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tweet_id": tweetID, "status": model.TrendingSkipped})
}

func (h *Handler) MarkTweetReplied(c *gin.Context) {
	tweetID := c.Param("tweet_id")
	if err := h.trending.MarkReplied(c.Request.Context(), tweetID); err != nil {
		respondError(c, "trending_replied", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tweet_id": tweetID, "status": model.TrendingReplied})
}

func (h *Handler) CleanupTrendingCache(c *gin.Context) {
	days, ok := intQuery(c, "days", 0)
	if !ok {
		return
	}

	deleted, err := h.trending.Cleanup(c.Request.Context(), days)
	if err != nil {
		respondError(c, "trending_cleanup", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "days": days})
}
