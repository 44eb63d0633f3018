package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/stoa/app/metrics"
	"github.com/nrednav/cuid2"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, m *metrics.Metrics, apiAccessKey string, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(requestID())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\" %v\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
				param.Keys[requestIDKey],
			)
		},
	}))

	r.Use(gin.Recovery())

	if m != nil {
		r.Use(m.Middleware())
	}

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-Queue-Status")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, m, apiAccessKey)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, m *metrics.Metrics, apiAccessKey string) {
	r.GET("/health", handler.GetHealth)
	if m != nil {
		r.GET("/metrics", m.Handler())
	}

	api := r.Group("/")
	if apiAccessKey != "" {
		api.Use(authMiddleware(apiAccessKey))
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled (API_ACCESS_KEY not set)")
	}

	postsGroup := api.Group("/posts")
	{
		postsGroup.GET("", handler.ListPosts)
		postsGroup.POST("", handler.CreatePost)
		postsGroup.GET("/recycle/candidates", handler.RecycleCandidates)
		postsGroup.GET("/:id", handler.GetPost)
		postsGroup.PATCH("/:id", handler.UpdatePost)
		postsGroup.DELETE("/:id", handler.DeletePost)
		postsGroup.POST("/:id/approve", handler.ApprovePost)
		postsGroup.POST("/:id/reject", handler.RejectPost)
		postsGroup.POST("/:id/recycle", handler.RecyclePost)
		postsGroup.POST("/:id/resubmit", handler.ResubmitPost)
	}

	generate := api.Group("/generate")
	{
		generate.POST("", handler.Generate)
		generate.POST("/reply", handler.GenerateReply)
		generate.POST("/batch", handler.GenerateBatch)
		generate.POST("/refine", handler.Refine)
	}

	queueGroup := api.Group("/queue")
	{
		queueGroup.GET("", handler.ListQueue)
		queueGroup.POST("", handler.Enqueue)
		queueGroup.GET("/rate-limit", handler.GetRateLimit)
		queueGroup.DELETE("/:id", handler.CancelQueueItem)
	}

	scheduler := api.Group("/scheduler")
	{
		scheduler.GET("/status", handler.GetSchedulerStatus)
		scheduler.GET("/estimate", handler.GetEstimate)
		scheduler.POST("/start", handler.StartScheduler)
		scheduler.POST("/stop", handler.StopScheduler)
		scheduler.POST("/pause", handler.PauseScheduler)
		scheduler.POST("/resume", handler.ResumeScheduler)
		scheduler.POST("/post-now/:id", handler.PostNow)
	}

	settingsGroup := api.Group("/settings")
	{
		settingsGroup.GET("", handler.ListSettings)
		settingsGroup.GET("/:key", handler.GetSetting)
		settingsGroup.PUT("/:key", handler.PutSetting)
	}

	trendingGroup := api.Group("/trending")
	{
		trendingGroup.GET("", handler.GetTrending)
		trendingGroup.GET("/topics", handler.GetTopics)
		trendingGroup.PUT("/topics", handler.PutTopics)
		trendingGroup.GET("/cache", handler.GetTrendingCache)
		trendingGroup.GET("/cache/stats", handler.GetTrendingStats)
		trendingGroup.DELETE("/cache/cleanup", handler.CleanupTrendingCache)
		trendingGroup.POST("/cache/:tweet_id/skip", handler.SkipTweet)
		trendingGroup.POST("/cache/:tweet_id/replied", handler.MarkTweetReplied)
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "Stoa",
			"version":     handler.version,
			"description": "Review, schedule and publish Stoic content to X",
			"endpoints": map[string]string{
				"health":    "/health",
				"metrics":   "/metrics",
				"posts":     "/posts",
				"generate":  "/generate",
				"queue":     "/queue",
				"scheduler": "/scheduler/status",
				"settings":  "/settings",
				"trending":  "/trending",
			},
			"api_status": map[string]any{
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

// requestID tags every request with an id, reusing the caller's when given.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = cuid2.Generate()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// authMiddleware creates authentication middleware for API endpoints
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			return
		}

		if providedKey != apiAccessKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			return
		}

		c.Next()
	}
}
