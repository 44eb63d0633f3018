package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/lysyi3m/stoa/app/api"
	"github.com/lysyi3m/stoa/app/cfg"
	"github.com/lysyi3m/stoa/app/clock"
	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/generation"
	"github.com/lysyi3m/stoa/app/metrics"
	"github.com/lysyi3m/stoa/app/posts"
	"github.com/lysyi3m/stoa/app/publisher"
	"github.com/lysyi3m/stoa/app/queue"
	"github.com/lysyi3m/stoa/app/ratelimit"
	"github.com/lysyi3m/stoa/app/settings"
	"github.com/lysyi3m/stoa/app/tasks"
	"github.com/lysyi3m/stoa/app/trending"
)

func main() {
	appConfig, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appConfig == nil {
		// Help was shown
		return
	}

	setupLogger(appConfig)

	slog.Info("Starting Stoa server", "version", appConfig.Version)

	db, err := database.Open(appConfig.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", appConfig.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appConfig.DBPath, "schema_version", version, "dirty", dirty)

	clk := clock.System()
	m := metrics.New()

	settingsStore := settings.NewStore(database.NewSettingsRepository(db), clk)
	postStore := posts.NewStore(database.NewPostRepository(db), settingsStore, clk)
	queueRepo := database.NewQueueRepository(db)
	limiter := ratelimit.NewLimiter(queueRepo, settingsStore)
	queueManager := queue.NewManager(queueRepo, postStore, limiter, settingsStore, clk)

	var pub publisher.Publisher
	if appConfig.Publishes() {
		pub = publisher.NewXClient(publisher.XConfig{
			BaseURL:     appConfig.XBaseURL,
			AccessToken: appConfig.XBearerToken,
			UserAgent:   appConfig.UserAgent,
			Timeout:     appConfig.PublishTimeout,
			MinGap:      time.Second,
		})
		slog.Info("Publishing to X", "base_url", appConfig.XBaseURL)
	} else {
		pub = publisher.NewLogPublisher()
		slog.Warn("Dry run: publications are logged only", "dry_run", appConfig.DryRun)
	}

	scheduler := tasks.NewScheduler(queueManager, postStore, limiter, settingsStore, pub, m, clk, tasks.Options{
		Interval:       appConfig.SchedulerInterval,
		MaxPerPass:     appConfig.MaxPerPass,
		PublishTimeout: appConfig.PublishTimeout,
	})

	catalog := generation.NewCatalog(appConfig.PromptsDir)
	if err := catalog.Run(); err != nil {
		slog.Error("Failed to load prompts", "dir", appConfig.PromptsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Prompt catalog loaded", "prompts", catalog.GetPromptCount(), "overrides_dir", appConfig.PromptsDir)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if appConfig.PromptsDir != "" {
		if err := catalog.Watch(ctx); err != nil {
			slog.Warn("Prompt hot reload disabled", "dir", appConfig.PromptsDir, "error", err)
		}
	}

	var provider generation.Provider
	if appConfig.AnthropicKey != "" {
		provider = generation.NewAnthropicProvider(appConfig.AnthropicKey, appConfig.AnthropicModel)
	} else {
		slog.Warn("Content generation disabled (ANTHROPIC_API_KEY not set)")
	}
	extractor := generation.NewContentExtractor(appConfig.UserAgent, 30*time.Second)
	generator := generation.NewService(catalog, provider, extractor, postStore, settingsStore, m)

	trendingService := trending.NewService(
		trending.NewFeedSource(appConfig.UserAgent, 30*time.Second),
		database.NewTrendingRepository(db),
		settingsStore,
		clk,
	)

	sched, err := settingsStore.Scheduler(ctx)
	if err != nil {
		slog.Error("Failed to read scheduler settings", "error", err)
		os.Exit(1)
	}

	maintenance := tasks.NewMaintenance(sched.Location(), m)
	err = maintenance.Add("cleanup_trending", appConfig.CleanupCron, func() tasks.Runnable {
		return tasks.NewCleanupTrendingTask(trendingService, settingsStore)
	})
	if err != nil {
		slog.Error("Failed to schedule trending cleanup", "cron", appConfig.CleanupCron, "error", err)
		os.Exit(1)
	}
	maintenance.Start()
	defer maintenance.Stop()

	if sched.Enabled {
		scheduler.Start()
	} else {
		slog.Info("Scheduler disabled in settings, waiting for /scheduler/start")
	}
	defer scheduler.Stop()

	handler := api.NewHandler(api.Services{
		Posts:     postStore,
		Queue:     queueManager,
		Limits:    limiter,
		Settings:  settingsStore,
		Scheduler: scheduler,
		Generator: generator,
		Trending:  trendingService,
		Clock:     clk,
		Version:   appConfig.Version,
	})
	server := api.NewServer(handler, m, appConfig.APIAccessKey, appConfig.Debug)

	httpServer := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appConfig.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	// Scheduler, maintenance and prompt watcher are stopped via defer
	slog.Info("Stoa server shutdown complete")
}

func setupLogger(c *cfg.Cfg) {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	switch c.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	case "tint":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.DateTime})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
