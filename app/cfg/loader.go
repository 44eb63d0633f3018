package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath string `long:"db-path" env:"DB_PATH" default:"./data/stoa.db" description:"SQLite database file"`

	// HTTP server
	Port         string `long:"port" env:"PORT" default:"8000" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Scheduler
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Scheduler interval in seconds"`
	MaxPerPass        int    `long:"max-per-pass" env:"SCHEDULER_MAX_PER_PASS" default:"10" description:"Maximum queue items published per scheduler pass"`
	PublishTimeout    int    `long:"publish-timeout" env:"PUBLISH_TIMEOUT" default:"120" description:"Timeout for a single publication in seconds"`
	CleanupCron       string `long:"cleanup-cron" env:"TRENDING_CLEANUP_CRON" default:"0 4 * * *" description:"Cron spec for the trending cache cleanup"`

	// Generation
	PromptsDir     string `long:"prompts-dir" env:"PROMPTS_DIR" description:"Directory with prompt overrides (optional)"`
	AnthropicKey   string `long:"anthropic-key" env:"ANTHROPIC_API_KEY" description:"Anthropic API key (generation is disabled without it)"`
	AnthropicModel string `long:"anthropic-model" env:"ANTHROPIC_MODEL" default:"claude-sonnet-4-5" description:"Default Anthropic model"`

	// Publishing
	XBearerToken string `long:"x-token" env:"X_BEARER_TOKEN" description:"X API user access token (dry run without it)"`
	XBaseURL     string `long:"x-base-url" env:"X_API_BASE_URL" default:"https://api.x.com/2" description:"X API base URL"`
	DryRun       bool   `long:"dry-run" env:"DRY_RUN" description:"Log publications instead of sending them"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Stoa/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"text" choice:"json" choice:"tint" description:"Log output format"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load reads .env (when present), environment variables and command-line flags.
func Load() (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := Parse(os.Args[1:])
	if err != nil || cfg == nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

// Parse builds a Cfg from args and the environment. It returns nil, nil
// when help was requested.
func Parse(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.SchedulerInterval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %d", raw.SchedulerInterval)
	}
	if raw.MaxPerPass <= 0 {
		return nil, fmt.Errorf("max per pass must be positive, got %d", raw.MaxPerPass)
	}
	if raw.PublishTimeout <= 0 {
		return nil, fmt.Errorf("publish timeout must be positive, got %d", raw.PublishTimeout)
	}

	return &Cfg{
		DBPath:            raw.DBPath,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		SchedulerInterval: time.Duration(raw.SchedulerInterval) * time.Second,
		MaxPerPass:        raw.MaxPerPass,
		PublishTimeout:    time.Duration(raw.PublishTimeout) * time.Second,
		CleanupCron:       raw.CleanupCron,
		PromptsDir:        raw.PromptsDir,
		AnthropicKey:      raw.AnthropicKey,
		AnthropicModel:    raw.AnthropicModel,
		XBearerToken:      raw.XBearerToken,
		XBaseURL:          raw.XBaseURL,
		DryRun:            raw.DryRun,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		LogFormat:         raw.LogFormat,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Publishes reports whether publications go to X rather than the log.
func (c *Cfg) Publishes() bool {
	return !c.DryRun && c.XBearerToken != ""
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
