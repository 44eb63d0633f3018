package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath string

	// HTTP server
	Port         string
	APIAccessKey string

	// Scheduler
	SchedulerInterval time.Duration
	MaxPerPass        int
	PublishTimeout    time.Duration
	CleanupCron       string

	// Generation
	PromptsDir     string
	AnthropicKey   string
	AnthropicModel string

	// Publishing
	XBearerToken string
	XBaseURL     string
	DryRun       bool

	// Application metadata
	UserAgent string
	Timezone  string
	LogFormat string
	Debug     bool
	Version   string
}
