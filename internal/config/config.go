package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"SV_ENV" default:"development"`

	HTTPPort    int           `envconfig:"SV_HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"SV_HTTP_TIMEOUT" default:"15s"`

	LibraryDir string `envconfig:"SV_LIBRARY_DIR" default:"./library"`
	TempDir    string `envconfig:"SV_TEMP_DIR" default:"./tmp"`

	// DatabaseURL is the Postgres DSN for the media library. When empty the
	// service falls back to the in-memory store and records are lost on
	// restart.
	DatabaseURL string `envconfig:"SV_DATABASE_URL" default:""`

	FFmpegBin       string `envconfig:"SV_FFMPEG_BIN" default:"ffmpeg"`
	FFprobeBin      string `envconfig:"SV_FFPROBE_BIN" default:"ffprobe"`
	FFmpegExtraArgs string `envconfig:"SV_FFMPEG_EXTRA_ARGS" default:""`

	FetchTimeout   time.Duration `envconfig:"SV_FETCH_TIMEOUT" default:"30m"`
	EpisodeRetries int           `envconfig:"SV_EPISODE_RETRIES" default:"3"`
	MinFreeDisk    int64         `envconfig:"SV_MIN_FREE_DISK" default:"524288000"`
	ScanWorkers    int           `envconfig:"SV_SCAN_WORKERS" default:"4"`
	ScanOnStart    bool          `envconfig:"SV_SCAN_ON_START" default:"false"`

	AllowGermanSub bool `envconfig:"SV_ALLOW_GERMAN_SUB" default:"true"`

	ShutdownTimeout time.Duration `envconfig:"SV_SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"SV_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"SV_LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.LibraryDir == "" {
		return fmt.Errorf("library directory cannot be empty")
	}
	if c.TempDir == "" {
		return fmt.Errorf("temp directory cannot be empty")
	}

	if c.FFmpegBin == "" || c.FFprobeBin == "" {
		return fmt.Errorf("ffmpeg and ffprobe binaries must be set")
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive: %s", c.FetchTimeout)
	}
	if c.EpisodeRetries <= 0 {
		return fmt.Errorf("episode retries must be positive: %d", c.EpisodeRetries)
	}
	if c.MinFreeDisk < 0 {
		return fmt.Errorf("min free disk must not be negative: %d", c.MinFreeDisk)
	}
	if c.ScanWorkers <= 0 {
		return fmt.Errorf("scan workers must be positive: %d", c.ScanWorkers)
	}

	return nil
}
