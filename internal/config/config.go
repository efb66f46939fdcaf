package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	BodyLimitMB int    `yaml:"bodyLimitMB"`
}

// StorageConfig points at the directory that holds one sub-directory per job.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// TranscoderConfig controls the external segmentation run. A zero
// TimeoutSeconds disables the deadline entirely.
type TranscoderConfig struct {
	FFmpegPath     string `yaml:"ffmpegPath"`
	SegmentSeconds int    `yaml:"segmentSeconds"`
	TimeoutSeconds *int   `yaml:"timeoutSeconds"`
}

type WorkerConfig struct {
	MaxConcurrentJobs int `yaml:"maxConcurrentJobs"`
	QueueSize         int `yaml:"queueSize"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

// JobTTLConfig controls retention of jobs in days, per last status. A
// zero per-status value falls back to DefaultDays; zero everywhere keeps
// jobs forever.
type JobTTLConfig struct {
	DefaultDays   int `yaml:"defaultDays"`
	UploadedDays  int `yaml:"uploadedDays"`
	CompletedDays int `yaml:"completedDays"`
	FailedDays    int `yaml:"failedDays"`
}

// RetentionConfig controls deletion of old job directories so that the
// storage root does not grow without bound.
type RetentionConfig struct {
	Enabled                bool         `yaml:"enabled"`
	CleanupIntervalMinutes int          `yaml:"cleanupIntervalMinutes"`
	Jobs                   JobTTLConfig `yaml:"jobs"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Worker     WorkerConfig     `yaml:"worker"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Retention  RetentionConfig  `yaml:"retention"`
	Log        LogConfig        `yaml:"log"`
}

const (
	DefaultPort           = 5000
	DefaultBodyLimitMB    = 200
	DefaultSegmentSeconds = 600
	DefaultTimeoutSeconds = 1800
	MinSegmentSeconds     = 10
)

// Load reads the YAML config at path, applies environment overrides and
// defaults, and exits the process when the file cannot be used.
func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}
	return cfg
}

// Parse decodes a YAML document into a Config with overrides and defaults applied.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return nil, err
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets platform-provided variables win over the file, which is
// how hosted deployments hand out ports and connection strings.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
}

// ApplyDefaults fills zero values with the service defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port <= 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.BodyLimitMB <= 0 {
		c.Server.BodyLimitMB = DefaultBodyLimitMB
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "data/jobs"
	}
	if c.Transcoder.FFmpegPath == "" {
		c.Transcoder.FFmpegPath = "ffmpeg"
	}
	if c.Transcoder.SegmentSeconds <= 0 {
		c.Transcoder.SegmentSeconds = DefaultSegmentSeconds
	}
	if c.Transcoder.TimeoutSeconds == nil {
		d := DefaultTimeoutSeconds
		c.Transcoder.TimeoutSeconds = &d
	}
	if c.Worker.MaxConcurrentJobs <= 0 {
		c.Worker.MaxConcurrentJobs = 2
	}
	if c.Worker.QueueSize <= 0 {
		c.Worker.QueueSize = 64
	}
	if c.Retention.CleanupIntervalMinutes <= 0 {
		c.Retention.CleanupIntervalMinutes = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	if c.Transcoder.TimeoutSeconds != nil && *c.Transcoder.TimeoutSeconds < 0 {
		return fmt.Errorf("transcoder.timeoutSeconds must not be negative")
	}
	if c.Transcoder.SegmentSeconds < MinSegmentSeconds {
		return fmt.Errorf("transcoder.segmentSeconds must be at least %d, got %d", MinSegmentSeconds, c.Transcoder.SegmentSeconds)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// SegmentDuration returns the target length of one segment.
func (c *Config) SegmentDuration() time.Duration {
	return time.Duration(c.Transcoder.SegmentSeconds) * time.Second
}

// TranscodeTimeout returns the deadline for one ffmpeg run; zero means none.
func (c *Config) TranscodeTimeout() time.Duration {
	if c.Transcoder.TimeoutSeconds == nil {
		return 0
	}
	return time.Duration(*c.Transcoder.TimeoutSeconds) * time.Second
}

// BodyLimitBytes returns the maximum accepted request body size.
func (c *Config) BodyLimitBytes() int {
	return c.Server.BodyLimitMB * 1024 * 1024
}
