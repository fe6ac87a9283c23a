package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
	Image    ImageConfig    `mapstructure:"image"    validate:"required"`
	Job      JobConfig      `mapstructure:"job"      validate:"required"`
	Monitor  MonitorConfig  `mapstructure:"monitor"  validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// LLMConfig contains the text generation and moderation settings.
type LLMConfig struct {
	GeminiAPIKey   string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName      string `mapstructure:"model_name"     validate:"required"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"required,gt=0"`
}

// ImageConfig contains the image generation settings.
type ImageConfig struct {
	ModelName      string `mapstructure:"model_name"      validate:"required"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"required,gt=0"`
	MaxConcurrent  int    `mapstructure:"max_concurrent"  validate:"required,gt=0"`
	MaxRetries     int    `mapstructure:"max_retries"     validate:"required,gt=0"`
	StorageDir     string `mapstructure:"storage_dir"     validate:"required"`
	PublicBaseURL  string `mapstructure:"public_base_url" validate:"required"`
}

// JobConfig contains the per-job lifecycle limits.
type JobConfig struct {
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`
	SLASeconds int `mapstructure:"sla_seconds" validate:"required,gt=0"`
}

// MonitorConfig contains the job monitor thresholds.
type MonitorConfig struct {
	IntervalSeconds     int `mapstructure:"interval_seconds"      validate:"required,gt=0"`
	StuckRunningMinutes int `mapstructure:"stuck_running_minutes" validate:"required,gt=0"`
	StuckQueuedMinutes  int `mapstructure:"stuck_queued_minutes"  validate:"required,gt=0"`
}

// WorkerConfig contains the background task runner settings.
type WorkerConfig struct {
	Count           int `mapstructure:"count"             validate:"required,gt=0"`
	QueueSize       int `mapstructure:"queue_size"        validate:"required,gt=0"`
	PollSeconds     int `mapstructure:"poll_seconds"      validate:"required,gt=0"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"  validate:"required,gt=0"`
}

// LLMTimeout returns the text generation timeout as a duration.
func (c LLMConfig) LLMTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ImageTimeout returns the per-image generation timeout as a duration.
func (c ImageConfig) ImageTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SLA returns the absolute wall-clock ceiling on total job lifetime.
func (c JobConfig) SLA() time.Duration {
	return time.Duration(c.SLASeconds) * time.Second
}

// Interval returns the monitor scan interval as a duration.
func (c MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StuckRunningAge returns the running-staleness threshold as a duration.
func (c MonitorConfig) StuckRunningAge() time.Duration {
	return time.Duration(c.StuckRunningMinutes) * time.Minute
}

// StuckQueuedAge returns the queued-staleness threshold as a duration.
func (c MonitorConfig) StuckQueuedAge() time.Duration {
	return time.Duration(c.StuckQueuedMinutes) * time.Minute
}

// PollInterval returns the task runner's queued-job poll interval.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}
