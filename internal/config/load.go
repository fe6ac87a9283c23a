package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and, when present, a
// config.yaml in the working directory. Environment variables take
// precedence over values from the config file; all variables use the FABLE_
// prefix with underscores for nesting (e.g. FABLE_SERVER_PORT).
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults carry it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the defaults every deployment can start from; only
// the database URL and the Gemini API key have no usable default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.timeout_seconds", 30)

	v.SetDefault("image.model_name", "imagen-3.0-generate-002")
	v.SetDefault("image.timeout_seconds", 90)
	v.SetDefault("image.max_concurrent", 3)
	v.SetDefault("image.max_retries", 3)
	v.SetDefault("image.storage_dir", "data/images")
	v.SetDefault("image.public_base_url", "http://localhost:8080/static")

	v.SetDefault("job.max_retries", 3)
	v.SetDefault("job.sla_seconds", 600)

	v.SetDefault("monitor.interval_seconds", 300)
	v.SetDefault("monitor.stuck_running_minutes", 15)
	v.SetDefault("monitor.stuck_queued_minutes", 30)

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.queue_size", 100)
	v.SetDefault("worker.poll_seconds", 15)
	v.SetDefault("worker.shutdown_seconds", 30)
}
