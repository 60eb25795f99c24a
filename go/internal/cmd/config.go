package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon"
)

// Config is the YAML file at CONFIG_PATH. Anything left out keeps its default.
type Config struct {
	Policy          subathon.Policy         `yaml:"policy"`
	DefaultSettings models.SubathonSettings `yaml:"default_settings"`

	Gateway struct {
		SubscriberBuffer int `yaml:"subscriber_buffer"`
	} `yaml:"gateway"`

	Scheduler struct {
		Workers    int           `yaml:"workers"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"scheduler"`

	RateLimit struct {
		ClicksPerSecond  float64 `yaml:"clicks_per_second"`
		ClickBurst       int     `yaml:"click_burst"`
		WebhookPerSecond float64 `yaml:"webhook_per_second"`
		WebhookBurst     int     `yaml:"webhook_burst"`
	} `yaml:"rate_limit"`

	// Streamers are loaded into the in-memory store; ignored with STORE=postgres
	Streamers []StreamerConfig `yaml:"streamers"`
}

type StreamerConfig struct {
	ID             string `yaml:"id"`
	Platform       string `yaml:"platform"`
	PlatformUserID string `yaml:"platform_user_id"`
	Login          string `yaml:"login"`
	DisplayName    string `yaml:"display_name"`
}

func defaultConfig() *Config {
	cfg := &Config{
		Policy:          subathon.DefaultPolicy(),
		DefaultSettings: models.DefaultSubathonSettings(),
	}
	cfg.Gateway.SubscriberBuffer = 256
	cfg.Scheduler.Workers = 4
	cfg.Scheduler.RetryDelay = 5 * time.Second
	cfg.RateLimit.ClicksPerSecond = 5
	cfg.RateLimit.ClickBurst = 10
	cfg.RateLimit.WebhookPerSecond = 50
	cfg.RateLimit.WebhookBurst = 200
	return cfg
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if err := config.DefaultSettings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default_settings: %w", err)
	}
	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
