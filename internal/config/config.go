// Package config loads and validates the backplane configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	KV       KVConfig       `mapstructure:"kv"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Presence PresenceConfig `mapstructure:"presence"`
	Events   EventsConfig   `mapstructure:"events"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Debug    bool           `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings.
// WriteTimeout must exceed the long-poll budget (pull_retries * pull_sleep).
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

// KVConfig contains the shared key-value store settings
type KVConfig struct {
	Backend    string        `mapstructure:"backend"` // memory or redis
	RedisURL   string        `mapstructure:"redis_url"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// ChannelsConfig contains channel manager settings
type ChannelsConfig struct {
	MaxMessageBacklog int           `mapstructure:"max_message_backlog"`
	WriteRetries      int           `mapstructure:"write_retries"`
	WriteSleep        time.Duration `mapstructure:"write_sleep"`
	PullRetries       int           `mapstructure:"pull_retries"`
	PullSleep         time.Duration `mapstructure:"pull_sleep"`
	ClientsNamespace  string        `mapstructure:"clients_namespace"`
	BucketsNamespace  string        `mapstructure:"buckets_namespace"`
}

// PresenceConfig contains presence roster settings
type PresenceConfig struct {
	CollaboratorExpiry time.Duration `mapstructure:"collaborator_expiry"`
	Namespace          string        `mapstructure:"namespace"`
}

// EventsConfig contains the publish pipeline settings
type EventsConfig struct {
	DatabaseURL      string        `mapstructure:"database_url"`
	PublishCountdown time.Duration `mapstructure:"publish_countdown"`
	QueueSize        int           `mapstructure:"queue_size"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Load reads configuration from file, environment and defaults.
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetConfigName("relay")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/relay")

	setDefaults()

	// Enable environment variable support with underscore replacer
	viper.AutomaticEnv()
	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file (if it exists)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
		"../.env", // For when running from subdirectories
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults. The write timeout leaves headroom above the
	// ~55s long-poll budget.
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "65s")
	viper.SetDefault("server.idle_timeout", "75s")
	viper.SetDefault("server.body_limit", 1*1024*1024) // 1MB

	// KV defaults
	viper.SetDefault("kv.backend", "memory")
	viper.SetDefault("kv.default_ttl", "30m")

	// Channel defaults
	viper.SetDefault("channels.max_message_backlog", 200)
	viper.SetDefault("channels.write_retries", 100)
	viper.SetDefault("channels.write_sleep", "100ms")
	viper.SetDefault("channels.pull_retries", 37)
	viper.SetDefault("channels.pull_sleep", "1500ms")
	viper.SetDefault("channels.clients_namespace", "channel-clients")
	viper.SetDefault("channels.buckets_namespace", "channel-buckets")

	// Presence defaults
	viper.SetDefault("presence.collaborator_expiry", "90s")
	viper.SetDefault("presence.namespace", "collab")

	// Events defaults
	viper.SetDefault("events.publish_countdown", "1s")
	viper.SetDefault("events.queue_size", 1024)

	// Auth defaults
	viper.SetDefault("auth.jwt_secret", "your-secret-key-change-in-production")

	viper.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "your-secret-key-change-in-production" {
		return fmt.Errorf("please set a secure JWT secret")
	}

	if c.Channels.MaxMessageBacklog < 1 {
		return fmt.Errorf("channels.max_message_backlog must be at least 1")
	}

	if c.Channels.PullRetries < 1 || c.Channels.WriteRetries < 1 {
		return fmt.Errorf("retry counts must be at least 1")
	}

	if c.KV.Backend == "redis" && c.KV.RedisURL == "" {
		return fmt.Errorf("kv.redis_url is required for the redis backend")
	}

	pollBudget := time.Duration(c.Channels.PullRetries) * c.Channels.PullSleep
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= pollBudget {
		return fmt.Errorf("server.write_timeout must exceed the long-poll budget of %s", pollBudget)
	}

	return nil
}
