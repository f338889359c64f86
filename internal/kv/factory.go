package kv

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wayli-app/relay/internal/config"
)

// New creates a KV store based on the configured backend.
//
// Backend options:
// - "memory": in-process store (default for single instance and tests)
// - "redis": Redis-compatible store (required for multi-instance deployments)
func New(cfg *config.KVConfig) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		log.Info().Msg("Using in-memory KV store (single instance mode)")
		return NewMemoryStore(), nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis KV backend")
		}
		log.Info().Msg("Using Redis-compatible KV store")
		store, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis for KV store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown KV backend: %s (valid options: memory, redis)", cfg.Backend)
	}
}
