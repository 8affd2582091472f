package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store provides persistence for clinic configurations.
type Store struct {
	redis    redis.Cmdable
	defaults Defaults
}

// NewStore creates a new clinic config store.
func NewStore(redisClient redis.Cmdable, defaults Defaults) *Store {
	return &Store{redis: redisClient, defaults: defaults}
}

func (s *Store) key(orgID string) string {
	return fmt.Sprintf("clinic:config:%s", orgID)
}

// Get retrieves clinic config, returning defaults if none was saved.
func (s *Store) Get(ctx context.Context, orgID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(orgID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return DefaultConfig(orgID, s.defaults), nil
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Set validates and saves clinic config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.OrgID), data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config: %w", err)
	}
	return nil
}
