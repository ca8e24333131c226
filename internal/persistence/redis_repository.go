package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crypto-portfolio-bot/internal/models"

	goredis "github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix = "portfolio:state:"
	redisTimeout   = 5 * time.Second
)

// RedisConfig configures the Redis repository.
type RedisConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// RedisRepository keeps each bot's state as a single string value. SET replaces
// the value atomically.
type RedisRepository struct {
	client *goredis.Client
}

// NewRedisRepository creates a client and pings the server.
func NewRedisRepository(cfg RedisConfig) (*RedisRepository, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRepository{client: client}, nil
}

func redisKey(botID string) string { return redisKeyPrefix + botID }

// SaveState writes the snapshot under the bot's key.
func (r *RedisRepository) SaveState(state *models.PortfolioState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return r.client.Set(ctx, redisKey(state.BotID), data, 0).Err()
}

// LoadState returns (nil, nil) when the key does not exist.
func (r *RedisRepository) LoadState(botID string) (*models.PortfolioState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, redisKey(botID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state models.PortfolioState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state of %s: %w", botID, err)
	}
	return &state, nil
}

// Close closes the client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
