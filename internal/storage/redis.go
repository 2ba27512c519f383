package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/choco2105/magic-reading/internal/config"
	"github.com/choco2105/magic-reading/internal/interfaces"
	"github.com/choco2105/magic-reading/internal/models"
)

const (
	storyKeyPrefix     = "story:"
	recentKeyPrefix    = "user:recent:"
	defaultStoryTTL    = 24 * time.Hour
	defaultRecentLimit = 20
)

// RedisStore caches stories and per-user recent lists in front of the document store
type RedisStore struct {
	client      *redis.Client
	storyTTL    time.Duration
	recentLimit int
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewRedisStoreWithClient(client, cfg.StoryTTL, cfg.RecentLimit), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, storyTTL time.Duration, recentLimit int) *RedisStore {
	if storyTTL <= 0 {
		storyTTL = defaultStoryTTL
	}
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}
	return &RedisStore{client: client, storyTTL: storyTTL, recentLimit: recentLimit}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// PutStory stores the story JSON under story:{id} with the configured TTL
func (s *RedisStore) PutStory(ctx context.Context, story *models.Story) error {
	if story.ID == "" {
		return errors.New("story has no id")
	}
	data, err := json.Marshal(story)
	if err != nil {
		return fmt.Errorf("failed to marshal story: %w", err)
	}
	if err := s.client.Set(ctx, storyKeyPrefix+story.ID, data, s.storyTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache story: %w", err)
	}
	return nil
}

func (s *RedisStore) GetStory(ctx context.Context, id string) (*models.Story, error) {
	data, err := s.client.Get(ctx, storyKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached story: %w", err)
	}
	var story models.Story
	if err := json.Unmarshal(data, &story); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached story: %w", err)
	}
	return &story, nil
}

// PushRecent puts storyID at the head of the user's list and trims it
func (s *RedisStore) PushRecent(ctx context.Context, userID, storyID string) error {
	key := recentKeyPrefix + userID

	pipe := s.client.TxPipeline()
	pipe.LRem(ctx, key, 0, storyID)
	pipe.LPush(ctx, key, storyID)
	pipe.LTrim(ctx, key, 0, int64(s.recentLimit-1))
	pipe.Expire(ctx, key, s.storyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update recent stories: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentStoryIDs(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 || limit > s.recentLimit {
		limit = s.recentLimit
	}
	ids, err := s.client.LRange(ctx, recentKeyPrefix+userID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent stories: %w", err)
	}
	return ids, nil
}
