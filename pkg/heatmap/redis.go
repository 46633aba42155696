package heatmap

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
)

const heatmapKeyPrefix = "heatmap:"

// redisBackend keeps one slug's whole heatmap in a single hash so a batch of
// HIncrBy commands inside a TxPipeline applies atomically.
type redisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an already-connected client as a heatmap tier.
func NewRedisBackend(client *redis.Client) Backend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Name() string { return "redis" }

func (b *redisBackend) IncrFields(ctx context.Context, slug string, increments map[FieldKey]int64) error {
	if len(increments) == 0 {
		return nil
	}
	pipe := b.client.TxPipeline()
	key := heatmapKeyPrefix + slug
	for field, n := range increments {
		pipe.HIncrBy(ctx, key, field.Encode(), n)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incrementing heatmap fields for %q: %w", slug, err)
	}
	return nil
}

func (b *redisBackend) LoadFields(ctx context.Context, slug string) (map[FieldKey]int64, error) {
	raw, err := b.client.HGetAll(ctx, heatmapKeyPrefix+slug).Result()
	if err != nil {
		return nil, fmt.Errorf("loading heatmap for %q: %w", slug, err)
	}

	out := make(map[FieldKey]int64, len(raw))
	for field, value := range raw {
		key, err := DecodeFieldKey(field)
		if err != nil {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		out[key] = n
	}
	return out, nil
}

func (b *redisBackend) ListSlugs(ctx context.Context) ([]string, error) {
	var slugs []string
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, heatmapKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning heatmap keys: %w", err)
		}
		for _, key := range keys {
			slugs = append(slugs, strings.TrimPrefix(key, heatmapKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}
