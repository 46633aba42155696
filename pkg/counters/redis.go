package counters

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
)

const (
	countersKeyPrefix = "metrics:counters:"
	dailyKeyPrefix    = "metrics:daily:"
	viewedKeyPrefix   = "metrics:viewed:"
	likedKeyPrefix    = "metrics:liked:"
)

// redisBackend is the shared hot tier. Totals live in a per-slug hash, the
// daily history in a second hash keyed "<day>:views" / "<day>:likes", and
// viewer membership in two TTL'd sets.
type redisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an already-connected client as a counter tier.
func NewRedisBackend(client *redis.Client) Backend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Name() string { return "redis" }

func (b *redisBackend) Load(ctx context.Context, slug string) (*Snapshot, error) {
	pipe := b.client.Pipeline()
	totalsCmd := pipe.HGetAll(ctx, countersKeyPrefix+slug)
	dailyCmd := pipe.HGetAll(ctx, dailyKeyPrefix+slug)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("loading counters for %q: %w", slug, err)
	}
	return snapshotFromHashes(totalsCmd.Val(), dailyCmd.Val()), nil
}

func (b *redisBackend) IncrView(ctx context.Context, slug, day string) (*Snapshot, error) {
	pipe := b.client.TxPipeline()
	pipe.HIncrBy(ctx, countersKeyPrefix+slug, "views", 1)
	pipe.HIncrBy(ctx, dailyKeyPrefix+slug, day+":views", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("incrementing views for %q: %w", slug, err)
	}
	return b.Load(ctx, slug)
}

func (b *redisBackend) AdjustLikes(ctx context.Context, slug, day string, delta int64) (*Snapshot, error) {
	pipe := b.client.TxPipeline()
	totalCmd := pipe.HIncrBy(ctx, countersKeyPrefix+slug, "likes", delta)
	pipe.HIncrBy(ctx, dailyKeyPrefix+slug, day+":likes", delta)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("adjusting likes for %q: %w", slug, err)
	}
	if totalCmd.Val() < 0 {
		// Concurrent unlikes can race the floor; clamp in place.
		if err := b.client.HSet(ctx, countersKeyPrefix+slug, "likes", 0).Err(); err != nil {
			return nil, fmt.Errorf("clamping likes for %q: %w", slug, err)
		}
	}
	return b.Load(ctx, slug)
}

func (b *redisBackend) Overwrite(ctx context.Context, slug string, snap *Snapshot) error {
	daily := make(map[string]interface{}, len(snap.History)*2)
	for _, h := range snap.History {
		daily[h.Date+":views"] = h.Views
		daily[h.Date+":likes"] = h.Likes
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, countersKeyPrefix+slug, "views", snap.Views, "likes", snap.Likes)
	pipe.Del(ctx, dailyKeyPrefix+slug)
	if len(daily) > 0 {
		pipe.HSet(ctx, dailyKeyPrefix+slug, daily)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("overwriting counters for %q: %w", slug, err)
	}
	return nil
}

func (b *redisBackend) MarkViewed(ctx context.Context, slug, viewerID string) (bool, error) {
	key := viewedKeyPrefix + slug
	added, err := b.client.SAdd(ctx, key, viewerID).Result()
	if err != nil {
		return false, fmt.Errorf("marking view membership for %q: %w", slug, err)
	}
	if err := b.client.Expire(ctx, key, viewDedupTTL).Err(); err != nil {
		return false, fmt.Errorf("refreshing view membership TTL for %q: %w", slug, err)
	}
	return added == 1, nil
}

func (b *redisBackend) HasLiked(ctx context.Context, slug, viewerID string) (bool, error) {
	liked, err := b.client.SIsMember(ctx, likedKeyPrefix+slug, viewerID).Result()
	if err != nil {
		return false, fmt.Errorf("checking like membership for %q: %w", slug, err)
	}
	return liked, nil
}

func (b *redisBackend) SetLiked(ctx context.Context, slug, viewerID string, liked bool) error {
	key := likedKeyPrefix + slug
	if liked {
		pipe := b.client.TxPipeline()
		pipe.SAdd(ctx, key, viewerID)
		pipe.Expire(ctx, key, likeMembershipTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("adding like membership for %q: %w", slug, err)
		}
		return nil
	}
	if err := b.client.SRem(ctx, key, viewerID).Err(); err != nil {
		return fmt.Errorf("removing like membership for %q: %w", slug, err)
	}
	return nil
}

func (b *redisBackend) ClearMembership(ctx context.Context, slug string) error {
	if err := b.client.Del(ctx, viewedKeyPrefix+slug, likedKeyPrefix+slug).Err(); err != nil {
		return fmt.Errorf("clearing membership for %q: %w", slug, err)
	}
	return nil
}

// snapshotFromHashes folds the totals and daily hashes into a snapshot.
// Malformed fields are skipped rather than failing the whole read.
func snapshotFromHashes(totals, daily map[string]string) *Snapshot {
	snap := &Snapshot{}
	if v, err := strconv.ParseInt(totals["views"], 10, 64); err == nil {
		snap.Views = v
	}
	if v, err := strconv.ParseInt(totals["likes"], 10, 64); err == nil {
		snap.Likes = v
	}
	if snap.Likes < 0 {
		snap.Likes = 0
	}

	byDay := make(map[string]*DailyStat)
	for field, raw := range daily {
		idx := strings.LastIndex(field, ":")
		if idx <= 0 {
			continue
		}
		day, metric := field[:idx], field[idx+1:]
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if n < 0 {
			n = 0
		}
		stat, ok := byDay[day]
		if !ok {
			stat = &DailyStat{Date: day}
			byDay[day] = stat
		}
		switch metric {
		case "views":
			stat.Views = n
		case "likes":
			stat.Likes = n
		}
	}
	for _, stat := range byDay {
		snap.History = append(snap.History, *stat)
	}
	sortHistory(snap.History)
	return snap
}
