package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	queueKey         = "events:queue"
	sessionKeyPrefix = "events:sessions:"
	// sessionSetTTL keeps per-window session sets around long enough for
	// late flushes without letting them accumulate forever.
	sessionSetTTL = 48 * time.Hour
)

// Queue is the durable FIFO buffer between ingestion and flushing, plus the
// per-window session sets used for unique counting.
type Queue struct {
	client *redis.Client
}

// NewQueue wraps an already-connected client as the event queue.
func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Push appends the batch to the tail of the queue.
func (q *Queue) Push(ctx context.Context, records []EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding queued event: %w", err)
		}
		values = append(values, data)
	}
	if err := q.client.RPush(ctx, queueKey, values...).Err(); err != nil {
		return fmt.Errorf("queueing events: %w", err)
	}
	return nil
}

// Pop removes up to max records from the head of the queue. Rows that fail
// to decode are skipped; they are already consumed and cannot be retried.
func (q *Queue) Pop(ctx context.Context, max int) ([]EventRecord, error) {
	raw, err := q.client.LPopCount(ctx, queueKey, max).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("popping queued events: %w", err)
	}

	records := make([]EventRecord, 0, len(raw))
	for _, item := range raw {
		var rec EventRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Len reports the queue depth.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue depth: %w", err)
	}
	return n, nil
}

// SessionDelta unions sessions into the window's set and returns how many
// were new. The delta, not the set size, is what increments the cumulative
// unique count, so repeated flushes never double count.
func (q *Queue) SessionDelta(ctx context.Context, bucket time.Time, eventName, slug string, sessions []string) (int64, error) {
	if len(sessions) == 0 {
		return 0, nil
	}
	key := sessionKeyPrefix + strconv.FormatInt(bucket.Unix(), 10) + ":" + eventName + ":" + slug
	members := make([]interface{}, len(sessions))
	for i, s := range sessions {
		members[i] = s
	}

	pipe := q.client.TxPipeline()
	addCmd := pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, sessionSetTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("merging session set: %w", err)
	}
	return addCmd.Val(), nil
}
