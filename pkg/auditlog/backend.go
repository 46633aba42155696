package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/calyptra/pulse/pkg/storage"
)

// Backend is one storage tier for the audit log. Entries are kept newest
// first and trimmed to MaxEntries.
type Backend interface {
	Name() string
	Prepend(ctx context.Context, entries []Entry) error
	Entries(ctx context.Context) ([]Entry, error)
}

const auditListKey = "audit:metrics"

// redisBackend keeps the log in a capped list.
type redisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an already-connected client as an audit tier.
func NewRedisBackend(client *redis.Client) Backend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Name() string { return "redis" }

func (b *redisBackend) Prepend(ctx context.Context, entries []Entry) error {
	values := make([]interface{}, 0, len(entries))
	// LPush applies arguments left to right; reverse so the first entry
	// ends up at the head.
	for i := len(entries) - 1; i >= 0; i-- {
		data, err := json.Marshal(entries[i])
		if err != nil {
			return fmt.Errorf("encoding audit entry: %w", err)
		}
		values = append(values, data)
	}

	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, auditListKey, values...)
	pipe.LTrim(ctx, auditListKey, 0, MaxEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending audit entries: %w", err)
	}
	return nil
}

func (b *redisBackend) Entries(ctx context.Context) ([]Entry, error) {
	raw, err := b.client.LRange(ctx, auditListKey, 0, MaxEntries-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading audit entries: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

const auditObjectKey = "audit/metrics-audit.json"

// auditDocument is the durable JSON form of the whole log.
type auditDocument struct {
	Entries []Entry `json:"entries"`
}

type objectStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	PutJSON(ctx context.Context, key string, doc interface{}) error
}

// objectBackend keeps the log as one JSON document, rewritten per append.
type objectBackend struct {
	mu    sync.Mutex
	store objectStore
}

// NewObjectBackend wraps an object-store client as an audit tier.
func NewObjectBackend(store objectStore) Backend {
	return &objectBackend{store: store}
}

func (b *objectBackend) Name() string { return "object" }

func (b *objectBackend) Prepend(ctx context.Context, entries []Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc := auditDocument{}
	if err := b.store.GetJSON(ctx, auditObjectKey, &doc); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("loading audit document: %w", err)
	}

	doc.Entries = append(append([]Entry{}, entries...), doc.Entries...)
	if len(doc.Entries) > MaxEntries {
		doc.Entries = doc.Entries[:MaxEntries]
	}
	if err := b.store.PutJSON(ctx, auditObjectKey, doc); err != nil {
		return fmt.Errorf("writing audit document: %w", err)
	}
	return nil
}

func (b *objectBackend) Entries(ctx context.Context) ([]Entry, error) {
	doc := auditDocument{}
	err := b.store.GetJSON(ctx, auditObjectKey, &doc)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading audit document: %w", err)
	}
	return doc.Entries, nil
}

// memoryBackend is the last-resort tier.
type memoryBackend struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryBackend creates the in-process audit tier.
func NewMemoryBackend() Backend {
	return &memoryBackend{}
}

func (b *memoryBackend) Name() string { return "memory" }

func (b *memoryBackend) Prepend(ctx context.Context, entries []Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(append([]Entry{}, entries...), b.entries...)
	if len(b.entries) > MaxEntries {
		b.entries = b.entries[:MaxEntries]
	}
	return nil
}

func (b *memoryBackend) Entries(ctx context.Context) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out, nil
}
