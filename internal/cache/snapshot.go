// Package cache keeps the last-known-good project collection in Redis so a
// restart during a database outage still has something to serve.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"kttrack/api/internal/domain"
)

var ErrEmpty = errors.New("no cached snapshot")

type SnapshotCache struct {
	client *redis.Client
	key    string
}

func NewSnapshotCache(client *redis.Client, key string) *SnapshotCache {
	return &SnapshotCache{client: client, key: key}
}

// Save overwrites the snapshot. It has no TTL: a stale snapshot is still
// better than none when the database is unreachable.
func (c *SnapshotCache) Save(ctx context.Context, projects []domain.Project) error {
	payload, err := json.Marshal(projects)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (c *SnapshotCache) Load(ctx context.Context) ([]domain.Project, error) {
	payload, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var projects []domain.Project
	if err := json.Unmarshal(payload, &projects); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return projects, nil
}
