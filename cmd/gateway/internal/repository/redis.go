package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

const snapshotsKey = "latest:snapshots"

// Compile-time check to ensure RedisStore implements SnapshotMirror
var _ SnapshotMirror = (*RedisStore)(nil)

// RedisStore keeps one hash field per instrument holding the snapshot JSON
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (r *RedisStore) Save(ctx context.Context, snap models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.Instrument, err)
	}
	return r.client.HSet(ctx, snapshotsKey, snap.Instrument, payload).Err()
}

// LoadAll skips fields that no longer decode instead of failing the warm start
func (r *RedisStore) LoadAll(ctx context.Context) ([]models.Snapshot, error) {
	fields, err := r.client.HGetAll(ctx, snapshotsKey).Result()
	if err != nil {
		return nil, err
	}

	snaps := make([]models.Snapshot, 0, len(fields))
	for field, payload := range fields {
		snap, err := models.DecodeSnapshot([]byte(payload))
		if err != nil {
			r.logger.Warn("Skipping unreadable mirrored snapshot", zap.String("instrument", field), zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Instrument < snaps[j].Instrument })
	return snaps, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
