package repository

import (
	"context"

	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

// SnapshotMirror persists the latest snapshot per instrument outside the process
type SnapshotMirror interface {
	Save(ctx context.Context, snap models.Snapshot) error
	LoadAll(ctx context.Context) ([]models.Snapshot, error)
	Close() error
}
