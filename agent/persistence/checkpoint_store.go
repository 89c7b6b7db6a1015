package persistence

import (
	"context"
	"encoding/json"
	"time"
)

// Checkpoint is an opaque swarm snapshot with bookkeeping fields
type Checkpoint struct {
	SwarmID   string          `json:"swarm_id"`
	Sequence  int64           `json:"sequence"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// CheckpointStore persists the latest checkpoint of each swarm
type CheckpointStore interface {
	Store

	// SaveCheckpoint replaces the stored checkpoint of cp.SwarmID
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// LoadCheckpoint returns the latest checkpoint; ErrNotFound if none exists
	LoadCheckpoint(ctx context.Context, swarmID string) (*Checkpoint, error)

	// ListCheckpoints returns the swarm IDs that have a checkpoint
	ListCheckpoints(ctx context.Context) ([]string, error)
}
