package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const checkpointExt = ".json"

// FileCheckpointStore is a file-based implementation of CheckpointStore.
// Each swarm has one JSON file, replaced atomically through a temp file.
type FileCheckpointStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileCheckpointStore creates a file checkpoint store under baseDir
func NewFileCheckpointStore(baseDir string) (*FileCheckpointStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("%w: checkpoint base dir is required", ErrInvalidInput)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{baseDir: baseDir}, nil
}

// Close closes the store
func (s *FileCheckpointStore) Close() error { return nil }

// Ping checks that the base directory is accessible
func (s *FileCheckpointStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileCheckpointStore) path(swarmID string) (string, error) {
	if swarmID == "" || strings.ContainsAny(swarmID, `/\`) || swarmID == "." || swarmID == ".." {
		return "", fmt.Errorf("%w: invalid swarm id %q", ErrInvalidInput, swarmID)
	}
	return filepath.Join(s.baseDir, swarmID+checkpointExt), nil
}

// SaveCheckpoint writes the checkpoint atomically
func (s *FileCheckpointStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return ErrInvalidInput
	}
	p, err := s.path(cp.SwarmID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tempPath := p + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return os.Rename(tempPath, p)
}

// LoadCheckpoint reads the checkpoint of a swarm
func (s *FileCheckpointStore) LoadCheckpoint(ctx context.Context, swarmID string) (*Checkpoint, error) {
	p, err := s.path(swarmID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// ListCheckpoints lists swarm IDs with a checkpoint file
func (s *FileCheckpointStore) ListCheckpoints(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, checkpointExt))
	}
	sort.Strings(ids)
	return ids, nil
}
