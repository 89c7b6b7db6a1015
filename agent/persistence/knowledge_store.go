package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// Entry is a single knowledge record
type Entry struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Kind      string          `json:"kind,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals the entry value into v
func (e *Entry) Decode(v any) error {
	return json.Unmarshal(e.Value, v)
}

// KnowledgeStore is the shared, namespaced key/value store of a swarm.
// Callers in the coordination core treat writes as best-effort.
type KnowledgeStore interface {
	Store

	// Put stores value (JSON encoded) under namespace/key
	Put(ctx context.Context, namespace, key string, value any, kind string) error

	// Get retrieves a record; returns ErrNotFound if missing
	Get(ctx context.Context, namespace, key string) (*Entry, error)

	// Search returns the records of a namespace whose key matches the glob pattern,
	// ordered by key
	Search(ctx context.Context, namespace, pattern string) ([]Entry, error)
}

func newEntry(namespace, key string, value any, kind string) (*Entry, error) {
	if namespace == "" || key == "" {
		return nil, fmt.Errorf("%w: namespace and key are required", ErrInvalidInput)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return &Entry{
		Namespace: namespace,
		Key:       key,
		Value:     data,
		Kind:      kind,
		UpdatedAt: time.Now(),
	}, nil
}

// matchKey reports whether key matches the glob pattern; an empty pattern matches all
func matchKey(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

// likeEscape is the escape character used by globToLike
const likeEscape = '!'

// globToLike converts a glob pattern to a SQL LIKE pattern escaped with likeEscape
func globToLike(pattern string) string {
	if pattern == "" {
		return "%"
	}
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', likeEscape:
			b.WriteRune(likeEscape)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
