package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KnowledgeRecord is the GORM model of a knowledge entry.
// The schema is owned by the swarm_knowledge migrations.
type KnowledgeRecord struct {
	Namespace string    `gorm:"column:namespace;primaryKey;size:128"`
	Key       string    `gorm:"column:record_key;primaryKey;size:255"`
	Value     string    `gorm:"column:value;type:text;not null"`
	Kind      string    `gorm:"column:kind;size:64"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName implements gorm's tabler
func (KnowledgeRecord) TableName() string { return "swarm_knowledge" }

// SQLKnowledgeStore is a GORM-backed implementation of KnowledgeStore.
// Works with PostgreSQL, MySQL and SQLite.
type SQLKnowledgeStore struct {
	db *gorm.DB
}

// NewSQLKnowledgeStore creates a SQL knowledge store on a migrated database
func NewSQLKnowledgeStore(db *gorm.DB) *SQLKnowledgeStore {
	return &SQLKnowledgeStore{db: db}
}

// Close is a no-op; the connection pool is owned by the caller
func (s *SQLKnowledgeStore) Close() error { return nil }

// Ping checks if the store is healthy
func (s *SQLKnowledgeStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Put upserts a record
func (s *SQLKnowledgeStore) Put(ctx context.Context, namespace, key string, value any, kind string) error {
	e, err := newEntry(namespace, key, value, kind)
	if err != nil {
		return err
	}
	rec := KnowledgeRecord{
		Namespace: e.Namespace,
		Key:       e.Key,
		Value:     string(e.Value),
		Kind:      e.Kind,
		UpdatedAt: e.UpdatedAt,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "kind", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get retrieves a record
func (s *SQLKnowledgeStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	var rec KnowledgeRecord
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND record_key = ?", namespace, key).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", namespace, key, err)
	}
	e := rec.toEntry()
	return &e, nil
}

// Search returns matching records ordered by key
func (s *SQLKnowledgeStore) Search(ctx context.Context, namespace, pattern string) ([]Entry, error) {
	var recs []KnowledgeRecord
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND record_key LIKE ? ESCAPE '!'", namespace, globToLike(pattern)).
		Order("record_key").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", namespace, err)
	}
	out := make([]Entry, len(recs))
	for i, r := range recs {
		out[i] = r.toEntry()
	}
	return out, nil
}

func (r KnowledgeRecord) toEntry() Entry {
	return Entry{
		Namespace: r.Namespace,
		Key:       r.Key,
		Value:     []byte(r.Value),
		Kind:      r.Kind,
		UpdatedAt: r.UpdatedAt,
	}
}
