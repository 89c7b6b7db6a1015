package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type decisionRecord struct {
	Topic   string `json:"topic"`
	Option  string `json:"option"`
	Success bool   `json:"success"`
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func setupTestSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&KnowledgeRecord{}))
	return db
}

// testKnowledgeStore runs the shared KnowledgeStore contract
func testKnowledgeStore(t *testing.T, store KnowledgeStore) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})

	t.Run("PutAndGet", func(t *testing.T) {
		rec := decisionRecord{Topic: "approach", Option: "scalable modular approach", Success: true}
		require.NoError(t, store.Put(ctx, "decisions", "outcome:1", rec, "decision_outcome"))

		e, err := store.Get(ctx, "decisions", "outcome:1")
		require.NoError(t, err)
		assert.Equal(t, "decision_outcome", e.Kind)
		assert.False(t, e.UpdatedAt.IsZero())

		var got decisionRecord
		require.NoError(t, e.Decode(&got))
		assert.Equal(t, rec, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "tasks", "t1", map[string]string{"status": "pending"}, "task"))
		require.NoError(t, store.Put(ctx, "tasks", "t1", map[string]string{"status": "completed"}, "task"))

		e, err := store.Get(ctx, "tasks", "t1")
		require.NoError(t, err)
		var got map[string]string
		require.NoError(t, e.Decode(&got))
		assert.Equal(t, "completed", got["status"])
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "decisions", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		assert.ErrorIs(t, store.Put(ctx, "", "k", 1, ""), ErrInvalidInput)
	})

	t.Run("Search", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "search", "outcome:b", 2, ""))
		require.NoError(t, store.Put(ctx, "search", "outcome:a", 1, ""))
		require.NoError(t, store.Put(ctx, "search", "decision:a", 3, ""))
		require.NoError(t, store.Put(ctx, "search", "50%_off", 4, ""))
		require.NoError(t, store.Put(ctx, "other", "outcome:c", 5, ""))

		got, err := store.Search(ctx, "search", "outcome:*")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "outcome:a", got[0].Key)
		assert.Equal(t, "outcome:b", got[1].Key)

		all, err := store.Search(ctx, "search", "*")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		single, err := store.Search(ctx, "search", "outcome:?")
		require.NoError(t, err)
		assert.Len(t, single, 2)

		literal, err := store.Search(ctx, "search", "50%_*")
		require.NoError(t, err)
		require.Len(t, literal, 1)
		assert.Equal(t, "50%_off", literal[0].Key)

		none, err := store.Search(ctx, "empty", "*")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestMemoryKnowledgeStore(t *testing.T) {
	store := NewMemoryKnowledgeStore()
	testKnowledgeStore(t, store)

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
	assert.ErrorIs(t, store.Put(context.Background(), "a", "b", 1, ""), ErrStoreClosed)
}

func TestRedisKnowledgeStore(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisKnowledgeStore(client, "test:")
	defer store.Close()
	testKnowledgeStore(t, store)
}

func TestSQLKnowledgeStore(t *testing.T) {
	store := NewSQLKnowledgeStore(setupTestSQLite(t))
	defer store.Close()
	testKnowledgeStore(t, store)
}

func TestGlobConversions(t *testing.T) {
	tests := []struct {
		pattern string
		like    string
		regex   string
	}{
		{"", "%", "^.*$"},
		{"outcome:*", "outcome:%", "^outcome:.*$"},
		{"a?c", "a_c", "^a.c$"},
		{"50%_!", "50!%!_!!", `^50%_!$`},
		{"v1.2", "v1.2", `^v1\.2$`},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.like, globToLike(tt.pattern))
			assert.Equal(t, tt.regex, globToRegex(tt.pattern))
		})
	}
}

func TestMongoEntryRoundTrip(t *testing.T) {
	e, err := newEntry("decisions", "outcome:1", map[string]int{"n": 1}, "decision_outcome")
	require.NoError(t, err)

	doc := toMongoEntry(*e)
	assert.Equal(t, "decisions/outcome:1", doc.ID)
	assert.Equal(t, *e, doc.toEntry())
}

func TestNewKnowledgeStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewKnowledgeStore(ctx, StoreConfig{Type: StoreTypeMemory}, Backends{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryKnowledgeStore{}, s)

	_, err = NewKnowledgeStore(ctx, StoreConfig{Type: StoreTypeRedis}, Backends{})
	assert.Error(t, err)

	s, err = NewKnowledgeStore(ctx, StoreConfig{Type: StoreTypeRedis}, Backends{Redis: setupTestRedis(t)})
	require.NoError(t, err)
	assert.IsType(t, &RedisKnowledgeStore{}, s)

	_, err = NewKnowledgeStore(ctx, StoreConfig{Type: StoreTypeSQL}, Backends{})
	assert.Error(t, err)

	_, err = NewKnowledgeStore(ctx, StoreConfig{Type: "etcd"}, Backends{})
	assert.Error(t, err)

	_, err = NewKnowledgeStore(ctx, StoreConfig{Type: StoreTypeMongo}, Backends{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
