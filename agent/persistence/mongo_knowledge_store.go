package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoEntry is the document shape of a knowledge record
type mongoEntry struct {
	ID        string    `bson:"_id"`
	Namespace string    `bson:"namespace"`
	Key       string    `bson:"key"`
	Value     string    `bson:"value"`
	Kind      string    `bson:"kind,omitempty"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoKnowledgeStore is a MongoDB implementation of KnowledgeStore
type MongoKnowledgeStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	ownsClient bool
}

// NewMongoKnowledgeStore connects to MongoDB and returns a knowledge store
func NewMongoKnowledgeStore(ctx context.Context, cfg MongoStoreConfig) (*MongoKnowledgeStore, error) {
	if cfg.URI == "" || cfg.Database == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("%w: mongo uri, database and collection are required", ErrInvalidInput)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	s := NewMongoKnowledgeStoreFromClient(client, cfg.Database, cfg.Collection)
	s.timeout = cfg.Timeout
	s.ownsClient = true
	return s, nil
}

// NewMongoKnowledgeStoreFromClient wraps an existing client; Close leaves it connected
func NewMongoKnowledgeStoreFromClient(client *mongo.Client, database, collection string) *MongoKnowledgeStore {
	return &MongoKnowledgeStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		timeout:    10 * time.Second,
	}
}

// Close disconnects the client when the store owns it
func (s *MongoKnowledgeStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks if the store is healthy
func (s *MongoKnowledgeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Put upserts a record
func (s *MongoKnowledgeStore) Put(ctx context.Context, namespace, key string, value any, kind string) error {
	e, err := newEntry(namespace, key, value, kind)
	if err != nil {
		return err
	}
	doc := toMongoEntry(*e)
	_, err = s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.ID}}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get retrieves a record
func (s *MongoKnowledgeStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	var doc mongoEntry
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: mongoID(namespace, key)}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", namespace, key, err)
	}
	e := doc.toEntry()
	return &e, nil
}

// Search returns matching records ordered by key
func (s *MongoKnowledgeStore) Search(ctx context.Context, namespace, pattern string) ([]Entry, error) {
	filter := bson.D{
		{Key: "namespace", Value: namespace},
		{Key: "key", Value: bson.Regex{Pattern: globToRegex(pattern)}},
	}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", namespace, err)
	}
	var docs []mongoEntry
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", namespace, err)
	}
	out := make([]Entry, len(docs))
	for i, d := range docs {
		out[i] = d.toEntry()
	}
	return out, nil
}

func mongoID(namespace, key string) string {
	return namespace + "/" + key
}

func toMongoEntry(e Entry) mongoEntry {
	return mongoEntry{
		ID:        mongoID(e.Namespace, e.Key),
		Namespace: e.Namespace,
		Key:       e.Key,
		Value:     string(e.Value),
		Kind:      e.Kind,
		UpdatedAt: e.UpdatedAt,
	}
}

func (d mongoEntry) toEntry() Entry {
	return Entry{
		Namespace: d.Namespace,
		Key:       d.Key,
		Value:     []byte(d.Value),
		Kind:      d.Kind,
		UpdatedAt: d.UpdatedAt,
	}
}

// globToRegex converts a glob pattern to an anchored regular expression
func globToRegex(pattern string) string {
	if pattern == "" {
		return "^.*$"
	}
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}
