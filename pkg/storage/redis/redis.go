// Package redis provides a Redis-backed implementation of the document store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/necyber/elephie/pkg/storage"
)

// Config holds configuration for RedisStorage.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:      "localhost:6379",
		KeyPrefix: "elephie:",
	}
}

// RedisStorage implements storage.DocumentStore. Each document is a JSON
// string under {prefix}doc:{id}; {prefix}docs is the set of all ids.
type RedisStorage struct {
	client redis.Cmdable
	prefix string
	closer func() error
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ctx context.Context, config *Config) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &storage.StorageUnavailableError{Cause: err}
	}
	s := NewRedisStorageWithClient(client, config.KeyPrefix)
	s.closer = client.Close
	return s, nil
}

// NewRedisStorageWithClient wraps an existing client. Close leaves it open.
func NewRedisStorageWithClient(client redis.Cmdable, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "elephie:"
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (r *RedisStorage) docKey(id string) string {
	return fmt.Sprintf("%sdoc:%s", r.prefix, id)
}

func (r *RedisStorage) indexKey() string {
	return r.prefix + "docs"
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &storage.StorageUnavailableError{Cause: err}
}

// Put stores doc and records its id in the index set.
func (r *RedisStorage) Put(ctx context.Context, doc *storage.Document) error {
	if err := storage.Validate(doc); err != nil {
		return err
	}
	copied := doc.Clone()
	if copied.UpdatedAt.IsZero() {
		copied.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(copied)
	if err != nil {
		return &storage.SerializationError{Operation: "marshal", Cause: err}
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.docKey(doc.ID), data, 0)
		pipe.SAdd(ctx, r.indexKey(), doc.ID)
		return nil
	})
	return unavailable(err)
}

// Get retrieves a document by ID.
func (r *RedisStorage) Get(ctx context.Context, id string) (*storage.Document, error) {
	data, err := r.client.Get(ctx, r.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &storage.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var doc storage.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return &doc, nil
}

// Delete removes a document.
func (r *RedisStorage) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.docKey(id))
		pipe.SRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	if del.Val() == 0 {
		return &storage.NotFoundError{ID: id}
	}
	return nil
}

// List loads every indexed document and returns those matching filter.
func (r *RedisStorage) List(ctx context.Context, filter *storage.DocumentFilter) ([]*storage.Document, int, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, 0, unavailable(err)
	}
	if len(ids) == 0 {
		return []*storage.Document{}, 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, unavailable(err)
	}

	matched := make([]*storage.Document, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// Index entry without a document.
			continue
		}
		var doc storage.Document
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, 0, &storage.SerializationError{Operation: "unmarshal", Cause: err}
		}
		if filter.Match(&doc) {
			matched = append(matched, &doc)
		}
	}

	page, total := filter.Page(matched)
	return page, total, nil
}

// Close closes the client if this store created it.
func (r *RedisStorage) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
