// Package badger provides a Badger-based implementation of the document store.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/necyber/elephie/pkg/storage"
)

// Config holds configuration for BadgerStorage.
type Config struct {
	Path              string
	InMemory          bool
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
}

// BadgerStorage implements storage.DocumentStore using Badger.
type BadgerStorage struct {
	db     *badger.DB
	config *Config
	owned  bool
}

// NewBadgerStorage opens a Badger database for documents.
func NewBadgerStorage(config *Config) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}

	return &BadgerStorage{db: db, config: config, owned: true}, nil
}

// NewBadgerStorageWithDB wraps an already open database. Close leaves db open.
func NewBadgerStorageWithDB(db *badger.DB) *BadgerStorage {
	return &BadgerStorage{db: db, config: &Config{}}
}

// DB returns the underlying database so other components can share it.
func (b *BadgerStorage) DB() *badger.DB {
	return b.db
}

const documentPrefix = "doc:"

func documentKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", documentPrefix, id))
}

func serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{Operation: "marshal", Cause: err}
	}
	return data, nil
}

func deserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return nil
}

// Put stores doc, replacing any previous version.
func (b *BadgerStorage) Put(ctx context.Context, doc *storage.Document) error {
	if err := storage.Validate(doc); err != nil {
		return err
	}
	copied := doc.Clone()
	if copied.UpdatedAt.IsZero() {
		copied.UpdatedAt = time.Now().UTC()
	}
	data, err := serialize(copied)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(documentKey(doc.ID), data)
	})
}

// Get retrieves a document by ID.
func (b *BadgerStorage) Get(ctx context.Context, id string) (*storage.Document, error) {
	var doc storage.Document
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &storage.NotFoundError{ID: id}
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return deserialize(val, &doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Delete removes a document.
func (b *BadgerStorage) Delete(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := documentKey(id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &storage.NotFoundError{ID: id}
			}
			return err
		}
		return txn.Delete(key)
	})
}

// List scans all documents and returns those matching filter.
func (b *BadgerStorage) List(ctx context.Context, filter *storage.DocumentFilter) ([]*storage.Document, int, error) {
	var matched []*storage.Document
	prefix := []byte(documentPrefix)
	if filter != nil && filter.Prefix != "" {
		prefix = documentKey(filter.Prefix)
	}

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc storage.Document
			if err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &doc)
			}); err != nil {
				return err
			}
			if filter.Match(&doc) {
				matched = append(matched, &doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	page, total := filter.Page(matched)
	return page, total, nil
}

// Close closes the database if this store opened it.
func (b *BadgerStorage) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}
