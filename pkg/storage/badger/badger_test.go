package badger

import (
	"context"
	"testing"

	"github.com/necyber/elephie/pkg/storage"
)

// TestBadgerStorageSuite runs the full storage test suite against BadgerStorage.
func TestBadgerStorageSuite(t *testing.T) {
	suite := &storage.DocumentStoreSuite{
		NewStore: func(t *testing.T) storage.DocumentStore {
			config := &Config{
				Path:              t.TempDir(),
				SyncWrites:        false,
				ValueLogFileSize:  1 << 20,
				NumVersionsToKeep: 1,
			}

			db, err := NewBadgerStorage(config)
			if err != nil {
				t.Fatalf("Failed to create BadgerStorage: %v", err)
			}
			return db
		},
	}
	suite.RunAllTests(t)
}

// TestBadgerStorage_Persistence verifies documents survive a reopen.
func TestBadgerStorage_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := NewBadgerStorage(&Config{Path: dir, ValueLogFileSize: 1 << 20})
	if err != nil {
		t.Fatalf("Failed to create BadgerStorage: %v", err)
	}
	doc := &storage.Document{ID: "Note of Garden", Name: "Garden", Content: "tomatoes", DocTime: "2024-04-02"}
	if err := db.Put(ctx, doc); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err = NewBadgerStorage(&Config{Path: dir, ValueLogFileSize: 1 << 20})
	if err != nil {
		t.Fatalf("Failed to reopen BadgerStorage: %v", err)
	}
	defer db.Close()

	got, err := db.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Content != "tomatoes" {
		t.Errorf("expected persisted content, got %q", got.Content)
	}
}

// TestBadgerStorage_InMemory opens without a path.
func TestBadgerStorage_InMemory(t *testing.T) {
	db, err := NewBadgerStorage(&Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create in-memory BadgerStorage: %v", err)
	}
	defer db.Close()

	if _, err := db.Get(context.Background(), "nothing"); !storage.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}
