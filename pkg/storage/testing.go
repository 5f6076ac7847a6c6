package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// DocumentStoreSuite defines a test suite that can be run against any
// DocumentStore implementation.
type DocumentStoreSuite struct {
	NewStore func(t *testing.T) DocumentStore
}

// RunAllTests runs all storage tests against the provided implementation.
func (s *DocumentStoreSuite) RunAllTests(t *testing.T) {
	t.Run("DocumentCRUD", s.TestDocumentCRUD)
	t.Run("ListWithFilter", s.TestListWithFilter)
	t.Run("ListWithPagination", s.TestListWithPagination)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
	t.Run("Validation", s.TestValidation)
	t.Run("NotFound", s.TestNotFound)
}

func sampleDocument(id, name string) *Document {
	return &Document{
		ID:       id,
		Name:     name,
		Content:  "content of " + id,
		DocTime:  "2024-05-01",
		Tag:      "note",
		Metadata: map[string]string{"key": "value"},
	}
}

// TestDocumentCRUD tests put, get, overwrite and delete.
func (s *DocumentStoreSuite) TestDocumentCRUD(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	doc := sampleDocument("Note of Travel > Japan", "Travel")
	if err := store.Put(ctx, doc); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != doc.Content || got.DocTime != doc.DocTime || got.Name != doc.Name {
		t.Errorf("unexpected document: %+v", got)
	}
	if got.Metadata["key"] != "value" {
		t.Errorf("expected metadata to round-trip, got %v", got.Metadata)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}

	// Mutating the returned copy must not affect the store.
	got.Metadata["key"] = "changed"
	again, err := store.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if again.Metadata["key"] != "value" {
		t.Errorf("store shares memory with caller")
	}

	doc.Content = "rewritten"
	if err := store.Put(ctx, doc); err != nil {
		t.Fatalf("Put (overwrite) failed: %v", err)
	}
	got, err = store.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "rewritten" {
		t.Errorf("expected overwritten content, got %q", got.Content)
	}

	if err := store.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, doc.ID); !IsNotFound(err) {
		t.Errorf("expected NotFoundError after delete, got %v", err)
	}
}

// TestListWithFilter tests name and prefix filters.
func (s *DocumentStoreSuite) TestListWithFilter(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	docs := []*Document{
		sampleDocument("Note of Travel > Japan", "Travel"),
		sampleDocument("Note of Travel > Peru", "Travel"),
		sampleDocument("Note of Recipes", "Recipes"),
		sampleDocument("Conversation on 2024-05-01 10:00:00", "chat-1"),
	}
	for _, d := range docs {
		if err := store.Put(ctx, d); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, total, err := store.List(ctx, &DocumentFilter{Name: "Travel"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("expected 2 Travel documents, got %d (total %d)", len(got), total)
	}
	if got[0].ID != "Note of Travel > Japan" || got[1].ID != "Note of Travel > Peru" {
		t.Errorf("expected ID order, got %s, %s", got[0].ID, got[1].ID)
	}

	got, total, err = store.List(ctx, &DocumentFilter{Prefix: "Conversation"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || got[0].Name != "chat-1" {
		t.Errorf("expected the conversation document, got %d", total)
	}

	_, total, err = store.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != len(docs) {
		t.Errorf("expected %d documents, got %d", len(docs), total)
	}
}

// TestListWithPagination tests offset and limit.
func (s *DocumentStoreSuite) TestListWithPagination(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := store.Put(ctx, sampleDocument(fmt.Sprintf("doc-%02d", i), "paged")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	page, total, err := store.List(ctx, &DocumentFilter{Limit: 4, Offset: 8})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 10 {
		t.Errorf("expected total 10, got %d", total)
	}
	if len(page) != 2 || page[0].ID != "doc-08" {
		t.Errorf("unexpected page: %d items", len(page))
	}

	page, _, err = store.List(ctx, &DocumentFilter{Offset: 20})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(page))
	}
}

// TestConcurrentAccess tests concurrent writers and readers.
func (s *DocumentStoreSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("concurrent-%d", i)
			if err := store.Put(ctx, sampleDocument(id, "c")); err != nil {
				errs <- err
				return
			}
			if _, err := store.Get(ctx, id); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	_, total, err := store.List(ctx, &DocumentFilter{Name: "c"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 20 {
		t.Errorf("expected 20 documents, got %d", total)
	}
}

// TestValidation tests that malformed documents are rejected.
func (s *DocumentStoreSuite) TestValidation(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	if err := store.Put(ctx, &Document{ID: "", DocTime: "2024-01-01"}); err == nil {
		t.Error("expected error for empty id")
	}
	if err := store.Put(ctx, &Document{ID: "x", DocTime: "01/02/2024"}); err == nil {
		t.Error("expected error for malformed doc_time")
	}
}

// TestNotFound tests missing-document errors.
func (s *DocumentStoreSuite) TestNotFound(t *testing.T) {
	store := s.NewStore(t)
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("expected NotFoundError from Get, got %v", err)
	}
	if err := store.Delete(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("expected NotFoundError from Delete, got %v", err)
	}
}
