package recipes_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"forkful/internal/extraction"
	"forkful/internal/logging"
	"forkful/internal/recipecache"
	"forkful/internal/recipes"
	"forkful/internal/server"
)

type fakeBackend struct {
	favoriteErr error
	cookedErr   error
	saveErr     error
	deleteErr   error

	favorites []string
	cooked    []string
	saved     []string
	deleted   []string
}

func (b *fakeBackend) SaveRecipe(ctx context.Context, recipeID string, isPublic bool) (server.RecipeSaveResponse, error) {
	if b.saveErr != nil {
		return server.RecipeSaveResponse{}, b.saveErr
	}
	b.saved = append(b.saved, recipeID)
	return server.RecipeSaveResponse{RecipeID: recipeID, CollectionSlug: "my-recipes"}, nil
}

func (b *fakeBackend) DeleteRecipe(ctx context.Context, recipeID string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	b.deleted = append(b.deleted, recipeID)
	return nil
}

func (b *fakeBackend) SetFavorite(ctx context.Context, recipeID string, favorite bool) error {
	if b.favoriteErr != nil {
		return b.favoriteErr
	}
	b.favorites = append(b.favorites, recipeID)
	return nil
}

func (b *fakeBackend) MarkCooked(ctx context.Context, recipeID string) error {
	if b.cookedErr != nil {
		return b.cookedErr
	}
	b.cooked = append(b.cooked, recipeID)
	return nil
}

func newService(t *testing.T, backend *fakeBackend) (*recipes.Service, *recipecache.Store) {
	t.Helper()
	store, err := recipecache.Open(filepath.Join(t.TempDir(), "cache.db"), logging.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return recipes.NewService(backend, store, logging.NewNop()), store
}

func seed(t *testing.T, store *recipecache.Store, key recipecache.Key, doc string) {
	t.Helper()
	if err := store.Put(context.Background(), key, []byte(doc)); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func decode(t *testing.T, store *recipecache.Store, key recipecache.Key) map[string]any {
	t.Helper()
	value, found, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	if !found {
		t.Fatalf("expected %s to exist", key)
	}
	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		t.Fatalf("decode %s: %v", key, err)
	}
	return doc
}

func TestSetFavoriteUpdatesEveryCachedView(t *testing.T) {
	backend := &fakeBackend{}
	svc, store := newService(t, backend)

	entity := recipecache.Key{Partition: recipecache.PartitionEntity, ID: "r1"}
	row := recipecache.Key{Partition: recipecache.PartitionList, ID: "r1"}
	counts := recipecache.Key{Partition: recipecache.PartitionCounts, ID: "collection"}
	seed(t, store, entity, `{"id":"r1","favorite":false,"notes":"keep me"}`)
	seed(t, store, row, `{"id":"r1","favorite":false}`)
	seed(t, store, counts, `{"saved":4,"favorites":1}`)

	if err := svc.SetFavorite(context.Background(), "r1", true); err != nil {
		t.Fatalf("favorite: %v", err)
	}

	if doc := decode(t, store, entity); doc["favorite"] != true || doc["notes"] != "keep me" {
		t.Fatalf("entity not patched in place: %v", doc)
	}
	if doc := decode(t, store, row); doc["favorite"] != true {
		t.Fatalf("list row not patched: %v", doc)
	}
	if doc := decode(t, store, counts); doc["favorites"] != float64(2) {
		t.Fatalf("favorites count should be 2, got %v", doc["favorites"])
	}
	if len(backend.favorites) != 1 || backend.favorites[0] != "r1" {
		t.Fatalf("backend call missing: %v", backend.favorites)
	}
}

func TestSetFavoriteRollsBackWhenBackendFails(t *testing.T) {
	backendErr := errors.New("503 from server")
	backend := &fakeBackend{favoriteErr: backendErr}
	svc, store := newService(t, backend)

	entity := recipecache.Key{Partition: recipecache.PartitionEntity, ID: "r1"}
	counts := recipecache.Key{Partition: recipecache.PartitionCounts, ID: "collection"}
	seed(t, store, entity, `{"id":"r1","favorite":false}`)
	seed(t, store, counts, `{"favorites":1}`)

	if err := svc.SetFavorite(context.Background(), "r1", true); !errors.Is(err, backendErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if doc := decode(t, store, entity); doc["favorite"] != false {
		t.Fatalf("favorite flag should have reverted: %v", doc)
	}
	if doc := decode(t, store, counts); doc["favorites"] != float64(1) {
		t.Fatalf("favorites count should have reverted: %v", doc)
	}
}

func TestMarkCookedIncrementsCounters(t *testing.T) {
	backend := &fakeBackend{}
	svc, store := newService(t, backend)

	entity := recipecache.Key{Partition: recipecache.PartitionEntity, ID: "r1"}
	seed(t, store, entity, `{"id":"r1","cooked_count":2}`)

	if err := svc.MarkCooked(context.Background(), "r1"); err != nil {
		t.Fatalf("cooked: %v", err)
	}
	if doc := decode(t, store, entity); doc["cooked_count"] != float64(3) {
		t.Fatalf("cooked count should be 3, got %v", doc["cooked_count"])
	}
	if len(backend.cooked) != 1 {
		t.Fatalf("backend call missing: %v", backend.cooked)
	}
}

func TestDiscardDraftDeletesOwnedRecipe(t *testing.T) {
	backend := &fakeBackend{}
	svc, store := newService(t, backend)

	entity := recipecache.Key{Partition: recipecache.PartitionEntity, ID: "r2"}
	seed(t, store, entity, `{"id":"r2"}`)

	job := extraction.Job{ID: "j1", Status: extraction.StatusCompleted, RecipeID: "r2"}
	if err := svc.DiscardDraft(context.Background(), job); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if len(backend.deleted) != 1 || backend.deleted[0] != "r2" {
		t.Fatalf("expected delete-recipe r2, got %v", backend.deleted)
	}
	if _, found, _ := store.Get(context.Background(), entity); found {
		t.Fatal("cached draft entry should be gone")
	}
}

func TestDiscardDraftNeverDeletesDuplicateTarget(t *testing.T) {
	backend := &fakeBackend{}
	svc, _ := newService(t, backend)

	job := extraction.Job{
		ID:               "j1",
		Status:           extraction.StatusCompleted,
		RecipeID:         "r2",
		ExistingRecipeID: "r1",
		Duplicate:        true,
	}
	if err := svc.DiscardDraft(context.Background(), job); err != nil {
		t.Fatalf("discard duplicate: %v", err)
	}
	if len(backend.deleted) != 0 {
		t.Fatalf("duplicate discard must not delete anything, got %v", backend.deleted)
	}
}

func TestSaveDraftPublishesAndInvalidates(t *testing.T) {
	backend := &fakeBackend{}
	svc, store := newService(t, backend)

	row := recipecache.Key{Partition: recipecache.PartitionList, ID: "r9"}
	seed(t, store, row, `{"id":"r9","stale":true}`)

	job := extraction.Job{ID: "j1", Status: extraction.StatusCompleted, RecipeID: "r2"}
	resp, err := svc.SaveDraft(context.Background(), job, false)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if resp.RecipeID != "r2" {
		t.Fatalf("expected saved recipe r2, got %+v", resp)
	}
	if _, found, _ := store.Get(context.Background(), row); found {
		t.Fatal("list partition should be invalidated after save")
	}
}

func TestHandleCompletionOnlyReactsToSuccess(t *testing.T) {
	backend := &fakeBackend{}
	svc, store := newService(t, backend)

	row := recipecache.Key{Partition: recipecache.PartitionList, ID: "r1"}
	seed(t, store, row, `{"id":"r1"}`)

	svc.HandleCompletion(context.Background(), extraction.Job{ID: "j1", Status: extraction.StatusFailed})
	if _, found, _ := store.Get(context.Background(), row); !found {
		t.Fatal("failed jobs must not invalidate anything")
	}

	svc.HandleCompletion(context.Background(), extraction.Job{ID: "j1", Status: extraction.StatusCompleted, RecipeID: "r2"})
	if _, found, _ := store.Get(context.Background(), row); found {
		t.Fatal("completed jobs invalidate the list partition")
	}
}
