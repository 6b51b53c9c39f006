package recipes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"forkful/internal/extraction"
	"forkful/internal/logging"
	"forkful/internal/recipecache"
	"forkful/internal/server"
)

// countsID is the single document in the counts partition.
const countsID = "collection"

// Backend is the server surface the recipe actions need. *server.Client
// satisfies it.
type Backend interface {
	SaveRecipe(ctx context.Context, recipeID string, isPublic bool) (server.RecipeSaveResponse, error)
	DeleteRecipe(ctx context.Context, recipeID string) error
	SetFavorite(ctx context.Context, recipeID string, favorite bool) error
	MarkCooked(ctx context.Context, recipeID string) error
}

// Service wires recipe actions through the optimistic cache path so every
// screen reflects the change immediately and reverts if the backend refuses.
type Service struct {
	backend Backend
	store   *recipecache.Store
	mutator *recipecache.Mutator
	logger  *slog.Logger
}

// NewService builds a recipe service over one cache store.
func NewService(backend Backend, store *recipecache.Store, logger *slog.Logger) *Service {
	return &Service{
		backend: backend,
		store:   store,
		mutator: recipecache.NewMutator(store, logger),
		logger:  logging.WithComponent(logger, "recipes"),
	}
}

// recipeKeySet names every cache location a single recipe touches.
type recipeKeySet struct {
	entity recipecache.Key
	list   recipecache.Key
	saved  recipecache.Key
	counts recipecache.Key
}

func recipeKeys(recipeID string) recipeKeySet {
	return recipeKeySet{
		entity: recipecache.Key{Partition: recipecache.PartitionEntity, ID: recipeID},
		list:   recipecache.Key{Partition: recipecache.PartitionList, ID: recipeID},
		saved:  recipecache.Key{Partition: recipecache.PartitionSaved, ID: recipeID},
		counts: recipecache.Key{Partition: recipecache.PartitionCounts, ID: countsID},
	}
}

// rows are the per-recipe documents, counts excluded.
func (k recipeKeySet) rows() []recipecache.Key {
	return []recipecache.Key{k.entity, k.list, k.saved}
}

func (k recipeKeySet) all() []recipecache.Key {
	return append(k.rows(), k.counts)
}

// patch decodes a cached JSON document, applies fn, and re-encodes it. Fields
// the orchestration layer does not know about pass through untouched. A nil
// input stays nil: predictions never invent entries a screen has not cached.
func patch(value []byte, fn func(doc map[string]any)) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, fmt.Errorf("decode cached document: %w", err)
	}
	fn(doc)
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode cached document: %w", err)
	}
	return encoded, nil
}

func numberField(doc map[string]any, field string) float64 {
	if v, ok := doc[field].(float64); ok {
		return v
	}
	return 0
}

// SetFavorite toggles a recipe's favorite flag everywhere it is cached: the
// entity, its list row, its saved-collection row, and the favorites count.
func (s *Service) SetFavorite(ctx context.Context, recipeID string, favorite bool) error {
	if recipeID == "" {
		return errors.New("recipe id is required")
	}
	keys := recipeKeys(recipeID)
	return s.mutator.Run(ctx, recipecache.Mutation{
		EntityID: recipeID,
		Keys:     keys.all(),
		Predict: func(current recipecache.Snapshot) (recipecache.Snapshot, error) {
			predicted := make(recipecache.Snapshot, 4)
			for _, key := range keys.rows() {
				next, err := patch(current[key], func(doc map[string]any) {
					doc["favorite"] = favorite
				})
				if err != nil {
					return nil, err
				}
				predicted[key] = next
			}
			next, err := patch(current[keys.counts], func(doc map[string]any) {
				delta := float64(1)
				if !favorite {
					delta = -1
				}
				count := numberField(doc, "favorites") + delta
				if count < 0 {
					count = 0
				}
				doc["favorites"] = count
			})
			if err != nil {
				return nil, err
			}
			predicted[keys.counts] = next
			return predicted, nil
		},
		Commit: func(ctx context.Context) error {
			return s.backend.SetFavorite(ctx, recipeID, favorite)
		},
	})
}

// MarkCooked bumps the recipe's cooked counter optimistically.
func (s *Service) MarkCooked(ctx context.Context, recipeID string) error {
	if recipeID == "" {
		return errors.New("recipe id is required")
	}
	keys := []recipecache.Key{
		{Partition: recipecache.PartitionEntity, ID: recipeID},
		{Partition: recipecache.PartitionList, ID: recipeID},
	}
	return s.mutator.Run(ctx, recipecache.Mutation{
		EntityID: recipeID,
		Keys:     keys,
		Predict: func(current recipecache.Snapshot) (recipecache.Snapshot, error) {
			predicted := make(recipecache.Snapshot, len(keys))
			for _, key := range keys {
				next, err := patch(current[key], func(doc map[string]any) {
					doc["cooked_count"] = numberField(doc, "cooked_count") + 1
				})
				if err != nil {
					return nil, err
				}
				predicted[key] = next
			}
			return predicted, nil
		},
		Commit: func(ctx context.Context) error {
			return s.backend.MarkCooked(ctx, recipeID)
		},
	})
}

// SaveDraft publishes the recipe a finished job produced. The save is the
// explicit keep decision, so this is a plain backend call followed by
// invalidation: the affected partitions refetch rather than guess the
// server-assigned collection placement.
func (s *Service) SaveDraft(ctx context.Context, job extraction.Job, isPublic bool) (server.RecipeSaveResponse, error) {
	recipeID := job.RecipePointer()
	if recipeID == "" {
		return server.RecipeSaveResponse{}, errors.New("job has no recipe to save")
	}
	resp, err := s.backend.SaveRecipe(ctx, recipeID, isPublic)
	if err != nil {
		return server.RecipeSaveResponse{}, err
	}
	s.invalidateCollections(ctx)
	s.logger.Info("saved recipe",
		logging.String(logging.FieldRecipeID, recipeID),
		logging.String(logging.FieldJobID, job.ID),
		logging.Bool("public", isPublic))
	return resp, nil
}

// DiscardDraft deletes the draft recipe a job produced, but only when the job
// owns one. A duplicate job points at a recipe that existed before the job
// ran; discarding it must never delete that recipe.
func (s *Service) DiscardDraft(ctx context.Context, job extraction.Job) error {
	if !job.OwnsDraft() {
		s.logger.Debug("nothing to discard",
			logging.String(logging.FieldJobID, job.ID),
			logging.Bool("duplicate", job.Duplicate))
		return nil
	}
	if err := s.backend.DeleteRecipe(ctx, job.RecipeID); err != nil {
		return fmt.Errorf("delete draft recipe %s: %w", job.RecipeID, err)
	}
	for _, key := range recipeKeys(job.RecipeID).rows() {
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to drop cached draft entry",
				logging.String("key", key.String()), logging.Error(err))
		}
	}
	s.logger.Info("discarded draft recipe",
		logging.String(logging.FieldRecipeID, job.RecipeID),
		logging.String(logging.FieldJobID, job.ID))
	return nil
}

// HandleCompletion reacts to a job reaching a terminal state: a successful
// extraction means new server-side data exists that cached lists do not know
// about yet.
func (s *Service) HandleCompletion(ctx context.Context, job extraction.Job) {
	if job.Status != extraction.StatusCompleted {
		return
	}
	s.invalidateCollections(ctx)
	s.logger.Debug("invalidated collection partitions after extraction",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldRecipeID, job.RecipePointer()))
}

func (s *Service) invalidateCollections(ctx context.Context) {
	for _, partition := range []string{
		recipecache.PartitionList,
		recipecache.PartitionSaved,
		recipecache.PartitionCounts,
		recipecache.PartitionUsage,
	} {
		if err := s.store.InvalidatePartition(ctx, partition); err != nil {
			s.logger.Warn("partition invalidation failed",
				logging.String("partition", partition), logging.Error(err))
		}
	}
}
