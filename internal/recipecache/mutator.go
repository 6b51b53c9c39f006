package recipecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"forkful/internal/logging"
)

// Snapshot holds the cached values of a fixed key set at one point in time.
// A key mapped to nil means the entry did not exist.
type Snapshot map[Key][]byte

// Clone deep-copies a snapshot so Predict cannot alias the rollback copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for key, value := range s {
		if value == nil {
			out[key] = nil
			continue
		}
		copied := make([]byte, len(value))
		copy(copied, value)
		out[key] = copied
	}
	return out
}

// Mutation is one optimistic cache update tied to a backend write.
type Mutation struct {
	// EntityID serializes concurrent mutations touching the same entity.
	// Mutations on different entities run in parallel.
	EntityID string
	// Keys lists every cache entry the mutation may touch, in apply order.
	Keys []Key
	// Predict derives the optimistic values from the current ones. Returning
	// a nil value for a key deletes that entry.
	Predict func(current Snapshot) (Snapshot, error)
	// Commit performs the backend write the prediction anticipates.
	Commit func(ctx context.Context) error
}

// Mutator runs optimistic mutations: snapshot the affected entries, write the
// predicted values so the UI updates instantly, fire the backend call, and on
// failure restore the snapshot bit for bit.
type Mutator struct {
	store  *Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMutator builds a mutator over one store.
func NewMutator(store *Store, logger *slog.Logger) *Mutator {
	return &Mutator{
		store:  store,
		logger: logging.WithComponent(logger, "cache-mutator"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Mutator) entityLock(entityID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[entityID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[entityID] = lock
	}
	return lock
}

// Run executes one mutation end to end. The second mutation on the same
// entity waits for the first to settle, so its snapshot reflects the settled
// state rather than an in-flight prediction.
func (m *Mutator) Run(ctx context.Context, mut Mutation) error {
	if mut.EntityID == "" {
		return errors.New("mutation entity id is required")
	}
	if mut.Predict == nil || mut.Commit == nil {
		return errors.New("mutation needs both a prediction and a commit")
	}

	lock := m.entityLock(mut.EntityID)
	lock.Lock()
	defer lock.Unlock()

	snapshot := make(Snapshot, len(mut.Keys))
	for _, key := range mut.Keys {
		value, found, err := m.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", key, err)
		}
		if !found {
			snapshot[key] = nil
			continue
		}
		snapshot[key] = value
	}

	predicted, err := mut.Predict(snapshot.Clone())
	if err != nil {
		return fmt.Errorf("predict mutation for %s: %w", mut.EntityID, err)
	}
	if err := m.applyLocked(ctx, mut.Keys, predicted); err != nil {
		return err
	}

	if err := mut.Commit(ctx); err != nil {
		m.rollbackLocked(ctx, mut, snapshot)
		return err
	}
	return nil
}

// applyLocked writes values in key order; keys absent from the snapshot map
// are left untouched.
func (m *Mutator) applyLocked(ctx context.Context, keys []Key, values Snapshot) error {
	for _, key := range keys {
		value, ok := values[key]
		if !ok {
			continue
		}
		if value == nil {
			if err := m.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("apply prediction for %s: %w", key, err)
			}
			continue
		}
		if err := m.store.Put(ctx, key, value); err != nil {
			return fmt.Errorf("apply prediction for %s: %w", key, err)
		}
	}
	return nil
}

// rollbackLocked restores the pre-mutation snapshot in the same key order the
// prediction was applied. The UI reverts as if nothing happened.
func (m *Mutator) rollbackLocked(ctx context.Context, mut Mutation, snapshot Snapshot) {
	if err := m.applyLocked(ctx, mut.Keys, snapshot); err != nil {
		// The cache now disagrees with the backend; dropping the entity's
		// partitions forces a clean refetch.
		m.logger.Warn("rollback failed; invalidating affected partitions",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "entries will be refetched on next read"))
		seen := make(map[string]struct{})
		for _, key := range mut.Keys {
			if _, done := seen[key.Partition]; done {
				continue
			}
			seen[key.Partition] = struct{}{}
			if invErr := m.store.InvalidatePartition(ctx, key.Partition); invErr != nil {
				m.logger.Error("partition invalidation failed",
					logging.String("partition", key.Partition), logging.Error(invErr))
			}
		}
		return
	}
	m.logger.Debug("rolled back optimistic mutation",
		logging.String("entity", mut.EntityID),
		logging.Int("entries", len(mut.Keys)))
}
