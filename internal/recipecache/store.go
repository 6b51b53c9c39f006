package recipecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"forkful/internal/logging"
)

// Partition names used across the app. Screens may define their own; these are
// the ones the orchestration layer itself touches.
const (
	PartitionEntity     = "recipe"
	PartitionList       = "recipe_list"
	PartitionSaved      = "saved_collection"
	PartitionCounts     = "collection_counts"
	PartitionCategories = "categories"
	PartitionUsage      = "usage"
)

// Key addresses one cached value inside a partition.
type Key struct {
	Partition string
	ID        string
}

func (k Key) String() string { return k.Partition + "/" + k.ID }

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store is the session-scoped cache backing every screen read. It is backed by
// SQLite on disk but holds no state across processes: Open truncates whatever
// a previous run left behind.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open creates or connects to the cache database and resets it to empty.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, logger: logging.WithComponent(logger, "recipe-cache")}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    partition  TEXT NOT NULL,
    id         TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (partition, id)
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	// The cache carries no meaning across runs.
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("reset cache: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Get returns the cached value for a key. Missing keys are not an error.
func (s *Store) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	query, args, err := sq.Select("value").
		From("cache_entries").
		Where(sq.Eq{"partition": key.Partition, "id": key.ID}).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build cache get: %w", err)
	}

	var value string
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	return []byte(value), true, nil
}

// Put stores a value, replacing any previous one.
func (s *Store) Put(ctx context.Context, key Key, value []byte) error {
	query, args, err := sq.Insert("cache_entries").
		Columns("partition", "id", "value", "updated_at").
		Values(key.Partition, key.ID, string(value), time.Now().UTC()).
		Suffix("ON CONFLICT(partition, id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build cache put: %w", err)
	}
	if err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}

// Delete removes a single entry. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, key Key) error {
	query, args, err := sq.Delete("cache_entries").
		Where(sq.Eq{"partition": key.Partition, "id": key.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build cache delete: %w", err)
	}
	if err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("delete cache entry %s: %w", key, err)
	}
	return nil
}

// ListPartition returns every entry of one partition keyed by id.
func (s *Store) ListPartition(ctx context.Context, partition string) (map[string][]byte, error) {
	query, args, err := sq.Select("id", "value").
		From("cache_entries").
		Where(sq.Eq{"partition": partition}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build partition list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list partition %s: %w", partition, err)
	}
	defer rows.Close()

	entries := make(map[string][]byte)
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, fmt.Errorf("scan partition %s: %w", partition, err)
		}
		entries[id] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partition %s: %w", partition, err)
	}
	return entries, nil
}

// InvalidatePartition drops every entry of one partition so the next read
// refetches from the backend.
func (s *Store) InvalidatePartition(ctx context.Context, partition string) error {
	query, args, err := sq.Delete("cache_entries").
		Where(sq.Eq{"partition": partition}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build partition invalidate: %w", err)
	}
	if err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("invalidate partition %s: %w", partition, err)
	}
	s.logger.Debug("invalidated partition", logging.String("partition", partition))
	return nil
}

// InvalidateAll empties the cache.
func (s *Store) InvalidateAll(ctx context.Context) error {
	if err := s.execWithRetry(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}
