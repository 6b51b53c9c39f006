// Package recipecache is the session-scoped cache every screen reads from and
// the optimistic mutation path that keeps it consistent with the backend.
// Entries live in partitions (recipe entities, list rows, saved collection,
// counts); mutations snapshot, predict, commit, and roll back per entity.
package recipecache
