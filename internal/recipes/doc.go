// Package recipes implements the recipe actions reachable from extraction
// results and collection screens: favorite, cooked, save, and discard. Writes
// go through the optimistic cache path; discard respects duplicate detection.
package recipes
