package extraction_test

import (
	"testing"

	"forkful/internal/extraction"
)

func payload(id, status string, progress int) extraction.Payload {
	return extraction.Payload{ID: id, Status: status, ProgressPercentage: progress, SourceType: "link"}
}

func TestApplyInitialSnapshot(t *testing.T) {
	job, changed := extraction.Apply(nil, payload("j1", "submitted", 0))
	if !changed {
		t.Fatal("expected initial payload to change the snapshot")
	}
	if job.Status != extraction.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", job.Status)
	}
	if job.SourceType != extraction.SourceLink {
		t.Fatalf("expected link source, got %s", job.SourceType)
	}
}

func TestApplyRejectsUnknownStatus(t *testing.T) {
	prev, _ := extraction.Apply(nil, payload("j1", "processing", 10))
	job, changed := extraction.Apply(&prev, payload("j1", "exploded", 90))
	if changed {
		t.Fatal("unknown status must not change the snapshot")
	}
	if job.Status != extraction.StatusProcessing {
		t.Fatalf("expected processing retained, got %s", job.Status)
	}
}

func TestApplyRejectsBackwardTransition(t *testing.T) {
	prev, _ := extraction.Apply(nil, payload("j1", "processing", 40))
	job, changed := extraction.Apply(&prev, payload("j1", "submitted", 0))
	if changed {
		t.Fatal("backward transition must be discarded")
	}
	if job.Status != extraction.StatusProcessing || job.Progress != 40 {
		t.Fatalf("expected processing/40 retained, got %s/%d", job.Status, job.Progress)
	}
}

func TestApplyTerminalIsNeverOverwritten(t *testing.T) {
	prev, _ := extraction.Apply(nil, payload("j1", "completed", 100))
	for _, status := range []string{"processing", "failed", "completed"} {
		job, changed := extraction.Apply(&prev, payload("j1", status, 100))
		if changed {
			t.Fatalf("terminal snapshot must not change on %q", status)
		}
		if job.Status != extraction.StatusCompleted {
			t.Fatalf("expected completed retained, got %s", job.Status)
		}
	}
}

func TestApplyClampsProgressToMaxSeen(t *testing.T) {
	prev, _ := extraction.Apply(nil, payload("j1", "processing", 60))
	job, changed := extraction.Apply(&prev, extraction.Payload{
		ID: "j1", Status: "processing", ProgressPercentage: 35, CurrentStep: "Extracting steps",
	})
	if !changed {
		t.Fatal("step change should still be applied")
	}
	if job.Progress != 60 {
		t.Fatalf("expected progress clamped to 60, got %d", job.Progress)
	}
	if job.CurrentStep != "Extracting steps" {
		t.Fatalf("expected step carried, got %q", job.CurrentStep)
	}
}

func TestApplyDuplicatePayloadIsIdempotent(t *testing.T) {
	prev, _ := extraction.Apply(nil, payload("j1", "processing", 40))
	job, changed := extraction.Apply(&prev, payload("j1", "processing", 40))
	if changed {
		t.Fatal("identical payload must not report a change")
	}
	if job != prev {
		t.Fatal("snapshot must be byte-identical after a duplicate payload")
	}
}

func TestApplyOutOfOrderSequenceConverges(t *testing.T) {
	// Deliver updates shuffled and duplicated; final snapshot must match the
	// highest-ordered valid transition.
	sequence := []extraction.Payload{
		payload("j1", "processing", 80),
		payload("j1", "submitted", 0),
		payload("j1", "processing", 40),
		{ID: "j1", Status: "completed", ProgressPercentage: 100, RecipeID: "r2", SourceType: "link"},
		payload("j1", "processing", 80),
		{ID: "j1", Status: "completed", ProgressPercentage: 100, RecipeID: "r2", SourceType: "link"},
	}
	var snapshot *extraction.Job
	for _, p := range sequence {
		next, _ := extraction.Apply(snapshot, p)
		snapshot = &next
	}
	if snapshot.Status != extraction.StatusCompleted {
		t.Fatalf("expected completed, got %s", snapshot.Status)
	}
	if snapshot.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", snapshot.Progress)
	}
	if snapshot.RecipePointer() != "r2" {
		t.Fatalf("expected pointer r2, got %q", snapshot.RecipePointer())
	}
}

func TestApplyDuplicateResolution(t *testing.T) {
	prev, _ := extraction.Apply(nil, payload("j1", "processing", 90))
	job, changed := extraction.Apply(&prev, extraction.Payload{
		ID: "j1", Status: "completed", ProgressPercentage: 100,
		RecipeID: "draft-1", ExistingRecipeID: "r1",
	})
	if !changed {
		t.Fatal("completion should change the snapshot")
	}
	if !job.Duplicate {
		t.Fatal("existing_recipe_id must derive the duplicate flag")
	}
	if job.RecipePointer() != "r1" {
		t.Fatalf("existing recipe must win the pointer, got %q", job.RecipePointer())
	}
	if job.OwnsDraft() {
		t.Fatal("a duplicate job must not own a deletable draft")
	}
}

func TestApplyRetainsRecipePointerAcrossEvents(t *testing.T) {
	prev, _ := extraction.Apply(nil, extraction.Payload{
		ID: "j1", Status: "processing", ProgressPercentage: 50, RecipeID: "r2",
	})
	job, _ := extraction.Apply(&prev, extraction.Payload{
		ID: "j1", Status: "completed", ProgressPercentage: 100,
	})
	if job.RecipeID != "r2" {
		t.Fatalf("expected recipe pointer kept, got %q", job.RecipeID)
	}
	if !job.OwnsDraft() {
		t.Fatal("non-duplicate completion with a draft must own it")
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := extraction.ParseStatus(" Website_Blocked "); !ok || status != extraction.StatusWebsiteBlocked {
		t.Fatalf("expected website_blocked, got %q ok=%v", status, ok)
	}
	if _, ok := extraction.ParseStatus("paused"); ok {
		t.Fatal("unknown status must not parse")
	}
	if _, ok := extraction.ParseStatus(""); ok {
		t.Fatal("empty status must not parse")
	}
}

func TestTerminalSet(t *testing.T) {
	terminal := map[extraction.Status]bool{
		extraction.StatusCompleted:      true,
		extraction.StatusFailed:         true,
		extraction.StatusNotARecipe:     true,
		extraction.StatusWebsiteBlocked: true,
		extraction.StatusCancelled:      true,
	}
	for _, status := range extraction.AllStatuses() {
		if status.IsTerminal() != terminal[status] {
			t.Fatalf("terminal mismatch for %s", status)
		}
	}
}
