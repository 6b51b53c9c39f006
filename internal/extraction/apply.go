package extraction

import "time"

// Apply reconciles an incoming payload into the previous snapshot and reports
// whether the effective snapshot changed. It is side-effect free and shared by
// the stream and poll handlers so both obey the same transition rules:
//
//   - unknown statuses are discarded
//   - a payload implying a backward transition is discarded; once terminal,
//     the snapshot is never overwritten
//   - progress is clamped to the maximum seen, so late or reordered messages
//     cannot walk the progress bar backwards
//   - existing_recipe_id takes precedence over recipe_id and derives the
//     duplicate flag
func Apply(prev *Job, incoming Payload) (Job, bool) {
	status, ok := ParseStatus(incoming.Status)
	if !ok {
		if prev != nil {
			return *prev, false
		}
		return Job{}, false
	}

	next := Job{
		ID:               incoming.ID,
		Status:           status,
		Progress:         clampProgress(incoming.ProgressPercentage),
		CurrentStep:      incoming.CurrentStep,
		RecipeID:         incoming.RecipeID,
		ExistingRecipeID: incoming.ExistingRecipeID,
		ErrorMessage:     incoming.ErrorMessage,
	}
	if sourceType, ok := ParseSourceType(incoming.SourceType); ok {
		next.SourceType = sourceType
	}

	if prev != nil {
		if next.ID == "" {
			next.ID = prev.ID
		}
		if prev.Status.IsTerminal() {
			return *prev, false
		}
		if statusRank[status] < statusRank[prev.Status] {
			return *prev, false
		}
		if next.Progress < prev.Progress {
			next.Progress = prev.Progress
		}
		if next.SourceType == "" {
			next.SourceType = prev.SourceType
		}
		// The server may stop echoing the recipe pointer on later events;
		// a pointer once seen is kept.
		if next.RecipeID == "" {
			next.RecipeID = prev.RecipeID
		}
		if next.ExistingRecipeID == "" {
			next.ExistingRecipeID = prev.ExistingRecipeID
		}
	}

	next.Duplicate = next.ExistingRecipeID != ""

	if prev != nil && !effectiveChange(*prev, next) {
		return *prev, false
	}
	next.UpdatedAt = time.Now().UTC()
	return next, true
}

func effectiveChange(prev, next Job) bool {
	return prev.Status != next.Status ||
		prev.Progress != next.Progress ||
		prev.CurrentStep != next.CurrentStep ||
		prev.RecipeID != next.RecipeID ||
		prev.ExistingRecipeID != next.ExistingRecipeID ||
		prev.ErrorMessage != next.ErrorMessage
}

func clampProgress(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
