package extraction

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an extraction job as reported by the server.
type Status string

const (
	StatusSubmitted      Status = "submitted"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusNotARecipe     Status = "not_a_recipe"
	StatusWebsiteBlocked Status = "website_blocked"
	StatusCancelled      Status = "cancelled"
)

var allStatuses = []Status{
	StatusSubmitted,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusNotARecipe,
	StatusWebsiteBlocked,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// statusRank orders statuses for transition validation. Any terminal status
// outranks processing; a payload implying a backward move is discarded.
var statusRank = map[Status]int{
	StatusSubmitted:      0,
	StatusProcessing:     1,
	StatusCompleted:      2,
	StatusFailed:         2,
	StatusNotARecipe:     2,
	StatusWebsiteBlocked: 2,
	StatusCancelled:      2,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the job's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNotARecipe, StatusWebsiteBlocked, StatusCancelled:
		return true
	default:
		return false
	}
}

// SourceType identifies the origin of submitted content. It selects
// privacy-prompt behavior downstream and never branches core logic.
type SourceType string

const (
	SourceLink  SourceType = "link"
	SourcePaste SourceType = "paste"
	SourceVoice SourceType = "voice"
	SourcePhoto SourceType = "photo"
	SourceVideo SourceType = "video"
)

// ParseSourceType converts a string into a known SourceType.
func ParseSourceType(value string) (SourceType, bool) {
	normalized := SourceType(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case SourceLink, SourcePaste, SourceVoice, SourcePhoto, SourceVideo:
		return normalized, true
	default:
		return "", false
	}
}

// Payload is the raw job shape emitted by the server on the one-shot fetch
// and on every stream event.
type Payload struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	ProgressPercentage int    `json:"progress_percentage"`
	CurrentStep        string `json:"current_step"`
	SourceType         string `json:"source_type"`
	RecipeID           string `json:"recipe_id,omitempty"`
	ExistingRecipeID   string `json:"existing_recipe_id,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
}

// Job is the reconciled client-side snapshot of one extraction job.
type Job struct {
	ID               string
	Status           Status
	Progress         int
	CurrentStep      string
	SourceType       SourceType
	RecipeID         string
	ExistingRecipeID string
	Duplicate        bool
	ErrorMessage     string
	UpdatedAt        time.Time
}

// RecipePointer returns the effective recipe identifier for downstream
// consumers. When the server resolved the submission to an already-public
// recipe, that recipe wins over the job's own draft.
func (j Job) RecipePointer() string {
	if j.ExistingRecipeID != "" {
		return j.ExistingRecipeID
	}
	return j.RecipeID
}

// OwnsDraft reports whether discarding this job may delete the pointed-at
// recipe. Duplicates never own their target recipe.
func (j Job) OwnsDraft() bool {
	return !j.Duplicate && j.RecipeID != ""
}
