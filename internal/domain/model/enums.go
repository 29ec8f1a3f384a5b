package model

// ReviewStatus is the outcome recorded for the most recent review attempt of a PR.
type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusCompleted ReviewStatus = "completed"
	ReviewStatusFailed    ReviewStatus = "failed"
)

// Valid reports whether s is one of the known review statuses.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewStatusPending, ReviewStatusCompleted, ReviewStatusFailed:
		return true
	}
	return false
}

// Outcome classifies how a single work item ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"    // Sticky for this head SHA.
	OutcomeTransient Outcome = "transient" // Record stays pending, retried next cycle.
	OutcomeCanceled  Outcome = "canceled"  // Shutdown interrupted the review.
)
