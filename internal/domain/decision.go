package domain

import "time"

// Decision classifies the outcome of resolving one event.
type Decision string

const (
	DecisionMatched       Decision = "matched"
	DecisionCreated       Decision = "created"
	DecisionHeldForReview Decision = "held_for_review"
)

// MergeDecision is the immutable audit artifact, one per processed event.
type MergeDecision struct {
	DecisionID         string           `json:"decision_id"`
	EventID            string           `json:"event_id"`
	ProfileID          string           `json:"profile_id,omitempty"`
	Decision           Decision         `json:"decision"`
	Score              float64          `json:"score"`
	Rule               string           `json:"rule,omitempty"`
	MatchedIdentifiers []IdentifierKind `json:"matched_identifiers,omitempty"`
	Timestamp          time.Time        `json:"timestamp"`
}

// Candidate is the ephemeral lookup result handed to the scorer. It is never
// persisted.
type Candidate struct {
	ProfileID    string
	MatchedKinds []IdentifierKind
}

// ChangeNotification is the produced interface: the only way downstream
// consumers learn a profile changed.
type ChangeNotification struct {
	ProfileID         string   `json:"profile_id"`
	Version           int64    `json:"version"`
	ChangedAttributes []string `json:"changed_attribute_names,omitempty"`
	Decision          Decision `json:"decision"`
}
