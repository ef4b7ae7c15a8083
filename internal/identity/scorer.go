package identity

import (
	"math"
	"time"

	"unify/internal/domain"
	"unify/internal/platform/config"
)

// Rules reported alongside a score so every decision is explainable in the
// audit trail.
const (
	RuleExactIdentifier = "exact_identifier"
	RuleSessionAffinity = "session_affinity"
	RuleProbabilistic   = "probabilistic"
	RuleNoSignal        = "no_signal"
)

const (
	// probabilisticScale keeps every phase-2 score strictly below the 0.95
	// ceiling, preserving the ordering between match classes.
	probabilisticScale = 0.94

	// temporalHalfLife governs exponential decay of the activity-proximity
	// feature.
	temporalHalfLife = 72 * time.Hour
)

// highTrustKinds produce a deterministic 1.0 on exact match.
var highTrustKinds = map[domain.IdentifierKind]bool{
	domain.KindEmail:         true,
	domain.KindPhone:         true,
	domain.KindExternalCRMID: true,
}

// Score is the scorer verdict for one (event, candidate) pair.
type Score struct {
	Value        float64
	Rule         string
	MatchedKinds []domain.IdentifierKind
}

// Weights configure the phase-2 similarity blend. They are normalized over
// the features actually present, so a missing attribute contributes nothing
// rather than acting as a penalty.
type Weights struct {
	Name     float64
	Location float64
	Temporal float64
}

// Scorer computes match confidence between an event and a candidate profile:
// deterministic identifier rules first, probabilistic attribute similarity
// second.
type Scorer struct {
	weights Weights
}

func NewScorer(cfg config.Resolver) *Scorer {
	return &Scorer{weights: Weights{
		Name:     cfg.NameWeight,
		Location: cfg.LocationWeight,
		Temporal: cfg.TemporalWeight,
	}}
}

// Score returns a confidence in [0,1] plus the rule that produced it. The
// candidate's profile must be the one the candidate references.
func (s *Scorer) Score(event domain.IdentityEvent, cand domain.Candidate, prof *domain.Profile) Score {
	if sc, ok := s.deterministic(event, cand, prof); ok {
		return sc
	}
	return s.probabilistic(event, prof)
}

// deterministic applies phase 1. Multiple exact matches do not push the score
// past 1.0; the ceiling is a ceiling, not a sum.
func (s *Scorer) deterministic(event domain.IdentityEvent, cand domain.Candidate, prof *domain.Profile) (Score, bool) {
	var matched []domain.IdentifierKind
	for _, kind := range cand.MatchedKinds {
		if highTrustKinds[kind] {
			matched = append(matched, kind)
		}
	}
	if len(matched) > 0 {
		return Score{Value: 1.0, Rule: RuleExactIdentifier, MatchedKinds: matched}, true
	}

	// A session match only proves identity when the event comes from the
	// same channel that created the session.
	for _, ident := range event.Identifiers {
		if ident.Kind != domain.KindSessionID {
			continue
		}
		rec, ok := prof.IdentifierBy(domain.KindSessionID, ident.Value)
		if ok && rec.FirstSeenSource == event.Source {
			return Score{
				Value:        1.0,
				Rule:         RuleSessionAffinity,
				MatchedKinds: []domain.IdentifierKind{domain.KindSessionID},
			}, true
		}
	}
	return Score{}, false
}

// probabilistic applies phase 2: weighted similarity over whichever of the
// name, location, and temporal features both sides carry.
func (s *Scorer) probabilistic(event domain.IdentityEvent, prof *domain.Profile) Score {
	var weighted, present float64

	if evName, ok := event.Attributes[domain.AttrName]; ok && prof.Attribute(domain.AttrName) != "" {
		weighted += s.weights.Name * Similarity(evName.Value, prof.Attribute(domain.AttrName))
		present += s.weights.Name
	}
	if evLoc, ok := event.Attributes[domain.AttrLocation]; ok && prof.Attribute(domain.AttrLocation) != "" {
		weighted += s.weights.Location * locationMatch(evLoc.Value, prof.Attribute(domain.AttrLocation))
		present += s.weights.Location
	}
	if !prof.Interactions.LastInteractionAt.IsZero() && !event.OccurredAt.IsZero() {
		weighted += s.weights.Temporal * temporalProximity(event.OccurredAt, prof.Interactions.LastInteractionAt)
		present += s.weights.Temporal
	}

	if present == 0 {
		return Score{Value: 0, Rule: RuleNoSignal}
	}
	return Score{Value: probabilisticScale * weighted / present, Rule: RuleProbabilistic}
}

// locationMatch is a coarse exact comparison; anything finer belongs in the
// ingestion layer's normalization.
func locationMatch(a, b string) float64 {
	if Similarity(a, b) >= 0.9 {
		return 1
	}
	return 0
}

// temporalProximity decays with the gap between the event and the profile's
// last observed activity.
func temporalProximity(eventAt, lastSeen time.Time) float64 {
	gap := eventAt.Sub(lastSeen)
	if gap < 0 {
		gap = -gap
	}
	return math.Exp(-math.Ln2 * gap.Hours() / temporalHalfLife.Hours())
}
