// Package profile maintains the derived, read-optimized parts of the golden
// record: interaction summaries, engagement scoring, and segment labels.
// Segment rule evaluation and triggering stay downstream; only the labels
// live on the profile.
package profile

import (
	"math"
	"time"

	"unify/internal/domain"
)

// Engagement blends recency and frequency; recency decays with a two-week
// half-life.
const (
	recencyWeight       = 0.55
	frequencyWeight     = 0.45
	recencyHalfLifeDays = 14.0
	frequencyPerEvent   = 2.5
)

type segmentBand struct {
	name string
	low  float64
}

var segmentBands = []segmentBand{
	{"highly_engaged", 70},
	{"moderately_engaged", 40},
	{"at_risk", 15},
	{"dormant", 0},
}

// Track folds one event into the profile's interaction summary and
// recomputes the engagement score and segment labels.
func Track(p *domain.Profile, event domain.IdentityEvent, now time.Time) {
	if p.Interactions.PerSource == nil {
		p.Interactions.PerSource = make(map[domain.Source]int)
	}
	p.Interactions.TotalEvents++
	p.Interactions.PerSource[event.Source]++
	if event.OccurredAt.After(p.Interactions.LastInteractionAt) {
		p.Interactions.LastInteractionAt = event.OccurredAt
	}

	p.EngagementScore = engagementScore(p.Interactions, now)
	p.Segments = segmentsFor(p.EngagementScore)
}

func engagementScore(summary domain.InteractionSummary, now time.Time) float64 {
	var recency float64
	if !summary.LastInteractionAt.IsZero() {
		daysAgo := math.Max(now.Sub(summary.LastInteractionAt).Hours()/24, 0)
		recency = 100 * math.Exp(-math.Ln2*daysAgo/recencyHalfLifeDays)
	}
	frequency := math.Min(100, float64(summary.TotalEvents)*frequencyPerEvent)

	score := recencyWeight*recency + frequencyWeight*frequency
	return math.Round(score*100) / 100
}

func segmentsFor(score float64) []string {
	for _, band := range segmentBands {
		if score >= band.low {
			return []string{band.name}
		}
	}
	return []string{"dormant"}
}
