package reconcile

import (
	"math"

	"github.com/Tiliavir/timesync/internal/model"
	"github.com/Tiliavir/timesync/internal/textsim"
)

// Scoring weights and thresholds.
const (
	WeightIssueCode    = 0.8
	WeightHoursMatch   = 0.3
	WeightHoursSimilar = 0.1
	WeightDescription  = 0.2

	HoursMatchTolerance   = 0.1
	HoursSimilarTolerance = 0.5
	DescriptionThreshold  = 0.5

	// MatchThreshold is the minimum score for a candidate to be accepted.
	MatchThreshold = 0.5
	// ExactThreshold separates exact from partial matches.
	ExactThreshold = 0.9

	scoreEpsilon = 1e-9
)

// Score computes the weighted similarity of a worklog and a ledger candidate.
// The raw score may exceed 1; Match.Similarity is capped.
func Score(w, l model.TimeRecord) (float64, []model.MatchReason) {
	var (
		score   float64
		reasons []model.MatchReason
	)
	if code := w.IssueCode(); code != "" && code == l.IssueCode() {
		score += WeightIssueCode
		reasons = append(reasons, model.ReasonIssueCodeMatch)
	}

	diff := math.Abs(w.Hours - l.Hours)
	switch {
	case diff < HoursMatchTolerance:
		score += WeightHoursMatch
		reasons = append(reasons, model.ReasonHoursMatch)
	case diff < HoursSimilarTolerance:
		score += WeightHoursSimilar
		reasons = append(reasons, model.ReasonHoursSimilar)
	}

	sim := textsim.Ratio(w.Description, l.Description)
	score += WeightDescription * sim
	if sim > DescriptionThreshold {
		reasons = append(reasons, model.ReasonDescriptionSimilar)
	}
	return score, reasons
}

// Qualifies reports whether a score reaches the match threshold.
func Qualifies(score float64) bool {
	return score+scoreEpsilon >= MatchThreshold
}

// BestMatch picks the highest-scoring qualifying candidate. Ties go to the
// candidate seen first. ok is false when no candidate qualifies.
func BestMatch(w model.TimeRecord, candidates []model.TimeRecord) (model.Match, bool) {
	bestIdx := -1
	var (
		bestScore   float64
		bestReasons []model.MatchReason
	)
	for i, c := range candidates {
		score, reasons := Score(w, c)
		if !Qualifies(score) {
			continue
		}
		if bestIdx < 0 || score > bestScore+scoreEpsilon {
			bestIdx, bestScore, bestReasons = i, score, reasons
		}
	}
	if bestIdx < 0 {
		return model.Match{}, false
	}

	ledger := candidates[bestIdx]
	kind := model.MatchPartial
	if bestScore+scoreEpsilon >= ExactThreshold {
		kind = model.MatchExact
	}
	return model.Match{
		Worklog:    w,
		Ledger:     &ledger,
		Similarity: math.Min(bestScore, 1),
		Reasons:    bestReasons,
		Kind:       kind,
	}, true
}
