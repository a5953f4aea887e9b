// Package confidence maps match types and similarity scores to a single
// confidence in [0,1] plus a discrete level. The formulas here are
// contractual: suggestions persist their factors so a stored confidence can be
// recomputed and verified.
package confidence

import "github.com/Ramsey-B/thistle/pkg/models"

// MinDisplay is the floor below which a match is never surfaced as a
// suggestion.
const MinDisplay = 0.5

// Hash scores a binary content-hash match.
func Hash() (float64, []models.Factor) {
	return 1.0, []models.Factor{
		{Name: "binary content identical", Weight: 1.0, Score: 1.0},
	}
}

// Exact scores a normalized-value equality match. Flat 0.95 regardless of
// which strategy found it.
func Exact() (float64, []models.Factor) {
	return 0.95, []models.Factor{
		{Name: "normalized value identical", Weight: 1.0, Score: 0.95},
	}
}

// Fuzzy maps a best similarity score s to a confidence. ok is false when the
// similarity is below the surfacing floor (0.70). The mapping is piecewise
// linear and monotonic:
//
//	s >= 0.90          -> 0.9
//	0.80 <= s < 0.90   -> 0.7 + (s-0.80)*2.0
//	0.70 <= s < 0.80   -> 0.5 + (s-0.70)*2.0
func Fuzzy(s float64) (float64, []models.Factor, bool) {
	var conf float64
	switch {
	case s >= 0.90:
		conf = 0.9
	case s >= 0.80:
		conf = 0.7 + (s-0.80)*2.0
	case s >= 0.70:
		conf = 0.5 + (s-0.70)*2.0
	default:
		return 0, nil, false
	}
	return conf, []models.Factor{
		{Name: "string similarity", Weight: 1.0, Score: s},
	}, true
}

// Score resolves confidence and factors for a match type. For fuzzy matches
// similarity must be the best strategy score; ok is false when the match
// should not be surfaced.
func Score(matchType models.MatchType, similarity float64) (float64, []models.Factor, bool) {
	switch matchType {
	case models.MatchTypeHash:
		c, f := Hash()
		return c, f, true
	case models.MatchTypeExact:
		c, f := Exact()
		return c, f, true
	case models.MatchTypeFuzzy:
		return Fuzzy(similarity)
	}
	return 0, nil, false
}

// Level buckets a confidence score: >=0.9 high, 0.7-0.89 medium,
// 0.5-0.69 low. Scores below MinDisplay never reach this function in the
// normal path.
func Level(conf float64) models.ConfidenceLevel {
	switch {
	case conf >= 0.9:
		return models.ConfidenceLevelHigh
	case conf >= 0.7:
		return models.ConfidenceLevelMedium
	default:
		return models.ConfidenceLevelLow
	}
}
