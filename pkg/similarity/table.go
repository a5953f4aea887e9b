package similarity

import "github.com/Ramsey-B/thistle/pkg/models"

// strategyTable maps each field kind to its ordered list of applicable fuzzy
// strategies. Resolved at init time; kinds absent from the table only ever
// match exactly (or by hash for binary kinds).
var strategyTable = map[models.FieldKind][]Strategy{
	models.FieldKindName:    {Phonetic{}, EditDistance{}, TokenSet{}},
	models.FieldKindAddress: {TokenSet{}},
}

// ForKind returns the fuzzy strategies applicable to the kind, in evaluation
// order. Exact and hash matching are handled by the engine's index queries and
// are not listed here.
func ForKind(kind models.FieldKind) []Strategy {
	return strategyTable[kind]
}

// SupportsFuzzy reports whether any fuzzy strategy applies to the kind.
func SupportsFuzzy(kind models.FieldKind) bool {
	return len(strategyTable[kind]) > 0
}

// Best runs every applicable strategy and returns the highest score together
// with the strategy that produced it. ok is false when no strategy applied.
func Best(kind models.FieldKind, a, b string) (score float64, name string, ok bool) {
	for _, s := range ForKind(kind) {
		v, applicable := s.Score(a, b)
		if !applicable {
			continue
		}
		if !ok || v > score {
			score, name, ok = v, s.Name(), true
		}
	}
	return score, name, ok
}
