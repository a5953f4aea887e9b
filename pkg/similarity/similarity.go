// Package similarity provides pluggable comparators for normalized values.
// A strategy that cannot judge a pair reports "not applicable" instead of 0.0
// so the matching engine skips it rather than counting a negative signal.
package similarity

// Strategy scores two normalized values of the same field kind. ok is false
// when the strategy is not applicable to the pair.
type Strategy interface {
	Name() string
	Score(a, b string) (score float64, ok bool)
}

// Exact scores 1.0 on equality, not applicable otherwise.
type Exact struct{}

func (Exact) Name() string { return "exact" }

func (Exact) Score(a, b string) (float64, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 1.0, true
	}
	return 0, false
}

// HashExact compares content hashes; only valid for binary kinds.
type HashExact struct{}

func (HashExact) Name() string { return "hash_exact" }

func (HashExact) Score(a, b string) (float64, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 1.0, true
	}
	return 0, false
}

// EditDistance scores by Levenshtein ratio.
type EditDistance struct{}

func (EditDistance) Name() string { return "edit_distance" }

func (EditDistance) Score(a, b string) (float64, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	return LevenshteinRatio(a, b), true
}

// Phonetic scores 1.0 when Metaphone codes match, not applicable otherwise.
// Used only for name fields.
type Phonetic struct{}

func (Phonetic) Name() string { return "phonetic" }

func (Phonetic) Score(a, b string) (float64, bool) {
	ca, cb := Metaphone(a), Metaphone(b)
	if ca == "" || cb == "" {
		return 0, false
	}
	if ca == cb {
		return 1.0, true
	}
	return 0, false
}

// TokenSet scores by Jaccard index over whitespace tokens.
type TokenSet struct{}

func (TokenSet) Name() string { return "token_set" }

func (TokenSet) Score(a, b string) (float64, bool) {
	if a == "" || b == "" {
		return 0, false
	}
	return TokenSetRatio(a, b), true
}
