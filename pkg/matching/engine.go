// Package matching implements candidate discovery for entity resolution.
package matching

import (
	"context"
	"sort"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/confidence"
	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalize"
	"github.com/Ramsey-B/thistle/pkg/similarity"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Prefilter narrows the fuzzy candidate scan: same first character and a
// length band around the query value. It exists to keep the fuzzy pass from
// touching every same-kind item in the store.
type Prefilter struct {
	FirstChar string
	MinLen    int
	MaxLen    int
}

// Repository is the read side of the graph store the engine queries.
type Repository interface {
	FindByNormalizedValue(ctx context.Context, tenantID string, kind models.FieldKind, value string) ([]models.MatchResult, error)
	FindByContentHash(ctx context.Context, tenantID string, hash string) ([]models.MatchResult, error)
	FindCandidatesForFuzzy(ctx context.Context, tenantID string, kind models.FieldKind, pre Prefilter) ([]models.DataItem, error)
}

// DecidedPairs answers whether a (source, candidate) pair already carries a
// non-pending suggestion, so the engine does not re-propose decided pairs.
type DecidedPairs interface {
	ExistsDecidedPair(ctx context.Context, tenantID, aID, bID string) (bool, error)
}

// EngineConfig contains configuration for the match engine.
type EngineConfig struct {
	PartialThreshold float64 // minimum similarity for fuzzy matches (default: 0.7)
	MaxCandidates    int     // maximum matches returned per query (default: 100)
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		PartialThreshold: 0.7,
		MaxCandidates:    100,
	}
}

// FindOptions tune a single FindMatches call.
type FindOptions struct {
	IncludePartial   bool
	PartialThreshold float64 // 0 means use the engine default
	ExcludeID        string  // owner id to exclude (self-match)
}

// Engine fans a query value out across the store's indexes and the applicable
// similarity strategies, returning scored matches. The engine is read-only and
// safe for concurrent use.
type Engine struct {
	logger  ectologger.Logger
	repo    Repository
	decided DecidedPairs
	policy  normalize.Policy
	config  EngineConfig
}

// NewEngine creates a new match engine. decided may be nil when decided-pair
// exclusion is not wanted (e.g. ad-hoc queries from tests).
func NewEngine(logger ectologger.Logger, repo Repository, decided DecidedPairs, policy normalize.Policy, config EngineConfig) *Engine {
	return &Engine{
		logger:  logger,
		repo:    repo,
		decided: decided,
		policy:  policy,
		config:  config,
	}
}

// FindMatches finds candidates for a raw value of the given kind. For binary
// kinds the value must already be a content hash. Output ordering and
// confidence values are deterministic for a fixed store state: confidence
// descending, then match-type specificity, then most recently updated
// candidate, then owner id.
func (e *Engine) FindMatches(ctx context.Context, tenantID string, value string, kind models.FieldKind, opts FindOptions) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.FindMatches")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":  tenantID,
		"field_kind": kind,
	})

	threshold := opts.PartialThreshold
	if threshold <= 0 {
		threshold = e.config.PartialThreshold
	}

	var matches []models.Match

	if kind.IsBinary() {
		hits, err := e.repo.FindByContentHash(ctx, tenantID, value)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			conf, factors := confidence.Hash()
			matches = append(matches, models.Match{
				Result:     hit,
				MatchType:  models.MatchTypeHash,
				Confidence: conf,
				Level:      confidence.Level(conf),
				Factors:    factors,
				Similarity: 1.0,
			})
		}
	} else {
		norm := normalize.ValueWithPolicy(kind, value, e.policy)

		hits, err := e.repo.FindByNormalizedValue(ctx, tenantID, kind, norm.Value)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			conf, factors := confidence.Exact()
			matches = append(matches, models.Match{
				Result:     hit,
				MatchType:  models.MatchTypeExact,
				Confidence: conf,
				Level:      confidence.Level(conf),
				Factors:    factors,
				Similarity: 1.0,
			})
		}

		if opts.IncludePartial && similarity.SupportsFuzzy(kind) {
			fuzzy, err := e.fuzzyMatches(ctx, tenantID, kind, norm.Value, threshold)
			if err != nil {
				return nil, err
			}
			matches = append(matches, fuzzy...)
		}
	}

	matches, err := e.filterMatches(ctx, tenantID, matches, opts.ExcludeID)
	if err != nil {
		return nil, err
	}

	matches = dedupeByOwner(matches)
	sortMatches(matches)

	if e.config.MaxCandidates > 0 && len(matches) > e.config.MaxCandidates {
		matches = matches[:e.config.MaxCandidates]
	}

	log.WithFields(map[string]any{"match_count": len(matches)}).Debug("Found matches")
	return matches, nil
}

// fuzzyMatches scans the pre-filtered same-kind candidates with the
// applicable strategies and keeps those at or above the threshold.
func (e *Engine) fuzzyMatches(ctx context.Context, tenantID string, kind models.FieldKind, value string, threshold float64) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.fuzzyMatches")
	defer span.End()

	if value == "" {
		return nil, nil
	}

	pre := prefilterFor(value)
	candidates, err := e.repo.FindCandidatesForFuzzy(ctx, tenantID, kind, pre)
	if err != nil {
		return nil, err
	}

	var matches []models.Match
	for _, item := range candidates {
		if item.NormalizedValue == value {
			// Exact hits come from the index query; re-scoring them as fuzzy
			// would only lower their confidence.
			continue
		}

		score, _, ok := similarity.Best(kind, value, item.NormalizedValue)
		if !ok || score < threshold {
			continue
		}

		conf, factors, surfaced := confidence.Fuzzy(score)
		if !surfaced {
			continue
		}

		matches = append(matches, models.Match{
			Result: models.MatchResult{
				EntityID:   item.OwnerEntityID,
				OrphanID:   item.OwnerOrphanID,
				FieldKind:  kind,
				DataItemID: item.ID,
				UpdatedAt:  item.UpdatedAt,
			},
			MatchType:  models.MatchTypeFuzzy,
			Confidence: conf,
			Level:      confidence.Level(conf),
			Factors:    factors,
			Similarity: score,
		})
	}

	return matches, nil
}

// filterMatches drops self-matches, unowned results, and pairs that already
// carry a decided suggestion.
func (e *Engine) filterMatches(ctx context.Context, tenantID string, matches []models.Match, excludeID string) ([]models.Match, error) {
	filtered := matches[:0]
	for _, m := range matches {
		owner := m.Result.OwnerID()
		if owner == "" || owner == excludeID {
			continue
		}

		if e.decided != nil && excludeID != "" {
			decided, err := e.decided.ExistsDecidedPair(ctx, tenantID, excludeID, owner)
			if err != nil {
				return nil, errs.Unavailable(owner, err)
			}
			if decided {
				continue
			}
		}

		filtered = append(filtered, m)
	}
	return filtered, nil
}

// dedupeByOwner keeps the single best match per owner. Best means higher
// confidence, then more specific match type, then more recently updated.
func dedupeByOwner(matches []models.Match) []models.Match {
	best := make(map[string]models.Match, len(matches))
	order := make([]string, 0, len(matches))

	for _, m := range matches {
		owner := m.Result.OwnerID()
		prev, seen := best[owner]
		if !seen {
			best[owner] = m
			order = append(order, owner)
			continue
		}
		if betterMatch(m, prev) {
			best[owner] = m
		}
	}

	result := make([]models.Match, 0, len(best))
	for _, owner := range order {
		result = append(result, best[owner])
	}
	return result
}

func betterMatch(a, b models.Match) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.MatchType.Specificity() != b.MatchType.Specificity() {
		return a.MatchType.Specificity() > b.MatchType.Specificity()
	}
	return a.Result.UpdatedAt.After(b.Result.UpdatedAt)
}

// sortMatches orders matches deterministically: confidence descending, tie
// broken by match-type specificity, then most-recently-updated candidate,
// then owner id so identical timestamps cannot flip ordering between runs.
func sortMatches(matches []models.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.MatchType.Specificity() != b.MatchType.Specificity() {
			return a.MatchType.Specificity() > b.MatchType.Specificity()
		}
		if !a.Result.UpdatedAt.Equal(b.Result.UpdatedAt) {
			return a.Result.UpdatedAt.After(b.Result.UpdatedAt)
		}
		return a.Result.OwnerID() < b.Result.OwnerID()
	})
}

// prefilterFor builds the candidate prefilter for a normalized value: same
// first character, length within a band of roughly a quarter of the query
// length (at least 2). Lengths are counted in characters, matching how the
// store compares them.
func prefilterFor(value string) Prefilter {
	length := utf8.RuneCountInString(value)
	band := length / 4
	if band < 2 {
		band = 2
	}
	minLen := length - band
	if minLen < 1 {
		minLen = 1
	}
	first, _ := utf8.DecodeRuneInString(value)
	return Prefilter{
		FirstChar: string(first),
		MinLen:    minLen,
		MaxLen:    length + band,
	}
}
