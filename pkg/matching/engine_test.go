package matching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/logging"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalize"
)

type fakeRepo struct {
	byValue    map[string][]models.MatchResult
	byHash     map[string][]models.MatchResult
	candidates []models.DataItem
}

func (f *fakeRepo) FindByNormalizedValue(ctx context.Context, tenantID string, kind models.FieldKind, value string) ([]models.MatchResult, error) {
	return f.byValue[value], nil
}

func (f *fakeRepo) FindByContentHash(ctx context.Context, tenantID string, hash string) ([]models.MatchResult, error) {
	return f.byHash[hash], nil
}

func (f *fakeRepo) FindCandidatesForFuzzy(ctx context.Context, tenantID string, kind models.FieldKind, pre Prefilter) ([]models.DataItem, error) {
	return f.candidates, nil
}

type fakeDecided struct {
	pairs map[string]bool
}

func (f *fakeDecided) ExistsDecidedPair(ctx context.Context, tenantID, aID, bID string) (bool, error) {
	return f.pairs[aID+"|"+bID], nil
}

func strPtr(s string) *string { return &s }

func newTestEngine(repo *fakeRepo, decided DecidedPairs) *Engine {
	return NewEngine(logging.NewNopLogger(), repo, decided, normalize.Policy{}, DefaultConfig())
}

func TestFindMatchesExact(t *testing.T) {
	repo := &fakeRepo{
		byValue: map[string][]models.MatchResult{
			"john@example.com": {
				{EntityID: strPtr("e1"), FieldKind: models.FieldKindEmail, DataItemID: "d1"},
			},
		},
	}
	engine := newTestEngine(repo, nil)

	matches, err := engine.FindMatches(context.Background(), "t1", "John@Example.COM", models.FieldKindEmail, FindOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	assert.Equal(t, models.MatchTypeExact, matches[0].MatchType)
	assert.Equal(t, 0.95, matches[0].Confidence)
	assert.Equal(t, models.ConfidenceLevelHigh, matches[0].Level)
	assert.Equal(t, "e1", matches[0].Result.OwnerID())
}

func TestFindMatchesHash(t *testing.T) {
	hash := normalize.ContentHash([]byte("file contents"))
	repo := &fakeRepo{
		byHash: map[string][]models.MatchResult{
			hash: {
				{OrphanID: strPtr("o1"), FieldKind: models.FieldKindFile, DataItemID: "d1"},
			},
		},
	}
	engine := newTestEngine(repo, nil)

	matches, err := engine.FindMatches(context.Background(), "t1", hash, models.FieldKindFile, FindOptions{})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	assert.Equal(t, models.MatchTypeHash, matches[0].MatchType)
	assert.Equal(t, 1.0, matches[0].Confidence)
	assert.Equal(t, models.ConfidenceLevelHigh, matches[0].Level)
}

func TestFindMatchesFuzzy(t *testing.T) {
	repo := &fakeRepo{
		candidates: []models.DataItem{
			{ID: "d1", OwnerEntityID: strPtr("e1"), Kind: models.FieldKindName, NormalizedValue: "john smith"},
			{ID: "d2", OwnerEntityID: strPtr("e2"), Kind: models.FieldKindName, NormalizedValue: "completely different"},
		},
	}
	engine := newTestEngine(repo, nil)

	matches, err := engine.FindMatches(context.Background(), "t1", "Jon Smith", models.FieldKindName, FindOptions{IncludePartial: true})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	assert.Equal(t, models.MatchTypeFuzzy, matches[0].MatchType)
	assert.Equal(t, "e1", matches[0].Result.OwnerID())
	assert.GreaterOrEqual(t, matches[0].Similarity, 0.7)
	assert.Less(t, matches[0].Confidence, 0.95)
}

func TestFindMatchesFuzzyRequiresOptIn(t *testing.T) {
	repo := &fakeRepo{
		candidates: []models.DataItem{
			{ID: "d1", OwnerEntityID: strPtr("e1"), Kind: models.FieldKindName, NormalizedValue: "john smith"},
		},
	}
	engine := newTestEngine(repo, nil)

	matches, err := engine.FindMatches(context.Background(), "t1", "Jon Smith", models.FieldKindName, FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindMatchesExcludesSelf(t *testing.T) {
	repo := &fakeRepo{
		byValue: map[string][]models.MatchResult{
			"john@example.com": {
				{EntityID: strPtr("e1"), FieldKind: models.FieldKindEmail},
				{EntityID: strPtr("e2"), FieldKind: models.FieldKindEmail},
			},
		},
	}
	engine := newTestEngine(repo, nil)

	matches, err := engine.FindMatches(context.Background(), "t1", "john@example.com", models.FieldKindEmail, FindOptions{ExcludeID: "e1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "e2", matches[0].Result.OwnerID())
}

func TestFindMatchesExcludesDecidedPairs(t *testing.T) {
	repo := &fakeRepo{
		byValue: map[string][]models.MatchResult{
			"john@example.com": {
				{EntityID: strPtr("e2"), FieldKind: models.FieldKindEmail},
				{EntityID: strPtr("e3"), FieldKind: models.FieldKindEmail},
			},
		},
	}
	decided := &fakeDecided{pairs: map[string]bool{"e1|e2": true}}
	engine := newTestEngine(repo, decided)

	matches, err := engine.FindMatches(context.Background(), "t1", "john@example.com", models.FieldKindEmail, FindOptions{ExcludeID: "e1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "e3", matches[0].Result.OwnerID())
}

func TestFindMatchesDedupesByOwner(t *testing.T) {
	repo := &fakeRepo{
		byValue: map[string][]models.MatchResult{
			"john smith": {
				{EntityID: strPtr("e1"), FieldKind: models.FieldKindName, DataItemID: "d1"},
			},
		},
		candidates: []models.DataItem{
			// Same owner also holds a near-identical name; the exact hit must win
			{ID: "d2", OwnerEntityID: strPtr("e1"), Kind: models.FieldKindName, NormalizedValue: "john smyth"},
		},
	}
	engine := newTestEngine(repo, nil)

	matches, err := engine.FindMatches(context.Background(), "t1", "John Smith", models.FieldKindName, FindOptions{IncludePartial: true})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, models.MatchTypeExact, matches[0].MatchType)
}

func TestFindMatchesDeterministicOrder(t *testing.T) {
	now := time.Now()
	repo := &fakeRepo{
		byValue: map[string][]models.MatchResult{
			"john@example.com": {
				{EntityID: strPtr("e2"), FieldKind: models.FieldKindEmail, UpdatedAt: now},
				{EntityID: strPtr("e1"), FieldKind: models.FieldKindEmail, UpdatedAt: now},
				{EntityID: strPtr("e3"), FieldKind: models.FieldKindEmail, UpdatedAt: now.Add(time.Hour)},
			},
		},
	}
	engine := newTestEngine(repo, nil)

	for i := 0; i < 5; i++ {
		matches, err := engine.FindMatches(context.Background(), "t1", "john@example.com", models.FieldKindEmail, FindOptions{})
		require.NoError(t, err)
		require.Len(t, matches, 3)

		// Most recently updated first, then id ascending on equal timestamps
		assert.Equal(t, "e3", matches[0].Result.OwnerID())
		assert.Equal(t, "e1", matches[1].Result.OwnerID())
		assert.Equal(t, "e2", matches[2].Result.OwnerID())
	}
}

func TestFindMatchesCapsCandidates(t *testing.T) {
	hits := make([]models.MatchResult, 0, 10)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		owner := "owner-" + id
		hits = append(hits, models.MatchResult{EntityID: &owner, FieldKind: models.FieldKindEmail})
	}
	repo := &fakeRepo{byValue: map[string][]models.MatchResult{"v@x.com": hits}}

	engine := NewEngine(logging.NewNopLogger(), repo, nil, normalize.Policy{}, EngineConfig{
		PartialThreshold: 0.7,
		MaxCandidates:    3,
	})

	matches, err := engine.FindMatches(context.Background(), "t1", "v@x.com", models.FieldKindEmail, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestPrefilterCountsCharactersNotBytes(t *testing.T) {
	// 13 characters but 17 bytes; the length band must come from the
	// character count or multibyte names fall outside their own window.
	pre := prefilterFor("žofia krížová")
	assert.Equal(t, "ž", pre.FirstChar)
	assert.Equal(t, 10, pre.MinLen)
	assert.Equal(t, 16, pre.MaxLen)
}

func TestPrefilterShortValue(t *testing.T) {
	pre := prefilterFor("jon")
	assert.Equal(t, "j", pre.FirstChar)
	assert.Equal(t, 1, pre.MinLen)
	assert.Equal(t, 5, pre.MaxLen)
}
