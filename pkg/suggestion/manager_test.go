package suggestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/logging"
	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalize"
)

type fakeStore struct {
	mu          sync.Mutex
	suggestions map[string]*models.Suggestion
	updateErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{suggestions: make(map[string]*models.Suggestion)}
}

func (f *fakeStore) put(s *models.Suggestion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *s
	f.suggestions[s.ID] = &copied
}

func (f *fakeStore) Create(ctx context.Context, s *models.Suggestion) error {
	f.put(s)
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, tenantID, id string) (*models.Suggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.suggestions[id]
	if !ok || s.TenantID != tenantID {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) ListByOwner(ctx context.Context, tenantID, ownerID string, opts ListOptions) ([]models.Suggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Suggestion
	for _, s := range f.suggestions {
		if s.TenantID != tenantID || (s.SourceID != ownerID && s.MatchedID != ownerID) {
			continue
		}
		if s.Status == models.SuggestionStatusPending ||
			(opts.IncludeDismissed && s.Status == models.SuggestionStatusDismissed) {
			if s.Confidence >= opts.MinConfidence {
				out = append(out, *s)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, tenantID, id string, from, to models.SuggestionStatus, dismissReason, linkID *string) (bool, error) {
	if f.updateErr != nil {
		return false, f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.suggestions[id]
	if !ok || s.TenantID != tenantID || s.Status != from {
		return false, nil
	}
	s.Status = to
	if dismissReason != nil {
		if *dismissReason == "" {
			s.DismissReason = nil
		} else {
			s.DismissReason = dismissReason
		}
	}
	if linkID != nil {
		if *linkID == "" {
			s.LinkID = nil
		} else {
			s.LinkID = linkID
		}
	}
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (f *fakeStore) ExistsPair(ctx context.Context, tenantID, sourceID, matchedID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.suggestions {
		if s.TenantID != tenantID {
			continue
		}
		if (s.SourceID == sourceID && s.MatchedID == matchedID) ||
			(s.SourceID == matchedID && s.MatchedID == sourceID) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ExistsDecidedPair(ctx context.Context, tenantID, aID, bID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.suggestions {
		if s.TenantID != tenantID || !s.Status.Terminal() {
			continue
		}
		if (s.SourceID == aID && s.MatchedID == bID) || (s.SourceID == bID && s.MatchedID == aID) {
			return true, nil
		}
	}
	return false, nil
}

type fakeGraph struct {
	mu         sync.Mutex
	missing    map[string]bool
	links      map[string]bool
	createErr  error
	removeErr  error
	nextLinkID int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{missing: make(map[string]bool), links: make(map[string]bool)}
}

func (f *fakeGraph) OwnerExists(ctx context.Context, tenantID, ownerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[ownerID], nil
}

func (f *fakeGraph) CreateLink(ctx context.Context, tenantID, sourceID, matchedID, suggestionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextLinkID++
	id := "link-" + suggestionID
	f.links[id] = true
	return id, nil
}

func (f *fakeGraph) RemoveLink(ctx context.Context, tenantID, linkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.links, linkID)
	return nil
}

func (f *fakeGraph) hasLink(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[id]
}

type fakeMerger struct {
	mu      sync.Mutex
	calls   int
	lastWin string
	lastLos string
	err     error
}

func (f *fakeMerger) Merge(ctx context.Context, tenantID, winnerID, loserID, reason string, performedBy *string) (*models.MergeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	f.lastWin, f.lastLos = winnerID, loserID
	return &models.MergeRecord{WinnerID: winnerID, LoserID: loserID, Reason: reason}, nil
}

type engineRepo struct {
	byValue map[string][]models.MatchResult
}

func (r *engineRepo) FindByNormalizedValue(ctx context.Context, tenantID string, kind models.FieldKind, value string) ([]models.MatchResult, error) {
	return r.byValue[value], nil
}

func (r *engineRepo) FindByContentHash(ctx context.Context, tenantID string, hash string) ([]models.MatchResult, error) {
	return nil, nil
}

func (r *engineRepo) FindCandidatesForFuzzy(ctx context.Context, tenantID string, kind models.FieldKind, pre matching.Prefilter) ([]models.DataItem, error) {
	return nil, nil
}

func ptr(s string) *string { return &s }

func newTestManager(t *testing.T, store *fakeStore, graph *fakeGraph, merger *fakeMerger, repo *engineRepo) *Manager {
	t.Helper()
	if repo == nil {
		repo = &engineRepo{}
	}
	logger := logging.NewNopLogger()
	engine := matching.NewEngine(logger, repo, store, normalize.Policy{}, matching.DefaultConfig())
	m := NewManager(logger, store, graph, merger, engine, nil, Config{
		DismissUndoWindow: 50 * time.Millisecond,
		LinkUndoWindow:    50 * time.Millisecond,
	})
	t.Cleanup(m.Close)
	return m
}

func pendingSuggestion(id, source, matched string) *models.Suggestion {
	now := time.Now().UTC()
	return &models.Suggestion{
		ID:              id,
		TenantID:        "t1",
		SourceID:        source,
		MatchedID:       matched,
		MatchType:       models.MatchTypeExact,
		MatchedField:    models.FieldKindEmail,
		Confidence:      0.95,
		ConfidenceLevel: models.ConfidenceLevelHigh,
		Status:          models.SuggestionStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestGenerateCreatesPendingSuggestions(t *testing.T) {
	store := newFakeStore()
	repo := &engineRepo{byValue: map[string][]models.MatchResult{
		"john@example.com": {{EntityID: ptr("e2"), FieldKind: models.FieldKindEmail}},
	}}
	m := newTestManager(t, store, newFakeGraph(), &fakeMerger{}, repo)

	created, err := m.Generate(context.Background(), "t1", "e1", []models.DataItem{
		{Kind: models.FieldKindEmail, RawValue: "John@Example.com"},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	assert.Equal(t, "e1", created[0].SourceID)
	assert.Equal(t, "e2", created[0].MatchedID)
	assert.Equal(t, models.SuggestionStatusPending, created[0].Status)
	assert.Equal(t, 0.95, created[0].Confidence)
}

func TestGenerateSkipsExistingPairs(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e2", "e1")) // reversed direction counts too
	repo := &engineRepo{byValue: map[string][]models.MatchResult{
		"john@example.com": {{EntityID: ptr("e2"), FieldKind: models.FieldKindEmail}},
	}}
	m := newTestManager(t, store, newFakeGraph(), &fakeMerger{}, repo)

	created, err := m.Generate(context.Background(), "t1", "e1", []models.DataItem{
		{Kind: models.FieldKindEmail, RawValue: "john@example.com"},
	})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestListInvalidatesOrphanedSuggestions(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	store.put(pendingSuggestion("s2", "e1", "gone"))
	graph := newFakeGraph()
	graph.missing["gone"] = true
	m := newTestManager(t, store, graph, &fakeMerger{}, nil)

	got, err := m.List(context.Background(), "t1", "e1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)

	// The invalid suggestion was dismissed, not deleted
	s2, err := store.GetByID(context.Background(), "t1", "s2")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusDismissed, s2.Status)
	require.NotNil(t, s2.DismissReason)
	assert.Equal(t, "owner no longer exists", *s2.DismissReason)
}

func TestDismissRequiresReason(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	m := newTestManager(t, store, newFakeGraph(), &fakeMerger{}, nil)

	_, err := m.Dismiss(context.Background(), "t1", "s1", "   ")
	assert.True(t, errs.IsValidation(err))

	s, _ := store.GetByID(context.Background(), "t1", "s1")
	assert.Equal(t, models.SuggestionStatusPending, s.Status)
}

func TestDismissAndUndo(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	m := newTestManager(t, store, newFakeGraph(), &fakeMerger{}, nil)

	s, err := m.Dismiss(context.Background(), "t1", "s1", "different people")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusDismissed, s.Status)

	s, err = m.Undo(context.Background(), "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusPending, s.Status)
	assert.Nil(t, s.DismissReason)
}

func TestUndoAfterWindowExpires(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	m := newTestManager(t, store, newFakeGraph(), &fakeMerger{}, nil)

	_, err := m.Dismiss(context.Background(), "t1", "s1", "different people")
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)

	_, err = m.Undo(context.Background(), "t1", "s1")
	assert.True(t, errs.IsAlreadyTerminal(err))

	s, _ := store.GetByID(context.Background(), "t1", "s1")
	assert.Equal(t, models.SuggestionStatusDismissed, s.Status)
}

func TestUndoWithNothingToUndo(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	m := newTestManager(t, store, newFakeGraph(), &fakeMerger{}, nil)

	_, err := m.Undo(context.Background(), "t1", "s1")
	assert.True(t, errs.IsValidation(err))

	_, err = m.Undo(context.Background(), "t1", "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestLinkCreatesRelationshipAndUndoRemovesIt(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	graph := newFakeGraph()
	m := newTestManager(t, store, graph, &fakeMerger{}, nil)

	s, err := m.Link(context.Background(), "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusLinked, s.Status)
	require.NotNil(t, s.LinkID)
	assert.True(t, graph.hasLink(*s.LinkID))

	s, err = m.Undo(context.Background(), "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusPending, s.Status)
	assert.Nil(t, s.LinkID)
	assert.False(t, graph.hasLink("link-s1"))
}

func TestLinkRollsBackOnStatusFailure(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	graph := newFakeGraph()
	m := newTestManager(t, store, graph, &fakeMerger{}, nil)

	store.updateErr = errors.New("db down")
	_, err := m.Link(context.Background(), "t1", "s1")
	require.Error(t, err)
	assert.False(t, graph.hasLink("link-s1"))

	store.updateErr = nil
	s, _ := store.GetByID(context.Background(), "t1", "s1")
	assert.Equal(t, models.SuggestionStatusPending, s.Status)
}

func TestMergeRequiresSubstantiveReason(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	merger := &fakeMerger{}
	m := newTestManager(t, store, newFakeGraph(), merger, nil)

	_, err := m.Merge(context.Background(), "t1", "s1", "too short", nil)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, 0, merger.calls)
}

func TestMergeIsIrreversible(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	merger := &fakeMerger{}
	m := newTestManager(t, store, newFakeGraph(), merger, nil)

	record, err := m.Merge(context.Background(), "t1", "s1", "same person, verified by id documents", nil)
	require.NoError(t, err)
	assert.Equal(t, "e1", record.WinnerID)
	assert.Equal(t, "e2", record.LoserID)
	assert.Equal(t, 1, merger.calls)

	s, _ := store.GetByID(context.Background(), "t1", "s1")
	assert.Equal(t, models.SuggestionStatusMerged, s.Status)

	// No undo window for merges
	_, err = m.Undo(context.Background(), "t1", "s1")
	assert.True(t, errs.IsAlreadyTerminal(err))
}

func TestDecideTerminalSuggestionFails(t *testing.T) {
	store := newFakeStore()
	s := pendingSuggestion("s1", "e1", "e2")
	s.Status = models.SuggestionStatusDismissed
	store.put(s)
	m := newTestManager(t, store, newFakeGraph(), &fakeMerger{}, nil)

	_, err := m.Dismiss(context.Background(), "t1", "s1", "some reason")
	assert.True(t, errs.IsAlreadyTerminal(err))

	_, err = m.Link(context.Background(), "t1", "s1")
	assert.True(t, errs.IsAlreadyTerminal(err))

	_, err = m.Merge(context.Background(), "t1", "s1", "a long enough reason", nil)
	assert.True(t, errs.IsAlreadyTerminal(err))
}

func TestDismissMissingOwnerInvalidates(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "gone"))
	graph := newFakeGraph()
	graph.missing["gone"] = true
	m := newTestManager(t, store, graph, &fakeMerger{}, nil)

	_, err := m.Dismiss(context.Background(), "t1", "s1", "some reason")
	assert.True(t, errs.IsNotFound(err))

	s, _ := store.GetByID(context.Background(), "t1", "s1")
	assert.Equal(t, models.SuggestionStatusDismissed, s.Status)
}

func TestUndoSurvivesStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	m := newTestManager(t, store, newFakeGraph(), &fakeMerger{}, nil)

	_, err := m.Dismiss(context.Background(), "t1", "s1", "duplicate")
	require.NoError(t, err)

	// A transient store failure must not consume the undo window.
	store.updateErr = errors.New("db down")
	_, err = m.Undo(context.Background(), "t1", "s1")
	require.Error(t, err)

	store.updateErr = nil
	s, err := m.Undo(context.Background(), "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStatusPending, s.Status)
	assert.Nil(t, s.DismissReason)
}

func TestLockEntriesReleasedAfterTransition(t *testing.T) {
	store := newFakeStore()
	store.put(pendingSuggestion("s1", "e1", "e2"))
	store.put(pendingSuggestion("s2", "e3", "e4"))
	m := newTestManager(t, store, newFakeGraph(), &fakeMerger{}, nil)

	_, err := m.Dismiss(context.Background(), "t1", "s1", "duplicate")
	require.NoError(t, err)
	_, err = m.Link(context.Background(), "t1", "s2")
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.locks)
}

func TestLockSerializesSameID(t *testing.T) {
	m := newTestManager(t, newFakeStore(), newFakeGraph(), &fakeMerger{}, nil)

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.lock("s1")
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.locks)
}
