// Package suggestion owns the human-reviewed lifecycle that turns a match
// into a permanent graph mutation: propose, dismiss/link/merge, undo.
package suggestion

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/thistle/pkg/confidence"
	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// minMergeReasonLen forces a deliberate justification for irreversible merges.
const minMergeReasonLen = 10

// ListOptions filter a suggestion listing.
type ListOptions struct {
	MinConfidence    float64
	IncludeDismissed bool
}

// Store persists suggestions. Terminal suggestions are retained, never
// hard-deleted.
type Store interface {
	Create(ctx context.Context, s *models.Suggestion) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Suggestion, error)
	ListByOwner(ctx context.Context, tenantID, ownerID string, opts ListOptions) ([]models.Suggestion, error)
	// UpdateStatus transitions id from expected current status to next.
	// Returns false when the row was not in the expected status.
	UpdateStatus(ctx context.Context, tenantID, id string, from, to models.SuggestionStatus, dismissReason, linkID *string) (bool, error)
	ExistsPair(ctx context.Context, tenantID, sourceID, matchedID string) (bool, error)
}

// GraphStore is the slice of the graph repository the manager needs: owner
// existence checks and non-destructive link management.
type GraphStore interface {
	OwnerExists(ctx context.Context, tenantID, ownerID string) (bool, error)
	CreateLink(ctx context.Context, tenantID, sourceID, matchedID, suggestionID string) (string, error)
	RemoveLink(ctx context.Context, tenantID, linkID string) error
}

// Merger executes an accepted merge decision.
type Merger interface {
	Merge(ctx context.Context, tenantID, winnerID, loserID, reason string, performedBy *string) (*models.MergeRecord, error)
}

// Emitter publishes suggestion lifecycle events. May be nil.
type Emitter interface {
	EmitSuggestionCreated(ctx context.Context, s *models.Suggestion)
	EmitSuggestionDecided(ctx context.Context, s *models.Suggestion, action models.SuggestionStatus)
}

// Config contains the manager's tunable windows.
type Config struct {
	DismissUndoWindow time.Duration // default 10s
	LinkUndoWindow    time.Duration // default 5s
}

// DefaultConfig returns the default undo windows.
func DefaultConfig() Config {
	return Config{
		DismissUndoWindow: 10 * time.Second,
		LinkUndoWindow:    5 * time.Second,
	}
}

// Manager owns suggestion lifecycle transitions. Transitions for a given
// suggestion id are serialized through a per-id lock; different suggestions
// proceed in parallel.
type Manager struct {
	logger  ectologger.Logger
	store   Store
	graph   GraphStore
	merger  Merger
	engine  *matching.Engine
	emitter Emitter
	undo    *UndoRegistry
	config  Config

	mu    sync.Mutex
	locks map[string]*idLock
}

// idLock is a reference-counted mutex so the lock map only holds entries for
// in-flight transitions.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a suggestion manager. emitter may be nil.
func NewManager(
	logger ectologger.Logger,
	store Store,
	graph GraphStore,
	merger Merger,
	engine *matching.Engine,
	emitter Emitter,
	config Config,
) *Manager {
	if config.DismissUndoWindow <= 0 {
		config.DismissUndoWindow = DefaultConfig().DismissUndoWindow
	}
	if config.LinkUndoWindow <= 0 {
		config.LinkUndoWindow = DefaultConfig().LinkUndoWindow
	}
	return &Manager{
		logger:  logger,
		store:   store,
		graph:   graph,
		merger:  merger,
		engine:  engine,
		emitter: emitter,
		undo:    NewUndoRegistry(),
		config:  config,
		locks:   make(map[string]*idLock),
	}
}

// Close stops all outstanding undo timers.
func (m *Manager) Close() {
	m.undo.Close()
}

// Generate runs the matching engine over an owner's data items and creates
// pending suggestions for every new hit at or above the display threshold.
func (m *Manager) Generate(ctx context.Context, tenantID, ownerID string, items []models.DataItem) ([]models.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Manager.Generate")
	defer span.End()

	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"owner_id":  ownerID,
	})

	var created []models.Suggestion
	for _, item := range items {
		value := item.RawValue
		if item.Kind.IsBinary() {
			value = item.ContentHash
		}
		if value == "" {
			continue
		}

		matches, err := m.engine.FindMatches(ctx, tenantID, value, item.Kind, matching.FindOptions{
			IncludePartial: true,
			ExcludeID:      ownerID,
		})
		if err != nil {
			return nil, err
		}

		for _, match := range matches {
			if match.Confidence < confidence.MinDisplay {
				continue
			}

			matchedID := match.Result.OwnerID()
			exists, err := m.store.ExistsPair(ctx, tenantID, ownerID, matchedID)
			if err != nil {
				return nil, err
			}
			if exists {
				continue
			}

			now := time.Now().UTC()
			s := models.Suggestion{
				ID:              uuid.NewString(),
				TenantID:        tenantID,
				SourceID:        ownerID,
				MatchedID:       matchedID,
				MatchType:       match.MatchType,
				MatchedField:    item.Kind,
				Confidence:      match.Confidence,
				ConfidenceLevel: match.Level,
				Factors:         match.Factors,
				Status:          models.SuggestionStatusPending,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := m.store.Create(ctx, &s); err != nil {
				return nil, err
			}
			if m.emitter != nil {
				m.emitter.EmitSuggestionCreated(ctx, &s)
			}
			created = append(created, s)
		}
	}

	log.WithFields(map[string]any{"created": len(created)}).Debug("Generated suggestions")
	return created, nil
}

// List returns an owner's suggestions. Suggestions whose source or matched
// owner no longer exists are invalidated lazily here and excluded.
func (m *Manager) List(ctx context.Context, tenantID, ownerID string, opts ListOptions) ([]models.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Manager.List")
	defer span.End()

	suggestions, err := m.store.ListByOwner(ctx, tenantID, ownerID, opts)
	if err != nil {
		return nil, err
	}

	result := make([]models.Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Status == models.SuggestionStatusPending {
			valid, err := m.ownersExist(ctx, tenantID, &s)
			if err != nil {
				return nil, err
			}
			if !valid {
				m.invalidate(ctx, &s)
				continue
			}
		}
		result = append(result, s)
	}
	return result, nil
}

// Dismiss transitions a pending suggestion to dismissed. The reason is
// mandatory. An undo window starts during which Undo restores pending.
func (m *Manager) Dismiss(ctx context.Context, tenantID, id, reason string) (*models.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Manager.Dismiss")
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, errs.Validation(id, "dismiss reason is required")
	}

	unlock := m.lock(id)
	defer unlock()

	s, err := m.loadPending(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	m.undo.Cancel(id)

	ok, err := m.store.UpdateStatus(ctx, tenantID, id, models.SuggestionStatusPending, models.SuggestionStatusDismissed, &reason, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.AlreadyTerminal(id, "suggestion was decided concurrently")
	}

	s.Status = models.SuggestionStatusDismissed
	s.DismissReason = &reason
	m.undo.Arm(id, models.SuggestionStatusDismissed, "", m.config.DismissUndoWindow)

	if m.emitter != nil {
		m.emitter.EmitSuggestionDecided(ctx, s, models.SuggestionStatusDismissed)
	}
	m.logger.WithContext(ctx).WithFields(map[string]any{"suggestion_id": id}).Info("Dismissed suggestion")
	return s, nil
}

// Link transitions a pending suggestion to linked by creating a
// non-destructive relationship between the two owners. A short undo window
// starts; undoing removes the created relationship.
func (m *Manager) Link(ctx context.Context, tenantID, id string) (*models.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Manager.Link")
	defer span.End()

	unlock := m.lock(id)
	defer unlock()

	s, err := m.loadPending(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	m.undo.Cancel(id)

	linkID, err := m.graph.CreateLink(ctx, tenantID, s.SourceID, s.MatchedID, id)
	if err != nil {
		return nil, err
	}

	ok, err := m.store.UpdateStatus(ctx, tenantID, id, models.SuggestionStatusPending, models.SuggestionStatusLinked, nil, &linkID)
	if err != nil {
		// Keep the store authoritative: a link relationship without a linked
		// suggestion must not survive.
		if rmErr := m.graph.RemoveLink(ctx, tenantID, linkID); rmErr != nil {
			m.logger.WithContext(ctx).WithError(rmErr).Error("Failed to roll back link relationship")
		}
		return nil, err
	}
	if !ok {
		if rmErr := m.graph.RemoveLink(ctx, tenantID, linkID); rmErr != nil {
			m.logger.WithContext(ctx).WithError(rmErr).Error("Failed to roll back link relationship")
		}
		return nil, errs.AlreadyTerminal(id, "suggestion was decided concurrently")
	}

	s.Status = models.SuggestionStatusLinked
	s.LinkID = &linkID
	m.undo.Arm(id, models.SuggestionStatusLinked, linkID, m.config.LinkUndoWindow)

	if m.emitter != nil {
		m.emitter.EmitSuggestionDecided(ctx, s, models.SuggestionStatusLinked)
	}
	m.logger.WithContext(ctx).WithFields(map[string]any{"suggestion_id": id, "link_id": linkID}).Info("Linked suggestion")
	return s, nil
}

// Merge executes the merge for a pending suggestion: the suggestion's source
// becomes the winner, the matched owner the loser. Irreversible; no undo
// window is armed.
func (m *Manager) Merge(ctx context.Context, tenantID, id, reason string, performedBy *string) (*models.MergeRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Manager.Merge")
	defer span.End()

	if len(strings.TrimSpace(reason)) < minMergeReasonLen {
		return nil, errs.Validation(id, "merge reason must be at least %d characters", minMergeReasonLen)
	}

	unlock := m.lock(id)
	defer unlock()

	s, err := m.loadPending(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	m.undo.Cancel(id)

	record, err := m.merger.Merge(ctx, tenantID, s.SourceID, s.MatchedID, reason, performedBy)
	if err != nil {
		return nil, err
	}

	ok, err := m.store.UpdateStatus(ctx, tenantID, id, models.SuggestionStatusPending, models.SuggestionStatusMerged, nil, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The merge itself committed; the status row lagging behind is a
		// repair case, not a rollback case.
		m.logger.WithContext(ctx).WithFields(map[string]any{"suggestion_id": id}).Warn("Merge committed but suggestion status was not pending")
	}

	s.Status = models.SuggestionStatusMerged
	if m.emitter != nil {
		m.emitter.EmitSuggestionDecided(ctx, s, models.SuggestionStatusMerged)
	}
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"suggestion_id": id,
		"winner_id":     s.SourceID,
		"loser_id":      s.MatchedID,
	}).Info("Merged suggestion")
	return record, nil
}

// Undo reverses a dismiss or link whose window has not expired, restoring the
// suggestion to pending. After expiry (or for merged suggestions) it fails
// with AlreadyTerminal.
func (m *Manager) Undo(ctx context.Context, tenantID, id string) (*models.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Manager.Undo")
	defer span.End()

	unlock := m.lock(id)
	defer unlock()

	action, linkID, ok := m.undo.Take(id)
	if !ok {
		s, err := m.store.GetByID(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, errs.NotFound(id, "suggestion not found")
		}
		if s.Status.Terminal() {
			return nil, errs.AlreadyTerminal(id, "undo window expired for %s suggestion", s.Status)
		}
		return nil, errs.Validation(id, "suggestion is pending; nothing to undo")
	}

	window := m.config.DismissUndoWindow
	if action == models.SuggestionStatusLinked {
		window = m.config.LinkUndoWindow
	}

	if action == models.SuggestionStatusLinked && linkID != "" {
		if err := m.graph.RemoveLink(ctx, tenantID, linkID); err != nil {
			// Re-arm so a retry can still undo within the original intent.
			m.undo.Arm(id, action, linkID, window)
			return nil, err
		}
	}

	cleared := ""
	ok, err := m.store.UpdateStatus(ctx, tenantID, id, action, models.SuggestionStatusPending, &cleared, &cleared)
	if err != nil {
		// The decision is still reversible; a transient store failure must not
		// consume the window.
		m.undo.Arm(id, action, linkID, window)
		return nil, err
	}
	if !ok {
		return nil, errs.AlreadyTerminal(id, "suggestion status changed concurrently")
	}

	s, err := m.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	m.logger.WithContext(ctx).WithFields(map[string]any{"suggestion_id": id, "undone": action}).Info("Undid suggestion decision")
	return s, nil
}

// loadPending fetches the suggestion and verifies it is still pending.
func (m *Manager) loadPending(ctx context.Context, tenantID, id string) (*models.Suggestion, error) {
	s, err := m.store.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errs.NotFound(id, "suggestion not found")
	}
	if s.Status != models.SuggestionStatusPending {
		return nil, errs.AlreadyTerminal(id, "suggestion is already %s", s.Status)
	}

	valid, err := m.ownersExist(ctx, tenantID, s)
	if err != nil {
		return nil, err
	}
	if !valid {
		m.invalidate(ctx, s)
		return nil, errs.NotFound(id, "suggestion references a deleted owner")
	}
	return s, nil
}

func (m *Manager) ownersExist(ctx context.Context, tenantID string, s *models.Suggestion) (bool, error) {
	for _, ownerID := range []string{s.SourceID, s.MatchedID} {
		exists, err := m.graph.OwnerExists(ctx, tenantID, ownerID)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

// invalidate lazily dismisses a suggestion whose owner disappeared. Failures
// are logged, not surfaced: invalidation is hygiene, not correctness.
func (m *Manager) invalidate(ctx context.Context, s *models.Suggestion) {
	reason := "owner no longer exists"
	if _, err := m.store.UpdateStatus(ctx, s.TenantID, s.ID, s.Status, models.SuggestionStatusDismissed, &reason, nil); err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"suggestion_id": s.ID}).Warn("Failed to invalidate suggestion")
	}
}

// lock serializes transitions per suggestion id. The entry is dropped once
// the last holder releases it, so decided suggestions do not pin memory.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &idLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}
