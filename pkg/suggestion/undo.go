package suggestion

import (
	"sync"
	"time"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// undoEntry captures what is needed to reverse a just-made decision.
type undoEntry struct {
	action models.SuggestionStatus // dismissed or linked
	linkID string                  // relationship to remove when action == linked
	timer  *time.Timer
}

// UndoRegistry is an arena of cancellable undo timers keyed by suggestion id.
// Arming a new timer for an id supersedes any outstanding one. Expiry only
// removes the entry: the suggestion is already terminal, so finalization
// performs no further mutation.
type UndoRegistry struct {
	mu      sync.Mutex
	entries map[string]*undoEntry
}

// NewUndoRegistry creates an empty registry.
func NewUndoRegistry() *UndoRegistry {
	return &UndoRegistry{entries: make(map[string]*undoEntry)}
}

// Arm registers an undo window for the suggestion, cancelling any outstanding
// timer for the same id.
func (r *UndoRegistry) Arm(suggestionID string, action models.SuggestionStatus, linkID string, window time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[suggestionID]; ok {
		prev.timer.Stop()
	}

	entry := &undoEntry{action: action, linkID: linkID}
	entry.timer = time.AfterFunc(window, func() {
		r.expire(suggestionID, entry)
	})
	r.entries[suggestionID] = entry
}

// Take removes and returns the outstanding entry for the suggestion, stopping
// its timer. ok is false when the window already expired or none was armed.
func (r *UndoRegistry) Take(suggestionID string) (action models.SuggestionStatus, linkID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[suggestionID]
	if !ok {
		return "", "", false
	}
	entry.timer.Stop()
	delete(r.entries, suggestionID)
	return entry.action, entry.linkID, true
}

// Cancel drops any outstanding timer for the suggestion without returning it.
// Used when a later action supersedes the prior transition.
func (r *UndoRegistry) Cancel(suggestionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[suggestionID]; ok {
		entry.timer.Stop()
		delete(r.entries, suggestionID)
	}
}

// Close stops every outstanding timer.
func (r *UndoRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, entry := range r.entries {
		entry.timer.Stop()
		delete(r.entries, id)
	}
}

func (r *UndoRegistry) expire(suggestionID string, armed *undoEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Only remove if the armed entry is still current; a newer window for the
	// same id must not be clobbered by a stale expiry.
	if current, ok := r.entries[suggestionID]; ok && current == armed {
		delete(r.entries, suggestionID)
	}
}
