// Package suggestion persists match suggestions in Postgres.
package suggestion

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/thistle/internal/database"
	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/models"
	suggestionpkg "github.com/Ramsey-B/thistle/pkg/suggestion"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const table = "suggestions"

// suggestionRow maps the suggestions table, with factors as jsonb.
type suggestionRow struct {
	models.Suggestion
	FactorsJSON database.JSONB[[]models.Factor] `db:"factors"`
}

func (r *suggestionRow) model() models.Suggestion {
	s := r.Suggestion
	s.Factors = r.FactorsJSON.GetValue()
	return s
}

// Repository handles suggestion persistence and status transitions
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new suggestion repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new pending suggestion.
func (r *Repository) Create(ctx context.Context, s *models.Suggestion) error {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":        "Create",
		"tenant_id":     s.TenantID,
		"suggestion_id": s.ID,
	})

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("id", "tenant_id", "source_id", "matched_id", "match_type", "matched_field",
		"confidence", "confidence_level", "factors", "status", "dismiss_reason", "link_id",
		"created_at", "updated_at")
	sb.Values(s.ID, s.TenantID, s.SourceID, s.MatchedID, string(s.MatchType), string(s.MatchedField),
		s.Confidence, string(s.ConfidenceLevel), database.JSONB[[]models.Factor]{Data: s.Factors},
		string(s.Status), s.DismissReason, s.LinkID, s.CreatedAt, s.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create suggestion")
		return errs.Unavailable(s.ID, err)
	}

	log.Debug("Created suggestion")
	return nil
}

// GetByID returns a suggestion by id, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (*models.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From(table)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("id", id),
	)

	query, args := sb.Build()
	var row suggestionRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get suggestion")
		return nil, errs.Unavailable(id, err)
	}

	s := row.model()
	return &s, nil
}

// ListByOwner returns suggestions where the owner is either side of the pair,
// ordered for deterministic review: confidence desc, specificity desc,
// updated_at desc, id asc. Terminal suggestions are excluded unless
// IncludeDismissed is set, which adds dismissed (but never linked or merged).
func (r *Repository) ListByOwner(ctx context.Context, tenantID, ownerID string, opts suggestionpkg.ListOptions) ([]models.Suggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.ListByOwner")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From(table)

	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Or(sb.Equal("source_id", ownerID), sb.Equal("matched_id", ownerID)),
	}

	statuses := []any{string(models.SuggestionStatusPending)}
	if opts.IncludeDismissed {
		statuses = append(statuses, string(models.SuggestionStatusDismissed))
	}
	where = append(where, sb.In("status", statuses...))

	if opts.MinConfidence > 0 {
		where = append(where, sb.GreaterEqualThan("confidence", opts.MinConfidence))
	}

	sb.Where(where...)
	sb.OrderBy(
		"confidence DESC",
		`CASE match_type WHEN 'hash_match' THEN 3 WHEN 'exact_string' THEN 2 ELSE 1 END DESC`,
		"updated_at DESC",
		"id ASC",
	)

	query, args := sb.Build()
	var rows []suggestionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list suggestions")
		return nil, errs.Unavailable(ownerID, err)
	}

	suggestions := make([]models.Suggestion, 0, len(rows))
	for i := range rows {
		suggestions = append(suggestions, rows[i].model())
	}
	return suggestions, nil
}

// UpdateStatus transitions a suggestion from one status to another. The
// update is guarded by the expected current status; returns false when the
// row was not in that status (decided concurrently).
func (r *Repository) UpdateStatus(ctx context.Context, tenantID, id string, from, to models.SuggestionStatus, dismissReason, linkID *string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.UpdateStatus")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":        "UpdateStatus",
		"tenant_id":     tenantID,
		"suggestion_id": id,
		"from":          from,
		"to":            to,
	})

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	assignments := []string{
		ub.Assign("status", string(to)),
		ub.Assign("updated_at", time.Now().UTC()),
	}
	if dismissReason != nil {
		assignments = append(assignments, ub.Assign("dismiss_reason", nullable(dismissReason)))
	}
	if linkID != nil {
		assignments = append(assignments, ub.Assign("link_id", nullable(linkID)))
	}
	ub.Set(assignments...)
	ub.Where(
		ub.Equal("tenant_id", tenantID),
		ub.Equal("id", id),
		ub.Equal("status", string(from)),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Error("Failed to update suggestion status")
		return false, errs.Unavailable(id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errs.Unavailable(id, err)
	}
	if affected == 0 {
		log.Debug("Suggestion was not in expected status")
		return false, nil
	}

	log.Debug("Updated suggestion status")
	return true, nil
}

// ExistsPair reports whether any suggestion exists for the pair, in either
// direction and in any status.
func (r *Repository) ExistsPair(ctx context.Context, tenantID, sourceID, matchedID string) (bool, error) {
	return r.existsPair(ctx, tenantID, sourceID, matchedID, nil)
}

// ExistsDecidedPair reports whether the pair was already decided, in either
// direction. Decided pairs are never re-suggested.
func (r *Repository) ExistsDecidedPair(ctx context.Context, tenantID, aID, bID string) (bool, error) {
	statuses := []any{
		string(models.SuggestionStatusDismissed),
		string(models.SuggestionStatusLinked),
		string(models.SuggestionStatusMerged),
	}
	return r.existsPair(ctx, tenantID, aID, bID, statuses)
}

func (r *Repository) existsPair(ctx context.Context, tenantID, aID, bID string, statuses []any) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "suggestion.Repository.existsPair")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("1")
	sb.From(table)

	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Or(
			sb.And(sb.Equal("source_id", aID), sb.Equal("matched_id", bID)),
			sb.And(sb.Equal("source_id", bID), sb.Equal("matched_id", aID)),
		),
	}
	if len(statuses) > 0 {
		where = append(where, sb.In("status", statuses...))
	}
	sb.Where(where...)
	sb.Limit(1)

	query, args := sb.Build()
	var one int
	if err := r.db.GetContext(ctx, &one, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check suggestion pair")
		return false, errs.Unavailable(aID, err)
	}
	return true, nil
}

// nullable turns an empty string pointer into SQL NULL so undo can clear the
// dismiss reason and link id.
func nullable(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
