// Package mergerecord persists the append-only merge audit trail.
package mergerecord

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/thistle/internal/database"
	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const table = "merge_records"

type recordRow struct {
	models.MergeRecord
	TransferredJSON database.JSONB[map[models.FieldKind]int]    `db:"data_transferred"`
	ConflictsJSON   database.JSONB[[]models.ConflictResolution] `db:"conflicts_resolved"`
}

func (r *recordRow) model() models.MergeRecord {
	record := r.MergeRecord
	record.DataTransferred = r.TransferredJSON.GetValue()
	record.ConflictsResolved = r.ConflictsJSON.GetValue()
	return record
}

// Repository handles merge record persistence. Records are append-only;
// there is no update or delete.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merge record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create appends a merge record.
func (r *Repository) Create(ctx context.Context, record *models.MergeRecord) error {
	ctx, span := tracing.StartSpan(ctx, "mergerecord.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":    "Create",
		"tenant_id": record.TenantID,
		"merge_id":  record.ID,
	})

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("id", "tenant_id", "winner_id", "loser_id", "reason",
		"data_transferred", "conflicts_resolved", "relationships_moved",
		"performed_by", "performed_at")
	sb.Values(record.ID, record.TenantID, record.WinnerID, record.LoserID, record.Reason,
		database.JSONB[map[models.FieldKind]int]{Data: record.DataTransferred},
		database.JSONB[[]models.ConflictResolution]{Data: record.ConflictsResolved},
		record.RelationshipsMoved, record.PerformedBy, record.PerformedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to create merge record")
		return errs.Unavailable(record.ID, err)
	}

	log.Debug("Created merge record")
	return nil
}

// ListByEntity returns merge records where the entity was winner or loser,
// newest first.
func (r *Repository) ListByEntity(ctx context.Context, tenantID, entityID string) ([]models.MergeRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "mergerecord.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From(table)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Or(sb.Equal("winner_id", entityID), sb.Equal("loser_id", entityID)),
	)
	sb.OrderBy("performed_at DESC")

	query, args := sb.Build()
	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge records")
		return nil, errs.Unavailable(entityID, err)
	}

	records := make([]models.MergeRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].model())
	}
	return records, nil
}
