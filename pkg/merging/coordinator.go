// Package merging implements the irreversible entity merge: data transfer,
// relationship repointing, loser tombstoning, and the audit record.
package merging

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Repository is the graph surface a merge needs. All mutating calls made
// inside WithWriteTx share one write transaction; WithWriteTx rolls the whole
// merge back when fn returns an error.
type Repository interface {
	WithWriteTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetEntity(ctx context.Context, tenantID, id string) (*models.Entity, error)
	ListDataItems(ctx context.Context, tenantID, ownerID string) ([]models.DataItem, error)
	TransferDataItem(ctx context.Context, tenantID, itemID, toOwnerID string) error
	RepointRelationships(ctx context.Context, tenantID, fromID, toID string) (moved int, err error)
	RetireEntity(ctx context.Context, tenantID, loserID, winnerID string) error
	BumpVersion(ctx context.Context, tenantID, id string, expected int64) (int64, error)
}

// RecordStore persists the append-only merge audit trail.
type RecordStore interface {
	Create(ctx context.Context, record *models.MergeRecord) error
}

// MergedEmitter publishes entity.merged events. May be nil.
type MergedEmitter interface {
	EmitEntityMerged(ctx context.Context, record *models.MergeRecord)
}

// Coordinator executes merges between two owners of the same tenant.
type Coordinator struct {
	logger  ectologger.Logger
	repo    Repository
	records RecordStore
	emitter MergedEmitter
}

// NewCoordinator creates a merge coordinator. emitter may be nil.
func NewCoordinator(logger ectologger.Logger, repo Repository, records RecordStore, emitter MergedEmitter) *Coordinator {
	return &Coordinator{
		logger:  logger,
		repo:    repo,
		records: records,
		emitter: emitter,
	}
}

// Merge resolves the current versions of both entities and merges with those
// as the expected versions. Any concurrent mutation between the read and the
// transactional re-check surfaces as a Conflict.
func (c *Coordinator) Merge(ctx context.Context, tenantID, winnerID, loserID, reason string, performedBy *string) (*models.MergeRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Coordinator.Merge")
	defer span.End()

	winner, err := c.loadActive(ctx, tenantID, winnerID)
	if err != nil {
		return nil, err
	}
	loser, err := c.loadActive(ctx, tenantID, loserID)
	if err != nil {
		return nil, err
	}

	return c.MergeWithVersions(ctx, tenantID, winnerID, loserID, winner.Version, loser.Version, reason, performedBy)
}

// MergeWithVersions merges loser into winner under optimistic concurrency:
// if either entity's version no longer matches the expected value, nothing
// mutates and the call fails with Conflict. The graph mutations (data item
// transfer, relationship repointing, loser tombstone, winner version bump)
// run in a single write transaction.
func (c *Coordinator) MergeWithVersions(
	ctx context.Context,
	tenantID, winnerID, loserID string,
	winnerVersion, loserVersion int64,
	reason string,
	performedBy *string,
) (*models.MergeRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Coordinator.MergeWithVersions")
	defer span.End()

	if winnerID == loserID {
		return nil, errs.Validation(winnerID, "cannot merge an entity into itself")
	}

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"winner_id": winnerID,
		"loser_id":  loserID,
	})

	record := &models.MergeRecord{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		WinnerID:        winnerID,
		LoserID:         loserID,
		Reason:          reason,
		DataTransferred: make(map[models.FieldKind]int),
		PerformedBy:     performedBy,
		PerformedAt:     time.Now().UTC(),
	}

	err := c.repo.WithWriteTx(ctx, func(ctx context.Context) error {
		winner, err := c.loadActive(ctx, tenantID, winnerID)
		if err != nil {
			return err
		}
		loser, err := c.loadActive(ctx, tenantID, loserID)
		if err != nil {
			return err
		}
		if winner.Version != winnerVersion {
			return errs.Conflict(winnerID, "winner version changed (expected %d, found %d)", winnerVersion, winner.Version)
		}
		if loser.Version != loserVersion {
			return errs.Conflict(loserID, "loser version changed (expected %d, found %d)", loserVersion, loser.Version)
		}

		conflicts, err := c.transferDataItems(ctx, tenantID, winnerID, loserID, record)
		if err != nil {
			return err
		}
		record.ConflictsResolved = conflicts

		moved, err := c.repo.RepointRelationships(ctx, tenantID, loserID, winnerID)
		if err != nil {
			return err
		}
		record.RelationshipsMoved = moved

		if err := c.repo.RetireEntity(ctx, tenantID, loserID, winnerID); err != nil {
			return err
		}

		if _, err := c.repo.BumpVersion(ctx, tenantID, winnerID, winnerVersion); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.records.Create(ctx, record); err != nil {
		// The merge already committed; the audit write is repaired by hand,
		// never by unwinding the merge.
		log.WithError(err).Error("Merge committed but audit record write failed")
		return nil, err
	}

	if c.emitter != nil {
		c.emitter.EmitEntityMerged(ctx, record)
	}

	log.WithFields(map[string]any{
		"merge_id":            record.ID,
		"relationships_moved": record.RelationshipsMoved,
		"conflicts":           len(record.ConflictsResolved),
	}).Info("Merged entities")
	return record, nil
}

// transferDataItems moves the loser's data items to the winner, dropping any
// item whose (kind, normalized value) the winner already holds. Dropped items
// stay attached to the tombstoned loser and are recorded as conflicts.
func (c *Coordinator) transferDataItems(
	ctx context.Context,
	tenantID, winnerID, loserID string,
	record *models.MergeRecord,
) ([]models.ConflictResolution, error) {
	winnerItems, err := c.repo.ListDataItems(ctx, tenantID, winnerID)
	if err != nil {
		return nil, err
	}
	loserItems, err := c.repo.ListDataItems(ctx, tenantID, loserID)
	if err != nil {
		return nil, err
	}

	type itemKey struct {
		kind  models.FieldKind
		value string
	}
	held := make(map[itemKey]string, len(winnerItems))
	for _, item := range winnerItems {
		key := itemKey{kind: item.Kind, value: item.NormalizedValue}
		if item.Kind.IsBinary() {
			key.value = item.ContentHash
		}
		held[key] = item.ID
	}

	var conflicts []models.ConflictResolution
	for _, item := range loserItems {
		key := itemKey{kind: item.Kind, value: item.NormalizedValue}
		if item.Kind.IsBinary() {
			key.value = item.ContentHash
		}

		if keptID, dup := held[key]; dup {
			conflicts = append(conflicts, models.ConflictResolution{
				Kind:            item.Kind,
				NormalizedValue: key.value,
				KeptItemID:      keptID,
				DroppedItemID:   item.ID,
				Resolution:      "winner copy kept",
			})
			continue
		}

		if err := c.repo.TransferDataItem(ctx, tenantID, item.ID, winnerID); err != nil {
			return nil, err
		}
		held[key] = item.ID
		record.DataTransferred[item.Kind]++
	}
	return conflicts, nil
}

// loadActive fetches an entity and rejects retired participants.
func (c *Coordinator) loadActive(ctx context.Context, tenantID, id string) (*models.Entity, error) {
	entity, err := c.repo.GetEntity(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, errs.NotFound(id, "entity not found")
	}
	if entity.Retired {
		target := id
		if entity.MergedInto != nil {
			target = *entity.MergedInto
		}
		return nil, errs.Conflict(id, "entity was already merged into %s", target)
	}
	return entity, nil
}
