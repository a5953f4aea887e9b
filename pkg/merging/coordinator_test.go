package merging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/errs"
	"github.com/Ramsey-B/thistle/pkg/logging"
	"github.com/Ramsey-B/thistle/pkg/models"
)

// fakeGraphRepo is an in-memory Repository with snapshot rollback: mutations
// inside a failed WithWriteTx are discarded, mirroring the real transactional
// behavior.
type fakeGraphRepo struct {
	entities map[string]*models.Entity
	items    map[string]*models.DataItem // id -> item
	edges    int                         // relationships attached to the loser
}

func newFakeGraphRepo() *fakeGraphRepo {
	return &fakeGraphRepo{
		entities: make(map[string]*models.Entity),
		items:    make(map[string]*models.DataItem),
	}
}

func (f *fakeGraphRepo) snapshot() *fakeGraphRepo {
	snap := newFakeGraphRepo()
	snap.edges = f.edges
	for id, e := range f.entities {
		copied := *e
		snap.entities[id] = &copied
	}
	for id, item := range f.items {
		copied := *item
		snap.items[id] = &copied
	}
	return snap
}

func (f *fakeGraphRepo) restore(snap *fakeGraphRepo) {
	f.entities = snap.entities
	f.items = snap.items
	f.edges = snap.edges
}

func (f *fakeGraphRepo) WithWriteTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := f.snapshot()
	if err := fn(ctx); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeGraphRepo) GetEntity(ctx context.Context, tenantID, id string) (*models.Entity, error) {
	e, ok := f.entities[id]
	if !ok || e.TenantID != tenantID {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (f *fakeGraphRepo) ListDataItems(ctx context.Context, tenantID, ownerID string) ([]models.DataItem, error) {
	var out []models.DataItem
	for _, item := range f.items {
		if item.TenantID == tenantID && item.OwnerEntityID != nil && *item.OwnerEntityID == ownerID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (f *fakeGraphRepo) TransferDataItem(ctx context.Context, tenantID, itemID, toOwnerID string) error {
	item, ok := f.items[itemID]
	if !ok {
		return errs.NotFound(itemID, "data item not found")
	}
	owner := toOwnerID
	item.OwnerEntityID = &owner
	return nil
}

func (f *fakeGraphRepo) RepointRelationships(ctx context.Context, tenantID, fromID, toID string) (int, error) {
	moved := f.edges
	f.edges = 0
	return moved, nil
}

func (f *fakeGraphRepo) RetireEntity(ctx context.Context, tenantID, loserID, winnerID string) error {
	e, ok := f.entities[loserID]
	if !ok {
		return errs.NotFound(loserID, "entity not found")
	}
	winner := winnerID
	e.Retired = true
	e.MergedInto = &winner
	return nil
}

func (f *fakeGraphRepo) BumpVersion(ctx context.Context, tenantID, id string, expected int64) (int64, error) {
	e, ok := f.entities[id]
	if !ok {
		return 0, errs.NotFound(id, "entity not found")
	}
	if e.Version != expected {
		return 0, errs.Conflict(id, "version changed (expected %d)", expected)
	}
	e.Version = expected + 1
	return e.Version, nil
}

func (f *fakeGraphRepo) addEntity(id string, version int64) {
	f.entities[id] = &models.Entity{ID: id, TenantID: "t1", EntityType: models.EntityTypePerson, Version: version}
}

func (f *fakeGraphRepo) addItem(id, owner string, kind models.FieldKind, value string) {
	o := owner
	f.items[id] = &models.DataItem{
		ID:              id,
		TenantID:        "t1",
		Kind:            kind,
		NormalizedValue: value,
		OwnerEntityID:   &o,
	}
}

type fakeRecords struct {
	records []*models.MergeRecord
	err     error
}

func (f *fakeRecords) Create(ctx context.Context, record *models.MergeRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func newTestCoordinator(repo *fakeGraphRepo, records *fakeRecords) *Coordinator {
	return NewCoordinator(logging.NewNopLogger(), repo, records, nil)
}

func TestMergeTransfersDataAndRetiresLoser(t *testing.T) {
	repo := newFakeGraphRepo()
	repo.addEntity("winner", 1)
	repo.addEntity("loser", 1)
	repo.addItem("d1", "loser", models.FieldKindEmail, "a@example.com")
	repo.addItem("d2", "loser", models.FieldKindPhone, "+15551234567")
	repo.edges = 3
	records := &fakeRecords{}

	c := newTestCoordinator(repo, records)
	record, err := c.Merge(context.Background(), "t1", "winner", "loser", "confirmed duplicate", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, record.DataTransferred[models.FieldKindEmail])
	assert.Equal(t, 1, record.DataTransferred[models.FieldKindPhone])
	assert.Equal(t, 3, record.RelationshipsMoved)
	assert.Empty(t, record.ConflictsResolved)

	// Items now belong to the winner
	winnerItems, _ := repo.ListDataItems(context.Background(), "t1", "winner")
	assert.Len(t, winnerItems, 2)

	// Loser is tombstoned, pointing at the winner
	loser := repo.entities["loser"]
	assert.True(t, loser.Retired)
	require.NotNil(t, loser.MergedInto)
	assert.Equal(t, "winner", *loser.MergedInto)

	// Winner version bumped
	assert.Equal(t, int64(2), repo.entities["winner"].Version)

	// Audit record written
	require.Len(t, records.records, 1)
	assert.Equal(t, record.ID, records.records[0].ID)
}

func TestMergeDropsDuplicateItems(t *testing.T) {
	repo := newFakeGraphRepo()
	repo.addEntity("winner", 1)
	repo.addEntity("loser", 1)
	repo.addItem("w1", "winner", models.FieldKindEmail, "a@example.com")
	repo.addItem("l1", "loser", models.FieldKindEmail, "a@example.com")
	repo.addItem("l2", "loser", models.FieldKindEmail, "b@example.com")
	records := &fakeRecords{}

	c := newTestCoordinator(repo, records)
	record, err := c.Merge(context.Background(), "t1", "winner", "loser", "confirmed duplicate", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, record.DataTransferred[models.FieldKindEmail])
	require.Len(t, record.ConflictsResolved, 1)
	assert.Equal(t, "w1", record.ConflictsResolved[0].KeptItemID)
	assert.Equal(t, "l1", record.ConflictsResolved[0].DroppedItemID)
	assert.Equal(t, "winner copy kept", record.ConflictsResolved[0].Resolution)

	// The dropped duplicate stays on the tombstoned loser
	loserItems, _ := repo.ListDataItems(context.Background(), "t1", "loser")
	require.Len(t, loserItems, 1)
	assert.Equal(t, "l1", loserItems[0].ID)
}

func TestMergeSelfIsRejected(t *testing.T) {
	repo := newFakeGraphRepo()
	repo.addEntity("e1", 1)

	c := newTestCoordinator(repo, &fakeRecords{})
	_, err := c.Merge(context.Background(), "t1", "e1", "e1", "confirmed duplicate", nil)
	assert.True(t, errs.IsValidation(err))
}

func TestMergeMissingEntity(t *testing.T) {
	repo := newFakeGraphRepo()
	repo.addEntity("winner", 1)

	c := newTestCoordinator(repo, &fakeRecords{})
	_, err := c.Merge(context.Background(), "t1", "winner", "missing", "confirmed duplicate", nil)
	assert.True(t, errs.IsNotFound(err))
}

func TestMergeVersionConflictMutatesNothing(t *testing.T) {
	repo := newFakeGraphRepo()
	repo.addEntity("winner", 5)
	repo.addEntity("loser", 2)
	repo.addItem("l1", "loser", models.FieldKindEmail, "a@example.com")
	repo.edges = 1
	records := &fakeRecords{}

	c := newTestCoordinator(repo, records)
	_, err := c.MergeWithVersions(context.Background(), "t1", "winner", "loser", 4, 2, "confirmed duplicate", nil)
	assert.True(t, errs.IsConflict(err))

	// Nothing changed
	assert.False(t, repo.entities["loser"].Retired)
	assert.Equal(t, int64(5), repo.entities["winner"].Version)
	assert.Equal(t, 1, repo.edges)
	loserItems, _ := repo.ListDataItems(context.Background(), "t1", "loser")
	assert.Len(t, loserItems, 1)
	assert.Empty(t, records.records)
}

func TestMergeIntoRetiredEntityIsConflict(t *testing.T) {
	repo := newFakeGraphRepo()
	repo.addEntity("winner", 1)
	repo.addEntity("loser", 1)
	target := "winner"
	repo.entities["loser"].Retired = true
	repo.entities["loser"].MergedInto = &target

	c := newTestCoordinator(repo, &fakeRecords{})
	_, err := c.Merge(context.Background(), "t1", "other", "loser", "confirmed duplicate", nil)
	assert.Error(t, err)

	_, err = c.Merge(context.Background(), "t1", "winner", "loser", "confirmed duplicate", nil)
	assert.True(t, errs.IsConflict(err))
}

func TestMergeAuditFailureSurfacesButMergeStands(t *testing.T) {
	repo := newFakeGraphRepo()
	repo.addEntity("winner", 1)
	repo.addEntity("loser", 1)
	records := &fakeRecords{err: errs.Unavailable("merge_records", assert.AnError)}

	c := newTestCoordinator(repo, records)
	_, err := c.Merge(context.Background(), "t1", "winner", "loser", "confirmed duplicate", nil)
	require.Error(t, err)

	// The graph mutation committed despite the audit failure
	assert.True(t, repo.entities["loser"].Retired)
	assert.Equal(t, int64(2), repo.entities["winner"].Version)
}
