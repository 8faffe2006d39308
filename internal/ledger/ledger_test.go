package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	masters map[int64]Master
	records []*PageRecord
	nextID  int64
}

func newMemRepo(masters ...Master) *memRepo {
	r := &memRepo{masters: map[int64]Master{}}
	for _, m := range masters {
		r.masters[m.ID] = m
	}
	return r
}

func (r *memRepo) add(masterID int64, page, pageCount int, ref string) *PageRecord {
	r.nextID++
	rec := &PageRecord{ID: r.nextID, MasterID: Int64Ptr(masterID), LogicalPage: IntPtr(page), PageCount: pageCount, SourceRef: ref, Status: StatusAssembled}
	r.records = append(r.records, rec)
	return rec
}

func (r *memRepo) MasterByID(_ context.Context, id int64) (*Master, error) {
	m, ok := r.masters[id]
	if !ok {
		return nil, Wrap(ErrNotFound, "master", fmt.Sprintf("id %d", id), nil)
	}
	return &m, nil
}

func (r *memRepo) RecordsByMaster(_ context.Context, masterID int64) ([]PageRecord, error) {
	var out []PageRecord
	for _, rec := range r.records {
		if rec.MasterID != nil && *rec.MasterID == masterID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].LogicalPage < *out[j].LogicalPage })
	return out, nil
}

func (r *memRepo) RecordBySourceRef(_ context.Context, ref string) (*PageRecord, error) {
	for _, rec := range r.records {
		if rec.SourceRef == ref {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, Wrap(ErrNotFound, "record", ref, nil)
}

func (r *memRepo) SetRecordPage(_ context.Context, id int64, page int) error {
	var target *PageRecord
	for _, rec := range r.records {
		if rec.ID == id {
			target = rec
		}
	}
	if target == nil {
		return Wrap(ErrNotFound, "record", fmt.Sprint(id), nil)
	}
	for _, rec := range r.records {
		if rec.ID != id && rec.Assigned() && *rec.MasterID == *target.MasterID && *rec.LogicalPage == page {
			return errors.New("UNIQUE constraint failed")
		}
	}
	target.LogicalPage = IntPtr(page)
	return nil
}

func (r *memRepo) UpdateRecord(_ context.Context, rec *PageRecord) error {
	for i, existing := range r.records {
		if existing.ID == rec.ID {
			cp := *rec
			r.records[i] = &cp
			return nil
		}
	}
	return Wrap(ErrNotFound, "record", rec.SourceRef, nil)
}

func (r *memRepo) pageOf(ref string) int {
	for _, rec := range r.records {
		if rec.SourceRef == ref {
			return *rec.LogicalPage
		}
	}
	return -1
}

type fixedCounter map[int64]int

func (c fixedCounter) PageCount(_ context.Context, m Master) (int, error) {
	n, ok := c[m.ID]
	if !ok {
		return 0, errors.New("no such file")
	}
	return n, nil
}

var (
	masterA = Master{ID: 1, CategoryID: 1, Name: "news_1", Index: 1, LeadingPages: 1}
	masterB = Master{ID: 2, CategoryID: 1, Name: "news_2", Index: 2, LeadingPages: 1}
)

func TestAssignEmptyLedgerStartsAtZero(t *testing.T) {
	repo := newMemRepo(masterA)
	page, err := New(nil).Assign(context.Background(), repo, masterA.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, page)
}

func TestAssignWithoutTargetAppends(t *testing.T) {
	repo := newMemRepo(masterA)
	repo.add(masterA.ID, 0, 3, "a")
	repo.add(masterA.ID, 3, 2, "b")

	page, err := New(nil).Assign(context.Background(), repo, masterA.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, page)
}

func TestAssignSnapsToDisplacedStart(t *testing.T) {
	repo := newMemRepo(masterA)
	repo.add(masterA.ID, 10, 5, "first")
	repo.add(masterA.ID, 15, 6, "second")

	page, err := New(nil).Assign(context.Background(), repo, masterA.ID, IntPtr(13))
	require.NoError(t, err)
	assert.Equal(t, 15, page)
	assert.Equal(t, 16, repo.pageOf("second"))
	assert.Equal(t, 10, repo.pageOf("first"))
}

func TestAssignTargetBeyondHighestCollapsesGap(t *testing.T) {
	repo := newMemRepo(masterA)
	repo.add(masterA.ID, 0, 1, "a")
	repo.add(masterA.ID, 4, 1, "b")

	page, err := New(nil).Assign(context.Background(), repo, masterA.ID, IntPtr(40))
	require.NoError(t, err)
	assert.Equal(t, 5, page)

	plan := PlanAssign([]PageRecord{*repo.records[0], *repo.records[1]}, IntPtr(40))
	assert.True(t, plan.GapCollapsed)
	assert.Empty(t, plan.Shifts)
}

func TestAssignShiftsDescendingWithoutCollision(t *testing.T) {
	repo := newMemRepo(masterA)
	repo.add(masterA.ID, 0, 1, "a")
	repo.add(masterA.ID, 1, 1, "b")
	repo.add(masterA.ID, 2, 1, "c")

	page, err := New(nil).Assign(context.Background(), repo, masterA.ID, IntPtr(0))
	require.NoError(t, err)
	assert.Equal(t, 0, page)
	assert.Equal(t, []int{1, 2, 3}, []int{repo.pageOf("a"), repo.pageOf("b"), repo.pageOf("c")})
}

func TestAssignUnknownMaster(t *testing.T) {
	repo := newMemRepo(masterA)
	_, err := New(nil).Assign(context.Background(), repo, 99, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignReturnsUniquePages(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	repo := newMemRepo(masterA)
	l := New(nil)
	for i := 0; i < 200; i++ {
		var target *int
		if rnd.Intn(3) > 0 {
			target = IntPtr(rnd.Intn(i + 5))
		}
		page, err := l.Assign(context.Background(), repo, masterA.ID, target)
		require.NoError(t, err)
		repo.add(masterA.ID, page, 1, fmt.Sprintf("doc-%d", i))

		seen := map[int]bool{}
		for _, rec := range repo.records {
			require.False(t, seen[*rec.LogicalPage], "page %d claimed twice after %d assigns", *rec.LogicalPage, i+1)
			seen[*rec.LogicalPage] = true
		}
	}
}

func TestRangeOfLastRecordRunsToPhysicalEnd(t *testing.T) {
	repo := newMemRepo(masterA)
	repo.add(masterA.ID, 0, 3, "a")
	repo.add(masterA.ID, 3, 4, "b")
	// placeholder + 7 content pages
	l := New(fixedCounter{masterA.ID: 8})

	rng, err := l.RangeOf(context.Background(), repo, "b")
	require.NoError(t, err)
	assert.Equal(t, 3, rng.Start)
	assert.Equal(t, 6, rng.End)
	assert.Equal(t, 4, rng.Pages())

	rng, err = l.RangeOf(context.Background(), repo, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, rng.Start)
	assert.Equal(t, 2, rng.End)
}

func TestResolveIgnoresSuccessorInOtherMaster(t *testing.T) {
	rec := PageRecord{ID: 1, MasterID: Int64Ptr(masterA.ID), LogicalPage: IntPtr(2), SourceRef: "x"}
	other := PageRecord{ID: 2, MasterID: Int64Ptr(masterB.ID), LogicalPage: IntPtr(3), SourceRef: "y"}

	rng := Resolve(masterA, rec, []PageRecord{rec, other}, 9)
	assert.Equal(t, 2, rng.Start)
	assert.Equal(t, 9, rng.End)
}

func TestRangeOfUnassignedRecord(t *testing.T) {
	repo := newMemRepo(masterA)
	rec := repo.add(masterA.ID, 0, 1, "a")
	rec.MasterID = nil
	rec.LogicalPage = nil

	_, err := New(fixedCounter{}).RangeOf(context.Background(), repo, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = New(fixedCounter{}).RangeOf(context.Background(), repo, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMoveRejectsClaimedPage(t *testing.T) {
	repo := newMemRepo(masterA, masterB)
	repo.add(masterA.ID, 0, 1, "a")
	repo.add(masterB.ID, 0, 1, "b")
	l := New(nil)

	_, err := l.Move(context.Background(), repo, "a", masterB.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)

	moved, err := l.Move(context.Background(), repo, "a", masterB.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, masterB.ID, *moved.MasterID)
	assert.Equal(t, 1, repo.pageOf("a"))
	assert.Equal(t, 0, repo.pageOf("b"))

	_, err = l.Move(context.Background(), repo, "a", 42, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompactDerivesStartsFromPageCounts(t *testing.T) {
	repo := newMemRepo(masterA)
	repo.add(masterA.ID, 0, 2, "a")
	repo.add(masterA.ID, 5, 3, "b")
	repo.add(masterA.ID, 9, 1, "c")

	shifts, err := New(nil).Compact(context.Background(), repo, masterA.ID)
	require.NoError(t, err)
	assert.Len(t, shifts, 2)
	assert.Equal(t, []int{0, 2, 5}, []int{repo.pageOf("a"), repo.pageOf("b"), repo.pageOf("c")})

	shifts, err = New(nil).Compact(context.Background(), repo, masterA.ID)
	require.NoError(t, err)
	assert.Empty(t, shifts)
}

func TestKindLabels(t *testing.T) {
	assert.Equal(t, "ok", Kind(nil))
	assert.Equal(t, "invalid_range", Kind(Wrap(ErrInvalidRange, "prune", "start after end", nil)))
	assert.Equal(t, "prune_failed", Kind(fmt.Errorf("outer: %w", Wrap(ErrPruneFailed, "save", "", errors.New("disk")))))
	assert.Equal(t, "unknown", Kind(errors.New("boom")))

	err := Wrap(ErrAssemblyFailed, "append", "commit", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrAssemblyFailed)
	assert.Equal(t, "assembly failed: append: commit: context canceled", err.Error())
}
