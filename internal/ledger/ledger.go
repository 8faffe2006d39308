package ledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/masterdoc/internal/metrics"
)

// Repo is the part of the store the ledger works against. Every call runs
// inside the caller's transaction.
type Repo interface {
	MasterByID(ctx context.Context, id int64) (*Master, error)
	RecordsByMaster(ctx context.Context, masterID int64) ([]PageRecord, error)
	RecordBySourceRef(ctx context.Context, sourceRef string) (*PageRecord, error)
	SetRecordPage(ctx context.Context, recordID int64, page int) error
	UpdateRecord(ctx context.Context, rec *PageRecord) error
}

// PageCounter reports the physical page count of a master file.
type PageCounter interface {
	PageCount(ctx context.Context, m Master) (int, error)
}

type Ledger struct {
	pages PageCounter
}

func New(pages PageCounter) *Ledger {
	return &Ledger{pages: pages}
}

// Assign returns the start page for a new sub-document in masterID, shifting
// records forward when target lands inside the occupied range.
func (l *Ledger) Assign(ctx context.Context, repo Repo, masterID int64, target *int) (int, error) {
	if _, err := repo.MasterByID(ctx, masterID); err != nil {
		return 0, err
	}
	records, err := repo.RecordsByMaster(ctx, masterID)
	if err != nil {
		return 0, fmt.Errorf("load records: %w", err)
	}

	plan := PlanAssign(records, target)
	for _, s := range plan.Shifts {
		if err := repo.SetRecordPage(ctx, s.RecordID, s.To); err != nil {
			return 0, fmt.Errorf("shift record %d: %w", s.RecordID, err)
		}
	}
	if len(plan.Shifts) > 0 {
		metrics.AddAssignShifts(len(plan.Shifts))
		log.Debug().Int64("master_id", masterID).Int("page", plan.Page).Int("shifted", len(plan.Shifts)).Msg("displaced records shifted")
	}
	if plan.GapCollapsed {
		log.Info().Int64("master_id", masterID).Int("requested", *target).Int("page", plan.Page).Msg("target beyond last record; gap collapsed")
	}
	return plan.Page, nil
}

// RangeOf resolves the content page range of sourceRef inside its master.
func (l *Ledger) RangeOf(ctx context.Context, repo Repo, sourceRef string) (Range, error) {
	rec, err := repo.RecordBySourceRef(ctx, sourceRef)
	if err != nil {
		return Range{}, err
	}
	if !rec.Assigned() {
		return Range{}, Wrap(ErrNotFound, "range", fmt.Sprintf("%s has no master", sourceRef), nil)
	}
	master, err := repo.MasterByID(ctx, *rec.MasterID)
	if err != nil {
		return Range{}, err
	}
	siblings, err := repo.RecordsByMaster(ctx, master.ID)
	if err != nil {
		return Range{}, fmt.Errorf("load records: %w", err)
	}
	total, err := l.pages.PageCount(ctx, *master)
	if err != nil {
		return Range{}, fmt.Errorf("count pages of %s: %w", master.Name, err)
	}
	return Resolve(*master, *rec, siblings, total-master.LeadingPages-1), nil
}

// Move points a record at an explicit page of another master. Other records
// are never renumbered.
func (l *Ledger) Move(ctx context.Context, repo Repo, sourceRef string, masterID int64, page int) (*PageRecord, error) {
	if page < 0 {
		return nil, Wrap(ErrInvalidRange, "move", fmt.Sprintf("negative page %d", page), nil)
	}
	rec, err := repo.RecordBySourceRef(ctx, sourceRef)
	if err != nil {
		return nil, err
	}
	if _, err := repo.MasterByID(ctx, masterID); err != nil {
		return nil, err
	}
	records, err := repo.RecordsByMaster(ctx, masterID)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	for _, other := range records {
		if other.ID != rec.ID && other.LogicalPage != nil && *other.LogicalPage == page {
			return nil, Wrap(ErrInvalidRange, "move", fmt.Sprintf("page %d already claimed by %s", page, other.SourceRef), nil)
		}
	}
	rec.MasterID = Int64Ptr(masterID)
	rec.LogicalPage = IntPtr(page)
	if err := repo.UpdateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	log.Info().Str("source_ref", sourceRef).Int64("master_id", masterID).Int("page", page).Msg("record moved")
	return rec, nil
}

// Compact rewrites the starts of a master's records so they are contiguous
// according to their page counts.
func (l *Ledger) Compact(ctx context.Context, repo Repo, masterID int64) ([]Shift, error) {
	if _, err := repo.MasterByID(ctx, masterID); err != nil {
		return nil, err
	}
	records, err := repo.RecordsByMaster(ctx, masterID)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	shifts := PlanCompact(records)
	// Park moved records on negative pages first so the unique index on
	// (master, page) never sees two claims at once.
	for i, s := range shifts {
		if err := repo.SetRecordPage(ctx, s.RecordID, -(i + 1)); err != nil {
			return nil, fmt.Errorf("park record %d: %w", s.RecordID, err)
		}
	}
	for _, s := range shifts {
		if err := repo.SetRecordPage(ctx, s.RecordID, s.To); err != nil {
			return nil, fmt.Errorf("compact record %d: %w", s.RecordID, err)
		}
	}
	if len(shifts) > 0 {
		log.Info().Int64("master_id", masterID).Int("moved", len(shifts)).Msg("ledger compacted")
	}
	return shifts, nil
}
