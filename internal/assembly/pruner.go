package assembly

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/masterdoc/internal/document"
	"github.com/local/masterdoc/internal/events"
	"github.com/local/masterdoc/internal/ledger"
	"github.com/local/masterdoc/internal/metrics"
	"github.com/local/masterdoc/internal/store"
)

// RemoveOptions controls what happens to the ledger row of a removed
// sub-document.
type RemoveOptions struct {
	// LeavePlaceholder keeps the row with no master so the source can be
	// packed again; otherwise the row is deleted.
	LeavePlaceholder bool
	// Status is written to a kept row. Defaults to pending.
	Status ledger.RecordStatus
	// Compact renumbers the master's remaining records in the same transaction.
	Compact bool
}

// DefaultRemoveOptions keeps a pending placeholder row.
func DefaultRemoveOptions() RemoveOptions {
	return RemoveOptions{LeavePlaceholder: true, Status: ledger.StatusPending}
}

type Pruner struct {
	deps Dependencies
}

func NewPruner(deps Dependencies) *Pruner {
	return &Pruner{deps: deps}
}

// Remove deletes the pages of sourceRef from its master and returns the
// range that was removed. Other records keep their page numbers unless
// opts.Compact is set.
func (p *Pruner) Remove(ctx context.Context, sourceRef string, opts RemoveOptions) (ledger.Range, error) {
	ref, err := ledger.NormalizeRef(sourceRef)
	if err != nil {
		return ledger.Range{}, ledger.Wrap(ledger.ErrNotFound, "remove", sourceRef, err)
	}

	var (
		rng      ledger.Range
		category string
		written  document.Document
		mode     string
	)
	err = p.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
		rec, err := tx.RecordBySourceRef(ctx, ref)
		if err != nil {
			return err
		}
		if !rec.Assigned() {
			return ledger.Wrap(ledger.ErrNotFound, "remove", ref+" has no master", nil)
		}
		master, err := tx.MasterByID(ctx, *rec.MasterID)
		if err != nil {
			return err
		}
		cat, err := tx.CategoryByID(ctx, master.CategoryID)
		if err != nil {
			return err
		}
		category = cat.Name
		siblings, err := tx.RecordsByMaster(ctx, master.ID)
		if err != nil {
			return err
		}

		doc, err := p.deps.Editor.Open(master.FilePath)
		if err != nil {
			return ledger.Wrap(ledger.ErrPruneFailed, "remove", "open "+master.Name, err)
		}
		defer doc.Close()

		contentPages := doc.PageCount() - master.LeadingPages
		rng = ledger.Resolve(*master, *rec, siblings, contentPages-1)
		if rng.Start > rng.End || rng.Start < 0 || rng.End >= contentPages {
			return ledger.Wrap(ledger.ErrInvalidRange, "remove",
				fmt.Sprintf("%s: pages %d-%d outside %d content pages of %s", ref, rng.Start, rng.End, contentPages, master.Name), nil)
		}

		if err := doc.DeleteRange(rng.Start+master.LeadingPages, rng.End+master.LeadingPages); err != nil {
			return ledger.Wrap(ledger.ErrPruneFailed, "remove", master.Name, err)
		}
		mode = "incremental"
		if err := doc.Save(true); err != nil {
			log.Warn().Err(err).Str("master", master.Name).Msg("incremental save rejected; rewriting master")
			mode = "full"
			if err := doc.Save(false); err != nil {
				metrics.IncPrune("failed")
				return ledger.Wrap(ledger.ErrPruneFailed, "remove", master.Name, err)
			}
		}
		written = doc

		if opts.LeavePlaceholder {
			rec.MasterID = nil
			rec.LogicalPage = nil
			rec.Status = opts.Status
			if rec.Status == "" {
				rec.Status = ledger.StatusPending
			}
			if err := tx.UpdateRecord(ctx, rec); err != nil {
				return err
			}
		} else if err := tx.DeleteRecord(ctx, rec.ID); err != nil {
			return err
		}

		if opts.Compact {
			if _, err := p.deps.Ledger.Compact(ctx, tx, master.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if written != nil {
			if rerr := written.Revert(); rerr != nil {
				log.Error().Err(rerr).Str("file", written.Path()).Msg("revert master after failed remove")
			}
		}
		if ledger.Kind(err) == "unknown" {
			err = ledger.Wrap(ledger.ErrPruneFailed, "remove", ref, err)
		}
		return ledger.Range{}, err
	}

	metrics.IncPrune(mode)
	log.Info().
		Str("category", category).
		Str("master", rng.Master.Name).
		Str("source_ref", ref).
		Int("start_page", rng.Start).
		Int("end_page", rng.End).
		Str("save", mode).
		Bool("placeholder", opts.LeavePlaceholder).
		Msg("sub-document removed")

	ev := events.Event{Type: events.Removed, Category: category, Master: rng.Master.Name, SourceRef: ref, StartPage: rng.Start, EndPage: rng.End}
	if perr := p.deps.publisher().Publish(ctx, ev); perr != nil {
		log.Warn().Err(perr).Str("source_ref", ref).Msg("publish removed event")
	}
	return rng, nil
}
