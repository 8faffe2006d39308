// Package orchestrator drains the queue of downloaded sub-documents into
// their category masters and exposes the ledger operations to callers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/masterdoc/internal/assembly"
	"github.com/local/masterdoc/internal/events"
	"github.com/local/masterdoc/internal/ledger"
	"github.com/local/masterdoc/internal/lock"
	"github.com/local/masterdoc/internal/statuscheck"
	"github.com/local/masterdoc/internal/storage"
	"github.com/local/masterdoc/internal/store"
)

type Appender interface {
	Append(ctx context.Context, category, sourceRef string, content []byte) (assembly.Placement, error)
}

type Remover interface {
	Remove(ctx context.Context, sourceRef string, opts assembly.RemoveOptions) (ledger.Range, error)
}

type Dependencies struct {
	Store  *store.Store
	Ledger *ledger.Ledger
	Packer Appender
	Pruner Remover
	Source storage.Source
	Locker lock.Locker
	// Checker backs /health. Optional.
	Checker *statuscheck.Checker
	// DownloadDir is walked by Scan.
	DownloadDir string
}

type Orchestrator struct {
	deps Dependencies
}

func New(deps Dependencies) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// RunReport counts per-item outcomes of one Run.
type RunReport struct {
	RunID      string   `json:"run_id"`
	Categories []string `json:"categories"`
	Consumed   int      `json:"consumed"`
	Failed     int      `json:"failed"`
	Retry      int      `json:"retry"`
	// Skipped lists categories whose lock was held elsewhere.
	Skipped    []string `json:"skipped,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// Run packs every pending sub-document, category by category in name order.
// Cancellation is checked between items; an append in flight always finishes.
func (o *Orchestrator) Run(ctx context.Context) (RunReport, error) {
	start := time.Now()
	rep := RunReport{RunID: uuid.NewString()}
	ctx = events.WithRunID(ctx, rep.RunID)
	logger := log.With().Str("run_id", rep.RunID).Logger()

	var cats []ledger.Category
	err := o.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		cats, err = tx.PendingCategories(ctx)
		return err
	})
	if err != nil {
		return rep, fmt.Errorf("list pending categories: %w", err)
	}
	logger.Info().Int("categories", len(cats)).Msg("assembly run started")

	for _, cat := range cats {
		if err := ctx.Err(); err != nil {
			return o.finish(rep, start), err
		}
		if err := o.runCategory(ctx, cat, &rep); err != nil {
			if errors.Is(err, lock.ErrLocked) {
				logger.Warn().Str("category", cat.Name).Msg("category locked by another run; skipping")
				rep.Skipped = append(rep.Skipped, cat.Name)
				continue
			}
			return o.finish(rep, start), err
		}
		rep.Categories = append(rep.Categories, cat.Name)
	}

	rep = o.finish(rep, start)
	logger.Info().
		Int("consumed", rep.Consumed).
		Int("failed", rep.Failed).
		Int("retry", rep.Retry).
		Int64("duration_ms", rep.DurationMs).
		Msg("assembly run finished")
	return rep, nil
}

func (o *Orchestrator) finish(rep RunReport, start time.Time) RunReport {
	rep.DurationMs = time.Since(start).Milliseconds()
	return rep
}

func (o *Orchestrator) runCategory(ctx context.Context, cat ledger.Category, rep *RunReport) error {
	release, err := o.deps.Locker.Acquire(ctx, cat.Name)
	if err != nil {
		return err
	}
	defer release()

	var items []ledger.Unprocessed
	err = o.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		items, err = tx.PendingUnprocessed(ctx, cat.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("list pending for %s: %w", cat.Name, err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.processItem(ctx, item, rep)
	}
	return nil
}

func (o *Orchestrator) processItem(ctx context.Context, item ledger.Unprocessed, rep *RunReport) {
	entry := log.With().
		Str("run_id", events.RunID(ctx)).
		Str("category", item.Category).
		Str("source_ref", item.SourceRef).
		Logger()

	content, err := o.deps.Source.Open(ctx, item.ContentRef)
	if err == nil {
		_, err = o.deps.Packer.Append(ctx, item.Category, item.SourceRef, content)
	}

	switch {
	case err == nil:
		rep.Consumed++
		o.mark(ctx, item, ledger.QueueConsumed, "")
	case errors.Is(err, ledger.ErrMalformedContent):
		rep.Failed++
		entry.Warn().Err(err).Msg("sub-document rejected")
		o.mark(ctx, item, ledger.QueueFailed, err.Error())
	case errors.Is(err, ledger.ErrInvalidRange):
		rep.Retry++
		entry.Warn().Err(err).Msg("ledger out of step with master; left pending")
	default:
		rep.Retry++
		entry.Error().Err(err).Str("kind", ledger.Kind(err)).Str("content_ref", item.ContentRef).Msg("sub-document left pending")
	}
}

func (o *Orchestrator) mark(ctx context.Context, item ledger.Unprocessed, status ledger.QueueStatus, msg string) {
	err := o.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.MarkUnprocessed(ctx, item.ID, status, msg)
	})
	if err != nil {
		log.Error().Err(err).Str("source_ref", item.SourceRef).Str("status", string(status)).Msg("failed to update queue row")
	}
}

// Enqueue registers a downloaded sub-document for the next run. It reports
// false when the source ref is already queued.
func (o *Orchestrator) Enqueue(ctx context.Context, category, sourceRef, contentRef string) (bool, error) {
	if category == "" || contentRef == "" {
		return false, errors.New("category and content ref are required")
	}
	ref, err := ledger.NormalizeRef(sourceRef)
	if err != nil {
		return false, err
	}
	var added bool
	err = o.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
		cat, err := tx.EnsureCategory(ctx, category)
		if err != nil {
			return err
		}
		added, err = tx.Enqueue(ctx, &ledger.Unprocessed{
			SourceRef:  ref,
			CategoryID: cat.ID,
			ContentRef: contentRef,
		})
		return err
	})
	if err != nil {
		return false, err
	}
	if added {
		log.Debug().Str("category", category).Str("source_ref", ref).Msg("sub-document queued")
	}
	return added, nil
}

// Range resolves the content pages of sourceRef.
func (o *Orchestrator) Range(ctx context.Context, sourceRef string) (ledger.Range, error) {
	ref, err := ledger.NormalizeRef(sourceRef)
	if err != nil {
		return ledger.Range{}, ledger.Wrap(ledger.ErrNotFound, "range", sourceRef, err)
	}
	var rng ledger.Range
	err = o.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		rng, err = o.deps.Ledger.RangeOf(ctx, tx, ref)
		return err
	})
	return rng, err
}

// Remove prunes sourceRef out of its master.
func (o *Orchestrator) Remove(ctx context.Context, sourceRef string, opts assembly.RemoveOptions) (ledger.Range, error) {
	return o.deps.Pruner.Remove(ctx, sourceRef, opts)
}

// Compact renumbers the records of a master so their starts are contiguous.
func (o *Orchestrator) Compact(ctx context.Context, masterName string) ([]ledger.Shift, error) {
	var shifts []ledger.Shift
	err := o.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
		m, err := tx.MasterByName(ctx, masterName)
		if err != nil {
			return err
		}
		shifts, err = o.deps.Ledger.Compact(ctx, tx, m.ID)
		return err
	})
	return shifts, err
}

// Move points sourceRef at page of another master without touching files.
func (o *Orchestrator) Move(ctx context.Context, sourceRef, masterName string, page int) (*ledger.PageRecord, error) {
	ref, err := ledger.NormalizeRef(sourceRef)
	if err != nil {
		return nil, ledger.Wrap(ledger.ErrNotFound, "move", sourceRef, err)
	}
	var rec *ledger.PageRecord
	err = o.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
		m, err := tx.MasterByName(ctx, masterName)
		if err != nil {
			return err
		}
		rec, err = o.deps.Ledger.Move(ctx, tx, ref, m.ID, page)
		return err
	})
	return rec, err
}
