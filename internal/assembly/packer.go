package assembly

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"github.com/local/masterdoc/internal/document"
	"github.com/local/masterdoc/internal/events"
	"github.com/local/masterdoc/internal/ledger"
	"github.com/local/masterdoc/internal/metrics"
	"github.com/local/masterdoc/internal/store"
)

// PackerOptions sizes and places new masters.
type PackerOptions struct {
	MasterDir        string
	ByteSizeCap      int64
	PlaceholderPages int
}

// Placement is where Append put a sub-document.
type Placement struct {
	Master    ledger.Master
	SourceRef string
	StartPage int
	PageCount int
	// RolledOver is set when the previous active master was sealed to make room.
	RolledOver bool
	// Existing is set when the source ref was already assembled and nothing
	// was written.
	Existing bool
}

// EndPage is the last content page of the placement.
func (p Placement) EndPage() int { return p.StartPage + p.PageCount - 1 }

type Packer struct {
	deps Dependencies
	opts PackerOptions
}

func NewPacker(deps Dependencies, opts PackerOptions) *Packer {
	if opts.PlaceholderPages < 1 {
		opts.PlaceholderPages = 1
	}
	return &Packer{deps: deps, opts: opts}
}

// Append adds content to the end of the category's active master, rolling
// over to a fresh master when the byte cap would be exceeded. The physical
// write and the ledger row commit together; on any failure the master file
// is restored to its previous bytes.
func (p *Packer) Append(ctx context.Context, category, sourceRef string, content []byte) (Placement, error) {
	started := time.Now()
	ref, err := ledger.NormalizeRef(sourceRef)
	if err != nil {
		return Placement{}, ledger.Wrap(ledger.ErrMalformedContent, "append", sourceRef, err)
	}
	diag, err := p.deps.Probe.Probe(content)
	if err != nil {
		metrics.IncSubdocument(ledger.Kind(ledger.ErrMalformedContent))
		return Placement{}, ledger.Wrap(ledger.ErrMalformedContent, "append", ref, err)
	}
	if diag.Threshold > 0 && !diag.HasExtractableText {
		log.Warn().Str("source_ref", ref).Int("chars", diag.TotalCharsInSample).Msg("sub-document has little extractable text")
	}

	var (
		placement Placement
		touched   []document.Document
		sealed    *ledger.Master
	)
	err = p.deps.Store.WithTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.RecordBySourceRef(ctx, ref)
		switch {
		case err == nil && existing.Assigned():
			m, err := tx.MasterByID(ctx, *existing.MasterID)
			if err != nil {
				return err
			}
			placement = Placement{Master: *m, SourceRef: ref, StartPage: *existing.LogicalPage, PageCount: existing.PageCount, Existing: true}
			return nil
		case err != nil && !errors.Is(err, ledger.ErrNotFound):
			return err
		}

		cat, err := tx.EnsureCategory(ctx, category)
		if err != nil {
			return err
		}
		master, doc, created, err := p.openActive(ctx, tx, cat)
		if err != nil {
			return err
		}
		touched = append(touched, doc)

		if !created && doc.PageCount() > master.LeadingPages && doc.SizeBytes()+int64(len(content)) > master.ByteSizeCap {
			if err := p.seal(ctx, tx, master, doc); err != nil {
				return err
			}
			sealedCopy := *master
			sealed = &sealedCopy
			master, doc, err = p.createMaster(ctx, tx, cat, master.Index+1)
			if err != nil {
				return err
			}
			touched = append(touched, doc)
			created = true
			placement.RolledOver = true
		}
		if int64(len(content)) > master.ByteSizeCap {
			log.Warn().Str("master", master.Name).Str("source_ref", ref).Int("bytes", len(content)).Int64("cap", master.ByteSizeCap).Msg("sub-document exceeds master cap; placed alone")
		}

		pagesBefore := doc.PageCount()
		added, err := doc.Insert(content)
		if err != nil {
			return fmt.Errorf("insert pages into %s: %w", master.Name, err)
		}
		slot, err := p.deps.Ledger.Assign(ctx, tx, master.ID, nil)
		if err != nil {
			return err
		}
		start := pagesBefore - master.LeadingPages
		if start < slot {
			return ledger.Wrap(ledger.ErrInvalidRange, "append",
				fmt.Sprintf("%s: ledger expects page %d but content ends at %d; compact the master", master.Name, slot, start-1), nil)
		}
		if err := doc.Save(!created); err != nil {
			return fmt.Errorf("save %s: %w", master.Name, err)
		}

		sum := blake2b.Sum256(content)
		rec := existing
		if rec == nil {
			rec = &ledger.PageRecord{SourceRef: ref}
		}
		rec.MasterID = ledger.Int64Ptr(master.ID)
		rec.LogicalPage = ledger.IntPtr(start)
		rec.PageCount = added
		rec.ContentDigest = hex.EncodeToString(sum[:])
		rec.Status = ledger.StatusAssembled
		if existing == nil {
			err = tx.CreateRecord(ctx, rec)
		} else {
			err = tx.UpdateRecord(ctx, rec)
		}
		if err != nil {
			return err
		}

		placement.Master = *master
		placement.SourceRef = ref
		placement.StartPage = start
		placement.PageCount = added
		metrics.SetMasterBytes(category, doc.SizeBytes())
		return nil
	})
	for _, doc := range touched {
		if err != nil {
			if rerr := doc.Revert(); rerr != nil {
				log.Error().Err(rerr).Str("file", doc.Path()).Msg("revert master after failed append")
			}
		}
		_ = doc.Close()
	}
	if err != nil {
		if !passThrough(err) {
			err = ledger.Wrap(ledger.ErrAssemblyFailed, "append", ref, err)
		}
		metrics.IncSubdocument(ledger.Kind(err))
		return Placement{}, err
	}

	if placement.Existing {
		metrics.IncSubdocument("existing")
		log.Info().Str("source_ref", ref).Str("master", placement.Master.Name).Msg("sub-document already assembled")
		return placement, nil
	}
	metrics.IncSubdocument("assembled")
	metrics.ObserveAppend(category, time.Since(started))
	log.Info().
		Str("run_id", events.RunID(ctx)).
		Str("category", category).
		Str("master", placement.Master.Name).
		Str("source_ref", ref).
		Int("start_page", placement.StartPage).
		Int("end_page", placement.EndPage()).
		Msg("sub-document assembled")

	pub := p.deps.publisher()
	if sealed != nil {
		metrics.IncRollover(category)
		log.Info().Str("category", category).Str("sealed", sealed.Name).Str("master", placement.Master.Name).Msg("master rolled over")
		if perr := pub.Publish(ctx, events.Event{Type: events.RolledOver, Category: category, Master: sealed.Name}); perr != nil {
			log.Warn().Err(perr).Msg("publish rollover event")
		}
		p.archive(ctx, category, *sealed)
	}
	ev := events.Event{Type: events.Assembled, Category: category, Master: placement.Master.Name, SourceRef: ref, StartPage: placement.StartPage, EndPage: placement.EndPage()}
	if perr := pub.Publish(ctx, ev); perr != nil {
		log.Warn().Err(perr).Str("source_ref", ref).Msg("publish assembled event")
	}
	return placement, nil
}

// openActive opens the category's highest-index master, creating the first
// one (or the successor of a sealed one) when needed.
func (p *Packer) openActive(ctx context.Context, tx *store.Tx, cat *ledger.Category) (*ledger.Master, document.Document, bool, error) {
	master, err := tx.ActiveMaster(ctx, cat.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		m, doc, err := p.createMaster(ctx, tx, cat, 1)
		return m, doc, true, err
	}
	if err != nil {
		return nil, nil, false, err
	}
	if master.Sealed {
		m, doc, err := p.createMaster(ctx, tx, cat, master.Index+1)
		return m, doc, true, err
	}
	doc, err := p.deps.Editor.Open(master.FilePath)
	if err != nil {
		return nil, nil, false, fmt.Errorf("open %s: %w", master.Name, err)
	}
	return master, doc, false, nil
}

func (p *Packer) createMaster(ctx context.Context, tx *store.Tx, cat *ledger.Category, idx int) (*ledger.Master, document.Document, error) {
	name := ledger.MasterName(cat.Name, idx)
	m := &ledger.Master{
		CategoryID:   cat.ID,
		Name:         name,
		FilePath:     filepath.Join(p.opts.MasterDir, name+".pdf"),
		Index:        idx,
		ByteSizeCap:  p.opts.ByteSizeCap,
		LeadingPages: p.opts.PlaceholderPages,
	}
	if err := tx.CreateMaster(ctx, m); err != nil {
		return nil, nil, err
	}
	doc, err := p.deps.Editor.New(m.FilePath, m.LeadingPages)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", name, err)
	}
	log.Debug().Str("master", name).Str("file", m.FilePath).Msg("master created")
	return m, doc, nil
}

// seal rewrites the full master once and marks it closed for appends.
func (p *Packer) seal(ctx context.Context, tx *store.Tx, m *ledger.Master, doc document.Document) error {
	if err := doc.Save(false); err != nil {
		return fmt.Errorf("seal %s: %w", m.Name, err)
	}
	m.Sealed = true
	return tx.UpdateMaster(ctx, m)
}

func (p *Packer) archive(ctx context.Context, category string, m ledger.Master) {
	if p.deps.Archiver == nil {
		return
	}
	url, err := p.deps.Archiver.ArchiveMaster(ctx, category, m)
	if err != nil {
		log.Error().Err(err).Str("master", m.Name).Msg("archive sealed master")
		return
	}
	log.Info().Str("master", m.Name).Str("url", url).Msg("sealed master archived")
}
