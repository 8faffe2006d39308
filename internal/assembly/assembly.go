// Package assembly packs sub-documents into size-bounded master documents
// and prunes them out again, keeping the page ledger in step with the files.
package assembly

import (
	"context"
	"errors"

	"github.com/local/masterdoc/internal/document"
	"github.com/local/masterdoc/internal/events"
	"github.com/local/masterdoc/internal/ledger"
	"github.com/local/masterdoc/internal/pdftest"
	"github.com/local/masterdoc/internal/store"
)

// ContentProbe validates sub-document bytes before they are packed.
type ContentProbe interface {
	Probe(content []byte) (*pdftest.Diagnostics, error)
}

// Archiver copies a sealed master somewhere durable.
type Archiver interface {
	ArchiveMaster(ctx context.Context, category string, m ledger.Master) (string, error)
}

// Dependencies are shared by Packer and Pruner.
type Dependencies struct {
	Store  *store.Store
	Ledger *ledger.Ledger
	Editor document.Editor
	Probe  ContentProbe
	Events events.Publisher
	// Archiver is optional.
	Archiver Archiver
}

func (d Dependencies) publisher() events.Publisher {
	if d.Events == nil {
		return events.Nop{}
	}
	return d.Events
}

// passThrough reports whether err already carries a marker the caller acts on.
func passThrough(err error) bool {
	return errors.Is(err, ledger.ErrInvalidRange) || errors.Is(err, ledger.ErrMalformedContent)
}
