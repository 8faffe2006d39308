// Package document edits the physical master files.
package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/local/masterdoc/internal/ledger"
)

// ErrIncrementalRejected is returned by Save(true) when the current state
// cannot be written in place and needs a full rewrite.
var ErrIncrementalRejected = errors.New("incremental save rejected")

// ErrPageRange is returned for page indices outside the document.
var ErrPageRange = errors.New("page range out of bounds")

// Editor opens and creates paginated documents.
type Editor interface {
	Open(path string) (Document, error)
	// New starts a document with placeholder blank pages. Nothing is written
	// until Save.
	New(path string, placeholderPages int) (Document, error)
}

// Document is an open master file. Page indices are zero-based physical pages.
type Document interface {
	Path() string
	PageCount() int
	SizeBytes() int64
	// Insert appends content's pages at the physical end and returns how many
	// pages were added.
	Insert(content []byte) (int, error)
	// DeleteRange removes pages start through end inclusive.
	DeleteRange(start, end int) error
	Save(incremental bool) error
	// Revert restores the file to its state when the document was opened, or
	// removes it when the document was created by New.
	Revert() error
	Close() error
}

// Counter adapts an Editor to ledger.PageCounter.
type Counter struct {
	Editor Editor
}

// PageCount opens the master file and returns its physical page count.
func (c Counter) PageCount(_ context.Context, m ledger.Master) (int, error) {
	doc, err := c.Editor.Open(m.FilePath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", m.FilePath, err)
	}
	defer doc.Close()
	return doc.PageCount(), nil
}
