package pdftest

import (
	"fmt"

	fitz "github.com/gen2brain/go-fitz"
)

// mupdfOpener decodes sub-documents with MuPDF through go-fitz.
type mupdfOpener struct{}

// Open decodes a queued sub-document straight from its downloaded bytes, so
// nothing is staged on disk before the document is accepted for packing.
// The returned Doc owns a MuPDF handle and must be closed by the caller.
func (mupdfOpener) Open(data []byte) (Doc, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("mupdf decode (%d bytes): %w", len(data), err)
	}
	return mupdfDoc{doc}, nil
}

func init() {
	setDefaultOpener(mupdfOpener{})
}

type mupdfDoc struct{ *fitz.Document }

// Page extracts the text layer of page i eagerly; MuPDF pages are not kept
// open between samples.
func (d mupdfDoc) Page(i int) (Page, error) {
	text, err := d.Document.Text(i)
	if err != nil {
		return nil, fmt.Errorf("extract text of page %d: %w", i, err)
	}
	return textPage(text), nil
}

// textPage is a page whose text was already extracted.
type textPage string

func (p textPage) Text() (string, error) { return string(p), nil }
func (textPage) Close()                  {}
