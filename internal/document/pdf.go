package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"
)

// blankContent is the uncompressed content stream shared by placeholder
// pages. pdfcpu rejects zero-length streams and files shorter than its
// 512-byte trailer scan window, so the stream draws nothing but is padded
// with a comment line.
var blankContent = []byte("q Q\n%" + strings.Repeat(" ", 600) + "\n")

var disableConfigDir sync.Once

// PDFEditor edits PDF masters with pdfcpu. Documents are held in memory
// between Open and Close.
type PDFEditor struct{}

func NewPDFEditor() *PDFEditor {
	return &PDFEditor{}
}

// newConf returns a fresh configuration per call; pdfcpu mutates it.
func newConf() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// BlankDocument returns a Letter-sized PDF made of n blank pages. The
// result is parsed back before it is returned.
func BlankDocument(n int) ([]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("blank document needs at least one page, got %d", n)
	}
	ctx, err := pdfcpu.CreateContextWithXRefTable(newConf(), types.PaperSize["Letter"])
	if err != nil {
		return nil, fmt.Errorf("create blank document: %w", err)
	}
	if err := addBlankPages(ctx, n); err != nil {
		return nil, fmt.Errorf("add blank pages: %w", err)
	}
	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, fmt.Errorf("write blank document: %w", err)
	}
	pages, err := CountPages(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("verify blank document: %w", err)
	}
	if pages != n {
		return nil, fmt.Errorf("verify blank document: %d pages, want %d", pages, n)
	}
	return buf.Bytes(), nil
}

// addBlankPages hangs n pages off the context's empty page tree. The pages
// inherit the MediaBox of the tree root.
func addBlankPages(ctx *model.Context, n int) error {
	root, err := ctx.Catalog()
	if err != nil {
		return err
	}
	pagesRef := root.IndirectRefEntry("Pages")
	if pagesRef == nil {
		return errors.New("catalog has no page tree")
	}
	pagesDict, err := ctx.DereferenceDict(*pagesRef)
	if err != nil {
		return err
	}
	sd := types.StreamDict{Dict: types.NewDict(), Content: blankContent}
	if err := sd.Encode(); err != nil {
		return err
	}
	contentsRef, err := ctx.IndRefForNewObject(sd)
	if err != nil {
		return err
	}
	kids := make(types.Array, 0, n)
	for i := 0; i < n; i++ {
		page := types.Dict(map[string]types.Object{
			"Type":      types.Name("Page"),
			"Parent":    *pagesRef,
			"Resources": types.NewDict(),
			"Contents":  *contentsRef,
		})
		ref, err := ctx.IndRefForNewObject(page)
		if err != nil {
			return err
		}
		kids = append(kids, *ref)
	}
	pagesDict.Update("Kids", kids)
	pagesDict.Update("Count", types.Integer(n))
	ctx.PageCount = n
	return nil
}

// CountPages returns the page count of an in-memory PDF.
func CountPages(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), newConf())
}

func (e *PDFEditor) Open(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master: %w", err)
	}
	pages, err := CountPages(data)
	if err != nil {
		return nil, fmt.Errorf("parse master %s: %w", path, err)
	}
	return &pdfDoc{path: path, original: data, existed: true, data: data, pages: pages}, nil
}

func (e *PDFEditor) New(path string, placeholderPages int) (Document, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("create master %s: %w", path, fs.ErrExist)
	}
	data, err := BlankDocument(placeholderPages)
	if err != nil {
		return nil, err
	}
	return &pdfDoc{path: path, data: data, pages: placeholderPages}, nil
}

type pdfDoc struct {
	path     string
	original []byte
	existed  bool
	data     []byte
	pages    int
	closed   bool
}

func (d *pdfDoc) Path() string     { return d.path }
func (d *pdfDoc) PageCount() int   { return d.pages }
func (d *pdfDoc) SizeBytes() int64 { return int64(len(d.data)) }

func (d *pdfDoc) Insert(content []byte) (int, error) {
	if d.closed {
		return 0, errors.New("document closed")
	}
	var buf bytes.Buffer
	readers := []io.ReadSeeker{bytes.NewReader(d.data), bytes.NewReader(content)}
	if err := api.MergeRaw(readers, &buf, false, newConf()); err != nil {
		return 0, fmt.Errorf("append pages: %w", err)
	}
	pages, err := CountPages(buf.Bytes())
	if err != nil {
		return 0, fmt.Errorf("count merged pages: %w", err)
	}
	added := pages - d.pages
	if added < 1 {
		return 0, fmt.Errorf("append added %d pages", added)
	}
	d.data = buf.Bytes()
	d.pages = pages
	return added, nil
}

func (d *pdfDoc) DeleteRange(start, end int) error {
	if d.closed {
		return errors.New("document closed")
	}
	if start < 0 || end < start || end >= d.pages {
		return fmt.Errorf("%w: [%d, %d] of %d pages", ErrPageRange, start, end, d.pages)
	}
	var buf bytes.Buffer
	sel := []string{fmt.Sprintf("%d-%d", start+1, end+1)}
	if err := api.RemovePages(bytes.NewReader(d.data), &buf, sel, newConf()); err != nil {
		return fmt.Errorf("remove pages %s: %w", sel[0], err)
	}
	d.data = buf.Bytes()
	d.pages -= end - start + 1
	return nil
}

// Save writes the document. Incremental saves keep the current
// serialisation as is after a structural check and only apply to files that
// already existed. Full saves re-serialise through the optimiser first. Both
// go through a synced temp file renamed over the target, so a crash leaves
// either the old or the new master on disk.
func (d *pdfDoc) Save(incremental bool) error {
	if d.closed {
		return errors.New("document closed")
	}
	if incremental {
		return d.saveInPlace()
	}
	return d.saveFull()
}

func (d *pdfDoc) saveInPlace() error {
	if !d.existed {
		return fmt.Errorf("%w: %s was never written", ErrIncrementalRejected, d.path)
	}
	pages, err := CountPages(d.data)
	if err != nil || pages != d.pages {
		return fmt.Errorf("%w: structure check failed (pages=%d want %d): %v", ErrIncrementalRejected, pages, d.pages, err)
	}
	return writeAtomic(d.path, d.data)
}

func (d *pdfDoc) saveFull() error {
	var buf bytes.Buffer
	if err := api.Optimize(bytes.NewReader(d.data), &buf, newConf()); err != nil {
		return fmt.Errorf("rewrite %s: %w", d.path, err)
	}
	pages, err := CountPages(buf.Bytes())
	if err != nil {
		return fmt.Errorf("verify rewrite: %w", err)
	}
	if pages != d.pages {
		return fmt.Errorf("verify rewrite: %d pages, want %d", pages, d.pages)
	}
	if err := writeAtomic(d.path, buf.Bytes()); err != nil {
		return err
	}
	d.data = buf.Bytes()
	d.existed = true
	return nil
}

func (d *pdfDoc) Revert() error {
	if d.original == nil {
		if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", d.path, err)
		}
		d.existed = false
		return nil
	}
	if err := writeAtomic(d.path, d.original); err != nil {
		return err
	}
	d.data = d.original
	pages, err := CountPages(d.data)
	if err != nil {
		return fmt.Errorf("recount reverted master: %w", err)
	}
	d.pages = pages
	log.Debug().Str("file", d.path).Msg("master reverted")
	return nil
}

func (d *pdfDoc) Close() error {
	d.closed = true
	d.data = nil
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
