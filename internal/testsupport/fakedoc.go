package testsupport

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/local/masterdoc/internal/document"
	"github.com/local/masterdoc/internal/pdftest"
)

const fakeHeader = "FAKEDOC"

// FakeContent builds a sub-document understood by FakeEditor and FakeProbe.
// Pages are named label#1..label#pages; size pads the result up to that many
// bytes.
func FakeContent(label string, pages, size int) []byte {
	var b bytes.Buffer
	b.WriteString(fakeHeader + "\n")
	for i := 1; i <= pages; i++ {
		fmt.Fprintf(&b, "%s#%d\n", label, i)
	}
	if pad := size - b.Len() - 2; pad > 0 {
		b.WriteString("%" + strings.Repeat("x", pad) + "\n")
	}
	return b.Bytes()
}

func parseFake(data []byte) (pages []string, pad int, err error) {
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) == 0 || lines[0] != fakeHeader {
		return nil, 0, errors.New("not a fake document")
	}
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "%") {
			pad += len(line) + 1
			continue
		}
		if line != "" {
			pages = append(pages, line)
		}
	}
	return pages, pad, nil
}

// FakeProbe accepts FakeContent bytes.
type FakeProbe struct{}

func (FakeProbe) Probe(content []byte) (*pdftest.Diagnostics, error) {
	pages, _, err := parseFake(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pdftest.ErrNotPaginated, err)
	}
	if len(pages) == 0 {
		return nil, pdftest.ErrNoPages
	}
	return &pdftest.Diagnostics{SizeBytes: len(content), TotalPages: len(pages)}, nil
}

// FakeEditor is a document.Editor over FakeContent-formatted files. Failure
// hooks let tests break individual steps.
type FakeEditor struct {
	mu sync.Mutex
	// FailInsert makes the next Insert fail.
	FailInsert error
	// RejectIncremental makes Save(true) return document.ErrIncrementalRejected.
	RejectIncremental bool
	// FailFullSave makes Save(false) fail.
	FailFullSave error
	Saves        []bool
}

var _ document.Editor = (*FakeEditor)(nil)

// Pages returns the page names stored in the file at path.
func (e *FakeEditor) Pages(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pages, _, err := parseFake(data)
	return pages, err
}

func (e *FakeEditor) Open(path string) (document.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master: %w", err)
	}
	pages, pad, err := parseFake(data)
	if err != nil {
		return nil, err
	}
	return &fakeDoc{editor: e, path: path, pages: pages, pad: pad, original: data, existed: true}, nil
}

func (e *FakeEditor) New(path string, placeholderPages int) (document.Document, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("create master %s: %w", path, fs.ErrExist)
	}
	pages := make([]string, placeholderPages)
	for i := range pages {
		pages[i] = fmt.Sprintf("placeholder#%d", i+1)
	}
	return &fakeDoc{editor: e, path: path, pages: pages}, nil
}

type fakeDoc struct {
	editor   *FakeEditor
	path     string
	pages    []string
	pad      int
	original []byte
	existed  bool
}

func (d *fakeDoc) bytes() []byte {
	var b bytes.Buffer
	b.WriteString(fakeHeader + "\n")
	for _, p := range d.pages {
		b.WriteString(p + "\n")
	}
	if d.pad > 1 {
		b.WriteString("%" + strings.Repeat("x", d.pad-2) + "\n")
	}
	return b.Bytes()
}

func (d *fakeDoc) Path() string     { return d.path }
func (d *fakeDoc) PageCount() int   { return len(d.pages) }
func (d *fakeDoc) SizeBytes() int64 { return int64(len(d.bytes())) }

func (d *fakeDoc) Insert(content []byte) (int, error) {
	d.editor.mu.Lock()
	failure := d.editor.FailInsert
	d.editor.FailInsert = nil
	d.editor.mu.Unlock()
	if failure != nil {
		return 0, failure
	}
	pages, pad, err := parseFake(content)
	if err != nil {
		return 0, err
	}
	d.pages = append(d.pages, pages...)
	d.pad += pad
	return len(pages), nil
}

func (d *fakeDoc) DeleteRange(start, end int) error {
	if start < 0 || end < start || end >= len(d.pages) {
		return fmt.Errorf("%w: [%d, %d] of %d pages", document.ErrPageRange, start, end, len(d.pages))
	}
	d.pages = append(d.pages[:start:start], d.pages[end+1:]...)
	return nil
}

func (d *fakeDoc) Save(incremental bool) error {
	d.editor.mu.Lock()
	d.editor.Saves = append(d.editor.Saves, incremental)
	reject, failFull := d.editor.RejectIncremental, d.editor.FailFullSave
	d.editor.mu.Unlock()
	if incremental && (reject || !d.existed) {
		return document.ErrIncrementalRejected
	}
	if !incremental && failFull != nil {
		return failFull
	}
	if err := os.WriteFile(d.path, d.bytes(), 0o644); err != nil {
		return err
	}
	d.existed = true
	return nil
}

func (d *fakeDoc) Revert() error {
	if d.original == nil {
		if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.WriteFile(d.path, d.original, 0o644); err != nil {
		return err
	}
	pages, pad, err := parseFake(d.original)
	if err != nil {
		return err
	}
	d.pages, d.pad = pages, pad
	return nil
}

func (d *fakeDoc) Close() error { return nil }
