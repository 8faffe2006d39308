package pdftest

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/masterdoc/internal/document"
)

type fakeDoc struct {
	texts []string
}

func (d fakeDoc) NumPage() int { return len(d.texts) }
func (d fakeDoc) Close() error { return nil }
func (d fakeDoc) Page(i int) (Page, error) {
	if d.texts[i] == "ERR" {
		return nil, errors.New("broken page")
	}
	return textPage(d.texts[i]), nil
}

type fakeOpener struct {
	doc fakeDoc
	err error
}

func (o fakeOpener) Open([]byte) (Doc, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.doc, nil
}

const pdfHeader = "%PDF-1.7\n"

func TestProbeRejectsNonPDF(t *testing.T) {
	p := newProber(fakeOpener{doc: fakeDoc{texts: []string{"x"}}}, 10)
	_, err := p.Probe([]byte("hello, plain text"))
	assert.ErrorIs(t, err, ErrNotPaginated)
}

func TestProbeRejectsEmptyAndUndecodable(t *testing.T) {
	_, err := newProber(fakeOpener{doc: fakeDoc{}}, 10).Probe([]byte(pdfHeader))
	assert.ErrorIs(t, err, ErrNoPages)

	_, err = newProber(fakeOpener{err: errors.New("corrupt xref")}, 10).Probe([]byte(pdfHeader))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt xref")
}

func TestProbeSamplesText(t *testing.T) {
	doc := fakeDoc{texts: []string{"  abc  ", "ERR", strings.Repeat("z ", 20)}}
	diag, err := newProber(fakeOpener{doc: doc}, 10).Probe([]byte(pdfHeader))
	require.NoError(t, err)
	assert.Equal(t, 3, diag.TotalPages)
	assert.Equal(t, []int{0, 1, 2}, diag.SampledPages)
	assert.Equal(t, 23, diag.TotalCharsInSample)
	assert.True(t, diag.HasExtractableText)
	assert.Equal(t, "broken page", diag.Probes[1].Err)
}

func TestProbeBlankPagesHaveNoText(t *testing.T) {
	data, err := document.BlankDocument(2)
	require.NoError(t, err)
	diag, err := NewProber(0).Probe(data)
	require.NoError(t, err)
	assert.Equal(t, 2, diag.TotalPages)
	assert.False(t, diag.HasExtractableText)
	assert.Equal(t, DefaultThreshold, diag.Threshold)
}

func TestSampleIndices(t *testing.T) {
	assert.Empty(t, sampleIndices(0))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, sampleIndices(5))

	idx := sampleIndices(40)
	assert.Len(t, idx, 5)
	assert.Equal(t, 0, idx[0])
	assert.Equal(t, 39, idx[4])
	assert.Contains(t, idx, 20)
}

func TestMupdfOpenerDecodesBlankPages(t *testing.T) {
	data, err := document.BlankDocument(3)
	require.NoError(t, err)

	doc, err := mupdfOpener{}.Open(data)
	require.NoError(t, err)
	defer doc.Close()
	require.Equal(t, 3, doc.NumPage())

	pg, err := doc.Page(2)
	require.NoError(t, err)
	defer pg.Close()
	text, err := pg.Text()
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(text))
}

func TestMupdfOpenerWrapsDecodeErrors(t *testing.T) {
	_, err := mupdfOpener{}.Open(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mupdf decode (0 bytes)")
}
